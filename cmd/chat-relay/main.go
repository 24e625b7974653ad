package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "chat-relay",
		Short:         "Local-network chat relay with an admin control plane",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd(), setPasswordCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
