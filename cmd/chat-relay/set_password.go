package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidedesk/chat-relay/config"
)

func setPasswordCmd() *cobra.Command {
	var adminConfigPath string

	cmd := &cobra.Command{
		Use:   "set-password <password>",
		Short: "Set the admin password (stored as a bcrypt hash)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.Open(adminConfigPath, config.DefaultAdmin())
			if err != nil {
				return err
			}
			hash, err := config.HashPassword(args[0])
			if err != nil {
				return err
			}
			if err := store.Set("passwordHash", hash); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin password updated in %s\n", adminConfigPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminConfigPath, "admin-config", "admin-config.json", "path to the admin configuration file")
	return cmd
}
