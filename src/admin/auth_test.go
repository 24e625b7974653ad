package admin

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedesk/chat-relay/config"
	"github.com/sidedesk/chat-relay/src/audit"
)

func newTestAuditLog(t *testing.T) *audit.Log {
	t.Helper()
	log, err := audit.New(t.TempDir(), audit.Options{
		Enabled:         true,
		LogAdminActions: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	return log
}

func newTestService(t *testing.T, opts Options) (*Service, *audit.Log) {
	t.Helper()
	if opts.Username == "" {
		opts.Username = "admin"
	}
	if opts.PasswordHash == "" {
		hash, err := config.HashPassword("secret")
		require.NoError(t, err)
		opts.PasswordHash = hash
	}
	if opts.SessionDuration == 0 {
		opts.SessionDuration = time.Hour
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = time.Hour
	}
	if opts.MaxFailedAttempts == 0 {
		opts.MaxFailedAttempts = 5
	}
	log := newTestAuditLog(t)
	return NewService(opts, log, zerolog.Nop()), log
}

func TestLoginIssuesSession(t *testing.T) {
	s, _ := newTestService(t, Options{})

	sess, err := s.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "admin", sess.Username)
	assert.Equal(t, "127.0.0.1", sess.RemoteAddr)
	assert.Equal(t, 1, s.SessionCount())

	got, err := s.Validate(sess.Token, "127.0.0.1:55001")
	require.NoError(t, err)
	assert.Equal(t, sess.Token, got.Token)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, _ := newTestService(t, Options{})

	_, err := s.Login("admin", "wrong", "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login("root", "secret", "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 0, s.SessionCount())
}

func TestLoginRejectsWhenNoPasswordConfigured(t *testing.T) {
	log := newTestAuditLog(t)
	s := NewService(Options{
		Username:          "admin",
		PasswordHash:      "",
		SessionDuration:   time.Hour,
		IdleTimeout:       time.Hour,
		MaxFailedAttempts: 5,
	}, log, zerolog.Nop())

	_, err := s.Login("admin", "", "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login("admin", "anything", "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	s, log := newTestService(t, Options{MaxFailedAttempts: 3})

	for i := 0; i < 3; i++ {
		_, err := s.Login("admin", "wrong", "192.168.1.20:43000")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Correct credentials no longer help until the counter is reset.
	_, err := s.Login("admin", "secret", "192.168.1.20:43001")
	assert.ErrorIs(t, err, ErrLockedOut)

	// A different address is unaffected.
	_, err = s.Login("admin", "secret", "192.168.1.21:43000")
	assert.NoError(t, err)

	s.ResetFailures("192.168.1.20:43000")
	_, err = s.Login("admin", "secret", "192.168.1.20:43002")
	assert.NoError(t, err)

	log.Close()
	entries, err := log.Query(time.Now().Format("2006-01-02"), audit.Filter{})
	require.NoError(t, err)
	var failed, locked, ok int
	for _, e := range entries {
		switch e.Action {
		case audit.ActionLoginFailed:
			failed++
		case audit.ActionLoginLocked:
			locked++
		case audit.ActionLogin:
			ok++
		}
	}
	assert.Equal(t, 3, failed)
	assert.Equal(t, 1, locked)
	assert.Equal(t, 2, ok)
}

func TestSuccessfulLoginClearsFailureCounter(t *testing.T) {
	s, _ := newTestService(t, Options{MaxFailedAttempts: 3})

	for i := 0; i < 2; i++ {
		_, _ = s.Login("admin", "wrong", "127.0.0.1:55000")
	}
	_, err := s.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)

	// Two more failures must not lock, the counter restarted at zero.
	for i := 0; i < 2; i++ {
		_, err = s.Login("admin", "wrong", "127.0.0.1:55000")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = s.Login("admin", "secret", "127.0.0.1:55000")
	assert.NoError(t, err)
}

func TestValidateIdleTimeout(t *testing.T) {
	s, _ := newTestService(t, Options{IdleTimeout: 20 * time.Millisecond})

	sess, err := s.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = s.Validate(sess.Token, "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Equal(t, 0, s.SessionCount())
}

func TestValidateSlidingWindowRefreshes(t *testing.T) {
	s, _ := newTestService(t, Options{IdleTimeout: 60 * time.Millisecond})

	sess, err := s.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)

	// Keep touching the session; it must survive well past one idle window.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		_, err = s.Validate(sess.Token, "127.0.0.1:55000")
		require.NoError(t, err)
	}
}

func TestValidateAbsoluteExpiry(t *testing.T) {
	s, _ := newTestService(t, Options{SessionDuration: 30 * time.Millisecond})

	sess, err := s.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)

	// Activity cannot extend the session past its absolute deadline.
	time.Sleep(10 * time.Millisecond)
	_, err = s.Validate(sess.Token, "127.0.0.1:55000")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = s.Validate(sess.Token, "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidateUnknownToken(t *testing.T) {
	s, _ := newTestService(t, Options{})
	_, err := s.Validate("nonsense", "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidatePinnedSessionRejectsOtherAddress(t *testing.T) {
	s, _ := newTestService(t, Options{PinSessionIP: true})

	sess, err := s.Login("admin", "secret", "192.168.1.30:55000")
	require.NoError(t, err)

	// Same host, different port is fine.
	_, err = s.Validate(sess.Token, "192.168.1.30:55999")
	assert.NoError(t, err)

	_, err = s.Validate(sess.Token, "192.168.1.31:55000")
	assert.ErrorIs(t, err, ErrInvalidSession)
	// Pin mismatch does not destroy the session.
	_, err = s.Validate(sess.Token, "192.168.1.30:55000")
	assert.NoError(t, err)
}

func TestLogoutRemovesSession(t *testing.T) {
	s, _ := newTestService(t, Options{})

	sess, err := s.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)

	s.Logout(sess.Token)
	assert.Equal(t, 0, s.SessionCount())
	_, err = s.Validate(sess.Token, "127.0.0.1:55000")
	assert.ErrorIs(t, err, ErrInvalidSession)

	// Logging out an unknown token is a no-op.
	s.Logout("nonsense")
}

func TestSweepEvictsExpiredSessions(t *testing.T) {
	s, _ := newTestService(t, Options{SessionDuration: 10 * time.Millisecond})

	_, err := s.Login("admin", "secret", "127.0.0.1:55000")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	s.sweep()
	assert.Equal(t, 0, s.SessionCount())
}
