package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommand_MasksSecrets(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")
	t.Setenv("RAZORPAY_KEY_SECRET", "rzp_test_secret")
	t.Setenv("SESSION_SECRET", "session_secret")

	out, err := runCommand(t, "config")

	require.NoError(t, err)
	assert.Contains(t, out, "rzp_test_key")
	assert.NotContains(t, out, "rzp_test_secret")
	assert.NotContains(t, out, "session_secret")

	var printed Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &printed))
	assert.Equal(t, "4000", printed.Port)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session_secret")

	out, err := runCommand(t, "token", "--uid", "u1", "--email", "a@example.com")

	require.NoError(t, err)
	user, err := NewSessionVerifier(SessionConfig{Secret: "session_secret"}).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestTokenCommand_RequiresUID(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session_secret")

	_, err := runCommand(t, "token")

	assert.ErrorContains(t, err, "--uid")
}

func TestReconcileCommand_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := runCommand(t, "reconcile")

	assert.ErrorContains(t, err, "DATABASE_URL")
}
