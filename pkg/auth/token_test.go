package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewTokenManager([]byte("secret"), "vault-test", time.Hour).
		WithClock(func() time.Time { return now })

	token, err := m.Issue("alice", "owner")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "vault-test", claims.Issuer)
	assert.Equal(t, []string{"owner"}, claims.Roles)
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewTokenManager([]byte("secret"), "vault-test", time.Hour)

	m.WithClock(func() time.Time { return now })
	token, err := m.Issue("alice")
	require.NoError(t, err)

	// Two hours later the one-hour token is dead.
	m.WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, err = m.Validate(token)
	assert.Error(t, err)
}

func TestValidateWrongSecret(t *testing.T) {
	issuer := NewTokenManager([]byte("secret-a"), "vault-test", time.Hour)
	verifier := NewTokenManager([]byte("secret-b"), "vault-test", time.Hour)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	assert.Error(t, err)
}

func TestValidateGarbage(t *testing.T) {
	m := NewTokenManager([]byte("secret"), "vault-test", time.Hour)
	_, err := m.Validate("not-a-token")
	assert.Error(t, err)
}
