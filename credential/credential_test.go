package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *HMACService {
	t.Helper()

	svc, err := NewHMACService(config.CredentialConfig{
		Secret:   testSecret,
		Issuer:   "relay-test",
		TokenTTL: config.Duration(time.Minute),
		// Minimum cost keeps the bcrypt tests fast.
		BcryptCost: 4,
	}, observability.NopLogger())
	require.NoError(t, err)
	return svc
}

func TestNewHMACService_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         config.CredentialConfig
		expectedErr error
	}{
		{
			name:        "secret too short",
			cfg:         config.CredentialConfig{Secret: "short"},
			expectedErr: ErrSecretTooShort,
		},
		{
			name:        "empty secret",
			cfg:         config.CredentialConfig{},
			expectedErr: ErrSecretTooShort,
		},
		{
			name: "valid config",
			cfg:  config.CredentialConfig{Secret: testSecret},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, err := NewHMACService(tt.cfg, nil)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTokenTTL, svc.ttl)
		})
	}
}

func TestHMACService_PasswordRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	hash, err := svc.HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, svc.VerifyPassword(hash, "s3cret"))
	assert.ErrorIs(t, svc.VerifyPassword(hash, "wrong"), ErrPasswordMismatch)
}

func TestHMACService_VerifyPasswordRejectsGarbageHash(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	err := svc.VerifyPassword("not-a-bcrypt-hash", "anything")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordMismatch)
}

func TestHMACService_TokenRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	token, err := svc.IssueToken("user-1", map[string]any{"role": "admin"})
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	identity, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.Subject)
	assert.Equal(t, "relay-test", identity.Issuer)
	assert.Equal(t, "admin", identity.Claims["role"])
	assert.WithinDuration(t, time.Now().Add(time.Minute), identity.ExpiresAt, 5*time.Second)
}

func TestHMACService_ExtraClaimsCannotOverrideSubject(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	token, err := svc.IssueToken("user-1", map[string]any{"sub": "intruder"})
	require.NoError(t, err)

	identity, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.Subject)
}

func TestHMACService_VerifyToken_Rejections(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	token, err := svc.IssueToken("user-1", nil)
	require.NoError(t, err)

	t.Run("tampered token", func(t *testing.T) {
		t.Parallel()

		tampered := token[:len(token)-2] + "xx"
		_, err := svc.VerifyToken(tampered)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()

		other, err := NewHMACService(config.CredentialConfig{
			Secret: "ffffffffffffffffffffffffffffffff",
			Issuer: "relay-test",
		}, nil)
		require.NoError(t, err)

		_, err = other.VerifyToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		t.Parallel()

		other, err := NewHMACService(config.CredentialConfig{
			Secret: testSecret,
			Issuer: "someone-else",
		}, nil)
		require.NoError(t, err)

		_, err = other.VerifyToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("garbage token", func(t *testing.T) {
		t.Parallel()

		_, err := svc.VerifyToken("definitely.not.ajwt")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestHMACService_ExpiredToken(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	svc.ttl = -time.Minute

	token, err := svc.IssueToken("user-1", nil)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
