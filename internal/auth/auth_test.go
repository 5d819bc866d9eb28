package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, TestAPIKey, claims.ClientID)
	assert.Contains(t, claims.Permissions, PermissionOperator)
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	_, err := service.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	verifier := NewService("secret-b")

	token, err := issuer.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
