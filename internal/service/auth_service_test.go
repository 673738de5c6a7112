package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/ct-study-api/internal/models"
	appErrors "github.com/noah-isme/ct-study-api/pkg/errors"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService(nil, nil, AuthConfig{
		Email:        "operator@example.org",
		PasswordHash: string(hash),
		Secret:       "test-signing-key",
		Expiry:       time.Hour,
		Issuer:       "ct-study-api",
	})
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc := newTestAuthService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "Operator@Example.org",
		Password: "s3cret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "operator@example.org", claims.Email)
	assert.Equal(t, "ct-study-api", claims.Issuer)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestAuthService(t)

	tests := []struct {
		name string
		req  models.LoginRequest
		code string
	}{
		{"wrong password", models.LoginRequest{Email: "operator@example.org", Password: "nope"}, appErrors.ErrInvalidCredentials.Code},
		{"wrong email", models.LoginRequest{Email: "intruder@example.org", Password: "s3cret"}, appErrors.ErrInvalidCredentials.Code},
		{"invalid payload", models.LoginRequest{Email: "not-an-email", Password: "s3cret"}, appErrors.ErrValidation.Code},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.req)
			requireErrCode(t, err, tt.code)
		})
	}
}

func TestLoginUnconfiguredOperator(t *testing.T) {
	svc := NewAuthService(nil, nil, AuthConfig{Secret: "k"})
	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "operator@example.org", Password: "x"})
	requireErrCode(t, err, appErrors.ErrForbidden.Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(t)

	_, err := svc.ValidateToken("not.a.token")
	requireErrCode(t, err, appErrors.ErrUnauthorized.Code)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	issuer := newTestAuthService(t)
	resp, err := issuer.Login(context.Background(), models.LoginRequest{
		Email:    "operator@example.org",
		Password: "s3cret",
	})
	require.NoError(t, err)

	other := NewAuthService(nil, nil, AuthConfig{
		Email:        "operator@example.org",
		PasswordHash: "irrelevant",
		Secret:       "different-signing-key",
	})
	_, err = other.ValidateToken(resp.AccessToken)
	requireErrCode(t, err, appErrors.ErrUnauthorized.Code)
}
