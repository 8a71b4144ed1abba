package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestParseUserIDExtractsSubject(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodHS256, "user-123")
	id, err := ParseUserID(tok, testSecret)
	require.NoError(t, err)
	require.Equal(t, "user-123", id)
}

func TestParseUserIDRejectsWrongSecret(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodHS256, "user-123")
	_, err := ParseUserID(tok, "some-other-secret")
	require.Error(t, err)
}

func TestParseUserIDRejectsEmptySubject(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodHS256, "")
	_, err := ParseUserID(tok, testSecret)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidSubject)
}

func TestParseUserIDRejectsUnexpectedSigningMethod(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodHS384, "user-123")
	_, err := ParseUserID(tok, testSecret)
	require.Error(t, err)
}

func TestParseUserIDRejectsExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseUserID(signed, testSecret)
	require.Error(t, err)
}
