package whop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, key *ecdsa.PrivateKey, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    UserTokenIssuer,
		Subject:   "user_123",
		Audience:  jwt.ClaimStrings{"app_abc"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

func TestNewTokenVerifier(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	v, err := NewTokenVerifier(pemBytes, "app_abc")
	require.NoError(t, err)

	got, err := v.Verify(signToken(t, key, jwt.SigningMethodES256, validClaims()))
	require.NoError(t, err)
	require.Equal(t, "user_123", got.UserID)

	_, err = NewTokenVerifier([]byte("not pem"), "app_abc")
	require.Error(t, err)

	_, err = NewTokenVerifier(pemBytes, "")
	require.Error(t, err)
}

func TestTokenVerifier_Verify(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v := newTokenVerifier(&key.PublicKey, "app_abc")

	tests := []struct {
		name   string
		token  func() string
		userID string
	}{
		{
			name:   "valid",
			token:  func() string { return signToken(t, key, jwt.SigningMethodES256, validClaims()) },
			userID: "user_123",
		},
		{
			name:  "empty",
			token: func() string { return "" },
		},
		{
			name:  "wrong key",
			token: func() string { return signToken(t, other, jwt.SigningMethodES256, validClaims()) },
		},
		{
			name: "wrong audience",
			token: func() string {
				c := validClaims()
				c.Audience = jwt.ClaimStrings{"app_other"}
				return signToken(t, key, jwt.SigningMethodES256, c)
			},
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := validClaims()
				c.Issuer = "someone"
				return signToken(t, key, jwt.SigningMethodES256, c)
			},
		},
		{
			name: "expired",
			token: func() string {
				c := validClaims()
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return signToken(t, key, jwt.SigningMethodES256, c)
			},
		},
		{
			name: "missing subject",
			token: func() string {
				c := validClaims()
				c.Subject = ""
				return signToken(t, key, jwt.SigningMethodES256, c)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.token())
			if tt.userID == "" {
				require.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.userID, got.UserID)
		})
	}
}
