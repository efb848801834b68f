package whop

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// UserTokenHeader carries the signed user token injected by the Whop proxy.
	UserTokenHeader = "x-whop-user-token"

	// UserTokenIssuer is the issuer of user tokens.
	UserTokenIssuer = "urn:whopcom:exp-proxy"
)

// UserToken is a verified Whop user token.
type UserToken struct {
	UserID string
	AppID  string
}

type userClaims struct {
	jwt.RegisteredClaims
}

// TokenVerifier validates user tokens signed by Whop with ES256.
type TokenVerifier struct {
	key    *ecdsa.PublicKey
	appID  string
	parser *jwt.Parser
}

// NewTokenVerifier creates a verifier from Whop's PEM encoded public key.
// Tokens must be issued for appID.
func NewTokenVerifier(publicKeyPEM []byte, appID string) (*TokenVerifier, error) {
	if appID == "" {
		return nil, fmt.Errorf("whop app id is required")
	}
	key, err := jwt.ParseECPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse whop token public key: %w", err)
	}
	return newTokenVerifier(key, appID), nil
}

func newTokenVerifier(key *ecdsa.PublicKey, appID string) *TokenVerifier {
	return &TokenVerifier{
		key:   key,
		appID: appID,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
			jwt.WithIssuer(UserTokenIssuer),
			jwt.WithAudience(appID),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify checks the signature, issuer, audience and expiry of a token.
func (v *TokenVerifier) Verify(token string) (*UserToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	var claims userClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return &UserToken{UserID: claims.Subject, AppID: v.appID}, nil
}
