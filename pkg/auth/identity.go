// Package auth resolves opaque channel credentials into identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredential is returned for credentials that fail validation.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrMissingClaim is returned when a valid token lacks identity claims.
	ErrMissingClaim = errors.New("missing identity claim")
)

// Identity is the subject behind an authenticated channel.
type Identity struct {
	UserID   string
	TenantID string
	Role     string
}

// IdentityProvider validates a credential.
type IdentityProvider interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// Claims is the JWT payload the provider accepts. Subject carries the user ID.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 access tokens issued by the main application.
type JWTProvider struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWTProvider creates a provider. An empty issuer disables the issuer check.
func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// Authenticate parses and validates the token.
func (p *JWTProvider) Authenticate(_ context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(p.leeway),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(credential, &claims, func(_ *jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidCredential
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.TenantID == "" {
		return Identity{}, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}

	return Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}, nil
}

// IssueToken signs a token for the given identity. Token issuance belongs to
// the main application; this exists for the watch CLI and tests.
func IssueToken(secret, issuer string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: id.TenantID,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// StaticProvider maps fixed credentials to identities. Used in tests and local
// development when no signing secret is configured.
type StaticProvider map[string]Identity

// Authenticate looks the credential up.
func (p StaticProvider) Authenticate(_ context.Context, credential string) (Identity, error) {
	id, ok := p[credential]
	if !ok {
		return Identity{}, ErrInvalidCredential
	}
	return id, nil
}
