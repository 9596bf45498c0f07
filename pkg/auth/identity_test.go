package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-length"

func TestJWTProvider_ValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, "hearth", Identity{UserID: "u-1", TenantID: "t-1", Role: "manager"}, time.Hour)
	require.NoError(t, err)

	p := NewJWTProvider(testSecret, "hearth")
	id, err := p.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u-1", TenantID: "t-1", Role: "manager"}, id)
}

func TestJWTProvider_Rejects(t *testing.T) {
	good := Identity{UserID: "u-1", TenantID: "t-1", Role: "staff"}
	p := NewJWTProvider(testSecret, "hearth")

	expired, err := IssueToken(testSecret, "hearth", good, -time.Hour)
	require.NoError(t, err)
	wrongSecret, err := IssueToken("another-secret-entirely", "hearth", good, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken(testSecret, "elsewhere", good, time.Hour)
	require.NoError(t, err)
	noTenant, err := IssueToken(testSecret, "hearth", Identity{UserID: "u-1"}, time.Hour)
	require.NoError(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		TenantID: "t-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "hearth",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	wrongAlg, err := hs512.SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrInvalidCredential},
		{name: "garbage", token: "not.a.jwt", want: ErrInvalidCredential},
		{name: "expired", token: expired, want: ErrInvalidCredential},
		{name: "wrong secret", token: wrongSecret, want: ErrInvalidCredential},
		{name: "wrong issuer", token: wrongIssuer, want: ErrInvalidCredential},
		{name: "wrong algorithm", token: wrongAlg, want: ErrInvalidCredential},
		{name: "missing tenant", token: noTenant, want: ErrMissingClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Authenticate(context.Background(), tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{"tok": {UserID: "u", TenantID: "t"}}

	id, err := p.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "t", id.TenantID)

	_, err = p.Authenticate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
