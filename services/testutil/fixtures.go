package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/plantkeep/cmms/libs/auth"
)

// Seeded accounts created by cmd/seed and the integration fixtures.
var (
	DemoUserID       = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TechnicianUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	SupervisorUserID = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

const (
	DemoEmail        = "demo@plantkeep.io"
	DemoPassword     = "demo-pass-123"
	TechnicianPhone  = "+15550001"
	SupervisorPhone  = "+15550002"
	SupervisorPin    = "2468"
	DefaultJWTIssuer = "cmms-auth"
)

// GenerateJWT signs an access token for userID the way the auth service does.
func GenerateJWT(userID uuid.UUID, role string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultJWTIssuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// GenerateRefreshJWT signs a refresh token for userID.
func GenerateRefreshJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Type: auth.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultJWTIssuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
