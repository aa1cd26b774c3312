package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/plantkeep/cmms/libs/auth"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenService signs self-contained access and refresh tokens. Nothing is
// persisted server-side, so there is no revocation list: access tokens are
// short lived and clients drop tokens on logout.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	verifier   *auth.Verifier
}

func NewTokenService(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenService{
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		verifier:   auth.NewVerifier(secret, issuer),
	}
}

func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// Verifier exposes the access-token verifier used by the bearer middleware.
func (s *TokenService) Verifier() *auth.Verifier { return s.verifier }

func (s *TokenService) IssueAccess(userID, email, role string, now time.Time) (string, error) {
	claims := auth.Claims{
		Email:            email,
		Role:             role,
		RegisteredClaims: s.registered(userID, now, s.accessTTL),
	}
	return s.sign(claims)
}

func (s *TokenService) IssueRefresh(userID string, now time.Time) (string, error) {
	claims := auth.Claims{
		Type:             auth.TokenTypeRefresh,
		RegisteredClaims: s.registered(userID, now, s.refreshTTL),
	}
	return s.sign(claims)
}

// Verify validates signature, issuer and expiry at now for either token kind.
func (s *TokenService) Verify(token string, now time.Time) (*auth.Claims, error) {
	return s.at(now).Parse(token)
}

func (s *TokenService) VerifyAccess(token string, now time.Time) (*auth.Claims, error) {
	return s.at(now).ParseAccess(token)
}

func (s *TokenService) VerifyRefresh(token string, now time.Time) (*auth.Claims, error) {
	return s.at(now).ParseRefresh(token)
}

func (s *TokenService) at(now time.Time) *auth.Verifier {
	return s.verifier.WithClock(func() time.Time { return now })
}

func (s *TokenService) registered(userID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *TokenService) sign(claims auth.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
