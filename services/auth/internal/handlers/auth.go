package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/plantkeep/cmms/libs/auth"
	"github.com/plantkeep/cmms/services/auth/internal/rate"
	"github.com/plantkeep/cmms/services/auth/internal/security"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
	"github.com/plantkeep/cmms/services/auth/internal/telemetry"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByContact(ctx context.Context, contact string) (*storage.User, error)
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	UpdatePinHash(ctx context.Context, userID uuid.UUID, hash string) error
}

type OTPService interface {
	Issue(ctx context.Context, contact string, purpose storage.Purpose) error
	Verify(ctx context.Context, contact string, purpose storage.Purpose, code string) (*storage.OneTimeCode, error)
}

type ResetService interface {
	Request(ctx context.Context, email string, purpose storage.Purpose) error
	Redeem(ctx context.Context, token string, purpose storage.Purpose) (uuid.UUID, error)
}

type AuthHandler struct {
	Store   Store
	OTP     OTPService
	Reset   ResetService
	Hasher  *security.Hasher
	Tokens  *security.TokenService
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   Clock
	Metrics *telemetry.Metrics

	// dummyHash is verified against when no account matches so a missing
	// user costs the same key derivation as a wrong secret.
	dummyHash string
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	HasPin       *bool  `json:"hasPin,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func NewAuthHandler(store Store, otpSvc OTPService, resetSvc ResetService, hasher *security.Hasher, tokens *security.TokenService, limiter rate.Limiter, logger *slog.Logger, metrics *telemetry.Metrics) *AuthHandler {
	h := &AuthHandler{
		Store:   store,
		OTP:     otpSvc,
		Reset:   resetSvc,
		Hasher:  hasher,
		Tokens:  tokens,
		Limiter: limiter,
		Logger:  logger,
		Clock:   systemClock{},
		Metrics: metrics,
	}
	if dummy, err := hasher.Hash(uuid.NewString()); err == nil {
		h.dummyHash = dummy
	}
	return h
}

func (h *AuthHandler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/auth")

	open := g.Group("")
	if h.Limiter != nil {
		open.Use(rate.Middleware(h.Limiter, h.Logger))
	}
	open.POST("/login", h.Login)
	open.POST("/refresh-token", h.RefreshToken)
	open.POST("/request-otp", h.RequestOTP)
	open.POST("/verify-otp", h.VerifyOTP)
	open.GET("/has-pin", h.HasPin)
	open.POST("/login-pin", h.LoginPin)
	open.POST("/request-password-reset", h.RequestPasswordReset)
	open.POST("/reset-password", h.ResetPassword)
	open.POST("/request-pin-reset", h.RequestPinReset)
	open.POST("/reset-pin", h.ResetPin)
	open.POST("/reset-password-otp", h.ResetPasswordOTP)
	open.POST("/reset-pin-otp", h.ResetPinOTP)

	secured := g.Group("")
	secured.Use(auth.Middleware(h.Tokens.Verifier().WithClock(h.Clock.Now)))
	secured.GET("/profile", h.Profile)
	secured.POST("/set-pin", h.SetPin)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}

	ctx := c.Request.Context()
	user, err := h.Store.GetUserByEmail(ctx, storage.NormalizeContact(req.Email))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.internal(c, "login lookup failed", err)
		return
	}

	if !h.verifySecret(req.Password, user, passwordHash) {
		h.Metrics.Login("password", "failure")
		unauthorized(c, "invalid email or password")
		return
	}

	h.Metrics.Login("password", "success")
	h.upgradeHash(ctx, user, req.Password, storage.PurposePassword)
	h.respondTokens(c, user, false)
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}

	now := h.Clock.Now()
	claims, err := h.Tokens.VerifyRefresh(req.RefreshToken, now)
	if err != nil {
		unauthorized(c, "invalid refresh token")
		return
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		unauthorized(c, "invalid refresh token")
		return
	}

	user, err := h.Store.GetUserByID(c.Request.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		unauthorized(c, "invalid refresh token")
		return
	}
	if err != nil {
		h.internal(c, "refresh lookup failed", err)
		return
	}

	access, err := h.Tokens.IssueAccess(user.ID.String(), user.EmailAddress(), user.Role, now)
	if err != nil {
		h.internal(c, "access token signing failed", err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.Tokens.AccessTTL().Seconds()),
	})
}

func passwordHash(u *storage.User) *string { return u.PasswordHash }

func pinHash(u *storage.User) *string { return u.PinHash }

// verifySecret checks secret against the hash selected from user. A nil user
// or missing hash still runs one key derivation before failing.
func (h *AuthHandler) verifySecret(secret string, user *storage.User, field func(*storage.User) *string) bool {
	if user == nil {
		h.Hasher.Verify(secret, h.dummyHash)
		return false
	}
	stored := field(user)
	if stored == nil || *stored == "" {
		h.Hasher.Verify(secret, h.dummyHash)
		return false
	}
	return h.Hasher.Verify(secret, *stored)
}

// upgradeHash re-stores a verified secret under the current hasher settings
// when its stored hash is weaker. Failures are logged and do not fail sign-in.
func (h *AuthHandler) upgradeHash(ctx context.Context, user *storage.User, secret string, purpose storage.Purpose) {
	stored, update := user.PasswordHash, h.Store.UpdatePasswordHash
	if purpose == storage.PurposePin {
		stored, update = user.PinHash, h.Store.UpdatePinHash
	}
	if stored == nil || !h.Hasher.NeedsRehash(*stored) {
		return
	}

	hash, err := h.Hasher.Hash(secret)
	if err == nil {
		err = update(ctx, user.ID, hash)
	}
	if err != nil {
		h.Logger.WarnContext(ctx, "credential rehash failed",
			slog.String("user_id", user.ID.String()), slog.Any("error", err))
		return
	}
	h.Logger.InfoContext(ctx, "credential rehashed",
		slog.String("user_id", user.ID.String()), slog.String("purpose", string(purpose)))
}

// respondTokens issues an access and refresh pair for user. withPinFlag adds
// hasPin for the verify-otp login response.
func (h *AuthHandler) respondTokens(c *gin.Context, user *storage.User, withPinFlag bool) {
	now := h.Clock.Now()
	access, err := h.Tokens.IssueAccess(user.ID.String(), user.EmailAddress(), user.Role, now)
	if err != nil {
		h.internal(c, "access token signing failed", err)
		return
	}
	refresh, err := h.Tokens.IssueRefresh(user.ID.String(), now)
	if err != nil {
		h.internal(c, "refresh token signing failed", err)
		return
	}

	resp := tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.Tokens.AccessTTL().Seconds()),
	}
	if withPinFlag {
		hasPin := user.HasPin()
		resp.HasPin = &hasPin
	}
	c.JSON(http.StatusOK, resp)
}

// authenticatedUser loads the user behind the bearer token. It writes the
// error response and returns nil when the caller should stop.
func (h *AuthHandler) authenticatedUser(c *gin.Context) *storage.User {
	raw, ok := auth.UserID(c)
	if !ok {
		unauthorized(c, "unauthorized")
		return nil
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		unauthorized(c, "unauthorized")
		return nil
	}
	user, err := h.Store.GetUserByID(c.Request.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "user not found"})
		return nil
	}
	if err != nil {
		h.internal(c, "user lookup failed", err)
		return nil
	}
	return user
}
