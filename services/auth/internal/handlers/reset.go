package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/plantkeep/cmms/services/auth/internal/reset"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
)

type requestResetRequest struct {
	Email string `json:"email" binding:"required,email,max=254"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required,max=256"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=128"`
}

type resetPinRequest struct {
	Token  string `json:"token" binding:"required,max=256"`
	NewPin string `json:"newPin" binding:"required,min=4,max=8,number"`
}

type resetPasswordOTPRequest struct {
	Contact     string `json:"contact" binding:"required,max=254"`
	Code        string `json:"code" binding:"required,len=6,number"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=128"`
}

type resetPinOTPRequest struct {
	Contact string `json:"contact" binding:"required,max=254"`
	Code    string `json:"code" binding:"required,len=6,number"`
	NewPin  string `json:"newPin" binding:"required,min=4,max=8,number"`
}

func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	h.requestReset(c, storage.PurposePassword)
}

func (h *AuthHandler) RequestPinReset(c *gin.Context) {
	h.requestReset(c, storage.PurposePin)
}

// requestReset always answers success, like RequestOTP.
func (h *AuthHandler) requestReset(c *gin.Context, purpose storage.Purpose) {
	var req requestResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	if err := h.Reset.Request(c.Request.Context(), req.Email, purpose); err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "reset request failed",
			slog.String("purpose", string(purpose)), slog.Any("error", err))
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	h.redeemAndStore(c, req.Token, storage.PurposePassword, req.NewPassword)
}

func (h *AuthHandler) ResetPin(c *gin.Context) {
	var req resetPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	h.redeemAndStore(c, req.Token, storage.PurposePin, req.NewPin)
}

func (h *AuthHandler) ResetPasswordOTP(c *gin.Context) {
	var req resetPasswordOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	row, ok := h.consumeCode(c, req.Contact, storage.PurposePassword, req.Code)
	if !ok {
		return
	}
	if h.storeCredential(c, *row.UserID, storage.PurposePassword, req.NewPassword, "reset-otp") {
		c.JSON(http.StatusOK, successResponse{Success: true})
	}
}

func (h *AuthHandler) ResetPinOTP(c *gin.Context) {
	var req resetPinOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	row, ok := h.consumeCode(c, req.Contact, storage.PurposePin, req.Code)
	if !ok {
		return
	}
	if h.storeCredential(c, *row.UserID, storage.PurposePin, req.NewPin, "reset-otp") {
		c.JSON(http.StatusOK, successResponse{Success: true})
	}
}

// redeemAndStore consumes a reset token and then overwrites the credential.
// The two writes are separate statements; a failed overwrite leaves the token
// consumed.
func (h *AuthHandler) redeemAndStore(c *gin.Context, token string, purpose storage.Purpose, secret string) {
	userID, err := h.Reset.Redeem(c.Request.Context(), token, purpose)
	if errors.Is(err, reset.ErrNotFound) {
		invalidToken(c)
		return
	}
	if err != nil {
		h.internal(c, "reset token redeem failed", err)
		return
	}
	if h.storeCredential(c, userID, purpose, secret, "reset-token") {
		c.JSON(http.StatusOK, successResponse{Success: true})
	}
}

// storeCredential hashes secret into the password or PIN column. It writes
// the error response and returns false on failure.
func (h *AuthHandler) storeCredential(c *gin.Context, userID uuid.UUID, purpose storage.Purpose, secret, source string) bool {
	hash, err := h.Hasher.Hash(secret)
	if err != nil {
		h.internal(c, "credential hashing failed", err)
		return false
	}

	ctx := c.Request.Context()
	credential := "password"
	if purpose == storage.PurposePin {
		credential = "pin"
		err = h.Store.UpdatePinHash(ctx, userID, hash)
	} else {
		err = h.Store.UpdatePasswordHash(ctx, userID, hash)
	}

	if errors.Is(err, storage.ErrNotFound) {
		if source == "set-pin" {
			c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "user not found"})
		} else {
			invalidToken(c)
		}
		return false
	}
	if err != nil {
		h.internal(c, "credential update failed", err)
		return false
	}

	h.Metrics.CredentialUpdated(credential, source)
	h.Logger.InfoContext(ctx, "credential updated",
		slog.String("user_id", userID.String()),
		slog.String("credential", credential),
		slog.String("source", source))
	return true
}
