package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/plantkeep/cmms/services/auth/internal/otp"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
)

type requestOTPRequest struct {
	Contact string `json:"contact" binding:"required,max=254"`
	Type    string `json:"type" binding:"required,oneof=LOGIN PASSWORD PIN"`
}

type verifyOTPRequest struct {
	Contact string `json:"contact" binding:"required,max=254"`
	Type    string `json:"type" binding:"required,oneof=LOGIN PASSWORD PIN"`
	Code    string `json:"code" binding:"required,len=6,number"`
}

// RequestOTP always answers success. Unknown contacts and internal failures
// are only visible in server logs.
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req requestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}

	if err := h.OTP.Issue(c.Request.Context(), req.Contact, storage.Purpose(req.Type)); err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "otp issue failed",
			slog.String("purpose", req.Type), slog.Any("error", err))
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	purpose := storage.Purpose(req.Type)

	row, ok := h.consumeCode(c, req.Contact, purpose, req.Code)
	if !ok {
		if purpose == storage.PurposeLogin {
			h.Metrics.Login("otp", "failure")
		}
		return
	}
	if purpose != storage.PurposeLogin {
		c.JSON(http.StatusOK, successResponse{Success: true})
		return
	}

	user, err := h.Store.GetUserByID(c.Request.Context(), *row.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		invalidCode(c)
		return
	}
	if err != nil {
		h.internal(c, "otp user lookup failed", err)
		return
	}
	h.Metrics.Login("otp", "success")
	h.respondTokens(c, user, true)
}

// consumeCode verifies and consumes a code, writing the failure response
// itself. Every code failure has the same shape.
func (h *AuthHandler) consumeCode(c *gin.Context, contact string, purpose storage.Purpose, code string) (*storage.OneTimeCode, bool) {
	row, err := h.OTP.Verify(c.Request.Context(), contact, purpose, code)
	switch {
	case err == nil:
		if row.UserID == nil {
			invalidCode(c)
			return nil, false
		}
		return row, true
	case errors.Is(err, otp.ErrInvalidOrExpired),
		errors.Is(err, otp.ErrInvalidCode),
		errors.Is(err, otp.ErrTooManyAttempts):
		invalidCode(c)
	default:
		h.internal(c, "otp verify failed", err)
	}
	return nil, false
}
