package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/plantkeep/cmms/services/auth/internal/storage"
)

type hasPinResponse struct {
	HasPin bool `json:"hasPin"`
}

type loginPinRequest struct {
	Contact string `json:"contact" binding:"required,max=254"`
	Pin     string `json:"pin" binding:"required,min=4,max=8,number"`
}

type setPinRequest struct {
	NewPin string `json:"newPin" binding:"required,min=4,max=8,number"`
}

// HasPin reports false for unknown contacts.
func (h *AuthHandler) HasPin(c *gin.Context) {
	contact := c.Query("contact")
	if contact == "" || len(contact) > 254 {
		invalidRequest(c)
		return
	}

	user, err := h.Store.GetUserByContact(c.Request.Context(), storage.NormalizeContact(contact))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusOK, hasPinResponse{HasPin: false})
		return
	}
	if err != nil {
		h.internal(c, "has-pin lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, hasPinResponse{HasPin: user.HasPin()})
}

func (h *AuthHandler) LoginPin(c *gin.Context) {
	var req loginPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}

	user, err := h.Store.GetUserByContact(c.Request.Context(), storage.NormalizeContact(req.Contact))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.internal(c, "pin login lookup failed", err)
		return
	}

	if !h.verifySecret(req.Pin, user, pinHash) {
		h.Metrics.Login("pin", "failure")
		unauthorized(c, "invalid credentials")
		return
	}

	h.Metrics.Login("pin", "success")
	h.upgradeHash(c.Request.Context(), user, req.Pin, storage.PurposePin)
	h.respondTokens(c, user, false)
}

// SetPin overwrites the caller's PIN without asking for the old one.
func (h *AuthHandler) SetPin(c *gin.Context) {
	var req setPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}

	user := h.authenticatedUser(c)
	if user == nil {
		return
	}
	if !h.storeCredential(c, user.ID, storage.PurposePin, req.NewPin, "set-pin") {
		return
	}
	c.JSON(http.StatusOK, successResponse{Success: true})
}
