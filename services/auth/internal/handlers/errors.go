package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/plantkeep/cmms/libs/httpmiddleware"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func invalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
}

func unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: message})
}

func invalidCode(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_OR_EXPIRED_CODE", Message: "invalid or expired code"})
}

func invalidToken(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_TOKEN", Message: "invalid or expired token"})
}

func (h *AuthHandler) internal(c *gin.Context, msg string, err error) {
	h.Logger.ErrorContext(c.Request.Context(), msg,
		slog.Any("error", err),
		slog.String("request_id", httpmiddleware.RequestIDFrom(c)),
	)
	c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
}
