package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type permissionsView struct {
	Granted []string `json:"granted"`
	Revoked []string `json:"revoked"`
}

type profileResponse struct {
	ID          string          `json:"id"`
	Email       *string         `json:"email"`
	Phone       *string         `json:"phone"`
	Role        string          `json:"role"`
	DisplayName string          `json:"displayName"`
	HasPin      bool            `json:"hasPin"`
	Permissions permissionsView `json:"permissions"`
}

// Profile merges the stored identity with the per-user permission overrides.
func (h *AuthHandler) Profile(c *gin.Context) {
	user := h.authenticatedUser(c)
	if user == nil {
		return
	}

	perms := permissionsView{Granted: user.GrantedPermissions, Revoked: user.RevokedPermissions}
	if perms.Granted == nil {
		perms.Granted = []string{}
	}
	if perms.Revoked == nil {
		perms.Revoked = []string{}
	}

	c.JSON(http.StatusOK, profileResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		Phone:       user.Phone,
		Role:        user.Role,
		DisplayName: user.DisplayName,
		HasPin:      user.HasPin(),
		Permissions: perms,
	})
}
