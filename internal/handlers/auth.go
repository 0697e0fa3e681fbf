package handlers

import (
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/utils"

	"github.com/gin-gonic/gin"
)

// AuthHandler reports what the authenticated caller may do.
type AuthHandler struct {
	Engine *permission.Engine
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(engine *permission.Engine) *AuthHandler {
	return &AuthHandler{Engine: engine}
}

// PermissionsResponse is the effective permission table of a role.
type PermissionsResponse struct {
	UserID          string                                  `json:"userId"`
	Role            models.Role                             `json:"role"`
	CanAccessPHI    bool                                    `json:"canAccessPhi"`
	Permissions     map[models.FormType][]permission.Action `json:"permissions"`
	RequiredSigners map[models.FormType][]models.Role       `json:"requiredSigners"`
}

// GetPermissions handles reporting the caller's effective permissions.
func (h *AuthHandler) GetPermissions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	signers := make(map[models.FormType][]models.Role)
	for _, ft := range models.FormTypes {
		if roles := h.Engine.RequiredSigners(ft); len(roles) > 0 {
			signers[ft] = roles
		}
	}
	utils.Success(c, "Permissions retrieved successfully", PermissionsResponse{
		UserID:          actor.UserID,
		Role:            actor.Role,
		CanAccessPHI:    h.Engine.CanAccessPHI(actor.Role),
		Permissions:     h.Engine.Permissions(actor.Role),
		RequiredSigners: signers,
	})
}
