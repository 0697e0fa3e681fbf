package handlers

import (
	"clinical-forms-server/internal/middleware"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/repository"
	"clinical-forms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TemplateHandler handles form template requests.
type TemplateHandler struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// NewTemplateHandler creates a new TemplateHandler.
func NewTemplateHandler(repo repository.Repository, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{Repo: repo, Logger: logger}
}

// CreateTemplateRequest represents the request body for a new template.
type CreateTemplateRequest struct {
	Name     string                   `json:"name" binding:"required"`
	FormType models.FormType          `json:"formType" binding:"required"`
	Fields   []models.FieldDefinition `json:"fields" binding:"required,min=1,dive"`
}

// ListTemplates handles listing templates, optionally for one form type.
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	formType := models.FormType(c.Query("formType"))
	if formType != "" && !formType.Valid() {
		utils.BadRequest(c, "Unknown form type: "+string(formType))
		return
	}
	list, err := h.Repo.ListTemplates(c.Request.Context(), formType)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Templates retrieved successfully", list)
}

// GetTemplate handles fetching one template.
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	tmpl, err := h.Repo.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Template retrieved successfully", tmpl)
}

// CreateTemplate handles registering a new template.
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if !req.FormType.Valid() {
		utils.BadRequest(c, "Unknown form type: "+string(req.FormType))
		return
	}
	seen := make(map[string]bool, len(req.Fields))
	for _, f := range req.Fields {
		if seen[f.Name] {
			utils.BadRequest(c, "Duplicate field name: "+f.Name)
			return
		}
		seen[f.Name] = true
	}

	tmpl := &models.FormTemplate{
		Name:     req.Name,
		FormType: req.FormType,
		Fields:   req.Fields,
	}
	if err := h.Repo.CreateTemplate(c.Request.Context(), tmpl); err != nil {
		utils.RespondError(c, err)
		return
	}

	actor, _ := middleware.GetActor(c)
	h.Logger.Info("Template created",
		zap.String("template_id", tmpl.ID),
		zap.String("form_type", string(tmpl.FormType)),
		zap.String("user_id", actor.UserID))
	utils.Created(c, "Template created successfully", tmpl)
}
