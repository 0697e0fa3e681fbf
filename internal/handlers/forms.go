package handlers

import (
	"clinical-forms-server/internal/forms"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"
	"clinical-forms-server/internal/utils"

	"github.com/gin-gonic/gin"
)

// FormHandler handles form related requests.
type FormHandler struct {
	Forms   *forms.Service
	Repo    repository.Repository
	Denials *DenialRecorder
}

// NewFormHandler creates a new FormHandler.
func NewFormHandler(formSvc *forms.Service, repo repository.Repository, denials *DenialRecorder) *FormHandler {
	return &FormHandler{Forms: formSvc, Repo: repo, Denials: denials}
}

// CreateFormRequest represents the request body for creating a form.
type CreateFormRequest struct {
	TemplateID string                 `json:"templateId" binding:"required"`
	PatientID  string                 `json:"patientId" binding:"required"`
	VisitID    *string                `json:"visitId"`
	Data       map[string]interface{} `json:"data"`
}

// UpdateFormDataRequest represents the request body for editing form data.
// A null value clears a field.
type UpdateFormDataRequest struct {
	Data map[string]interface{} `json:"data" binding:"required"`
}

// TransitionRequest represents the request body for a status change.
type TransitionRequest struct {
	Status models.FormStatus `json:"status" binding:"required"`
}

// FormListResponse is one page of forms.
type FormListResponse struct {
	Forms    []models.Form `json:"forms"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// CreateForm handles creating a new draft form from a template.
func (h *FormHandler) CreateForm(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req CreateFormRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	tmpl, err := h.Repo.GetTemplate(c.Request.Context(), req.TemplateID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}
	if err := utils.ValidateFormData(tmpl, req.Data, false); err != nil {
		utils.RespondError(c, err)
		return
	}

	form, err := h.Forms.Create(c.Request.Context(), forms.CreateInput{
		TemplateID: req.TemplateID,
		PatientID:  req.PatientID,
		VisitID:    req.VisitID,
		Data:       req.Data,
	}, actor)
	if err != nil {
		h.Denials.fail(c, "", permission.ActionCreate, err)
		return
	}
	utils.Created(c, "Form created successfully", form)
}

// ListForms handles listing the forms visible to the caller.
func (h *FormHandler) ListForms(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	filter := repository.FormFilter{
		PatientID: c.Query("patientId"),
		Type:      models.FormType(c.Query("type")),
		Status:    models.FormStatus(c.Query("status")),
	}
	var err error
	if filter.Page, err = queryInt(c, "page", 1); err != nil {
		utils.RespondError(c, err)
		return
	}
	if filter.PageSize, err = queryInt(c, "pageSize", 20); err != nil {
		utils.RespondError(c, err)
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		utils.BadRequest(c, "Unknown form type: "+string(filter.Type))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		utils.BadRequest(c, "Unknown form status: "+string(filter.Status))
		return
	}

	list, total, err := h.Forms.List(c.Request.Context(), filter, actor)
	if err != nil {
		h.Denials.fail(c, "", permission.ActionRead, err)
		return
	}
	utils.Success(c, "Forms retrieved successfully", FormListResponse{
		Forms:    list,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// GetForm handles fetching one form.
func (h *FormHandler) GetForm(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	form, err := h.Forms.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRead, err)
		return
	}
	utils.Success(c, "Form retrieved successfully", form)
}

// UpdateFormData handles editing the data of a form.
func (h *FormHandler) UpdateFormData(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req UpdateFormDataRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	ctx := c.Request.Context()
	current, _, err := h.Forms.LoadForUpdate(ctx, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	tmpl, err := h.Repo.GetTemplate(ctx, current.TemplateID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if err := utils.ValidateFormData(tmpl, req.Data, true); err != nil {
		utils.RespondError(c, err)
		return
	}

	form, err := h.Forms.UpdateData(ctx, current.ID, req.Data, actor)
	if err != nil {
		h.Denials.fail(c, current.ID, permission.ActionUpdate, err)
		return
	}
	utils.Success(c, "Form updated successfully", form)
}

// TransitionForm handles moving a form to another status.
func (h *FormHandler) TransitionForm(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req TransitionRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	form, err := h.Forms.Transition(c.Request.Context(), c.Param("id"), req.Status, actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionTransition, err)
		return
	}
	utils.Success(c, "Form status updated successfully", gin.H{
		"form":               form,
		"allowedTransitions": forms.AllowedTransitions(form.Status),
	})
}

// DeleteForm handles soft deleting a form.
func (h *FormHandler) DeleteForm(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.Forms.Delete(c.Request.Context(), c.Param("id"), actor); err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionDelete, err)
		return
	}
	utils.Success(c, "Form deleted successfully", nil)
}
