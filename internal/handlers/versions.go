package handlers

import (
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"
	"clinical-forms-server/internal/utils"
	"clinical-forms-server/internal/versions"

	"github.com/gin-gonic/gin"
)

// VersionHandler handles form version requests.
type VersionHandler struct {
	Store   *versions.Store
	Repo    repository.Repository
	Denials *DenialRecorder
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(store *versions.Store, repo repository.Repository, denials *DenialRecorder) *VersionHandler {
	return &VersionHandler{Store: store, Repo: repo, Denials: denials}
}

// CreateVersionRequest represents the request body for a version snapshot.
// Without data the current form data is snapshotted.
type CreateVersionRequest struct {
	Version      string                 `json:"version" binding:"required"`
	ChangeReason string                 `json:"changeReason" binding:"required"`
	Data         map[string]interface{} `json:"data"`
}

// RestoreVersionRequest represents the request body for restoring a version.
type RestoreVersionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListVersions handles listing the versions of a form in label order.
func (h *VersionHandler) ListVersions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	list, err := h.Store.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRead, err)
		return
	}
	utils.Success(c, "Versions retrieved successfully", list)
}

// CreateVersion handles recording a new version of a form.
func (h *VersionHandler) CreateVersion(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req CreateVersionRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	ctx := c.Request.Context()
	formID := c.Param("id")
	if req.Data != nil {
		form, err := repository.LiveForm(ctx, h.Repo, formID)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		tmpl, err := h.Repo.GetTemplate(ctx, form.TemplateID)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		if err := utils.ValidateFormData(tmpl, req.Data, false); err != nil {
			utils.RespondError(c, err)
			return
		}
	}

	v, err := h.Store.CreateVersion(ctx, formID, req.Version, req.ChangeReason, req.Data, actor)
	if err != nil {
		h.Denials.fail(c, formID, permission.ActionCreateVersion, err)
		return
	}
	utils.Created(c, "Version created successfully", v)
}

// GetVersion handles fetching one version of a form.
func (h *VersionHandler) GetVersion(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	v, err := h.Store.Get(c.Request.Context(), c.Param("id"), c.Param("versionId"), actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRead, err)
		return
	}
	utils.Success(c, "Version retrieved successfully", v)
}

// CompareVersions handles diffing two versions given as ?a= and ?b=.
func (h *VersionHandler) CompareVersions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	a, b := c.Query("a"), c.Query("b")
	if a == "" || b == "" {
		utils.BadRequest(c, "Query parameters a and b are required")
		return
	}

	diffs, err := h.Store.Compare(c.Request.Context(), c.Param("id"), a, b, actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRead, err)
		return
	}
	utils.Success(c, "Versions compared successfully", gin.H{
		"versionA":    a,
		"versionB":    b,
		"differences": diffs,
	})
}

// RestoreVersion handles restoring a form to an earlier version.
func (h *VersionHandler) RestoreVersion(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req RestoreVersionRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	form, v, err := h.Store.Restore(c.Request.Context(), c.Param("id"), c.Param("versionId"), req.Reason, actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRestoreVersion, err)
		return
	}
	utils.Success(c, "Version restored successfully", gin.H{
		"form":    form,
		"version": v,
	})
}
