package handlers

import (
	"fmt"
	"time"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/utils"

	"github.com/gin-gonic/gin"
)

// AuditHandler handles audit trail requests.
type AuditHandler struct {
	Ledger  *audit.Ledger
	Denials *DenialRecorder
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(ledger *audit.Ledger, denials *DenialRecorder) *AuditHandler {
	return &AuditHandler{Ledger: ledger, Denials: denials}
}

// GetFormAuditTrail handles reading one page of a form's audit trail.
func (h *AuditHandler) GetFormAuditTrail(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter, err := parseAuditFilter(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	page, err := h.Ledger.FormTrail(c.Request.Context(), c.Param("id"), actor, filter)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionViewAudit, err)
		return
	}
	utils.Success(c, "Audit trail retrieved successfully", page)
}

// ExportFormAuditTrail handles downloading the full trail of a form.
func (h *AuditHandler) ExportFormAuditTrail(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	formID := c.Param("id")
	entries, err := h.Ledger.Export(c.Request.Context(), formID, actor)
	if err != nil {
		h.Denials.fail(c, formID, permission.ActionExport, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-trail-%s.json"`, formID))
	utils.Success(c, "Audit trail exported successfully", gin.H{
		"formId":     formID,
		"exportedAt": time.Now().UTC(),
		"exportedBy": actor.UserID,
		"entries":    entries,
	})
}

// QueryAudit handles the administrative audit search across forms.
func (h *AuditHandler) QueryAudit(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	filter.FormID = c.Query("formId")

	page, err := h.Ledger.Query(c.Request.Context(), filter)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Audit entries retrieved successfully", page)
}
