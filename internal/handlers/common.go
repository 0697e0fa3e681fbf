package handlers

import (
	"fmt"
	"strconv"
	"time"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/middleware"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"
	"clinical-forms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DenialRecorder optionally writes access_denied entries for refused requests.
type DenialRecorder struct {
	Ledger  *audit.Ledger
	Enabled bool
	Logger  *zap.Logger
}

func (d *DenialRecorder) record(c *gin.Context, formID string, action permission.Action, err error) {
	actor, _ := middleware.GetActor(c)
	d.Logger.Warn("Access denied",
		zap.String("form_id", formID),
		zap.String("user_id", actor.UserID),
		zap.String("role", string(actor.Role)),
		zap.String("action", string(action)),
		zap.Error(err))
	if !d.Enabled || d.Ledger == nil {
		return
	}

	e := audit.NewEntry(actor, formID, models.AuditAccessDenied)
	e.Details = map[string]interface{}{"action": string(action), "reason": err.Error()}
	if _, appendErr := d.Ledger.Append(c.Request.Context(), e); appendErr != nil {
		d.Logger.Error("Failed to record access denial", zap.String("form_id", formID), zap.Error(appendErr))
	}
}

// fail sends the response for err and records authorization denials.
func (d *DenialRecorder) fail(c *gin.Context, formID string, action permission.Action, err error) {
	if d != nil && models.KindOf(err) == models.KindAuthorization {
		d.record(c, formID, action, err)
	}
	utils.RespondError(c, err)
}

// requireActor returns the request's actor or answers 401.
func requireActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return models.Actor{}, false
	}
	return actor, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", models.ErrInvalidInput, key)
	}
	return n, nil
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", models.ErrInvalidInput, key)
	}
	return &t, nil
}

// parseAuditFilter reads audit query parameters.
func parseAuditFilter(c *gin.Context) (repository.AuditFilter, error) {
	var f repository.AuditFilter
	var err error

	f.UserID = c.Query("userId")
	if role := c.Query("userRole"); role != "" {
		f.UserRole = models.Role(role)
		if !f.UserRole.Valid() {
			return f, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, role)
		}
	}
	if action := c.Query("action"); action != "" {
		f.Action = models.AuditAction(action)
		if !f.Action.Valid() {
			return f, fmt.Errorf("%w: unknown action %q", models.ErrInvalidInput, action)
		}
	}
	if raw := c.Query("isPhiAccess"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("%w: isPhiAccess must be a boolean", models.ErrInvalidInput)
		}
		f.PHIAccess = &v
	}
	if f.From, err = queryTime(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return f, err
	}
	if f.Page, err = queryInt(c, "page", 1); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(c, "pageSize", 0); err != nil {
		return f, err
	}
	switch c.DefaultQuery("order", "asc") {
	case "asc":
	case "desc":
		f.Descending = true
	default:
		return f, fmt.Errorf("%w: order must be asc or desc", models.ErrInvalidInput)
	}
	return f, nil
}
