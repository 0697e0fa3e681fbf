package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/middleware"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestParseAuditFilter(t *testing.T) {
	c, _ := testContext("/?userRole=nurse&action=viewed&isPhiAccess=true&from=2026-01-02T00:00:00Z&page=2&pageSize=5&order=desc")
	f, err := parseAuditFilter(c)
	require.NoError(t, err)
	assert.Equal(t, models.RoleNurse, f.UserRole)
	assert.Equal(t, models.AuditViewed, f.Action)
	require.NotNil(t, f.PHIAccess)
	assert.True(t, *f.PHIAccess)
	require.NotNil(t, f.From)
	assert.Nil(t, f.To)
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, 5, f.PageSize)
	assert.True(t, f.Descending)

	c, _ = testContext("/")
	f, err = parseAuditFilter(c)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Page)
	assert.Zero(t, f.PageSize)
	assert.False(t, f.Descending)

	c, _ = testContext("/?userRole=janitor")
	_, err = parseAuditFilter(c)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestDenialRecorder(t *testing.T) {
	repo := repository.NewMemoryRepository()
	engine, err := permission.NewEngine(permission.DefaultPolicy())
	require.NoError(t, err)
	ledger := audit.NewLedger(repo, engine, zap.NewNop())
	receptionist := models.Actor{UserID: "u-desk", Role: models.RoleReceptionist}

	denials := func() int64 {
		page, err := ledger.Query(context.Background(), repository.AuditFilter{Action: models.AuditAccessDenied})
		require.NoError(t, err)
		return page.Total
	}

	off := &DenialRecorder{Ledger: ledger, Logger: zap.NewNop()}
	c, w := testContext("/")
	middleware.SetActor(c, receptionist)
	off.fail(c, "form-1", permission.ActionViewAudit, models.ErrPermissionDenied)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, denials())

	on := &DenialRecorder{Ledger: ledger, Enabled: true, Logger: zap.NewNop()}
	c, w = testContext("/")
	middleware.SetActor(c, receptionist)
	on.fail(c, "form-1", permission.ActionViewAudit, models.ErrPhiAccessDenied)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, int64(1), denials())

	// only authorization failures are recorded
	c, w = testContext("/")
	middleware.SetActor(c, receptionist)
	on.fail(c, "form-1", permission.ActionViewAudit, models.ErrFormNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int64(1), denials())
}
