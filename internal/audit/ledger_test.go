package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	repo   *repository.MemoryRepository
	ledger *Ledger
	form   *models.Form
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	engine, err := permission.NewEngine(permission.DefaultPolicy())
	require.NoError(t, err)

	tmpl := &models.FormTemplate{
		Name:     "Doctor note",
		FormType: models.FormTypeDoctor,
		Fields:   []models.FieldDefinition{{Name: "diagnosis", Type: models.FieldString, PHI: true}},
	}
	require.NoError(t, repo.CreateTemplate(ctx, tmpl))
	form := &models.Form{TemplateID: tmpl.ID, PatientID: "p-1", Type: models.FormTypeDoctor, Status: models.StatusDraft}
	require.NoError(t, repo.CreateForm(ctx, form))

	return &fixture{repo: repo, ledger: NewLedger(repo, engine, zap.NewNop(), opts...), form: form}
}

var doctor = models.Actor{UserID: "u-doc", Role: models.RoleDoctor, IPAddress: "10.0.0.1", UserAgent: "test"}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	f := newFixture(t)
	id, err := f.ledger.Append(context.Background(), NewEntry(doctor, f.form.ID, models.AuditCreated))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	page, err := f.ledger.Query(context.Background(), repository.AuditFilter{FormID: f.form.ID})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, id, page.Entries[0].ID)
	assert.Equal(t, "10.0.0.1", page.Entries[0].IPAddress)
	assert.False(t, page.Entries[0].Timestamp.IsZero())
}

func TestAppend_RejectsUnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Append(context.Background(), NewEntry(doctor, f.form.ID, "purged"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestAppend_StorageFailureIsLedgerFatal(t *testing.T) {
	f := newFixture(t)
	f.repo.SetAuditFailure(errors.New("disk full"))

	_, err := f.ledger.Append(context.Background(), NewEntry(doctor, f.form.ID, models.AuditCreated))
	assert.ErrorIs(t, err, models.ErrAuditUnavailable)
	assert.Equal(t, models.KindLedgerFatal, models.KindOf(err))
}

func TestAppend_TimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	clock := func() time.Time {
		tick := ticks[i]
		i++
		return tick
	}

	f := newFixture(t, WithClock(clock))
	ctx := context.Background()
	for _, a := range []models.AuditAction{models.AuditCreated, models.AuditUpdated, models.AuditViewed} {
		_, err := f.ledger.Append(ctx, NewEntry(doctor, f.form.ID, a))
		require.NoError(t, err)
	}

	page, err := f.ledger.Query(ctx, repository.AuditFilter{FormID: f.form.ID})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, models.AuditCreated, page.Entries[0].Action)
	assert.Equal(t, models.AuditUpdated, page.Entries[1].Action)
	assert.Equal(t, base, page.Entries[1].Timestamp)
	assert.Equal(t, models.AuditViewed, page.Entries[2].Action)
}

func TestQuery_PageSizes(t *testing.T) {
	f := newFixture(t, WithPageSizes(2, 3))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.ledger.Append(ctx, NewEntry(doctor, f.form.ID, models.AuditUpdated))
		require.NoError(t, err)
	}

	page, err := f.ledger.Query(ctx, repository.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.TotalPages)

	page, err = f.ledger.Query(ctx, repository.AuditFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 3, page.PageSize)
	assert.Len(t, page.Entries, 3)

	page, err = f.ledger.Query(ctx, repository.AuditFilter{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
}

func TestQuery_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nurse := models.Actor{UserID: "u-nurse", Role: models.RoleNurse}

	_, err := f.ledger.Append(ctx, NewEntry(doctor, f.form.ID, models.AuditCreated))
	require.NoError(t, err)
	phi := NewEntry(nurse, f.form.ID, models.AuditViewed)
	phi.PHIAccess = true
	_, err = f.ledger.Append(ctx, phi)
	require.NoError(t, err)

	yes := true
	page, err := f.ledger.Query(ctx, repository.AuditFilter{PHIAccess: &yes})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "u-nurse", page.Entries[0].UserID)

	page, err = f.ledger.Query(ctx, repository.AuditFilter{UserRole: models.RoleDoctor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, models.AuditCreated, page.Entries[0].Action)

	page, err = f.ledger.Query(ctx, repository.AuditFilter{Descending: true})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, models.AuditViewed, page.Entries[0].Action)
}

func TestFormTrail_RecordsView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Append(ctx, NewEntry(doctor, f.form.ID, models.AuditCreated))
	require.NoError(t, err)

	page, err := f.ledger.FormTrail(ctx, f.form.ID, doctor, repository.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)

	views, err := f.ledger.Query(ctx, repository.AuditFilter{FormID: f.form.ID, Action: models.AuditViewed})
	require.NoError(t, err)
	require.Len(t, views.Entries, 1)
	assert.True(t, views.Entries[0].PHIAccess)
	assert.Equal(t, "audit_trail", views.Entries[0].Details["resource"])
}

func TestFormTrail_ReceptionistDeniedWithoutEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receptionist := models.Actor{UserID: "u-rec", Role: models.RoleReceptionist}

	_, err := f.ledger.FormTrail(ctx, f.form.ID, receptionist, repository.AuditFilter{})
	assert.Equal(t, models.KindAuthorization, models.KindOf(err))

	page, err := f.ledger.Query(ctx, repository.AuditFilter{FormID: f.form.ID})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestFormTrail_NurseDeniedOnDoctorForm(t *testing.T) {
	f := newFixture(t)
	nurse := models.Actor{UserID: "u-nurse", Role: models.RoleNurse}
	_, err := f.ledger.FormTrail(context.Background(), f.form.ID, nurse, repository.AuditFilter{})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestFormTrail_DeletedFormIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.form.DeletedAt = &now
	require.NoError(t, f.repo.UpdateForm(ctx, f.form))

	_, err := f.ledger.FormTrail(ctx, f.form.ID, doctor, repository.AuditFilter{})
	assert.ErrorIs(t, err, models.ErrFormNotFound)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, a := range []models.AuditAction{models.AuditCreated, models.AuditUpdated} {
		_, err := f.ledger.Append(ctx, NewEntry(doctor, f.form.ID, a))
		require.NoError(t, err)
	}

	entries, err := f.ledger.Export(ctx, f.form.ID, doctor)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	exported, err := f.ledger.Query(ctx, repository.AuditFilter{Action: models.AuditExported})
	require.NoError(t, err)
	require.Len(t, exported.Entries, 1)
	assert.EqualValues(t, 2, exported.Entries[0].Details["entries"])

	patient := models.Actor{UserID: "u-pat", Role: models.RolePatient}
	_, err = f.ledger.Export(ctx, f.form.ID, patient)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}
