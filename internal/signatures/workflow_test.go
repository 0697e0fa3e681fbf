package signatures

import (
	"context"
	"errors"
	"testing"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/events"
	"clinical-forms-server/internal/forms"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"
	"clinical-forms-server/internal/versions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	admin  = models.Actor{UserID: "u-admin", Role: models.RoleAdmin}
	doctor = models.Actor{UserID: "u-doc", Role: models.RoleDoctor}
	nurse  = models.Actor{UserID: "u-nurse", Role: models.RoleNurse}
)

const payload = "c2lnbmVkIGJ5IHRoZSBjbGluaWNpYW4="

type harness struct {
	repo     *repository.MemoryRepository
	forms    *forms.Service
	versions *versions.Store
	workflow *Workflow
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := repository.NewMemoryRepository()
	engine, err := permission.NewEngine(permission.DefaultPolicy())
	require.NoError(t, err)
	ledger := audit.NewLedger(repo, engine, zap.NewNop())
	recorder := &events.Recorder{}
	formSvc := forms.NewService(repo, engine, ledger, recorder, nil, zap.NewNop())
	return &harness{
		repo:     repo,
		forms:    formSvc,
		versions: versions.NewStore(repo, engine, ledger, formSvc, zap.NewNop()),
		workflow: NewWorkflow(repo, engine, ledger, formSvc, nil, zap.NewNop()),
		recorder: recorder,
	}
}

// approvedForm creates a form of type ft and walks it to approved, recording
// every status it passes through.
func (h *harness) approvedForm(t *testing.T, ft models.FormType) (*models.Form, []models.FormStatus) {
	t.Helper()
	ctx := context.Background()
	tmpl := &models.FormTemplate{
		Name:     "template",
		FormType: ft,
		Fields:   []models.FieldDefinition{{Name: "notes", Type: models.FieldString, PHI: true}},
	}
	require.NoError(t, h.repo.CreateTemplate(ctx, tmpl))
	f, err := h.forms.Create(ctx, forms.CreateInput{TemplateID: tmpl.ID, PatientID: "p-1"}, admin)
	require.NoError(t, err)

	seen := []models.FormStatus{f.Status}
	for _, to := range []models.FormStatus{models.StatusInProgress, models.StatusPendingReview, models.StatusApproved} {
		f, err = h.forms.Transition(ctx, f.ID, to, admin)
		require.NoError(t, err)
		seen = append(seen, f.Status)
	}
	return f, seen
}

func (h *harness) status(t *testing.T, formID string) models.FormStatus {
	t.Helper()
	f, err := h.repo.GetForm(context.Background(), formID)
	require.NoError(t, err)
	return f.Status
}

func sign(role models.Role) SignInput {
	return SignInput{SignerRole: role, SignatureType: models.SignatureDigital, SignatureData: payload}
}

func TestNurseFormNeedsNurseAndDoctor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, seen := h.approvedForm(t, models.FormTypeNurse)

	_, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleNurse), nurse)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, h.status(t, f.ID))

	st, err := h.workflow.Status(ctx, f.ID, doctor)
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleDoctor}, st.Missing)
	assert.True(t, st.PendingSignature)
	assert.False(t, st.Complete)

	_, err = h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), doctor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, h.status(t, f.ID))
	seen = append(seen, h.status(t, f.ID))

	// every observed status sequence is a walk on the graph
	for i := 1; i < len(seen); i++ {
		assert.True(t, forms.CanTransition(seen[i-1], seen[i]), "%s -> %s", seen[i-1], seen[i])
	}

	_, err = h.versions.CreateVersion(ctx, f.ID, "2.0.0", "late change", nil, doctor)
	assert.ErrorIs(t, err, models.ErrFormSigned)

	st, err = h.workflow.Status(ctx, f.ID, doctor)
	require.NoError(t, err)
	assert.True(t, st.Complete)
	assert.False(t, st.PendingSignature)

	assert.Len(t, h.recorder.OfType(events.SignatureAdded), 2)
	signedEvents := h.recorder.OfType(events.FormSigned)
	require.Len(t, signedEvents, 1)
	assert.Equal(t, models.StatusApproved, signedEvents[0].From)
	assert.Equal(t, models.StatusSigned, signedEvents[0].To)

	entries, _, err := h.repo.QueryAuditEntries(ctx, repository.AuditFilter{FormID: f.ID, Action: models.AuditSigned})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "approved", entries[1].Details["previousStatus"])
	assert.Equal(t, "signed", entries[1].Details["newStatus"])
}

func TestAdminRevokeRevertsToDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, _ := h.approvedForm(t, models.FormTypeNurse)

	_, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleNurse), nurse)
	require.NoError(t, err)
	docSig, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), doctor)
	require.NoError(t, err)
	require.Equal(t, models.StatusSigned, h.status(t, f.ID))

	_, err = h.workflow.Revoke(ctx, f.ID, docSig.ID, "signed wrong chart", doctor)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	revoked, err := h.workflow.Revoke(ctx, f.ID, docSig.ID, "signed wrong chart", admin)
	require.NoError(t, err)
	assert.Equal(t, models.SignatureRevoked, revoked.Status)
	assert.Equal(t, "u-admin", revoked.RevokedBy)
	assert.Equal(t, models.StatusDraft, h.status(t, f.ID))

	entries, _, err := h.repo.QueryAuditEntries(ctx, repository.AuditFilter{FormID: f.ID, Action: models.AuditSignatureRevoked})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "signed wrong chart", entries[0].Details["reason"])
	assert.Equal(t, "signed", entries[0].Details["previousStatus"])
	assert.Equal(t, "draft", entries[0].Details["newStatus"])

	_, err = h.workflow.Revoke(ctx, f.ID, docSig.ID, "again", admin)
	assert.ErrorIs(t, err, models.ErrSignatureNotActive)

	assert.Len(t, h.recorder.OfType(events.SignatureRevoked), 1)
}

func TestSignTwiceThenRevokeAndResign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, _ := h.approvedForm(t, models.FormTypeNurse)

	first, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleNurse), nurse)
	require.NoError(t, err)
	_, err = h.workflow.Sign(ctx, f.ID, sign(models.RoleNurse), nurse)
	assert.ErrorIs(t, err, models.ErrAlreadySignedByRole)

	_, err = h.workflow.Revoke(ctx, f.ID, first.ID, "wrong patient band", admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, h.status(t, f.ID))

	_, err = h.workflow.Sign(ctx, f.ID, sign(models.RoleNurse), nurse)
	require.NoError(t, err)

	sigs, err := h.workflow.List(ctx, f.ID, nurse)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, models.SignatureRevoked, sigs[0].Status)
	assert.Equal(t, models.SignatureSigned, sigs[1].Status)
}

func TestSingleSignerSecondAttemptIsAlreadySigned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, _ := h.approvedForm(t, models.FormTypeDoctor)

	_, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), doctor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, h.status(t, f.ID))

	_, err = h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), doctor)
	assert.ErrorIs(t, err, models.ErrAlreadySignedByRole)
}

func TestSign_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, _ := h.approvedForm(t, models.FormTypeNurse)

	_, err := h.workflow.Sign(ctx, "missing", sign(models.RoleNurse), nurse)
	assert.ErrorIs(t, err, models.ErrFormNotFound)

	bad := sign(models.RoleNurse)
	bad.SignatureData = "not base64 !!"
	_, err = h.workflow.Sign(ctx, f.ID, bad, nurse)
	assert.ErrorIs(t, err, models.ErrInvalidSignatureFormat)

	// signing on behalf of another role
	_, err = h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), nurse)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	// admin may sign everything but is not a required signer
	_, err = h.workflow.Sign(ctx, f.ID, sign(models.RoleAdmin), admin)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	// nurse is not permitted to sign a doctor_form
	doc, _ := h.approvedForm(t, models.FormTypeDoctor)
	_, err = h.workflow.Sign(ctx, doc.ID, sign(models.RoleNurse), nurse)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	entries, _, err := h.repo.QueryAuditEntries(ctx, repository.AuditFilter{Action: models.AuditSigned})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSign_RequiresApprovedForm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, _ := h.approvedForm(t, models.FormTypeDoctor)
	f.Status = models.StatusDraft
	require.NoError(t, h.repo.UpdateForm(ctx, f))

	_, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), doctor)
	assert.ErrorIs(t, err, models.ErrFormNotSignable)
	assert.Equal(t, models.StatusDraft, h.status(t, f.ID))
}

func TestSign_RolledBackWhenAuditFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, _ := h.approvedForm(t, models.FormTypeDoctor)
	h.repo.SetAuditFailure(errors.New("ledger down"))

	_, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), doctor)
	assert.ErrorIs(t, err, models.ErrAuditUnavailable)

	h.repo.SetAuditFailure(nil)
	assert.Equal(t, models.StatusApproved, h.status(t, f.ID))
	sigs, err := h.repo.ListSignatures(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, sigs)
	assert.Empty(t, h.recorder.OfType(events.FormSigned))
}

func TestRevoke_RolledBackWhenAuditFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f, _ := h.approvedForm(t, models.FormTypeDoctor)
	sig, err := h.workflow.Sign(ctx, f.ID, sign(models.RoleDoctor), doctor)
	require.NoError(t, err)
	require.Equal(t, models.StatusSigned, h.status(t, f.ID))

	h.repo.SetAuditFailure(errors.New("ledger down"))
	_, err = h.workflow.Revoke(ctx, f.ID, sig.ID, "signed wrong chart", admin)
	assert.ErrorIs(t, err, models.ErrAuditUnavailable)
	h.repo.SetAuditFailure(nil)

	assert.Equal(t, models.StatusSigned, h.status(t, f.ID))
	stored, err := h.repo.GetSignature(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SignatureSigned, stored.Status)
	assert.Nil(t, stored.RevokedAt)
	assert.Empty(t, h.recorder.OfType(events.SignatureRevoked))
}

func TestRevoke_SignatureOfOtherFormIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.approvedForm(t, models.FormTypeDoctor)
	b, _ := h.approvedForm(t, models.FormTypeDoctor)

	sig, err := h.workflow.Sign(ctx, a.ID, sign(models.RoleDoctor), doctor)
	require.NoError(t, err)

	_, err = h.workflow.Revoke(ctx, b.ID, sig.ID, "x", admin)
	assert.ErrorIs(t, err, models.ErrSignatureNotFound)
	_, err = h.workflow.Revoke(ctx, a.ID, "missing", "x", admin)
	assert.ErrorIs(t, err, models.ErrSignatureNotFound)
	_, err = h.workflow.Revoke(ctx, a.ID, sig.ID, " ", admin)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestDefaultValidator(t *testing.T) {
	v := DefaultValidator{}
	cases := []struct {
		typ  models.SignatureType
		data string
		ok   bool
	}{
		{models.SignatureDigital, payload, true},
		{models.SignatureDigital, "c2lnbmVk", true},
		{models.SignatureDigital, "not base64 !!", false},
		{models.SignatureDigital, "", false},
		{models.SignatureElectronic, "data:image/png;base64,iVBORw0KGgo=", true},
		{models.SignatureElectronic, "data:text/plain;base64,aGVsbG8=", false},
		{models.SignatureElectronic, "data:image/png,raw", false},
		{models.SignatureElectronic, payload, true},
		{models.SignatureWet, "paper form #4411 scanned", true},
		{models.SignatureWet, "   ", false},
		{"biometric", payload, false},
	}
	for _, tc := range cases {
		err := v.Validate(tc.typ, tc.data)
		if tc.ok {
			assert.NoError(t, err, "%s %q", tc.typ, tc.data)
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidSignatureFormat, "%s %q", tc.typ, tc.data)
		}
	}
}
