package permission

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"clinical-forms-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultPolicy())
	require.NoError(t, err)
	return e
}

func TestAuthorize_FormTypeOverride(t *testing.T) {
	e := newDefaultEngine(t)

	assert.True(t, e.Authorize(models.RoleNurse, models.FormTypeNurse, ActionUpdate, false).Allowed)

	d := e.Authorize(models.RoleNurse, models.FormTypeDoctor, ActionUpdate, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonActionNotPermitted, d.Reason)
}

func TestAuthorize_DenyWinsOverDefault(t *testing.T) {
	e := newDefaultEngine(t)

	assert.True(t, e.Authorize(models.RoleNurse, models.FormTypeNurse, ActionViewAudit, true).Allowed)
	assert.False(t, e.Authorize(models.RoleNurse, models.FormTypeDoctor, ActionViewAudit, true).Allowed)
}

func TestAuthorize_UnknownValuesFailClosed(t *testing.T) {
	e := newDefaultEngine(t)

	d := e.Authorize("janitor", models.FormTypeNurse, ActionRead, false)
	assert.Equal(t, Decision{Reason: ReasonRoleUnknown}, d)

	d = e.Authorize(models.RoleAdmin, "tax_form", ActionRead, false)
	assert.Equal(t, Decision{Reason: ReasonFormTypeUnknown}, d)

	d = e.Authorize(models.RoleAdmin, models.FormTypeNurse, "teleport", false)
	assert.Equal(t, Decision{Reason: ReasonActionNotPermitted}, d)
}

func TestAuthorize_PHIFlag(t *testing.T) {
	e := newDefaultEngine(t)

	assert.True(t, e.Authorize(models.RoleReceptionist, models.FormTypePatient, ActionRead, false).Allowed)

	d := e.Authorize(models.RoleReceptionist, models.FormTypePatient, ActionRead, true)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonPHIAccessDenied, d.Reason)
	assert.ErrorIs(t, d.Err(), models.ErrPhiAccessDenied)
	assert.False(t, errors.Is(d.Err(), models.ErrPermissionDenied))
}

func TestAuthorize_ReceptionistCannotReadDoctorAudit(t *testing.T) {
	e := newDefaultEngine(t)

	err := e.Check(models.RoleReceptionist, models.FormTypeDoctor, ActionViewAudit, true)
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestDecisionErr(t *testing.T) {
	assert.NoError(t, Decision{Allowed: true}.Err())
	assert.ErrorIs(t, Decision{Reason: ReasonRoleUnknown}.Err(), models.ErrPermissionDenied)
}

func TestPermissionsAndSigners(t *testing.T) {
	e := newDefaultEngine(t)

	perms := e.Permissions(models.RoleReceptionist)
	assert.Equal(t, []Action{ActionCreate, ActionRead, ActionUpdate}, perms[models.FormTypePatient])
	assert.Empty(t, perms[models.FormTypeDoctor])

	assert.Equal(t, []models.Role{models.RoleNurse, models.RoleDoctor}, e.RequiredSigners(models.FormTypeNurse))
	assert.True(t, e.IsRequiredSigner(models.FormTypeConsent, models.RolePatient))
	assert.False(t, e.IsRequiredSigner(models.FormTypeDoctor, models.RoleNurse))
	assert.True(t, e.CanAccessPHI(models.RoleDoctor))
	assert.False(t, e.CanAccessPHI(models.RoleReceptionist))
}

const samplePolicy = `
roles:
  admin:
    can_access_phi: true
    default: [read, revoke_signature]
  nurse:
    can_access_phi: false
    form_types:
      nurse_form:
        allow: [read, sign]
signature_workflow:
  nurse_form:
    required_roles: [nurse]
`

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)

	e, err := NewEngine(p)
	require.NoError(t, err)

	assert.True(t, e.Authorize(models.RoleNurse, models.FormTypeNurse, ActionSign, false).Allowed)
	assert.False(t, e.Authorize(models.RoleNurse, models.FormTypeDoctor, ActionRead, false).Allowed)
	// doctor is absent from the file, so it is unknown to this engine
	assert.Equal(t, ReasonRoleUnknown, e.Authorize(models.RoleDoctor, models.FormTypeNurse, ActionRead, false).Reason)
	assert.Equal(t, []models.Role{models.RoleNurse}, e.RequiredSigners(models.FormTypeNurse))
}

func TestParsePolicy_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown role":      "roles:\n  janitor:\n    default: [read]\n",
		"unknown action":    "roles:\n  admin:\n    default: [fly]\n",
		"unknown form type": "roles:\n  admin:\n    form_types:\n      tax_form:\n        allow: [read]\n",
		"empty signers":     "roles:\n  admin:\n    default: [read]\nsignature_workflow:\n  nurse_form:\n    required_roles: []\n",
		"duplicate signer":  "roles:\n  admin:\n    default: [read]\nsignature_workflow:\n  nurse_form:\n    required_roles: [nurse, nurse]\n",
		"no roles":          "signature_workflow: {}\n",
		"bad yaml":          "roles: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Len(t, p.Roles, 2)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	e := newDefaultEngine(t)
	require.True(t, e.Authorize(models.RoleDoctor, models.FormTypeDoctor, ActionRead, true).Allowed)

	p, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)
	require.NoError(t, e.Reload(p))

	assert.False(t, e.Authorize(models.RoleDoctor, models.FormTypeDoctor, ActionRead, true).Allowed)
	assert.Error(t, e.Reload(nil))
}
