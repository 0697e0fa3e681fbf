package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffData(t *testing.T) {
	a := map[string]interface{}{"bp": "120/80", "pulse": 72.0, "notes": "stable"}
	b := map[string]interface{}{"bp": "130/85", "pulse": 72.0, "allergies": "none"}

	diffs := DiffData(a, b)

	assert.Equal(t, []FieldDiff{
		{Field: "allergies", Change: ChangeAdded, ValueB: "none"},
		{Field: "bp", Change: ChangeChanged, ValueA: "120/80", ValueB: "130/85"},
		{Field: "notes", Change: ChangeRemoved, ValueA: "stable"},
	}, diffs)
}

func TestDiffData_Identical(t *testing.T) {
	a := map[string]interface{}{"tags": []interface{}{"a", "b"}}
	assert.Empty(t, DiffData(a, map[string]interface{}{"tags": []interface{}{"a", "b"}}))
	assert.Empty(t, DiffData(nil, nil))
}

func TestChangesBetween(t *testing.T) {
	changes := ChangesBetween(map[string]interface{}{"x": 1}, map[string]interface{}{"x": 2, "y": true})
	assert.Equal(t, []FieldChange{
		{Field: "x", OldValue: 1, NewValue: 2},
		{Field: "y", OldValue: nil, NewValue: true},
	}, changes)
}

func TestKindOf(t *testing.T) {
	cases := map[error]ErrorKind{
		ErrMissingChangeReason:                        KindValidation,
		fmt.Errorf("sign: %w", ErrPhiAccessDenied):    KindAuthorization,
		fmt.Errorf("restore: %w", ErrFormSigned):      KindConflict,
		fmt.Errorf("lookup: %w", ErrVersionNotFound):  KindNotFound,
		fmt.Errorf("append: %w", ErrAuditUnavailable): KindLedgerFatal,
		fmt.Errorf("driver: connection reset"):        KindInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, KindOf(err), err.Error())
	}
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestEnums(t *testing.T) {
	assert.True(t, RoleNurse.Valid())
	assert.False(t, Role("janitor").Valid())
	assert.True(t, FormTypeConsent.Valid())
	assert.False(t, FormType("tax_form").Valid())
	assert.True(t, StatusPendingReview.Valid())
	assert.False(t, FormStatus("pending_signature").Valid())
	assert.True(t, AuditSignatureRevoked.Valid())
}

func TestFormClone(t *testing.T) {
	visit := "visit-1"
	f := &Form{VisitID: &visit, Data: map[string]interface{}{"a": 1}}
	cp := f.Clone()
	cp.Data["a"] = 2
	*cp.VisitID = "visit-2"
	assert.Equal(t, 1, f.Data["a"])
	assert.Equal(t, "visit-1", *f.VisitID)
}

func TestTemplatePHI(t *testing.T) {
	tpl := &FormTemplate{Fields: []FieldDefinition{
		{Name: "ssn", Type: FieldString, PHI: true},
		{Name: "score", Type: FieldNumber},
	}}
	assert.True(t, tpl.HasPHI())
	assert.Equal(t, map[string]bool{"ssn": true}, tpl.PHIFields())
	_, ok := tpl.Field("score")
	assert.True(t, ok)
	assert.False(t, (&FormTemplate{}).HasPHI())
}
