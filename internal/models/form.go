package models

import (
	"time"

	"gorm.io/datatypes"
)

// FormType represents the type of clinical form
type FormType string

const (
	FormTypeNurse      FormType = "nurse_form"
	FormTypeDoctor     FormType = "doctor_form"
	FormTypePatient    FormType = "patient_form"
	FormTypeConsent    FormType = "consent_form"
	FormTypeAssessment FormType = "assessment_form"
)

// FormTypes lists every known form type.
var FormTypes = []FormType{FormTypeNurse, FormTypeDoctor, FormTypePatient, FormTypeConsent, FormTypeAssessment}

// Valid reports whether t is a known form type.
func (t FormType) Valid() bool {
	for _, known := range FormTypes {
		if t == known {
			return true
		}
	}
	return false
}

// FormStatus represents the lifecycle status of a form
type FormStatus string

const (
	StatusDraft         FormStatus = "draft"
	StatusInProgress    FormStatus = "in_progress"
	StatusPendingReview FormStatus = "pending_review"
	StatusApproved      FormStatus = "approved"
	StatusRejected      FormStatus = "rejected"
	StatusSigned        FormStatus = "signed"
	StatusArchived      FormStatus = "archived"
)

// Valid reports whether s is a known status.
func (s FormStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusPendingReview, StatusApproved,
		StatusRejected, StatusSigned, StatusArchived:
		return true
	}
	return false
}

// Form represents a clinical form filled in for a patient
type Form struct {
	BaseModel
	TemplateID          string            `gorm:"size:36;index" json:"templateId"`
	PatientID           string            `gorm:"size:36;index" json:"patientId"`
	VisitID             *string           `gorm:"size:36" json:"visitId,omitempty"`
	Type                FormType          `gorm:"size:30;index" json:"type"`
	Status              FormStatus        `gorm:"size:20;default:'draft'" json:"status"`
	CurrentVersionLabel string            `gorm:"size:50" json:"currentVersionLabel,omitempty"`
	Data                datatypes.JSONMap `gorm:"type:json" json:"data"`
	CreatedBy           string            `gorm:"size:36" json:"createdBy"`
	UpdatedBy           string            `gorm:"size:36" json:"updatedBy"`
	DeletedAt           *time.Time        `gorm:"index" json:"-"`
	DeletedBy           string            `gorm:"size:36" json:"-"`
}

// IsDeleted reports whether the form was soft deleted.
func (f *Form) IsDeleted() bool {
	return f.DeletedAt != nil
}

// Clone returns a copy of the form whose Data map can be mutated independently.
func (f *Form) Clone() *Form {
	cp := *f
	cp.Data = CopyData(f.Data)
	if f.VisitID != nil {
		v := *f.VisitID
		cp.VisitID = &v
	}
	if f.DeletedAt != nil {
		d := *f.DeletedAt
		cp.DeletedAt = &d
	}
	return &cp
}

// CopyData returns a shallow copy of a form data mapping. A nil input yields an empty map.
func CopyData(data map[string]interface{}) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
