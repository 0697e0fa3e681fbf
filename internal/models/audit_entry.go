package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditAction is the closed set of events recorded against a form
type AuditAction string

const (
	AuditCreated          AuditAction = "created"
	AuditUpdated          AuditAction = "updated"
	AuditDeleted          AuditAction = "deleted"
	AuditSigned           AuditAction = "signed"
	AuditSignatureRevoked AuditAction = "signature_revoked"
	AuditVersionCreated   AuditAction = "version_created"
	AuditVersionRestored  AuditAction = "version_restored"
	AuditViewed           AuditAction = "viewed"
	AuditExported         AuditAction = "exported"
	AuditAccessDenied     AuditAction = "access_denied"
)

// Valid reports whether a is a member of the audit action set.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditCreated, AuditUpdated, AuditDeleted, AuditSigned, AuditSignatureRevoked,
		AuditVersionCreated, AuditVersionRestored, AuditViewed, AuditExported, AuditAccessDenied:
		return true
	}
	return false
}

// FieldChange records one field modified by an update.
type FieldChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"oldValue"`
	NewValue interface{} `json:"newValue"`
}

// AuditEntry is an immutable record in the audit ledger. Sequence is the
// insertion order and breaks ties between equal timestamps.
type AuditEntry struct {
	Sequence  uint64                           `gorm:"primaryKey;autoIncrement" json:"sequence"`
	ID        string                           `gorm:"size:36;uniqueIndex" json:"id"`
	FormID    string                           `gorm:"size:36;index" json:"formId"`
	Action    AuditAction                      `gorm:"size:30;index" json:"action"`
	UserID    string                           `gorm:"size:36;index" json:"userId"`
	UserRole  Role                             `gorm:"size:20" json:"userRole"`
	PHIAccess bool                             `gorm:"default:false" json:"isPhiAccess"`
	Details   datatypes.JSONMap                `gorm:"type:json" json:"details,omitempty"`
	Changes   datatypes.JSONSlice[FieldChange] `gorm:"type:json" json:"changes,omitempty"`
	IPAddress string                           `gorm:"size:64" json:"ipAddress,omitempty"`
	UserAgent string                           `gorm:"size:255" json:"userAgent,omitempty"`
	Timestamp time.Time                        `gorm:"index" json:"timestamp"`
}
