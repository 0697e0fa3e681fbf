package models

import (
	"time"

	"gorm.io/datatypes"
)

// SignatureType represents how a signature was captured
type SignatureType string

const (
	SignatureDigital    SignatureType = "digital"
	SignatureElectronic SignatureType = "electronic"
	SignatureWet        SignatureType = "wet"
)

// SignatureStatus represents the state of a signature
type SignatureStatus string

const (
	SignaturePending  SignatureStatus = "pending"
	SignatureSigned   SignatureStatus = "signed"
	SignatureRejected SignatureStatus = "rejected"
	SignatureExpired  SignatureStatus = "expired"
	SignatureRevoked  SignatureStatus = "revoked"
)

// FormSignature records one signer role's signature on a form
type FormSignature struct {
	BaseModel
	FormID        string            `gorm:"size:36;index" json:"formId"`
	SignerRole    Role              `gorm:"size:20" json:"signerRole"`
	SignerID      string            `gorm:"size:36" json:"signerId"`
	SignatureType SignatureType     `gorm:"size:20" json:"signatureType"`
	SignatureData string            `gorm:"type:longtext" json:"-"`
	Status        SignatureStatus   `gorm:"size:20" json:"status"`
	SignedAt      *time.Time        `json:"signedAt,omitempty"`
	RejectedAt    *time.Time        `json:"rejectedAt,omitempty"`
	RevokedAt     *time.Time        `json:"revokedAt,omitempty"`
	RevokedBy     string            `gorm:"size:36" json:"revokedBy,omitempty"`
	RevokeReason  string            `gorm:"type:text" json:"revokeReason,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
}

// Active reports whether the signature counts toward the workflow.
func (s *FormSignature) Active() bool {
	return s.Status == SignatureSigned
}
