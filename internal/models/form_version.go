package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FormVersion is an immutable snapshot of a form's data
type FormVersion struct {
	ID           string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FormID       string            `gorm:"size:36;not null;uniqueIndex:idx_form_version_label" json:"formId"`
	VersionLabel string            `gorm:"size:50;not null;uniqueIndex:idx_form_version_label" json:"versionLabel"`
	Data         datatypes.JSONMap `gorm:"type:json" json:"data"`
	ChangeReason string            `gorm:"type:text;not null" json:"changeReason"`
	CreatedBy    string            `gorm:"size:36" json:"createdBy"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// BeforeCreate assigns a UUID when none is set
func (v *FormVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

// ChangeKind classifies a field difference between two data snapshots.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// FieldDiff is one entry of a shallow comparison between two versions.
type FieldDiff struct {
	Field  string      `json:"field"`
	Change ChangeKind  `json:"change"`
	ValueA interface{} `json:"valueA"`
	ValueB interface{} `json:"valueB"`
}
