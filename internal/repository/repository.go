// Package repository defines the storage contract of the forms engine and
// ships a GORM implementation and an in-memory implementation.
package repository

import (
	"context"
	"time"

	"clinical-forms-server/internal/models"
)

// Repository is the read/write contract for forms, versions, signatures,
// templates and audit entries. Audit entries can only be appended and queried.
type Repository interface {
	// Transaction runs fn against a transactional view. Writes made through tx
	// become visible together when fn returns nil and are discarded otherwise.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateTemplate(ctx context.Context, t *models.FormTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.FormTemplate, error)
	ListTemplates(ctx context.Context, formType models.FormType) ([]models.FormTemplate, error)

	CreateForm(ctx context.Context, f *models.Form) error
	// GetForm returns soft-deleted forms too; callers decide how to treat them.
	GetForm(ctx context.Context, id string) (*models.Form, error)
	UpdateForm(ctx context.Context, f *models.Form) error
	ListForms(ctx context.Context, filter FormFilter) ([]models.Form, int64, error)

	CreateVersion(ctx context.Context, v *models.FormVersion) error
	GetVersion(ctx context.Context, id string) (*models.FormVersion, error)
	ListVersions(ctx context.Context, formID string) ([]models.FormVersion, error)

	CreateSignature(ctx context.Context, s *models.FormSignature) error
	UpdateSignature(ctx context.Context, s *models.FormSignature) error
	GetSignature(ctx context.Context, id string) (*models.FormSignature, error)
	ListSignatures(ctx context.Context, formID string) ([]models.FormSignature, error)

	AppendAuditEntry(ctx context.Context, e *models.AuditEntry) error
	QueryAuditEntries(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, int64, error)
}

// FormFilter selects forms for listing. A non-nil Types or TemplateIDs
// restricts the result to those values; an empty non-nil slice matches nothing.
type FormFilter struct {
	PatientID      string
	Type           models.FormType
	Types          []models.FormType
	TemplateIDs    []string
	Status         models.FormStatus
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// AuditFilter selects audit entries. Zero values do not filter.
type AuditFilter struct {
	FormID     string
	UserID     string
	UserRole   models.Role
	Action     models.AuditAction
	PHIAccess  *bool
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
	Descending bool
}

// offset returns the row offset and limit for page/pageSize; limit 0 means no limit.
func offset(page, pageSize int) (int, int) {
	if pageSize <= 0 {
		return 0, 0
	}
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize, pageSize
}
