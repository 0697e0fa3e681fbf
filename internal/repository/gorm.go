package repository

import (
	"context"
	"errors"

	"clinical-forms-server/internal/models"

	"gorm.io/gorm"
)

// GormRepository stores records through GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}

func (r *GormRepository) CreateTemplate(ctx context.Context, t *models.FormTemplate) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *GormRepository) GetTemplate(ctx context.Context, id string) (*models.FormTemplate, error) {
	var t models.FormTemplate
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrTemplateNotFound)
	}
	return &t, nil
}

func (r *GormRepository) ListTemplates(ctx context.Context, formType models.FormType) ([]models.FormTemplate, error) {
	var templates []models.FormTemplate
	q := r.db.WithContext(ctx).Order("name ASC")
	if formType != "" {
		q = q.Where("form_type = ?", formType)
	}
	if err := q.Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *GormRepository) CreateForm(ctx context.Context, f *models.Form) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *GormRepository) GetForm(ctx context.Context, id string) (*models.Form, error) {
	var f models.Form
	if err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrFormNotFound)
	}
	return &f, nil
}

func (r *GormRepository) UpdateForm(ctx context.Context, f *models.Form) error {
	return r.db.WithContext(ctx).Save(f).Error
}

func (r *GormRepository) ListForms(ctx context.Context, filter FormFilter) ([]models.Form, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.PatientID != "" {
			db = db.Where("patient_id = ?", filter.PatientID)
		}
		if filter.Type != "" {
			db = db.Where("type = ?", filter.Type)
		}
		if filter.Types != nil {
			db = db.Where("type IN ?", filter.Types)
		}
		if filter.TemplateIDs != nil {
			db = db.Where("template_id IN ?", filter.TemplateIDs)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if !filter.IncludeDeleted {
			db = db.Where("deleted_at IS NULL")
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Form{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var forms []models.Form
	q := r.db.WithContext(ctx).Scopes(scope).Order("created_at DESC")
	if off, limit := offset(filter.Page, filter.PageSize); limit > 0 {
		q = q.Offset(off).Limit(limit)
	}
	if err := q.Find(&forms).Error; err != nil {
		return nil, 0, err
	}
	return forms, total, nil
}

func (r *GormRepository) CreateVersion(ctx context.Context, v *models.FormVersion) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *GormRepository) GetVersion(ctx context.Context, id string) (*models.FormVersion, error) {
	var v models.FormVersion
	if err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrVersionNotFound)
	}
	return &v, nil
}

func (r *GormRepository) ListVersions(ctx context.Context, formID string) ([]models.FormVersion, error) {
	var versions []models.FormVersion
	if err := r.db.WithContext(ctx).Where("form_id = ?", formID).Order("created_at ASC").Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *GormRepository) CreateSignature(ctx context.Context, s *models.FormSignature) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *GormRepository) UpdateSignature(ctx context.Context, s *models.FormSignature) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *GormRepository) GetSignature(ctx context.Context, id string) (*models.FormSignature, error) {
	var s models.FormSignature
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, models.ErrSignatureNotFound)
	}
	return &s, nil
}

func (r *GormRepository) ListSignatures(ctx context.Context, formID string) ([]models.FormSignature, error) {
	var signatures []models.FormSignature
	if err := r.db.WithContext(ctx).Where("form_id = ?", formID).Order("created_at ASC").Find(&signatures).Error; err != nil {
		return nil, err
	}
	return signatures, nil
}

func (r *GormRepository) AppendAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *GormRepository) QueryAuditEntries(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.FormID != "" {
			db = db.Where("form_id = ?", filter.FormID)
		}
		if filter.UserID != "" {
			db = db.Where("user_id = ?", filter.UserID)
		}
		if filter.UserRole != "" {
			db = db.Where("user_role = ?", filter.UserRole)
		}
		if filter.Action != "" {
			db = db.Where("action = ?", filter.Action)
		}
		if filter.PHIAccess != nil {
			db = db.Where("phi_access = ?", *filter.PHIAccess)
		}
		if filter.From != nil {
			db = db.Where("timestamp >= ?", *filter.From)
		}
		if filter.To != nil {
			db = db.Where("timestamp <= ?", *filter.To)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.AuditEntry{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "timestamp ASC, sequence ASC"
	if filter.Descending {
		order = "timestamp DESC, sequence DESC"
	}
	var entries []models.AuditEntry
	q := r.db.WithContext(ctx).Scopes(scope).Order(order)
	if off, limit := offset(filter.Page, filter.PageSize); limit > 0 {
		q = q.Offset(off).Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func notFound(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
