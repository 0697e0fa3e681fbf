package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clinical-forms-server/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MemoryRepository keeps every record in process memory. Transactions stage
// their writes and publish them under a single lock, so readers never see a
// partially applied transaction.
type MemoryRepository struct {
	mu         sync.RWMutex
	templates  map[string]*models.FormTemplate
	forms      map[string]*models.Form
	versions   map[string]*models.FormVersion
	signatures map[string]*models.FormSignature
	audit      []*models.AuditEntry
	order      map[string]uint64
	nextOrder  uint64
	sequence   uint64
	auditErr   error
	now        func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		templates:  make(map[string]*models.FormTemplate),
		forms:      make(map[string]*models.Form),
		versions:   make(map[string]*models.FormVersion),
		signatures: make(map[string]*models.FormSignature),
		order:      make(map[string]uint64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetAuditFailure makes every subsequent audit append fail with err, the way an
// unavailable audit table would. A nil err restores normal operation.
func (r *MemoryRepository) SetAuditFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditErr = err
}

func (r *MemoryRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	tx := r.begin()
	if err := fn(tx); err != nil {
		return err
	}
	r.commit(tx)
	return nil
}

func (r *MemoryRepository) begin() *memoryTx {
	return &memoryTx{
		base:       r,
		templates:  make(map[string]*models.FormTemplate),
		forms:      make(map[string]*models.Form),
		versions:   make(map[string]*models.FormVersion),
		signatures: make(map[string]*models.FormSignature),
	}
}

func (r *MemoryRepository) commit(tx *memoryTx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range tx.created {
		r.nextOrder++
		r.order[id] = r.nextOrder
	}
	for id, t := range tx.templates {
		r.templates[id] = t
	}
	for id, f := range tx.forms {
		r.forms[id] = f
	}
	for id, v := range tx.versions {
		r.versions[id] = v
	}
	for id, s := range tx.signatures {
		r.signatures[id] = s
	}
	for _, e := range tx.audit {
		r.sequence++
		e.Sequence = r.sequence
		r.audit = append(r.audit, cloneAudit(e))
	}
}

func (r *MemoryRepository) write(ctx context.Context, fn func(tx Repository) error) error {
	return r.Transaction(ctx, fn)
}

func (r *MemoryRepository) CreateTemplate(ctx context.Context, t *models.FormTemplate) error {
	return r.write(ctx, func(tx Repository) error { return tx.CreateTemplate(ctx, t) })
}

func (r *MemoryRepository) GetTemplate(ctx context.Context, id string) (*models.FormTemplate, error) {
	return r.begin().GetTemplate(ctx, id)
}

func (r *MemoryRepository) ListTemplates(ctx context.Context, formType models.FormType) ([]models.FormTemplate, error) {
	return r.begin().ListTemplates(ctx, formType)
}

func (r *MemoryRepository) CreateForm(ctx context.Context, f *models.Form) error {
	return r.write(ctx, func(tx Repository) error { return tx.CreateForm(ctx, f) })
}

func (r *MemoryRepository) GetForm(ctx context.Context, id string) (*models.Form, error) {
	return r.begin().GetForm(ctx, id)
}

func (r *MemoryRepository) UpdateForm(ctx context.Context, f *models.Form) error {
	return r.write(ctx, func(tx Repository) error { return tx.UpdateForm(ctx, f) })
}

func (r *MemoryRepository) ListForms(ctx context.Context, filter FormFilter) ([]models.Form, int64, error) {
	return r.begin().ListForms(ctx, filter)
}

func (r *MemoryRepository) CreateVersion(ctx context.Context, v *models.FormVersion) error {
	return r.write(ctx, func(tx Repository) error { return tx.CreateVersion(ctx, v) })
}

func (r *MemoryRepository) GetVersion(ctx context.Context, id string) (*models.FormVersion, error) {
	return r.begin().GetVersion(ctx, id)
}

func (r *MemoryRepository) ListVersions(ctx context.Context, formID string) ([]models.FormVersion, error) {
	return r.begin().ListVersions(ctx, formID)
}

func (r *MemoryRepository) CreateSignature(ctx context.Context, s *models.FormSignature) error {
	return r.write(ctx, func(tx Repository) error { return tx.CreateSignature(ctx, s) })
}

func (r *MemoryRepository) UpdateSignature(ctx context.Context, s *models.FormSignature) error {
	return r.write(ctx, func(tx Repository) error { return tx.UpdateSignature(ctx, s) })
}

func (r *MemoryRepository) GetSignature(ctx context.Context, id string) (*models.FormSignature, error) {
	return r.begin().GetSignature(ctx, id)
}

func (r *MemoryRepository) ListSignatures(ctx context.Context, formID string) ([]models.FormSignature, error) {
	return r.begin().ListSignatures(ctx, formID)
}

func (r *MemoryRepository) AppendAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	return r.write(ctx, func(tx Repository) error { return tx.AppendAuditEntry(ctx, e) })
}

func (r *MemoryRepository) QueryAuditEntries(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, int64, error) {
	return r.begin().QueryAuditEntries(ctx, filter)
}

// memoryTx overlays staged writes on top of the committed state.
type memoryTx struct {
	base       *MemoryRepository
	templates  map[string]*models.FormTemplate
	forms      map[string]*models.Form
	versions   map[string]*models.FormVersion
	signatures map[string]*models.FormSignature
	audit      []*models.AuditEntry
	created    []string
}

type txSnapshot struct {
	templates  map[string]*models.FormTemplate
	forms      map[string]*models.Form
	versions   map[string]*models.FormVersion
	signatures map[string]*models.FormSignature
	audit      int
	created    int
}

func (tx *memoryTx) snapshot() txSnapshot {
	s := txSnapshot{
		templates:  make(map[string]*models.FormTemplate, len(tx.templates)),
		forms:      make(map[string]*models.Form, len(tx.forms)),
		versions:   make(map[string]*models.FormVersion, len(tx.versions)),
		signatures: make(map[string]*models.FormSignature, len(tx.signatures)),
		audit:      len(tx.audit),
		created:    len(tx.created),
	}
	for k, v := range tx.templates {
		s.templates[k] = v
	}
	for k, v := range tx.forms {
		s.forms[k] = v
	}
	for k, v := range tx.versions {
		s.versions[k] = v
	}
	for k, v := range tx.signatures {
		s.signatures[k] = v
	}
	return s
}

func (tx *memoryTx) restore(s txSnapshot) {
	tx.templates = s.templates
	tx.forms = s.forms
	tx.versions = s.versions
	tx.signatures = s.signatures
	tx.audit = tx.audit[:s.audit]
	tx.created = tx.created[:s.created]
}

// Transaction on an open transaction behaves like a savepoint.
func (tx *memoryTx) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	save := tx.snapshot()
	if err := fn(tx); err != nil {
		tx.restore(save)
		return err
	}
	return nil
}

func (tx *memoryTx) now() time.Time {
	return tx.base.now()
}

func (tx *memoryTx) CreateTemplate(ctx context.Context, t *models.FormTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, err := tx.GetTemplate(ctx, t.ID); err == nil {
		return fmt.Errorf("template %s already exists", t.ID)
	}
	stampBase(&t.BaseModel, tx.now())
	tx.templates[t.ID] = cloneTemplate(t)
	tx.created = append(tx.created, t.ID)
	return nil
}

func (tx *memoryTx) GetTemplate(ctx context.Context, id string) (*models.FormTemplate, error) {
	if t, ok := tx.templates[id]; ok {
		return cloneTemplate(t), nil
	}
	tx.base.mu.RLock()
	defer tx.base.mu.RUnlock()
	if t, ok := tx.base.templates[id]; ok {
		return cloneTemplate(t), nil
	}
	return nil, models.ErrTemplateNotFound
}

func (tx *memoryTx) ListTemplates(ctx context.Context, formType models.FormType) ([]models.FormTemplate, error) {
	merged := make(map[string]*models.FormTemplate)
	tx.base.mu.RLock()
	for id, t := range tx.base.templates {
		merged[id] = t
	}
	tx.base.mu.RUnlock()
	for id, t := range tx.templates {
		merged[id] = t
	}

	out := make([]models.FormTemplate, 0, len(merged))
	for _, t := range merged {
		if formType != "" && t.FormType != formType {
			continue
		}
		out = append(out, *cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *memoryTx) CreateForm(ctx context.Context, f *models.Form) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if _, err := tx.GetForm(ctx, f.ID); err == nil {
		return fmt.Errorf("form %s already exists", f.ID)
	}
	stampBase(&f.BaseModel, tx.now())
	tx.forms[f.ID] = f.Clone()
	tx.created = append(tx.created, f.ID)
	return nil
}

func (tx *memoryTx) GetForm(ctx context.Context, id string) (*models.Form, error) {
	if f, ok := tx.forms[id]; ok {
		return f.Clone(), nil
	}
	tx.base.mu.RLock()
	defer tx.base.mu.RUnlock()
	if f, ok := tx.base.forms[id]; ok {
		return f.Clone(), nil
	}
	return nil, models.ErrFormNotFound
}

func (tx *memoryTx) UpdateForm(ctx context.Context, f *models.Form) error {
	if _, err := tx.GetForm(ctx, f.ID); err != nil {
		return err
	}
	f.UpdatedAt = tx.now()
	tx.forms[f.ID] = f.Clone()
	return nil
}

func (tx *memoryTx) ListForms(ctx context.Context, filter FormFilter) ([]models.Form, int64, error) {
	merged := make(map[string]*models.Form)
	tx.base.mu.RLock()
	for id, f := range tx.base.forms {
		merged[id] = f
	}
	tx.base.mu.RUnlock()
	for id, f := range tx.forms {
		merged[id] = f
	}

	matched := make([]models.Form, 0)
	for _, f := range merged {
		if filter.PatientID != "" && f.PatientID != filter.PatientID {
			continue
		}
		if filter.Type != "" && f.Type != filter.Type {
			continue
		}
		if filter.Types != nil && !containsType(filter.Types, f.Type) {
			continue
		}
		if filter.TemplateIDs != nil && !containsString(filter.TemplateIDs, f.TemplateID) {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if !filter.IncludeDeleted && f.IsDeleted() {
			continue
		}
		matched = append(matched, *f.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	return paginate(matched, filter.Page, filter.PageSize), total, nil
}

func (tx *memoryTx) CreateVersion(ctx context.Context, v *models.FormVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	existing, err := tx.ListVersions(ctx, v.FormID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.VersionLabel == v.VersionLabel {
			return fmt.Errorf("%w: %s", models.ErrDuplicateVersion, v.VersionLabel)
		}
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = tx.now()
	}
	tx.versions[v.ID] = cloneVersion(v)
	tx.created = append(tx.created, v.ID)
	return nil
}

func (tx *memoryTx) GetVersion(ctx context.Context, id string) (*models.FormVersion, error) {
	if v, ok := tx.versions[id]; ok {
		return cloneVersion(v), nil
	}
	tx.base.mu.RLock()
	defer tx.base.mu.RUnlock()
	if v, ok := tx.base.versions[id]; ok {
		return cloneVersion(v), nil
	}
	return nil, models.ErrVersionNotFound
}

func (tx *memoryTx) ListVersions(ctx context.Context, formID string) ([]models.FormVersion, error) {
	type ordered struct {
		v   *models.FormVersion
		pos uint64
	}
	var items []ordered
	tx.base.mu.RLock()
	for id, v := range tx.base.versions {
		if v.FormID == formID {
			items = append(items, ordered{v, tx.base.order[id]})
		}
	}
	tx.base.mu.RUnlock()
	for i, id := range tx.created {
		if v, ok := tx.versions[id]; ok && v.FormID == formID {
			items = append(items, ordered{v, ^uint64(0) - uint64(len(tx.created)-i)})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })

	out := make([]models.FormVersion, 0, len(items))
	for _, it := range items {
		out = append(out, *cloneVersion(it.v))
	}
	return out, nil
}

func (tx *memoryTx) CreateSignature(ctx context.Context, s *models.FormSignature) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if _, err := tx.GetSignature(ctx, s.ID); err == nil {
		return fmt.Errorf("signature %s already exists", s.ID)
	}
	stampBase(&s.BaseModel, tx.now())
	tx.signatures[s.ID] = cloneSignature(s)
	tx.created = append(tx.created, s.ID)
	return nil
}

func (tx *memoryTx) UpdateSignature(ctx context.Context, s *models.FormSignature) error {
	if _, err := tx.GetSignature(ctx, s.ID); err != nil {
		return err
	}
	s.UpdatedAt = tx.now()
	tx.signatures[s.ID] = cloneSignature(s)
	return nil
}

func (tx *memoryTx) GetSignature(ctx context.Context, id string) (*models.FormSignature, error) {
	if s, ok := tx.signatures[id]; ok {
		return cloneSignature(s), nil
	}
	tx.base.mu.RLock()
	defer tx.base.mu.RUnlock()
	if s, ok := tx.base.signatures[id]; ok {
		return cloneSignature(s), nil
	}
	return nil, models.ErrSignatureNotFound
}

func (tx *memoryTx) ListSignatures(ctx context.Context, formID string) ([]models.FormSignature, error) {
	type ordered struct {
		s   *models.FormSignature
		pos uint64
	}
	merged := make(map[string]ordered)
	tx.base.mu.RLock()
	for id, s := range tx.base.signatures {
		if s.FormID == formID {
			merged[id] = ordered{s, tx.base.order[id]}
		}
	}
	tx.base.mu.RUnlock()
	for i, id := range tx.created {
		if s, ok := tx.signatures[id]; ok && s.FormID == formID {
			merged[id] = ordered{s, ^uint64(0) - uint64(len(tx.created)-i)}
		}
	}
	// staged updates of committed signatures keep their committed position
	for id, s := range tx.signatures {
		if prev, ok := merged[id]; ok && s.FormID == formID {
			merged[id] = ordered{s, prev.pos}
		}
	}

	items := make([]ordered, 0, len(merged))
	for _, it := range merged {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })

	out := make([]models.FormSignature, 0, len(items))
	for _, it := range items {
		out = append(out, *cloneSignature(it.s))
	}
	return out, nil
}

func (tx *memoryTx) AppendAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	tx.base.mu.RLock()
	failure := tx.base.auditErr
	tx.base.mu.RUnlock()
	if failure != nil {
		return failure
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	tx.audit = append(tx.audit, e)
	return nil
}

func (tx *memoryTx) QueryAuditEntries(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, int64, error) {
	matched := make([]models.AuditEntry, 0)
	tx.base.mu.RLock()
	for _, e := range tx.base.audit {
		if matchAudit(e, filter) {
			matched = append(matched, *cloneAudit(e))
		}
	}
	tx.base.mu.RUnlock()
	for _, e := range tx.audit {
		if matchAudit(e, filter) {
			matched = append(matched, *cloneAudit(e))
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })
	if filter.Descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	total := int64(len(matched))
	return paginate(matched, filter.Page, filter.PageSize), total, nil
}

func matchAudit(e *models.AuditEntry, f AuditFilter) bool {
	if f.FormID != "" && e.FormID != f.FormID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.UserRole != "" && e.UserRole != f.UserRole {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.PHIAccess != nil && e.PHIAccess != *f.PHIAccess {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

func containsType(types []models.FormType, t models.FormType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page, pageSize int) []T {
	off, limit := offset(page, pageSize)
	if limit == 0 {
		return items
	}
	if off >= len(items) {
		return []T{}
	}
	end := off + limit
	if end > len(items) {
		end = len(items)
	}
	return items[off:end]
}

func stampBase(b *models.BaseModel, now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
}

func cloneTemplate(t *models.FormTemplate) *models.FormTemplate {
	cp := *t
	cp.Fields = append(datatypes.JSONSlice[models.FieldDefinition](nil), t.Fields...)
	return &cp
}

func cloneVersion(v *models.FormVersion) *models.FormVersion {
	cp := *v
	cp.Data = models.CopyData(v.Data)
	return &cp
}

func cloneSignature(s *models.FormSignature) *models.FormSignature {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = models.CopyData(s.Metadata)
	}
	return &cp
}

func cloneAudit(e *models.AuditEntry) *models.AuditEntry {
	cp := *e
	if e.Details != nil {
		cp.Details = models.CopyData(e.Details)
	}
	cp.Changes = append(datatypes.JSONSlice[models.FieldChange](nil), e.Changes...)
	return &cp
}
