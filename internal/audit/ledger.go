// Package audit is the append-only ledger of everything done to a form.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is one page of audit entries.
type Page struct {
	Entries    []models.AuditEntry `json:"entries"`
	Total      int64               `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalPages int                 `json:"totalPages"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPageSizes sets the default page size and the server maximum.
func WithPageSizes(def, max int) Option {
	return func(l *Ledger) {
		if def > 0 {
			l.defaultPageSize = def
		}
		if max > 0 {
			l.maxPageSize = max
		}
	}
}

// Ledger appends and queries audit entries. Entries are never updated or
// deleted; the storage contract offers no way to do so.
type Ledger struct {
	repo            repository.Repository
	engine          *permission.Engine
	logger          *zap.Logger
	now             func() time.Time
	defaultPageSize int
	maxPageSize     int

	mu   sync.Mutex
	last time.Time
}

// NewLedger creates a Ledger.
func NewLedger(repo repository.Repository, engine *permission.Engine, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:            repo,
		engine:          engine,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.defaultPageSize > l.maxPageSize {
		l.defaultPageSize = l.maxPageSize
	}
	return l
}

// NewEntry starts an entry attributed to actor.
func NewEntry(actor models.Actor, formID string, action models.AuditAction) *models.AuditEntry {
	return &models.AuditEntry{
		FormID:    formID,
		Action:    action,
		UserID:    actor.UserID,
		UserRole:  actor.Role,
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
	}
}

// Append records e on its own and returns the entry id.
func (l *Ledger) Append(ctx context.Context, e *models.AuditEntry) (string, error) {
	if err := l.AppendTx(ctx, l.repo, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

// AppendTx records e through repo, normally the transaction of the mutation e
// documents. Any storage failure is reported as ErrAuditUnavailable.
func (l *Ledger) AppendTx(ctx context.Context, repo repository.Repository, e *models.AuditEntry) error {
	if !e.Action.Valid() {
		return fmt.Errorf("%w: unknown audit action %q", models.ErrInvalidInput, e.Action)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Timestamp = l.stamp()

	if err := repo.AppendAuditEntry(ctx, e); err != nil {
		l.logger.Error("Failed to append audit entry",
			zap.String("form_id", e.FormID),
			zap.String("action", string(e.Action)),
			zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrAuditUnavailable, err)
	}
	return nil
}

// stamp returns the current time, never earlier than the previous stamp.
func (l *Ledger) stamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.now()
	if t.Before(l.last) {
		t = l.last
	}
	l.last = t
	return t
}

// Query returns one page of entries matching filter. Page sizes above the
// server maximum are clamped.
func (l *Ledger) Query(ctx context.Context, filter repository.AuditFilter) (Page, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = l.defaultPageSize
	}
	if filter.PageSize > l.maxPageSize {
		filter.PageSize = l.maxPageSize
	}

	entries, total, err := l.repo.QueryAuditEntries(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return Page{
		Entries:    entries,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: int((total + int64(filter.PageSize) - 1) / int64(filter.PageSize)),
	}, nil
}

// FormTrail returns the audit trail of one form to an actor allowed to view it,
// and records the read.
func (l *Ledger) FormTrail(ctx context.Context, formID string, actor models.Actor, filter repository.AuditFilter) (Page, error) {
	form, phi, err := l.authorize(ctx, formID, actor, permission.ActionViewAudit)
	if err != nil {
		return Page{}, err
	}

	filter.FormID = form.ID
	page, err := l.Query(ctx, filter)
	if err != nil {
		return Page{}, err
	}

	e := NewEntry(actor, form.ID, models.AuditViewed)
	e.PHIAccess = phi
	e.Details = map[string]interface{}{"resource": "audit_trail", "page": page.Page, "returned": len(page.Entries)}
	if _, err := l.Append(ctx, e); err != nil {
		return Page{}, err
	}
	return page, nil
}

// Export returns the complete ordered trail of a form for rendering and
// records the export.
func (l *Ledger) Export(ctx context.Context, formID string, actor models.Actor) ([]models.AuditEntry, error) {
	form, phi, err := l.authorize(ctx, formID, actor, permission.ActionExport)
	if err != nil {
		return nil, err
	}

	entries, _, err := l.repo.QueryAuditEntries(ctx, repository.AuditFilter{FormID: form.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	e := NewEntry(actor, form.ID, models.AuditExported)
	e.PHIAccess = phi
	e.Details = map[string]interface{}{"resource": "audit_trail", "entries": len(entries)}
	if _, err := l.Append(ctx, e); err != nil {
		return nil, err
	}

	l.logger.Info("Audit trail exported",
		zap.String("form_id", form.ID),
		zap.String("user_id", actor.UserID),
		zap.Int("entries", len(entries)))
	return entries, nil
}

func (l *Ledger) authorize(ctx context.Context, formID string, actor models.Actor, action permission.Action) (*models.Form, bool, error) {
	form, err := repository.LiveForm(ctx, l.repo, formID)
	if err != nil {
		return nil, false, err
	}
	phi, err := repository.FormHasPHI(ctx, l.repo, form)
	if err != nil {
		return nil, false, err
	}
	if err := l.engine.Check(actor.Role, form.Type, action, phi); err != nil {
		return nil, false, err
	}
	return form, phi, nil
}
