package forms

import (
	"context"
	"fmt"
	"time"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/events"
	"clinical-forms-server/internal/lock"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"

	"go.uber.org/zap"
)

// Service runs form operations. Every mutation of one form happens under that
// form's lock and commits together with its audit entry.
type Service struct {
	repo      repository.Repository
	engine    *permission.Engine
	ledger    *audit.Ledger
	publisher events.Publisher
	locks     *lock.Keyed
	logger    *zap.Logger
}

// NewService creates a Service. A nil publisher discards events.
func NewService(repo repository.Repository, engine *permission.Engine, ledger *audit.Ledger,
	publisher events.Publisher, locks *lock.Keyed, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		ledger:    ledger,
		publisher: publisher,
		locks:     locks,
		logger:    logger,
	}
}

// CreateInput holds the fields of a new form.
type CreateInput struct {
	TemplateID string
	PatientID  string
	VisitID    *string
	Data       map[string]interface{}
}

// Create opens a new draft form from a template.
func (s *Service) Create(ctx context.Context, in CreateInput, actor models.Actor) (*models.Form, error) {
	if in.TemplateID == "" || in.PatientID == "" {
		return nil, fmt.Errorf("%w: templateId and patientId are required", models.ErrInvalidInput)
	}
	tmpl, err := s.repo.GetTemplate(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}
	phi := tmpl.HasPHI()
	if err := s.engine.Check(actor.Role, tmpl.FormType, permission.ActionCreate, phi); err != nil {
		return nil, err
	}

	form := &models.Form{
		TemplateID: tmpl.ID,
		PatientID:  in.PatientID,
		VisitID:    in.VisitID,
		Type:       tmpl.FormType,
		Status:     models.StatusDraft,
		Data:       models.CopyData(in.Data),
		CreatedBy:  actor.UserID,
		UpdatedBy:  actor.UserID,
	}
	err = s.repo.Transaction(ctx, func(tx repository.Repository) error {
		if err := tx.CreateForm(ctx, form); err != nil {
			return err
		}
		e := audit.NewEntry(actor, form.ID, models.AuditCreated)
		e.PHIAccess = phi
		e.Details = map[string]interface{}{"formType": string(form.Type), "status": string(form.Status), "templateId": tmpl.ID}
		return s.ledger.AppendTx(ctx, tx, e)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Form created",
		zap.String("form_id", form.ID),
		zap.String("form_type", string(form.Type)),
		zap.String("user_id", actor.UserID))
	return form, nil
}

// Get returns a live form to an actor allowed to read it and records the read.
func (s *Service) Get(ctx context.Context, id string, actor models.Actor) (*models.Form, error) {
	form, phi, err := s.LoadForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Check(actor.Role, form.Type, permission.ActionRead, phi); err != nil {
		return nil, err
	}

	e := audit.NewEntry(actor, form.ID, models.AuditViewed)
	e.PHIAccess = phi
	e.Details = map[string]interface{}{"resource": "form"}
	if _, err := s.ledger.Append(ctx, e); err != nil {
		return nil, err
	}
	return form, nil
}

// List returns live forms matching filter, restricted to the form types the
// actor may read. PHI-bearing forms are left out for roles without PHI access.
func (s *Service) List(ctx context.Context, filter repository.FormFilter, actor models.Actor) ([]models.Form, int64, error) {
	readable := make([]models.FormType, 0)
	for ft, actions := range s.engine.Permissions(actor.Role) {
		for _, a := range actions {
			if a == permission.ActionRead {
				readable = append(readable, ft)
			}
		}
	}
	if len(readable) == 0 {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrPermissionDenied, permission.ReasonActionNotPermitted)
	}
	filter.Types = readable
	filter.IncludeDeleted = false

	if !s.engine.CanAccessPHI(actor.Role) {
		// forms whose template is gone count as PHI, so only known PHI-free templates are listed
		templates, err := s.repo.ListTemplates(ctx, "")
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list templates: %w", err)
		}
		filter.TemplateIDs = make([]string, 0, len(templates))
		for i := range templates {
			if !templates[i].HasPHI() {
				filter.TemplateIDs = append(filter.TemplateIDs, templates[i].ID)
			}
		}
	}

	forms, total, err := s.repo.ListForms(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list forms: %w", err)
	}
	return forms, total, nil
}

// UpdateData merges data into the form's data mapping. A nil value removes
// the field. Status is left unchanged.
func (s *Service) UpdateData(ctx context.Context, id string, data map[string]interface{}, actor models.Actor) (*models.Form, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	form, phi, err := s.LoadForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Check(actor.Role, form.Type, permission.ActionUpdate, phi); err != nil {
		return nil, err
	}
	if err := s.CheckEditable(ctx, form); err != nil {
		return nil, err
	}

	merged := models.CopyData(form.Data)
	for k, v := range data {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	changes := s.ApplyData(form, merged, actor)
	if len(changes) == 0 {
		return form, nil
	}

	e := audit.NewEntry(actor, form.ID, models.AuditUpdated)
	e.PHIAccess = phi
	e.Changes = changes
	e.Details = map[string]interface{}{"fields": len(changes)}
	if err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		return s.Persist(ctx, tx, form, e)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Form data updated",
		zap.String("form_id", form.ID),
		zap.String("user_id", actor.UserID),
		zap.Int("changes", len(changes)))
	return form, nil
}

// Transition moves the form along one edge of the status graph. The signed
// status additionally requires every required signature to be active.
func (s *Service) Transition(ctx context.Context, id string, target models.FormStatus, actor models.Actor) (*models.Form, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, target)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	form, _, err := s.LoadForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	from := form.Status
	if !CanTransition(from, target) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, target)
	}
	if err := s.engine.Check(actor.Role, form.Type, permission.ActionTransition, false); err != nil {
		return nil, err
	}
	if target == models.StatusSigned {
		missing, err := s.MissingSigners(ctx, s.repo, form)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: missing signatures from %v", models.ErrFormNotSignable, missing)
		}
	}

	if err := s.MoveTo(form, target, actor); err != nil {
		return nil, err
	}
	e := audit.NewEntry(actor, form.ID, models.AuditUpdated)
	e.Details = map[string]interface{}{"from": string(from), "to": string(target)}
	if err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		return s.Persist(ctx, tx, form, e)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Form status changed",
		zap.String("form_id", form.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("user_id", actor.UserID))
	s.Publish(ctx, s.Event(events.StatusChanged, form, from, actor, nil))
	return form, nil
}

// Delete soft deletes a form. Signed forms cannot be deleted. The form stays
// in storage with its history but is not found afterwards.
func (s *Service) Delete(ctx context.Context, id string, actor models.Actor) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	form, _, err := s.LoadForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if err := s.engine.Check(actor.Role, form.Type, permission.ActionDelete, false); err != nil {
		return err
	}
	if form.Status == models.StatusSigned {
		return models.ErrFormSigned
	}

	now := time.Now().UTC()
	form.DeletedAt = &now
	form.DeletedBy = actor.UserID
	form.UpdatedBy = actor.UserID

	e := audit.NewEntry(actor, form.ID, models.AuditDeleted)
	e.Details = map[string]interface{}{"status": string(form.Status)}
	if err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		return s.Persist(ctx, tx, form, e)
	}); err != nil {
		return err
	}

	s.logger.Info("Form deleted", zap.String("form_id", form.ID), zap.String("user_id", actor.UserID))
	s.Publish(ctx, s.Event(events.FormDeleted, form, form.Status, actor, nil))
	return nil
}
