package forms

import (
	"context"
	"fmt"
	"time"

	"clinical-forms-server/internal/events"
	"clinical-forms-server/internal/lock"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/repository"

	"go.uber.org/zap"
)

// The methods below are the building blocks the version store and signature
// workflow compose under the same per-form lock.

// Locker returns the per-form lock shared by every form mutation.
func (s *Service) Locker() *lock.Keyed {
	return s.locks
}

// LoadForUpdate loads a live form and reports whether its template carries PHI.
func (s *Service) LoadForUpdate(ctx context.Context, id string) (*models.Form, bool, error) {
	form, err := repository.LiveForm(ctx, s.repo, id)
	if err != nil {
		return nil, false, err
	}
	phi, err := repository.FormHasPHI(ctx, s.repo, form)
	if err != nil {
		return nil, false, err
	}
	return form, phi, nil
}

// CheckEditable refuses data changes on signed and archived forms, and on any
// form still carrying an active signature.
func (s *Service) CheckEditable(ctx context.Context, form *models.Form) error {
	switch form.Status {
	case models.StatusSigned:
		return models.ErrFormSigned
	case models.StatusArchived:
		return models.ErrFormArchived
	}
	signed, err := ActiveSignerRoles(ctx, s.repo, form.ID)
	if err != nil {
		return err
	}
	if len(signed) > 0 {
		return fmt.Errorf("%w: %d active signature(s)", models.ErrFormHasSignatures, len(signed))
	}
	return nil
}

// ApplyData replaces the form's data and returns the field-level changes.
func (s *Service) ApplyData(form *models.Form, data map[string]interface{}, actor models.Actor) []models.FieldChange {
	changes := models.ChangesBetween(form.Data, data)
	form.Data = models.CopyData(data)
	form.UpdatedBy = actor.UserID
	return changes
}

// MoveTo sets the form's status if to is reachable in one step.
func (s *Service) MoveTo(form *models.Form, to models.FormStatus, actor models.Actor) error {
	if !CanTransition(form.Status, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, form.Status, to)
	}
	form.Status = to
	form.UpdatedBy = actor.UserID
	return nil
}

// RevertToDraft takes the signed -> draft edge, which only signature
// revocation may use.
func (s *Service) RevertToDraft(form *models.Form, actor models.Actor) error {
	if form.Status != models.StatusSigned {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, form.Status, models.StatusDraft)
	}
	form.Status = models.StatusDraft
	form.UpdatedBy = actor.UserID
	return nil
}

// Persist writes the form and its audit entry through tx.
func (s *Service) Persist(ctx context.Context, tx repository.Repository, form *models.Form, e *models.AuditEntry) error {
	if err := tx.UpdateForm(ctx, form); err != nil {
		s.logger.Error("Failed to update form", zap.String("form_id", form.ID), zap.Error(err))
		return fmt.Errorf("failed to update form: %w", err)
	}
	return s.ledger.AppendTx(ctx, tx, e)
}

// ActiveSignerRoles returns the roles holding an active signature on formID.
func ActiveSignerRoles(ctx context.Context, repo repository.Repository, formID string) (map[models.Role]bool, error) {
	sigs, err := repo.ListSignatures(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	out := make(map[models.Role]bool)
	for _, sig := range sigs {
		if sig.Active() {
			out[sig.SignerRole] = true
		}
	}
	return out, nil
}

// MissingSigners lists the required roles of the form's type that have not signed.
func (s *Service) MissingSigners(ctx context.Context, repo repository.Repository, form *models.Form) ([]models.Role, error) {
	signed, err := ActiveSignerRoles(ctx, repo, form.ID)
	if err != nil {
		return nil, err
	}
	missing := make([]models.Role, 0)
	for _, r := range s.engine.RequiredSigners(form.Type) {
		if !signed[r] {
			missing = append(missing, r)
		}
	}
	return missing, nil
}

// Event describes a committed change to form.
func (s *Service) Event(t events.Type, form *models.Form, from models.FormStatus, actor models.Actor, details map[string]interface{}) events.Event {
	return events.Event{
		Type:      t,
		FormID:    form.ID,
		FormType:  form.Type,
		From:      from,
		To:        form.Status,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Details:   details,
		At:        time.Now().UTC(),
	}
}

// Publish hands e to the publisher. Failures are logged and otherwise ignored.
func (s *Service) Publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("Failed to publish form event",
			zap.String("form_id", e.FormID),
			zap.String("event", string(e.Type)),
			zap.Error(err))
	}
}
