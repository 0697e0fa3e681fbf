// Package signatures collects the signatures each form type requires and
// locks a form once all of them are present.
package signatures

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/events"
	"clinical-forms-server/internal/forms"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"

	"go.uber.org/zap"
)

// Workflow records and revokes signatures.
type Workflow struct {
	repo      repository.Repository
	engine    *permission.Engine
	ledger    *audit.Ledger
	forms     *forms.Service
	validator PayloadValidator
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflow creates a Workflow. A nil validator uses DefaultValidator.
func NewWorkflow(repo repository.Repository, engine *permission.Engine, ledger *audit.Ledger,
	formSvc *forms.Service, validator PayloadValidator, logger *zap.Logger) *Workflow {
	if validator == nil {
		validator = DefaultValidator{}
	}
	return &Workflow{
		repo:      repo,
		engine:    engine,
		ledger:    ledger,
		forms:     formSvc,
		validator: validator,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SignInput is one signature submission.
type SignInput struct {
	SignerRole    models.Role
	SignatureType models.SignatureType
	SignatureData string
	Metadata      map[string]interface{}
}

// Status summarizes the signature progress of a form.
type Status struct {
	FormID           string            `json:"formId"`
	FormStatus       models.FormStatus `json:"formStatus"`
	Required         []models.Role     `json:"requiredRoles"`
	Signed           []models.Role     `json:"signedRoles"`
	Missing          []models.Role     `json:"missingRoles"`
	Complete         bool              `json:"complete"`
	PendingSignature bool              `json:"pendingSignature"`
}

// Sign records actor's signature for its role. Signatures are accepted while
// the form is approved; the last required signature moves the form to signed.
func (w *Workflow) Sign(ctx context.Context, formID string, in SignInput, actor models.Actor) (*models.FormSignature, error) {
	if err := w.validator.Validate(in.SignatureType, in.SignatureData); err != nil {
		return nil, err
	}

	unlock := w.forms.Locker().Lock(formID)
	defer unlock()

	form, phi, err := w.forms.LoadForUpdate(ctx, formID)
	if err != nil {
		return nil, err
	}
	if in.SignerRole != actor.Role {
		return nil, fmt.Errorf("%w: cannot sign as %s", models.ErrPermissionDenied, in.SignerRole)
	}
	if !w.engine.IsRequiredSigner(form.Type, in.SignerRole) {
		return nil, fmt.Errorf("%w: %s is not a required signer of %s", models.ErrPermissionDenied, in.SignerRole, form.Type)
	}
	if err := w.engine.Check(actor.Role, form.Type, permission.ActionSign, phi); err != nil {
		return nil, err
	}

	signed, err := forms.ActiveSignerRoles(ctx, w.repo, form.ID)
	if err != nil {
		return nil, err
	}
	if signed[in.SignerRole] {
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadySignedByRole, in.SignerRole)
	}
	if form.Status != models.StatusApproved {
		return nil, fmt.Errorf("%w: status is %s", models.ErrFormNotSignable, form.Status)
	}

	now := w.now()
	sig := &models.FormSignature{
		FormID:        form.ID,
		SignerRole:    in.SignerRole,
		SignerID:      actor.UserID,
		SignatureType: in.SignatureType,
		SignatureData: strings.TrimSpace(in.SignatureData),
		Status:        models.SignatureSigned,
		SignedAt:      &now,
	}
	if in.Metadata != nil {
		sig.Metadata = models.CopyData(in.Metadata)
	}

	previous := form.Status
	completed := false
	err = w.repo.Transaction(ctx, func(tx repository.Repository) error {
		if err := tx.CreateSignature(ctx, sig); err != nil {
			return fmt.Errorf("failed to create signature: %w", err)
		}
		missing, err := w.forms.MissingSigners(ctx, tx, form)
		if err != nil {
			return err
		}

		e := audit.NewEntry(actor, form.ID, models.AuditSigned)
		e.Details = map[string]interface{}{
			"signatureId":   sig.ID,
			"signerRole":    string(sig.SignerRole),
			"signatureType": string(sig.SignatureType),
			"missingRoles":  rolesToStrings(missing),
		}
		if len(missing) > 0 {
			return w.ledger.AppendTx(ctx, tx, e)
		}

		if err := w.forms.MoveTo(form, models.StatusSigned, actor); err != nil {
			return err
		}
		completed = true
		e.Details["previousStatus"] = string(previous)
		e.Details["newStatus"] = string(form.Status)
		return w.forms.Persist(ctx, tx, form, e)
	})
	if err != nil {
		form.Status = previous
		return nil, err
	}

	w.logger.Info("Form signed",
		zap.String("form_id", form.ID),
		zap.String("signer_role", string(sig.SignerRole)),
		zap.String("user_id", actor.UserID),
		zap.Bool("completed", completed))
	w.forms.Publish(ctx, w.forms.Event(events.SignatureAdded, form, previous, actor,
		map[string]interface{}{"signatureId": sig.ID, "signerRole": string(sig.SignerRole)}))
	if completed {
		w.forms.Publish(ctx, w.forms.Event(events.FormSigned, form, previous, actor, nil))
	}
	return sig, nil
}

// Revoke invalidates a signature. A signed form falls back to draft.
func (w *Workflow) Revoke(ctx context.Context, formID, signatureID, reason string, actor models.Actor) (*models.FormSignature, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: revocation reason is required", models.ErrInvalidInput)
	}

	unlock := w.forms.Locker().Lock(formID)
	defer unlock()

	form, phi, err := w.forms.LoadForUpdate(ctx, formID)
	if err != nil {
		return nil, err
	}
	sig, err := w.repo.GetSignature(ctx, signatureID)
	if err != nil {
		return nil, err
	}
	if sig.FormID != form.ID {
		return nil, models.ErrSignatureNotFound
	}
	if err := w.engine.Check(actor.Role, form.Type, permission.ActionRevokeSignature, phi); err != nil {
		return nil, err
	}
	if !sig.Active() {
		return nil, fmt.Errorf("%w: status is %s", models.ErrSignatureNotActive, sig.Status)
	}
	if form.Status == models.StatusArchived {
		return nil, models.ErrFormArchived
	}

	now := w.now()
	sig.Status = models.SignatureRevoked
	sig.RevokedAt = &now
	sig.RevokedBy = actor.UserID
	sig.RevokeReason = reason

	previous := form.Status
	reverted := previous == models.StatusSigned
	if reverted {
		if err := w.forms.RevertToDraft(form, actor); err != nil {
			return nil, err
		}
	}

	e := audit.NewEntry(actor, form.ID, models.AuditSignatureRevoked)
	e.Details = map[string]interface{}{
		"signatureId":    sig.ID,
		"reason":         reason,
		"signerRole":     string(sig.SignerRole),
		"previousStatus": string(previous),
		"newStatus":      string(form.Status),
	}
	err = w.repo.Transaction(ctx, func(tx repository.Repository) error {
		if err := tx.UpdateSignature(ctx, sig); err != nil {
			return fmt.Errorf("failed to update signature: %w", err)
		}
		if !reverted {
			return w.ledger.AppendTx(ctx, tx, e)
		}
		return w.forms.Persist(ctx, tx, form, e)
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("Signature revoked",
		zap.String("form_id", form.ID),
		zap.String("signature_id", sig.ID),
		zap.String("user_id", actor.UserID),
		zap.Bool("reverted_to_draft", reverted))
	w.forms.Publish(ctx, w.forms.Event(events.SignatureRevoked, form, previous, actor,
		map[string]interface{}{"signatureId": sig.ID, "reason": reason}))
	return sig, nil
}

// List returns every signature of a form, revoked ones included.
func (w *Workflow) List(ctx context.Context, formID string, actor models.Actor) ([]models.FormSignature, error) {
	form, err := w.readable(ctx, formID, actor)
	if err != nil {
		return nil, err
	}
	sigs, err := w.repo.ListSignatures(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	return sigs, nil
}

// Status reports which required roles have signed. PendingSignature is set
// while an approved form still misses signatures.
func (w *Workflow) Status(ctx context.Context, formID string, actor models.Actor) (*Status, error) {
	form, err := w.readable(ctx, formID, actor)
	if err != nil {
		return nil, err
	}
	active, err := forms.ActiveSignerRoles(ctx, w.repo, form.ID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		FormID:     form.ID,
		FormStatus: form.Status,
		Required:   w.engine.RequiredSigners(form.Type),
		Signed:     make([]models.Role, 0),
		Missing:    make([]models.Role, 0),
	}
	for _, r := range st.Required {
		if active[r] {
			st.Signed = append(st.Signed, r)
		} else {
			st.Missing = append(st.Missing, r)
		}
	}
	st.Complete = len(st.Required) > 0 && len(st.Missing) == 0
	st.PendingSignature = form.Status == models.StatusApproved && len(st.Missing) > 0
	return st, nil
}

func (w *Workflow) readable(ctx context.Context, formID string, actor models.Actor) (*models.Form, error) {
	form, phi, err := w.forms.LoadForUpdate(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := w.engine.Check(actor.Role, form.Type, permission.ActionRead, phi); err != nil {
		return nil, err
	}
	return form, nil
}

func rolesToStrings(roles []models.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}
