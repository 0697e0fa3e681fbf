// Package versions keeps immutable snapshots of form data, labelled with
// semantic versions, and restores them.
package versions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"clinical-forms-server/internal/audit"
	"clinical-forms-server/internal/events"
	"clinical-forms-server/internal/forms"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/repository"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// Store creates, lists, compares and restores form versions.
type Store struct {
	repo   repository.Repository
	engine *permission.Engine
	ledger *audit.Ledger
	forms  *forms.Service
	logger *zap.Logger
}

// NewStore creates a Store.
func NewStore(repo repository.Repository, engine *permission.Engine, ledger *audit.Ledger, formSvc *forms.Service, logger *zap.Logger) *Store {
	return &Store{repo: repo, engine: engine, ledger: ledger, forms: formSvc, logger: logger}
}

// ParseLabel parses a version label of the form MAJOR.MINOR.PATCH with
// optional pre-release and build parts.
func ParseLabel(label string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimSpace(label))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidVersionFormat, label)
	}
	return v, nil
}

// CreateVersion snapshots data as a new version of the form and makes it the
// form's current data. A nil data snapshots the form's current data.
func (s *Store) CreateVersion(ctx context.Context, formID, label, changeReason string, data map[string]interface{}, actor models.Actor) (*models.FormVersion, error) {
	v, err := ParseLabel(label)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(changeReason) == "" {
		return nil, models.ErrMissingChangeReason
	}

	unlock := s.forms.Locker().Lock(formID)
	defer unlock()

	form, phi, err := s.forms.LoadForUpdate(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Check(actor.Role, form.Type, permission.ActionCreateVersion, phi); err != nil {
		return nil, err
	}
	if err := s.forms.CheckEditable(ctx, form); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListVersions(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	if highest := highestLabel(existing); highest != nil && !v.GreaterThan(highest) {
		return nil, fmt.Errorf("%w: %s is not greater than %s", models.ErrDuplicateVersion, v, highest)
	}

	if data == nil {
		data = form.Data
	}
	version := &models.FormVersion{
		FormID:       form.ID,
		VersionLabel: v.String(),
		Data:         models.CopyData(data),
		ChangeReason: changeReason,
		CreatedBy:    actor.UserID,
	}
	changes := s.forms.ApplyData(form, data, actor)
	form.CurrentVersionLabel = version.VersionLabel

	err = s.repo.Transaction(ctx, func(tx repository.Repository) error {
		if err := tx.CreateVersion(ctx, version); err != nil {
			return err
		}
		e := audit.NewEntry(actor, form.ID, models.AuditVersionCreated)
		e.PHIAccess = phi
		e.Changes = changes
		e.Details = map[string]interface{}{
			"versionId":    version.ID,
			"versionLabel": version.VersionLabel,
			"changeReason": changeReason,
		}
		return s.forms.Persist(ctx, tx, form, e)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Form version created",
		zap.String("form_id", form.ID),
		zap.String("version", version.VersionLabel),
		zap.String("user_id", actor.UserID))
	s.forms.Publish(ctx, s.forms.Event(events.VersionCreated, form, form.Status, actor,
		map[string]interface{}{"versionId": version.ID, "versionLabel": version.VersionLabel}))
	return version, nil
}

// List returns the versions of a form in ascending version order.
func (s *Store) List(ctx context.Context, formID string, actor models.Actor) ([]models.FormVersion, error) {
	form, err := s.readable(ctx, formID, actor)
	if err != nil {
		return nil, err
	}
	versions, err := s.repo.ListVersions(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	SortByLabel(versions)
	return versions, nil
}

// Get returns one version of a form. A version of another form is not found.
func (s *Store) Get(ctx context.Context, formID, versionID string, actor models.Actor) (*models.FormVersion, error) {
	form, err := s.readable(ctx, formID, actor)
	if err != nil {
		return nil, err
	}
	version, err := s.versionOf(ctx, form.ID, versionID)
	if err != nil {
		return nil, err
	}
	if err := s.recordView(ctx, form, actor, map[string]interface{}{"resource": "version", "versionId": version.ID}); err != nil {
		return nil, err
	}
	return version, nil
}

// Compare diffs the data of two versions of the same form, ordered by field.
func (s *Store) Compare(ctx context.Context, formID, versionA, versionB string, actor models.Actor) ([]models.FieldDiff, error) {
	form, err := s.readable(ctx, formID, actor)
	if err != nil {
		return nil, err
	}
	a, err := s.versionOf(ctx, form.ID, versionA)
	if err != nil {
		return nil, err
	}
	b, err := s.versionOf(ctx, form.ID, versionB)
	if err != nil {
		return nil, err
	}

	diffs := models.DiffData(a.Data, b.Data)
	details := map[string]interface{}{"resource": "version_compare", "versionA": a.ID, "versionB": b.ID}
	if err := s.recordView(ctx, form, actor, details); err != nil {
		return nil, err
	}
	return diffs, nil
}

// Restore copies a version's data back into the form and records the result as
// a new version labelled with the next patch after the highest label. No
// version is removed.
func (s *Store) Restore(ctx context.Context, formID, versionID, reason string, actor models.Actor) (*models.Form, *models.FormVersion, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, nil, models.ErrMissingChangeReason
	}

	unlock := s.forms.Locker().Lock(formID)
	defer unlock()

	form, phi, err := s.forms.LoadForUpdate(ctx, formID)
	if err != nil {
		return nil, nil, err
	}
	source, err := s.versionOf(ctx, form.ID, versionID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.engine.Check(actor.Role, form.Type, permission.ActionRestoreVersion, phi); err != nil {
		return nil, nil, err
	}
	if err := s.forms.CheckEditable(ctx, form); err != nil {
		return nil, nil, err
	}

	existing, err := s.repo.ListVersions(ctx, form.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list versions: %w", err)
	}
	highest := highestLabel(existing)
	if highest == nil {
		return nil, nil, models.ErrVersionNotFound
	}
	next := highest.IncPatch()

	restored := &models.FormVersion{
		FormID:       form.ID,
		VersionLabel: next.String(),
		Data:         models.CopyData(source.Data),
		ChangeReason: fmt.Sprintf("restored from version %s: %s", source.VersionLabel, reason),
		CreatedBy:    actor.UserID,
	}
	changes := s.forms.ApplyData(form, source.Data, actor)
	form.CurrentVersionLabel = restored.VersionLabel

	err = s.repo.Transaction(ctx, func(tx repository.Repository) error {
		if err := tx.CreateVersion(ctx, restored); err != nil {
			return err
		}
		e := audit.NewEntry(actor, form.ID, models.AuditVersionRestored)
		e.PHIAccess = phi
		e.Changes = changes
		e.Details = map[string]interface{}{
			"versionId":       source.ID,
			"versionLabel":    source.VersionLabel,
			"newVersionId":    restored.ID,
			"newVersionLabel": restored.VersionLabel,
			"reason":          reason,
		}
		return s.forms.Persist(ctx, tx, form, e)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Form version restored",
		zap.String("form_id", form.ID),
		zap.String("from_version", source.VersionLabel),
		zap.String("new_version", restored.VersionLabel),
		zap.String("user_id", actor.UserID))
	s.forms.Publish(ctx, s.forms.Event(events.VersionRestored, form, form.Status, actor,
		map[string]interface{}{"versionId": source.ID, "newVersionId": restored.ID}))
	return form, restored, nil
}

func (s *Store) readable(ctx context.Context, formID string, actor models.Actor) (*models.Form, error) {
	form, phi, err := s.forms.LoadForUpdate(ctx, formID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Check(actor.Role, form.Type, permission.ActionRead, phi); err != nil {
		return nil, err
	}
	return form, nil
}

func (s *Store) versionOf(ctx context.Context, formID, versionID string) (*models.FormVersion, error) {
	v, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.FormID != formID {
		return nil, models.ErrVersionNotFound
	}
	return v, nil
}

func (s *Store) recordView(ctx context.Context, form *models.Form, actor models.Actor, details map[string]interface{}) error {
	phi, err := repository.FormHasPHI(ctx, s.repo, form)
	if err != nil {
		return err
	}
	e := audit.NewEntry(actor, form.ID, models.AuditViewed)
	e.PHIAccess = phi
	e.Details = details
	_, err = s.ledger.Append(ctx, e)
	return err
}

// highestLabel returns the greatest parseable label, or nil when there is none.
func highestLabel(versions []models.FormVersion) *semver.Version {
	var highest *semver.Version
	for _, fv := range versions {
		v, err := semver.NewVersion(fv.VersionLabel)
		if err != nil {
			continue
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}
	return highest
}

// SortByLabel orders versions by semantic version, falling back to creation time.
func SortByLabel(versions []models.FormVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, errA := semver.NewVersion(versions[i].VersionLabel)
		b, errB := semver.NewVersion(versions[j].VersionLabel)
		if errA != nil || errB != nil {
			return versions[i].CreatedAt.Before(versions[j].CreatedAt)
		}
		return a.LessThan(b)
	})
}
