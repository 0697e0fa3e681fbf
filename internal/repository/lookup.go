package repository

import (
	"context"
	"errors"

	"clinical-forms-server/internal/models"
)

// LiveForm loads a form and hides soft-deleted forms behind ErrFormNotFound.
func LiveForm(ctx context.Context, r Repository, id string) (*models.Form, error) {
	f, err := r.GetForm(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.IsDeleted() {
		return nil, models.ErrFormNotFound
	}
	return f, nil
}

// FormHasPHI reports whether the form's template declares PHI fields. A form
// whose template cannot be found is treated as PHI-bearing.
func FormHasPHI(ctx context.Context, r Repository, f *models.Form) (bool, error) {
	t, err := r.GetTemplate(ctx, f.TemplateID)
	if errors.Is(err, models.ErrTemplateNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return t.HasPHI(), nil
}
