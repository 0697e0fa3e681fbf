// Package forms owns the lifecycle of clinical forms: the status graph, data
// edits and soft deletion.
package forms

import "clinical-forms-server/internal/models"

// transitions is the status graph. signed -> draft is absent: only signature
// revocation may take that edge.
var transitions = map[models.FormStatus][]models.FormStatus{
	models.StatusDraft:         {models.StatusInProgress, models.StatusArchived},
	models.StatusInProgress:    {models.StatusPendingReview, models.StatusDraft, models.StatusArchived},
	models.StatusPendingReview: {models.StatusApproved, models.StatusRejected, models.StatusInProgress},
	models.StatusApproved:      {models.StatusSigned, models.StatusArchived},
	models.StatusRejected:      {models.StatusDraft, models.StatusInProgress, models.StatusArchived},
	models.StatusSigned:        {models.StatusArchived},
	models.StatusArchived:      {},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to models.FormStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the statuses reachable from from in one step.
func AllowedTransitions(from models.FormStatus) []models.FormStatus {
	return append([]models.FormStatus{}, transitions[from]...)
}
