// Package events carries form lifecycle notifications to whatever delivers
// them to clients. The engine emits; it never delivers.
package events

import (
	"context"
	"sync"
	"time"

	"clinical-forms-server/internal/models"
)

// Type names a lifecycle event.
type Type string

const (
	StatusChanged    Type = "form.status_changed"
	FormSigned       Type = "form.signed"
	SignatureAdded   Type = "form.signature_added"
	SignatureRevoked Type = "form.signature_revoked"
	VersionCreated   Type = "form.version_created"
	VersionRestored  Type = "form.version_restored"
	FormDeleted      Type = "form.deleted"
)

// Event is published after the mutation it describes has committed.
type Event struct {
	Type      Type                   `json:"type"`
	FormID    string                 `json:"formId"`
	FormType  models.FormType        `json:"formType"`
	From      models.FormStatus      `json:"from,omitempty"`
	To        models.FormStatus      `json:"to,omitempty"`
	ActorID   string                 `json:"actorId"`
	ActorRole models.Role            `json:"actorRole"`
	Details   map[string]interface{} `json:"details,omitempty"`
	At        time.Time              `json:"at"`
}

// Publisher hands events to the notification layer.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
