package models

import "errors"

// Validation errors
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidVersionFormat   = errors.New("invalid version format")
	ErrMissingChangeReason    = errors.New("change reason is required")
	ErrInvalidSignatureFormat = errors.New("invalid signature format")
)

// Authorization errors
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrPhiAccessDenied  = errors.New("phi access denied")
)

// State-conflict errors
var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrFormSigned          = errors.New("form is signed")
	ErrFormArchived        = errors.New("form is archived")
	ErrFormNotSignable     = errors.New("form is not awaiting signatures")
	ErrAlreadySignedByRole = errors.New("form already signed by role")
	ErrDuplicateVersion    = errors.New("version label is not greater than the current version")
	ErrSignatureNotActive  = errors.New("signature is not active")
	ErrFormHasSignatures   = errors.New("form carries active signatures")
)

// Not-found errors
var (
	ErrFormNotFound      = errors.New("form not found")
	ErrVersionNotFound   = errors.New("version not found")
	ErrSignatureNotFound = errors.New("signature not found")
	ErrTemplateNotFound  = errors.New("template not found")
)

// ErrAuditUnavailable means the audit ledger could not record an entry; the
// operation it documents has been rolled back.
var ErrAuditUnavailable = errors.New("audit ledger unavailable")

// ErrorKind groups domain errors by how callers should react to them.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindConflict      ErrorKind = "state_conflict"
	KindNotFound      ErrorKind = "not_found"
	KindLedgerFatal   ErrorKind = "ledger_fatal"
	KindInternal      ErrorKind = "internal"
)

var kinds = map[error]ErrorKind{
	ErrInvalidInput:           KindValidation,
	ErrInvalidVersionFormat:   KindValidation,
	ErrMissingChangeReason:    KindValidation,
	ErrInvalidSignatureFormat: KindValidation,
	ErrPermissionDenied:       KindAuthorization,
	ErrPhiAccessDenied:        KindAuthorization,
	ErrInvalidTransition:      KindConflict,
	ErrFormSigned:             KindConflict,
	ErrFormArchived:           KindConflict,
	ErrFormNotSignable:        KindConflict,
	ErrAlreadySignedByRole:    KindConflict,
	ErrDuplicateVersion:       KindConflict,
	ErrSignatureNotActive:     KindConflict,
	ErrFormHasSignatures:      KindConflict,
	ErrFormNotFound:           KindNotFound,
	ErrVersionNotFound:        KindNotFound,
	ErrSignatureNotFound:      KindNotFound,
	ErrTemplateNotFound:       KindNotFound,
	ErrAuditUnavailable:       KindLedgerFatal,
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for target, kind := range kinds {
		if errors.Is(err, target) {
			return kind
		}
	}
	return KindInternal
}
