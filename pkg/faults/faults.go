// Package faults defines the closed error taxonomy shared by the sync
// engine. Components classify failures into a Kind; string detail lives
// only in log lines and wrapped causes.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed: callers switch on Kind
// to decide whether to skip a step, delete a credential, or abort.
type Kind int

const (
	// KindCredentialMissing means no credential row exists for the
	// (user, service) pair. Callers report "not connected".
	KindCredentialMissing Kind = iota

	// KindCredentialRefreshFailed is a transient refresh failure; the
	// current step is skipped and the credential retained.
	KindCredentialRefreshFailed

	// KindCredentialInvalidated is unrecoverable (401/invalid_grant on
	// refresh, or 410 Gone from the issues provider). The credential
	// row has been deleted and credential-invalidated emitted.
	KindCredentialInvalidated

	// KindProviderTransient covers 5xx, timeouts and network errors.
	KindProviderTransient

	// KindProviderPermission is a 403 on a resource; logged and skipped.
	KindProviderPermission

	// KindProviderNotFound is a 404; treated as "absent" for transcript
	// and meeting lookups, not as an error.
	KindProviderNotFound

	// KindParseFailure is an unexpected payload shape; the raw payload
	// is kept and derived fields left empty.
	KindParseFailure

	// KindStoreUnavailable aborts the current step; the cycle continues.
	KindStoreUnavailable

	// KindInternal is a programming error; the cycle for that user is
	// aborted.
	KindInternal
)

var kindNames = map[Kind]string{
	KindCredentialMissing:       "credential_missing",
	KindCredentialRefreshFailed: "credential_refresh_failed",
	KindCredentialInvalidated:   "credential_invalidated",
	KindProviderTransient:       "provider_transient",
	KindProviderPermission:      "provider_permission",
	KindProviderNotFound:        "provider_not_found",
	KindParseFailure:            "parse_failure",
	KindStoreUnavailable:        "store_unavailable",
	KindInternal:                "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind plus the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string // e.g. "calendar.list_events"
	Err  error  // may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// Transient reports whether err should be retried rather than treated
// as terminal for the step.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindProviderTransient, KindCredentialRefreshFailed, KindStoreUnavailable:
		return true
	}
	return false
}
