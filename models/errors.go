package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the storage and authorization layers. Callers branch on
// these with errors.Is; they are never collapsed into a generic failure
// because the remediation differs for each.
var (
	// ErrNotFound means no credential is stored for the user.
	ErrNotFound = errors.New("credential not found")

	// ErrAuthExpired means the refresh token was rejected; the user must
	// re-authenticate. Callers skip further work for the user instead of
	// retrying.
	ErrAuthExpired = errors.New("refresh rejected: user must re-authenticate")

	// ErrQuotaExceeded means the default-key daily limit was reached. The
	// attempt is still counted.
	ErrQuotaExceeded = errors.New("default key daily quota exceeded")

	// ErrUnauthenticated means no session, personal key, or default key
	// identified the caller.
	ErrUnauthenticated = errors.New("not authenticated")
)

// CollaboratorError reports a failure of one specific external collaborator
// (mail, chat, drive, tasks, agent, identity, vault) with its cause.
type CollaboratorError struct {
	Source string
	Err    error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// NewCollaboratorError wraps err as a failure of the named collaborator.
func NewCollaboratorError(source string, err error) *CollaboratorError {
	return &CollaboratorError{Source: source, Err: err}
}

// PartialPersistError reports that the authoritative remote write failed while
// the local bootstrap write succeeded. The update is not lost, but callers
// must surface the condition instead of reporting plain success.
type PartialPersistError struct {
	Err error
}

func (e *PartialPersistError) Error() string {
	return fmt.Sprintf("remote store write failed, bootstrap updated: %v", e.Err)
}

func (e *PartialPersistError) Unwrap() error { return e.Err }
