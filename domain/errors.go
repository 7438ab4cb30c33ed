package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfigurationMissing indicates a required credential or endpoint is
	// absent. It aborts the whole operation before any remote call is made.
	ErrConfigurationMissing = errors.New("required configuration missing")

	// ErrUserNotFound is returned by repository lookups that match nothing.
	ErrUserNotFound = errors.New("user not found")

	// ErrRoleNotFound is returned when a role name has no local entity.
	ErrRoleNotFound = errors.New("role not found")

	// ErrDuplicateUser is returned when a create collides with the unique
	// email or external_id index.
	ErrDuplicateUser = errors.New("user already exists")
)

// AmbiguousMatchError reports that the email key and the external-id key
// matched two different local records. This is terminal for the record and
// is never auto-resolved.
type AmbiguousMatchError struct {
	Email             string
	ExternalID        string
	EmailMatchID      string
	ExternalIDMatchID string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match: email %q matches user %s, external id %q matches user %s",
		e.Email, e.EmailMatchID, e.ExternalID, e.ExternalIDMatchID)
}

// RemoteError is the failure of a single remote call. Status 0 means the
// call never completed (network error or timeout). 5xx and status 0 are
// retryable; 4xx responses are terminal for the record.
type RemoteError struct {
	Surface string // "identity" or "profile"
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s surface unreachable: %s", e.Surface, e.Message)
	}
	return fmt.Sprintf("%s surface rejected call (status %d): %s", e.Surface, e.Status, e.Message)
}

// Retryable reports whether the failure is transient.
func (e *RemoteError) Retryable() bool {
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}

// Conflict reports whether the remote rejected a create for an already
// existing key.
func (e *RemoteError) Conflict() bool {
	return e.Status == http.StatusConflict
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}
