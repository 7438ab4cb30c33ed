package domain

import "context"

// UserRepository defines persistence for local identity records.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// FindByEmailOrExternalID tries the email key first, then the external-id
	// key. When both keys match two different records it returns
	// *AmbiguousMatchError; when neither matches it returns ErrUserNotFound.
	FindByEmailOrExternalID(ctx context.Context, email, externalID string) (*User, error)

	// Upsert creates the record when no key matches, otherwise applies a
	// non-destructive merge: absent or empty incoming values never overwrite
	// existing non-empty local values.
	Upsert(ctx context.Context, fields UserUpsert) (*User, error)

	// SetExternalID links a record to a remote identity. The write succeeds
	// only when the record is unlinked or already carries the same id, so a
	// concurrent push cannot relink a record to a different identity.
	SetExternalID(ctx context.Context, userID, externalID string) error

	Delete(ctx context.Context, id string) error

	// List pages through all records. pageToken is "" for the first page; the
	// returned token is "" when no pages remain.
	List(ctx context.Context, pageToken string, pageSize int) ([]*User, string, error)
}

// RoleRepository defines persistence for roles and role assignments.
type RoleRepository interface {
	GetByName(ctx context.Context, name string) (*Role, error)
	GetOrCreateByName(ctx context.Context, name string) (*Role, error)
	RoleByID(ctx context.Context, id string) (*Role, error)

	// AssignmentForScope returns the user's assignment in the scope, or
	// ErrRoleNotFound when the user holds nothing there.
	AssignmentForScope(ctx context.Context, userID, scope string) (*RoleAssignment, error)

	// ReplaceAssignment removes every assignment the user holds in the scope
	// and attaches the given role, as one repository operation.
	ReplaceAssignment(ctx context.Context, userID, roleID, scope string) error

	// RemoveAssignments drops all assignments for a user, across scopes.
	RemoveAssignments(ctx context.Context, userID string) error
}

// DirectoryClient wraps the external identity directory. Every method is a
// single remote call (plus pagination) with a bounded timeout and no internal
// retry; failures come back as *RemoteError values.
type DirectoryClient interface {
	// Each walks the full directory listing page by page. The walk restarts
	// from the beginning on every call; the remote offers no resumable cursor.
	Each(ctx context.Context, fn func(RemoteIdentity) error) error

	// FindByEmail returns (nil, nil) when no identity carries the email.
	FindByEmail(ctx context.Context, email string) (*RemoteIdentity, error)

	// Create fails with a conflict RemoteError when the email already exists
	// remotely. Callers look the email up first; create is never the probe.
	Create(ctx context.Context, email string, meta IdentityMetadata) (*RemoteIdentity, error)

	Update(ctx context.Context, externalID string, meta IdentityMetadata) error
	Delete(ctx context.Context, externalID string) error
	GetByID(ctx context.Context, externalID string) (*RemoteIdentity, error)
}

// ProfileClient wraps the external profile table, keyed by email.
type ProfileClient interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Upsert(ctx context.Context, profile RemoteProfile) error
	DeleteByEmail(ctx context.Context, email string) error
}
