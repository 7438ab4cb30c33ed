package domain

import "time"

// User is the local identity record, the single source of truth this service
// reconciles against the two remote surfaces. Email is the primary matching
// key; ExternalID (the identity directory's opaque id) is the secondary key
// and is only set once the record has been linked to a remote identity.
type User struct {
	ID          string    `bson:"_id,omitempty"`
	Email       string    `bson:"email"`
	ExternalID  *string   `bson:"external_id,omitempty"`
	DisplayName string    `bson:"display_name,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`

	// SyncState is computed per reconciliation call and never persisted.
	SyncState SyncState `bson:"-"`
}

// SyncState records which remote surfaces are known to be in sync for this
// record, as of the last reconciliation call that produced it.
type SyncState struct {
	IdentitySynced bool
	ProfileSynced  bool
}

// ExternalIDValue returns the external id or "" when the record is unlinked.
func (u *User) ExternalIDValue() string {
	if u.ExternalID == nil {
		return ""
	}
	return *u.ExternalID
}

// UserUpsert carries the fields of a create-or-update request. Nil pointers
// mean "not supplied"; empty strings behind a non-nil pointer are treated the
// same way, so an absent remote value can never blank out local data.
type UserUpsert struct {
	Email       string
	ExternalID  *string
	DisplayName *string
}
