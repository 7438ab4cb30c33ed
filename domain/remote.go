package domain

// RemoteIdentity is a record in the external identity directory. The
// directory owns it; this system only reads and writes it through the
// directory client.
type RemoteIdentity struct {
	ExternalID string
	Email      string
	Metadata   IdentityMetadata
}

// IdentityMetadata is the directory's free-form metadata bag, reduced to the
// fields this system cares about. Pointers distinguish "absent" from "empty"
// so defaulting happens here, once, instead of at every call site.
type IdentityMetadata struct {
	Role        *string
	DisplayName *string
	Attributes  map[string]any
}

// RoleOrDefault returns the role name carried in the metadata, or def when
// the bag has no usable role.
func (m IdentityMetadata) RoleOrDefault(def string) string {
	if m.Role == nil || *m.Role == "" {
		return def
	}
	return *m.Role
}

// DisplayNameValue returns the display name or "" when absent.
func (m IdentityMetadata) DisplayNameValue() string {
	if m.DisplayName == nil {
		return ""
	}
	return *m.DisplayName
}

// RemoteProfile is a row in the external profile table, keyed by email. It
// mirrors a subset of the local User fields.
type RemoteProfile struct {
	Email       string `json:"email"`
	ExternalID  string `json:"external_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

// RemoteChangeType classifies a remote-originated change notification.
type RemoteChangeType string

const (
	RemoteChangeInsert RemoteChangeType = "INSERT"
	RemoteChangeUpdate RemoteChangeType = "UPDATE"
	RemoteChangeDelete RemoteChangeType = "DELETE"
)

// RemoteChangeEvent is one remote-originated change notification. Delivery
// may be duplicated or out of order; handlers must stay idempotent.
type RemoteChangeEvent struct {
	Type     RemoteChangeType
	Identity RemoteIdentity
}
