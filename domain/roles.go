package domain

// Standard role names. The default role for unmatched or absent remote role
// names is configurable and usually RoleMember.
const (
	RoleAdmin  = "Admin"
	RoleMember = "Member"
)

// Role is a local role entity, referenced by RoleAssignment.
type Role struct {
	ID   string `bson:"_id,omitempty"`
	Name string `bson:"name"`
}

// RoleAssignment binds a user to a role within an account scope. A user
// holds at most one role per scope; granting a new role in a scope replaces
// whatever was held before, it never merges.
type RoleAssignment struct {
	ID           string `bson:"_id,omitempty"`
	UserID       string `bson:"user_id"`
	RoleID       string `bson:"role_id"`
	AccountScope string `bson:"account_scope"`
}
