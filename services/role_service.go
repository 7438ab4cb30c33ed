package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pilab-dev/idsync/domain"
)

// RoleService resolves role names to local role entities and enforces the
// single-role-per-scope policy on grants.
type RoleService struct {
	roles           domain.RoleRepository
	defaultRoleName string
}

// NewRoleService creates a RoleService. defaultRoleName is the fallback for
// unknown or absent role names.
func NewRoleService(roles domain.RoleRepository, defaultRoleName string) *RoleService {
	if defaultRoleName == "" {
		defaultRoleName = domain.RoleMember
	}
	return &RoleService{roles: roles, defaultRoleName: defaultRoleName}
}

// DefaultRoleName returns the configured fallback role name.
func (s *RoleService) DefaultRoleName() string {
	return s.defaultRoleName
}

// Resolve maps a role name to a local role entity, falling back to the
// default role when the name is empty or unknown.
func (s *RoleService) Resolve(ctx context.Context, roleName string) (*domain.Role, error) {
	if roleName != "" {
		role, err := s.roles.GetByName(ctx, roleName)
		if err == nil {
			return role, nil
		}
		if !errors.Is(err, domain.ErrRoleNotFound) {
			return nil, err
		}
		log.Debug().Str("role", roleName).Str("fallback", s.defaultRoleName).
			Msg("Unknown role name, falling back to default")
	}
	return s.roles.GetOrCreateByName(ctx, s.defaultRoleName)
}

// Grant attaches the role to the user within the account scope. A user holds
// exactly one role per scope: granting a role the user already has is a
// no-op, anything else replaces the existing assignment.
func (s *RoleService) Grant(ctx context.Context, userID string, role *domain.Role, accountScope string) error {
	current, err := s.roles.AssignmentForScope(ctx, userID, accountScope)
	if err != nil && !errors.Is(err, domain.ErrRoleNotFound) {
		return fmt.Errorf("failed to read current assignment: %w", err)
	}
	if current != nil && current.RoleID == role.ID {
		return nil
	}
	return s.roles.ReplaceAssignment(ctx, userID, role.ID, accountScope)
}

// CurrentRoleName returns the name of the role the user holds in the scope,
// or the default role name when nothing is assigned.
func (s *RoleService) CurrentRoleName(ctx context.Context, userID, accountScope string) (string, error) {
	assignment, err := s.roles.AssignmentForScope(ctx, userID, accountScope)
	if err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			return s.defaultRoleName, nil
		}
		return "", err
	}
	role, err := s.roles.RoleByID(ctx, assignment.RoleID)
	if err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			// Dangling assignment; treat as unassigned rather than failing
			// the whole reconciliation.
			log.Warn().Str("user_id", userID).Str("role_id", assignment.RoleID).
				Msg("Assignment references missing role")
			return s.defaultRoleName, nil
		}
		return "", err
	}
	return role.Name, nil
}

// RevokeAll drops every assignment the user holds, across scopes. Used when
// the local record is deleted.
func (s *RoleService) RevokeAll(ctx context.Context, userID string) error {
	return s.roles.RemoveAssignments(ctx, userID)
}

// EnsureStandardRoles seeds the built-in role entities. Called at startup so
// pull reconciliation can resolve well-known remote role names.
func (s *RoleService) EnsureStandardRoles(ctx context.Context) error {
	for _, name := range []string{domain.RoleAdmin, domain.RoleMember, s.defaultRoleName} {
		if _, err := s.roles.GetOrCreateByName(ctx, name); err != nil {
			return fmt.Errorf("failed to ensure role %q: %w", name, err)
		}
	}
	return nil
}
