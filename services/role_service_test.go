package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/idsync/domain"
)

func TestResolve_FallsBackToDefaultForUnknownRole(t *testing.T) {
	roles := new(MockRoleRepository)
	svc := NewRoleService(roles, domain.RoleMember)
	ctx := context.Background()

	roles.On("GetByName", mock.Anything, "Wizard").Return(nil, domain.ErrRoleNotFound)
	roles.On("GetOrCreateByName", mock.Anything, domain.RoleMember).
		Return(&domain.Role{ID: "r-member", Name: domain.RoleMember}, nil)

	role, err := svc.Resolve(ctx, "Wizard")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, role.Name)
}

func TestResolve_EmptyNameUsesDefault(t *testing.T) {
	roles := new(MockRoleRepository)
	svc := NewRoleService(roles, domain.RoleMember)

	roles.On("GetOrCreateByName", mock.Anything, domain.RoleMember).
		Return(&domain.Role{ID: "r-member", Name: domain.RoleMember}, nil)

	role, err := svc.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, role.Name)
	roles.AssertNotCalled(t, "GetByName", mock.Anything, mock.Anything)
}

func TestGrant_ReplacesExistingRoleInScope(t *testing.T) {
	roles := new(MockRoleRepository)
	svc := NewRoleService(roles, domain.RoleMember)
	ctx := context.Background()

	roles.On("AssignmentForScope", mock.Anything, "u1", "acme").
		Return(&domain.RoleAssignment{ID: "a1", UserID: "u1", RoleID: "r-member", AccountScope: "acme"}, nil)
	roles.On("ReplaceAssignment", mock.Anything, "u1", "r-admin", "acme").Return(nil)

	err := svc.Grant(ctx, "u1", &domain.Role{ID: "r-admin", Name: domain.RoleAdmin}, "acme")
	require.NoError(t, err)
	roles.AssertCalled(t, "ReplaceAssignment", mock.Anything, "u1", "r-admin", "acme")
}

func TestGrant_NoOpWhenRoleAlreadyHeld(t *testing.T) {
	roles := new(MockRoleRepository)
	svc := NewRoleService(roles, domain.RoleMember)

	roles.On("AssignmentForScope", mock.Anything, "u1", "acme").
		Return(&domain.RoleAssignment{ID: "a1", UserID: "u1", RoleID: "r-admin", AccountScope: "acme"}, nil)

	err := svc.Grant(context.Background(), "u1", &domain.Role{ID: "r-admin", Name: domain.RoleAdmin}, "acme")
	require.NoError(t, err)
	roles.AssertNotCalled(t, "ReplaceAssignment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCurrentRoleName_DefaultsWhenUnassigned(t *testing.T) {
	roles := new(MockRoleRepository)
	svc := NewRoleService(roles, domain.RoleMember)

	roles.On("AssignmentForScope", mock.Anything, "u1", "acme").Return(nil, domain.ErrRoleNotFound)

	name, err := svc.CurrentRoleName(context.Background(), "u1", "acme")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, name)
}

func TestCurrentRoleName_ReturnsHeldRole(t *testing.T) {
	roles := new(MockRoleRepository)
	svc := NewRoleService(roles, domain.RoleMember)

	roles.On("AssignmentForScope", mock.Anything, "u1", "acme").
		Return(&domain.RoleAssignment{ID: "a1", UserID: "u1", RoleID: "r-admin", AccountScope: "acme"}, nil)
	roles.On("RoleByID", mock.Anything, "r-admin").
		Return(&domain.Role{ID: "r-admin", Name: domain.RoleAdmin}, nil)

	name, err := svc.CurrentRoleName(context.Background(), "u1", "acme")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, name)
}
