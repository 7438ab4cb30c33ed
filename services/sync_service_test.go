package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/idsync/domain"
)

func strPtr(s string) *string { return &s }

type syncFixture struct {
	users     *MockUserRepository
	roles     *MockRoleRepository
	directory *MockDirectoryClient
	profiles  *MockProfileClient
	svc       *SyncService
}

func newSyncFixture() *syncFixture {
	users := new(MockUserRepository)
	roles := new(MockRoleRepository)
	directory := new(MockDirectoryClient)
	profiles := new(MockProfileClient)
	roleSvc := NewRoleService(roles, domain.RoleMember)
	return &syncFixture{
		users:     users,
		roles:     roles,
		directory: directory,
		profiles:  profiles,
		svc:       NewSyncService(users, roleSvc, directory, profiles, "default"),
	}
}

func TestPushUser_CreatesRemoteIdentityWhenUnlinked(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "a@x.com", DisplayName: "Alice"}

	f.roles.On("AssignmentForScope", mock.Anything, "u1", "default").Return(nil, domain.ErrRoleNotFound)
	f.users.On("GetByID", mock.Anything, "u1").Return(user, nil)
	f.directory.On("FindByEmail", mock.Anything, "a@x.com").Return(nil, nil)
	f.directory.On("Create", mock.Anything, "a@x.com", mock.Anything).
		Return(&domain.RemoteIdentity{ExternalID: "E1", Email: "a@x.com"}, nil)
	f.users.On("SetExternalID", mock.Anything, "u1", "E1").Return(nil)
	f.profiles.On("Upsert", mock.Anything, domain.RemoteProfile{
		Email: "a@x.com", ExternalID: "E1", DisplayName: "Alice", Role: domain.RoleMember,
	}).Return(nil)

	outcome := f.svc.PushUser(ctx, user)

	require.True(t, outcome.Success)
	assert.True(t, outcome.IdentitySynced)
	assert.True(t, outcome.ProfileSynced)
	assert.Equal(t, "E1", outcome.ExternalID)
	f.users.AssertCalled(t, "SetExternalID", mock.Anything, "u1", "E1")
}

func TestPushUser_AdoptsExistingRemoteIdentity(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "a@x.com"}

	f.roles.On("AssignmentForScope", mock.Anything, "u1", "default").Return(nil, domain.ErrRoleNotFound)
	f.users.On("GetByID", mock.Anything, "u1").Return(user, nil)
	f.directory.On("FindByEmail", mock.Anything, "a@x.com").
		Return(&domain.RemoteIdentity{ExternalID: "E9", Email: "a@x.com"}, nil)
	f.users.On("SetExternalID", mock.Anything, "u1", "E9").Return(nil)
	f.profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	outcome := f.svc.PushUser(ctx, user)

	require.True(t, outcome.Success)
	assert.Equal(t, "E9", outcome.ExternalID)
	f.directory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestPushUser_SkipsRemoteWorkWhenAlreadyLinkedConcurrently(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "a@x.com"}
	linked := &domain.User{ID: "u1", Email: "a@x.com", ExternalID: strPtr("E5")}

	f.roles.On("AssignmentForScope", mock.Anything, "u1", "default").Return(nil, domain.ErrRoleNotFound)
	// A concurrent push linked the record while this one waited on the lock.
	f.users.On("GetByID", mock.Anything, "u1").Return(linked, nil)
	f.profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	outcome := f.svc.PushUser(ctx, user)

	require.True(t, outcome.Success)
	assert.Equal(t, "E5", outcome.ExternalID)
	f.directory.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	f.directory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestPushUser_PartialFailureIsVisible(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "a@x.com", ExternalID: strPtr("E1")}

	f.roles.On("AssignmentForScope", mock.Anything, "u1", "default").Return(nil, domain.ErrRoleNotFound)
	f.directory.On("Update", mock.Anything, "E1", mock.Anything).
		Return(&domain.RemoteError{Surface: "identity", Status: http.StatusUnprocessableEntity, Message: "bad metadata"})
	f.profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	outcome := f.svc.PushUser(ctx, user)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.IdentitySynced)
	assert.True(t, outcome.ProfileSynced)
	assert.Contains(t, outcome.Message, "identity update failed")
}

func TestPushUser_CreateFailureStopsBeforeProfile(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "bad-email", DisplayName: "X"}

	f.roles.On("AssignmentForScope", mock.Anything, "u1", "default").Return(nil, domain.ErrRoleNotFound)
	f.users.On("GetByID", mock.Anything, "u1").Return(user, nil)
	f.directory.On("FindByEmail", mock.Anything, "bad-email").Return(nil, nil)
	f.directory.On("Create", mock.Anything, "bad-email", mock.Anything).
		Return(nil, &domain.RemoteError{Surface: "identity", Status: http.StatusBadRequest, Message: "invalid email"})

	outcome := f.svc.PushUser(ctx, user)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.IdentitySynced)
	assert.False(t, outcome.ProfileSynced)
	assert.Contains(t, outcome.Message, "invalid email")
	f.profiles.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestPullIdentity_GrantsRemoteRole(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	remote := domain.RemoteIdentity{
		ExternalID: "E2",
		Email:      "b@x.com",
		Metadata:   domain.IdentityMetadata{Role: strPtr(domain.RoleAdmin)},
	}

	f.users.On("Upsert", mock.Anything, mock.MatchedBy(func(up domain.UserUpsert) bool {
		// An absent remote display name must not travel into the merge.
		return up.Email == "b@x.com" && up.ExternalID != nil && *up.ExternalID == "E2" && up.DisplayName == nil
	})).Return(&domain.User{ID: "u2", Email: "b@x.com", ExternalID: strPtr("E2")}, nil)
	f.roles.On("GetByName", mock.Anything, domain.RoleAdmin).
		Return(&domain.Role{ID: "r-admin", Name: domain.RoleAdmin}, nil)
	f.roles.On("AssignmentForScope", mock.Anything, "u2", "default").Return(nil, domain.ErrRoleNotFound)
	f.roles.On("ReplaceAssignment", mock.Anything, "u2", "r-admin", "default").Return(nil)

	outcome := f.svc.PullIdentity(ctx, remote)

	require.True(t, outcome.Success)
	assert.Equal(t, "E2", outcome.ExternalID)
	f.roles.AssertCalled(t, "ReplaceAssignment", mock.Anything, "u2", "r-admin", "default")
}

func TestPullIdentity_AmbiguousMatchIsTerminal(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	remote := domain.RemoteIdentity{ExternalID: "E3", Email: "c@x.com"}

	f.users.On("Upsert", mock.Anything, mock.Anything).
		Return(nil, &domain.AmbiguousMatchError{
			Email: "c@x.com", ExternalID: "E3",
			EmailMatchID: "u-a", ExternalIDMatchID: "u-b",
		})

	outcome := f.svc.PullIdentity(ctx, remote)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Message, "ambiguous match")
	f.roles.AssertNotCalled(t, "ReplaceAssignment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPropagateDelete_SkipsIdentitySurfaceWhenUnlinked(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "a@x.com"}

	f.profiles.On("DeleteByEmail", mock.Anything, "a@x.com").Return(nil)

	outcome := f.svc.PropagateDelete(ctx, user)

	require.True(t, outcome.Success)
	assert.True(t, outcome.IdentitySynced)
	assert.True(t, outcome.ProfileSynced)
	f.directory.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestPropagateDelete_ReportsPartialFailure(t *testing.T) {
	f := newSyncFixture()
	ctx := context.Background()
	user := &domain.User{ID: "u1", Email: "a@x.com", ExternalID: strPtr("E1")}

	f.directory.On("Delete", mock.Anything, "E1").
		Return(&domain.RemoteError{Surface: "identity", Status: http.StatusForbidden, Message: "denied"})
	f.profiles.On("DeleteByEmail", mock.Anything, "a@x.com").Return(nil)

	outcome := f.svc.PropagateDelete(ctx, user)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.IdentitySynced)
	assert.True(t, outcome.ProfileSynced)
}
