package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pilab-dev/idsync/domain"
)

// --- Mock Implementations ---

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) FindByEmailOrExternalID(ctx context.Context, email, externalID string) (*domain.User, error) {
	args := m.Called(ctx, email, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) Upsert(ctx context.Context, fields domain.UserUpsert) (*domain.User, error) {
	args := m.Called(ctx, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) SetExternalID(ctx context.Context, userID, externalID string) error {
	args := m.Called(ctx, userID, externalID)
	return args.Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUserRepository) List(ctx context.Context, pageToken string, pageSize int) ([]*domain.User, string, error) {
	args := m.Called(ctx, pageToken, pageSize)
	var users []*domain.User
	if args.Get(0) != nil {
		users = args.Get(0).([]*domain.User)
	}
	return users, args.String(1), args.Error(2)
}

type MockRoleRepository struct {
	mock.Mock
}

func (m *MockRoleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Role), args.Error(1)
}

func (m *MockRoleRepository) GetOrCreateByName(ctx context.Context, name string) (*domain.Role, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Role), args.Error(1)
}

func (m *MockRoleRepository) RoleByID(ctx context.Context, id string) (*domain.Role, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Role), args.Error(1)
}

func (m *MockRoleRepository) AssignmentForScope(ctx context.Context, userID, scope string) (*domain.RoleAssignment, error) {
	args := m.Called(ctx, userID, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoleAssignment), args.Error(1)
}

func (m *MockRoleRepository) ReplaceAssignment(ctx context.Context, userID, roleID, scope string) error {
	args := m.Called(ctx, userID, roleID, scope)
	return args.Error(0)
}

func (m *MockRoleRepository) RemoveAssignments(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockDirectoryClient struct {
	mock.Mock
}

func (m *MockDirectoryClient) Each(ctx context.Context, fn func(domain.RemoteIdentity) error) error {
	args := m.Called(ctx, fn)
	if identities, ok := args.Get(0).([]domain.RemoteIdentity); ok {
		for _, id := range identities {
			if err := fn(id); err != nil {
				return err
			}
		}
		return args.Error(1)
	}
	return args.Error(1)
}

func (m *MockDirectoryClient) FindByEmail(ctx context.Context, email string) (*domain.RemoteIdentity, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RemoteIdentity), args.Error(1)
}

func (m *MockDirectoryClient) Create(ctx context.Context, email string, meta domain.IdentityMetadata) (*domain.RemoteIdentity, error) {
	args := m.Called(ctx, email, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RemoteIdentity), args.Error(1)
}

func (m *MockDirectoryClient) Update(ctx context.Context, externalID string, meta domain.IdentityMetadata) error {
	args := m.Called(ctx, externalID, meta)
	return args.Error(0)
}

func (m *MockDirectoryClient) Delete(ctx context.Context, externalID string) error {
	args := m.Called(ctx, externalID)
	return args.Error(0)
}

func (m *MockDirectoryClient) GetByID(ctx context.Context, externalID string) (*domain.RemoteIdentity, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RemoteIdentity), args.Error(1)
}

type MockProfileClient struct {
	mock.Mock
}

func (m *MockProfileClient) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockProfileClient) Upsert(ctx context.Context, profile domain.RemoteProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockProfileClient) DeleteByEmail(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

var (
	_ domain.UserRepository  = (*MockUserRepository)(nil)
	_ domain.RoleRepository  = (*MockRoleRepository)(nil)
	_ domain.DirectoryClient = (*MockDirectoryClient)(nil)
	_ domain.ProfileClient   = (*MockProfileClient)(nil)
)
