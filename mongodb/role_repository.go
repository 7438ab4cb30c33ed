package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pilab-dev/idsync/domain"
)

// RoleRepository implements domain.RoleRepository over MongoDB.
type RoleRepository struct {
	roles       *mongo.Collection
	assignments *mongo.Collection
}

// NewRoleRepository creates a RoleRepository and ensures its indexes.
func NewRoleRepository(ctx context.Context, db *mongo.Database) (*RoleRepository, error) {
	repo := &RoleRepository{
		roles:       db.Collection(RolesCollection),
		assignments: db.Collection(RoleAssignmentsCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create role indexes")
	}
	return repo, nil
}

func (r *RoleRepository) createIndexes(ctx context.Context) error {
	_, err := r.roles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create role name index: %w", err)
	}

	// One assignment per (user, scope); the index is the invariant's guard
	// against racing ReplaceAssignment calls.
	_, err = r.assignments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "account_scope", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create assignment index: %w", err)
	}
	return nil
}

// GetByName retrieves a role by name.
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.roles.FindOne(ctx, bson.M{"name": name}).Decode(&role)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

// GetOrCreateByName retrieves a role, creating it when absent.
func (r *RoleRepository) GetOrCreateByName(ctx context.Context, name string) (*domain.Role, error) {
	role, err := r.GetByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, domain.ErrRoleNotFound) {
		return nil, err
	}

	created := &domain.Role{ID: uuid.NewString(), Name: name}
	if _, err := r.roles.InsertOne(ctx, created); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost a creation race; the winner's role is the one to use.
			return r.GetByName(ctx, name)
		}
		return nil, err
	}
	return created, nil
}

// RoleByID retrieves a role by id.
func (r *RoleRepository) RoleByID(ctx context.Context, id string) (*domain.Role, error) {
	var role domain.Role
	err := r.roles.FindOne(ctx, bson.M{"_id": id}).Decode(&role)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

// AssignmentForScope returns the user's assignment in the scope.
func (r *RoleRepository) AssignmentForScope(ctx context.Context, userID, scope string) (*domain.RoleAssignment, error) {
	var assignment domain.RoleAssignment
	err := r.assignments.FindOne(ctx, bson.M{"user_id": userID, "account_scope": scope}).Decode(&assignment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, err
	}
	return &assignment, nil
}

// ReplaceAssignment detaches whatever the user holds in the scope and
// attaches the given role. Exposed as one repository operation so no caller
// observes a zero-role window through this API.
func (r *RoleRepository) ReplaceAssignment(ctx context.Context, userID, roleID, scope string) error {
	_, err := r.assignments.DeleteMany(ctx, bson.M{"user_id": userID, "account_scope": scope})
	if err != nil {
		return fmt.Errorf("failed to detach roles for user %s in scope %s: %w", userID, scope, err)
	}
	assignment := &domain.RoleAssignment{
		ID:           uuid.NewString(),
		UserID:       userID,
		RoleID:       roleID,
		AccountScope: scope,
	}
	if _, err := r.assignments.InsertOne(ctx, assignment); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// A concurrent replace landed between the delete and the insert;
			// the (user, scope) index kept the invariant, so keep the winner.
			return nil
		}
		return fmt.Errorf("failed to attach role %s for user %s: %w", roleID, userID, err)
	}
	return nil
}

// RemoveAssignments drops every assignment a user holds, across scopes.
func (r *RoleRepository) RemoveAssignments(ctx context.Context, userID string) error {
	_, err := r.assignments.DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}

var _ domain.RoleRepository = (*RoleRepository)(nil)
