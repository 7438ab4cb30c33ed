package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pilab-dev/idsync/domain"
)

// UserRepository implements domain.UserRepository over MongoDB.
type UserRepository struct {
	db    *mongo.Database
	users *mongo.Collection
}

// NewUserRepository creates a UserRepository and ensures its indexes.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{
		db:    db,
		users: db.Collection(UsersCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		// Index creation commonly fails when compatible indexes already
		// exist; the unique constraints still hold in that case.
		log.Warn().Err(err).Msg("Failed to create user indexes")
	}
	return repo, nil
}

func (r *UserRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			// Sparse: external_id is unique only when present.
			Keys:    bson.D{{Key: "external_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	}
	_, err := r.users.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for users collection: %w", err)
	}
	return nil
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if _, err := r.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email %s", domain.ErrDuplicateUser, user.Email)
		}
		log.Error().Err(err).Str("email", user.Email).Msg("Error creating user")
		return err
	}
	return nil
}

// GetByID retrieves a user by local id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByEmailOrExternalID resolves a record by either matching key. The two
// lookups are run separately so a dual match on different records can be
// detected and reported instead of silently preferring one key.
func (r *UserRepository) FindByEmailOrExternalID(ctx context.Context, email, externalID string) (*domain.User, error) {
	var byEmail *domain.User
	if email != "" {
		u, err := r.GetByEmail(ctx, email)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		byEmail = u
	}

	var byExternal *domain.User
	if externalID != "" {
		var u domain.User
		err := r.users.FindOne(ctx, bson.M{"external_id": externalID}).Decode(&u)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		if err == nil {
			byExternal = &u
		}
	}

	switch {
	case byEmail != nil && byExternal != nil && byEmail.ID != byExternal.ID:
		return nil, &domain.AmbiguousMatchError{
			Email:             email,
			ExternalID:        externalID,
			EmailMatchID:      byEmail.ID,
			ExternalIDMatchID: byExternal.ID,
		}
	case byEmail != nil:
		return byEmail, nil
	case byExternal != nil:
		return byExternal, nil
	default:
		return nil, domain.ErrUserNotFound
	}
}

// Upsert creates the record when no key matches, otherwise merges the
// supplied fields into the existing record. Absent or empty incoming values
// never overwrite existing non-empty local values.
func (r *UserRepository) Upsert(ctx context.Context, fields domain.UserUpsert) (*domain.User, error) {
	externalID := ""
	if fields.ExternalID != nil {
		externalID = *fields.ExternalID
	}

	existing, err := r.FindByEmailOrExternalID(ctx, fields.Email, externalID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	if existing == nil {
		user := &domain.User{Email: fields.Email}
		if externalID != "" {
			user.ExternalID = &externalID
		}
		if fields.DisplayName != nil {
			user.DisplayName = *fields.DisplayName
		}
		if err := r.Create(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if fields.DisplayName != nil && *fields.DisplayName != "" {
		set["display_name"] = *fields.DisplayName
	}
	if fields.Email != "" && fields.Email != existing.Email {
		// Matched by external id with a changed remote email: the remote owns
		// the email on this path, so move the record to the new address.
		log.Info().
			Str("user_id", existing.ID).
			Str("old_email", existing.Email).
			Str("new_email", fields.Email).
			Msg("Upsert moving record to updated email")
		set["email"] = fields.Email
	}
	if externalID != "" {
		if have := existing.ExternalIDValue(); have == "" {
			set["external_id"] = externalID
		} else if have != externalID {
			// The record is already linked to a different remote identity.
			// Keep the local link; relinking needs an explicit decision.
			log.Warn().
				Str("user_id", existing.ID).
				Str("local_external_id", have).
				Str("incoming_external_id", externalID).
				Msg("Upsert ignored conflicting external id")
		}
	}

	res := r.users.FindOneAndUpdate(ctx,
		bson.M{"_id": existing.ID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var updated domain.User
	if err := res.Decode(&updated); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// The target email already belongs to another record.
			return nil, fmt.Errorf("%w: email %s", domain.ErrDuplicateUser, fields.Email)
		}
		return nil, err
	}
	return &updated, nil
}

// SetExternalID links a record to a remote identity. The filter only matches
// an unlinked record, so the first writer wins and a concurrent push cannot
// relink the record to a different identity.
func (r *UserRepository) SetExternalID(ctx context.Context, userID, externalID string) error {
	res, err := r.users.UpdateOne(ctx,
		bson.M{"_id": userID, "external_id": bson.M{"$in": bson.A{nil, ""}}},
		bson.M{"$set": bson.M{"external_id": externalID, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		current, getErr := r.GetByID(ctx, userID)
		if getErr != nil {
			return getErr
		}
		if current.ExternalIDValue() == externalID {
			return nil // already linked to the same identity
		}
		return fmt.Errorf("user %s already linked to external id %s", userID, current.ExternalIDValue())
	}
	return nil
}

// Delete removes a user record.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// List retrieves a page of users. pageToken is a skip offset, "" for the
// first page; the returned token is "" once the listing is exhausted.
func (r *UserRepository) List(ctx context.Context, pageToken string, pageSize int) ([]*domain.User, string, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	skip := int64(0)
	if pageToken != "" {
		parsed, err := strconv.ParseInt(pageToken, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token %q: %w", pageToken, err)
		}
		skip = parsed
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(int64(pageSize))
	cursor, err := r.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, "", err
	}
	defer cursor.Close(ctx)

	var users []*domain.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, "", err
	}

	next := ""
	if len(users) == pageSize {
		next = strconv.FormatInt(skip+int64(pageSize), 10)
	}
	return users, next, nil
}

var _ domain.UserRepository = (*UserRepository)(nil)
