package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/pilab-dev/idsync/domain"
	"github.com/pilab-dev/idsync/internal/metrics"
)

// SyncService is the reconciliation engine: it synchronizes one local record
// against both remote surfaces in a single direction per call.
type SyncService struct {
	users     domain.UserRepository
	roles     *RoleService
	directory domain.DirectoryClient
	profiles  domain.ProfileClient

	accountScope string
	maxAttempts  uint64

	// createLocks serializes the find/create/link window per email so two
	// concurrent pushes for the same user cannot both create a remote
	// identity.
	createLocks *keyedMutex
}

// NewSyncService creates the reconciliation engine.
func NewSyncService(
	users domain.UserRepository,
	roles *RoleService,
	directory domain.DirectoryClient,
	profiles domain.ProfileClient,
	accountScope string,
) *SyncService {
	if accountScope == "" {
		accountScope = "default"
	}
	return &SyncService{
		users:        users,
		roles:        roles,
		directory:    directory,
		profiles:     profiles,
		accountScope: accountScope,
		maxAttempts:  3,
		createLocks:  newKeyedMutex(),
	}
}

// withRetry runs op, retrying only transient remote failures with bounded
// exponential backoff. 4xx rejections never retry.
func (s *SyncService) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if domain.IsRetryable(err) {
			if attempt > 1 {
				inc(metrics.RemoteRetriesTotal)
			}
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxAttempts-1), ctx))
}

// PushUser reconciles one local record to both remote surfaces
// (local-authoritative).
func (s *SyncService) PushUser(ctx context.Context, user *domain.User) domain.SyncOutcome {
	roleName, err := s.roles.CurrentRoleName(ctx, user.ID, s.accountScope)
	if err != nil {
		return s.finishPush(domain.FailedOutcome("failed to resolve role for %s: %v", user.Email, err))
	}
	meta := domain.IdentityMetadata{Role: &roleName}
	if user.DisplayName != "" {
		name := user.DisplayName
		meta.DisplayName = &name
	}

	var problems []string
	identitySynced := false
	externalID := user.ExternalIDValue()

	if externalID == "" {
		linked, outcome := s.linkOrCreateIdentity(ctx, user, meta)
		if linked == "" {
			// No external id means the identity surface is unusable for this
			// record; the push stops here.
			return s.finishPush(outcome)
		}
		externalID = linked
		identitySynced = true
	} else {
		err := s.withRetry(ctx, func() error {
			return s.directory.Update(ctx, externalID, meta)
		})
		if err != nil {
			// Update failure leaves the surface unsynced but the profile
			// surface is still attempted; it only needs the email.
			log.Warn().Err(err).Str("email", user.Email).Msg("Identity surface update failed")
			problems = append(problems, fmt.Sprintf("identity update failed: %v", err))
		} else {
			identitySynced = true
		}
	}

	profileSynced := true
	profile := domain.RemoteProfile{
		Email:       user.Email,
		ExternalID:  externalID,
		DisplayName: user.DisplayName,
		Role:        roleName,
	}
	if err := s.withRetry(ctx, func() error { return s.profiles.Upsert(ctx, profile) }); err != nil {
		log.Warn().Err(err).Str("email", user.Email).Msg("Profile surface upsert failed")
		problems = append(problems, fmt.Sprintf("profile upsert failed: %v", err))
		profileSynced = false
	}

	outcome := domain.SyncOutcome{
		Success:        identitySynced && profileSynced,
		IdentitySynced: identitySynced,
		ProfileSynced:  profileSynced,
		ExternalID:     externalID,
		Message:        strings.Join(problems, "; "),
	}
	if outcome.Success {
		outcome.Message = fmt.Sprintf("synced %s to both surfaces", user.Email)
	}
	return s.finishPush(outcome)
}

// linkOrCreateIdentity resolves an external id for an unlinked record:
// adopt the directory's identity when the email already exists there,
// otherwise create one. Returns "" with a failure outcome when neither
// worked. The per-email lock covers the whole find/create/link window.
func (s *SyncService) linkOrCreateIdentity(ctx context.Context, user *domain.User, meta domain.IdentityMetadata) (string, domain.SyncOutcome) {
	unlock := s.createLocks.Lock(user.Email)
	defer unlock()

	// A concurrent push may have linked the record while we waited.
	if fresh, err := s.users.GetByID(ctx, user.ID); err == nil {
		if id := fresh.ExternalIDValue(); id != "" {
			return id, domain.SyncOutcome{}
		}
	}

	var found *domain.RemoteIdentity
	err := s.withRetry(ctx, func() error {
		remote, err := s.directory.FindByEmail(ctx, user.Email)
		if err != nil {
			return err
		}
		found = remote
		return nil
	})
	if err != nil {
		return "", domain.FailedOutcome("failed to look up %s in identity directory: %v", user.Email, err)
	}

	externalID := ""
	if found != nil {
		externalID = found.ExternalID
		log.Info().Str("email", user.Email).Str("external_id", externalID).
			Msg("Adopted existing remote identity")
	} else {
		var created *domain.RemoteIdentity
		err := s.withRetry(ctx, func() error {
			remote, err := s.directory.Create(ctx, user.Email, meta)
			if err != nil {
				return err
			}
			created = remote
			return nil
		})
		if err != nil {
			return "", domain.FailedOutcome("failed to create remote identity for %s: %v", user.Email, err)
		}
		externalID = created.ExternalID
		log.Info().Str("email", user.Email).Str("external_id", externalID).
			Msg("Created remote identity")
	}

	// Store the link before anything else proceeds, so a retry of this push
	// takes the update path instead of creating again.
	if err := s.users.SetExternalID(ctx, user.ID, externalID); err != nil {
		return "", domain.FailedOutcome("failed to store external id for %s: %v", user.Email, err)
	}
	return externalID, domain.SyncOutcome{}
}

// PullIdentity reconciles one remote identity into the local store
// (remote-authoritative). The remote record is given, so failure means only
// local-write failure.
func (s *SyncService) PullIdentity(ctx context.Context, remote domain.RemoteIdentity) domain.SyncOutcome {
	fields := domain.UserUpsert{Email: remote.Email}
	if remote.ExternalID != "" {
		id := remote.ExternalID
		fields.ExternalID = &id
	}
	if name := remote.Metadata.DisplayNameValue(); name != "" {
		fields.DisplayName = &name
	}

	user, err := s.users.Upsert(ctx, fields)
	if err != nil {
		outcome := domain.FailedOutcome("failed to upsert local record for %s: %v", remote.Email, err)
		outcome.ExternalID = remote.ExternalID
		inc(metrics.PullFailureTotal)
		return outcome
	}

	roleName := remote.Metadata.RoleOrDefault(s.roles.DefaultRoleName())
	role, err := s.roles.Resolve(ctx, roleName)
	if err == nil {
		err = s.roles.Grant(ctx, user.ID, role, s.accountScope)
	}
	if err != nil {
		inc(metrics.PullFailureTotal)
		return domain.SyncOutcome{
			Message:    fmt.Sprintf("record stored but role grant failed for %s: %v", remote.Email, err),
			ExternalID: remote.ExternalID,
		}
	}

	inc(metrics.PullSuccessTotal)
	return domain.SyncOutcome{
		Success:        true,
		IdentitySynced: true,
		ProfileSynced:  true,
		ExternalID:     remote.ExternalID,
		Message:        fmt.Sprintf("pulled %s into local store", remote.Email),
	}
}

// PropagateDelete removes the record from both remote surfaces, best effort.
// In the returned outcome the surface flags mean "deleted". A record with no
// external id has nothing on the identity surface; that counts as deleted.
func (s *SyncService) PropagateDelete(ctx context.Context, user *domain.User) domain.SyncOutcome {
	identityDeleted := true
	var problems []string

	if externalID := user.ExternalIDValue(); externalID != "" {
		err := s.withRetry(ctx, func() error { return s.directory.Delete(ctx, externalID) })
		if err != nil {
			log.Warn().Err(err).Str("email", user.Email).Msg("Identity surface delete failed")
			problems = append(problems, fmt.Sprintf("identity delete failed: %v", err))
			identityDeleted = false
		}
	}

	profileDeleted := true
	if err := s.withRetry(ctx, func() error { return s.profiles.DeleteByEmail(ctx, user.Email) }); err != nil {
		log.Warn().Err(err).Str("email", user.Email).Msg("Profile surface delete failed")
		problems = append(problems, fmt.Sprintf("profile delete failed: %v", err))
		profileDeleted = false
	}

	outcome := domain.SyncOutcome{
		Success:        identityDeleted && profileDeleted,
		IdentitySynced: identityDeleted,
		ProfileSynced:  profileDeleted,
		ExternalID:     user.ExternalIDValue(),
		Message:        strings.Join(problems, "; "),
	}
	if outcome.Success {
		outcome.Message = fmt.Sprintf("deleted %s from both surfaces", user.Email)
	}
	return outcome
}

// DeleteUser propagates the delete to both remote surfaces and then removes
// the local record. Each step is attempted regardless of earlier failures.
func (s *SyncService) DeleteUser(ctx context.Context, user *domain.User) domain.SyncOutcome {
	outcome := s.PropagateDelete(ctx, user)

	if err := s.roles.RevokeAll(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to remove role assignments")
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to delete local record")
		if outcome.Message != "" {
			outcome.Message += "; "
		}
		outcome.Message += fmt.Sprintf("local delete failed: %v", err)
		outcome.Success = false
	}
	return outcome
}

func (s *SyncService) finishPush(outcome domain.SyncOutcome) domain.SyncOutcome {
	if outcome.Success {
		inc(metrics.PushSuccessTotal)
	} else {
		inc(metrics.PushFailureTotal)
	}
	if outcome.IdentitySynced != outcome.ProfileSynced {
		inc(metrics.PartialSyncTotal)
	}
	return outcome
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
