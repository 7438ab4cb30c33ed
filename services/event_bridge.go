package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/pilab-dev/idsync/domain"
	"github.com/pilab-dev/idsync/internal/metrics"
)

// mutationKind classifies a local mutation event.
type mutationKind int

const (
	mutationUpsert mutationKind = iota
	mutationDelete
)

type mutationEvent struct {
	kind   mutationKind
	user   *domain.User
	reason string
}

// ChangeFeed is a source of remote-originated change notifications. Next
// blocks until an event arrives or the feed fails; a failed feed is
// reconnected by the bridge's supervision loop.
type ChangeFeed interface {
	Next(ctx context.Context) (domain.RemoteChangeEvent, error)
}

// EventBridge turns local mutations into asynchronous push reconciliations
// and remote change notifications into pull reconciliations. Enqueueing is
// fire-and-forget: errors are logged, never raised back to the mutation's
// caller.
type EventBridge struct {
	sync  *SyncService
	users domain.UserRepository
	queue chan mutationEvent

	// perEventTimeout bounds the reconciliation triggered by one event.
	perEventTimeout time.Duration

	// reconnectInterval seeds the feed reconnect backoff.
	reconnectInterval time.Duration
}

// NewEventBridge creates the bridge with a bounded queue.
func NewEventBridge(syncSvc *SyncService, users domain.UserRepository, queueSize int) *EventBridge {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventBridge{
		sync:              syncSvc,
		users:             users,
		queue:             make(chan mutationEvent, queueSize),
		perEventTimeout:   30 * time.Second,
		reconnectInterval: time.Second,
	}
}

// NotifyUserChanged enqueues an asynchronous push reconciliation for the
// user. Called after local create/update and after billing-driven field
// updates; the caller never blocks and never sees sync errors.
func (b *EventBridge) NotifyUserChanged(user *domain.User, reason string) {
	b.enqueue(mutationEvent{kind: mutationUpsert, user: user, reason: reason})
}

// NotifyUserDeleted enqueues delete propagation for a locally deleted user.
func (b *EventBridge) NotifyUserDeleted(user *domain.User, reason string) {
	b.enqueue(mutationEvent{kind: mutationDelete, user: user, reason: reason})
}

func (b *EventBridge) enqueue(ev mutationEvent) {
	select {
	case b.queue <- ev:
	default:
		// Queue full. Dropping is acceptable: the next bulk pass reconverges
		// the record.
		inc(metrics.EventsDroppedTotal)
		log.Warn().Str("email", ev.user.Email).Str("reason", ev.reason).
			Msg("Event queue full, dropping mutation event")
	}
}

// Run drains the queue until ctx is cancelled. Start it once, in its own
// goroutine.
func (b *EventBridge) Run(ctx context.Context) {
	log.Info().Msg("Event bridge started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Event bridge stopped")
			return
		case ev := <-b.queue:
			b.handle(ctx, ev)
		}
	}
}

func (b *EventBridge) handle(ctx context.Context, ev mutationEvent) {
	evCtx, cancel := context.WithTimeout(ctx, b.perEventTimeout)
	defer cancel()

	var outcome domain.SyncOutcome
	switch ev.kind {
	case mutationUpsert:
		// Reload the record: the event may be stale by the time it runs.
		user, err := b.users.GetByID(evCtx, ev.user.ID)
		if err != nil {
			log.Warn().Err(err).Str("email", ev.user.Email).Str("reason", ev.reason).
				Msg("Skipping push for vanished record")
			return
		}
		outcome = b.sync.PushUser(evCtx, user)
	case mutationDelete:
		outcome = b.sync.PropagateDelete(evCtx, ev.user)
	}

	logEvent := log.Info()
	if !outcome.Success {
		logEvent = log.Warn()
	}
	logEvent.Str("email", ev.user.Email).
		Str("reason", ev.reason).
		Bool("identity_synced", outcome.IdentitySynced).
		Bool("profile_synced", outcome.ProfileSynced).
		Str("message", outcome.Message).
		Msg("Processed mutation event")
}

// HandleRemoteChange performs the pull algorithm for one remote-originated
// change notification. Pull is idempotent, so duplicate or out-of-order
// notifications are harmless.
func (b *EventBridge) HandleRemoteChange(ctx context.Context, ev domain.RemoteChangeEvent) domain.SyncOutcome {
	switch ev.Type {
	case domain.RemoteChangeInsert, domain.RemoteChangeUpdate:
		return b.sync.PullIdentity(ctx, ev.Identity)
	case domain.RemoteChangeDelete:
		return b.handleRemoteDelete(ctx, ev.Identity)
	default:
		return domain.FailedOutcome("unknown remote change type %q", ev.Type)
	}
}

// handleRemoteDelete removes the local record matching a remotely deleted
// identity. A record that is already gone counts as success.
func (b *EventBridge) handleRemoteDelete(ctx context.Context, remote domain.RemoteIdentity) domain.SyncOutcome {
	user, err := b.users.FindByEmailOrExternalID(ctx, remote.Email, remote.ExternalID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.SyncOutcome{Success: true, IdentitySynced: true, ProfileSynced: true,
				Message: "no local record to delete"}
		}
		return domain.FailedOutcome("failed to match remotely deleted identity: %v", err)
	}
	return b.sync.DeleteUser(ctx, user)
}

// Listen supervises a remote change feed: it pulls events until the feed
// fails, then reconnects with exponential backoff. It returns when ctx is
// cancelled.
func (b *EventBridge) Listen(ctx context.Context, feed ChangeFeed) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.reconnectInterval
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // keep reconnecting until cancelled

	for {
		ev, err := feed.Next(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Remote change listener stopped")
			return
		}
		if err != nil {
			wait := bo.NextBackOff()
			log.Warn().Err(err).Dur("retry_in", wait).Msg("Remote change feed failed, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		outcome := b.HandleRemoteChange(ctx, ev)
		if !outcome.Success {
			log.Warn().Str("type", string(ev.Type)).Str("email", ev.Identity.Email).
				Str("message", outcome.Message).Msg("Remote change reconciliation failed")
		}
	}
}
