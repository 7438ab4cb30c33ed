package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pilab-dev/idsync/domain"
)

const listPageSize = 100

// UserFilter selects which local records a bulk push covers. nil means all.
// An alias, so callers can pass plain func literals across package borders.
type UserFilter = func(*domain.User) bool

// BulkService runs reconciliation over whole record sets with a bounded
// worker pool and a shared rate limiter. One bad record never aborts the
// batch: every per-record failure, including a panic, becomes a failed
// outcome in the result.
type BulkService struct {
	sync      *SyncService
	users     domain.UserRepository
	directory domain.DirectoryClient

	workers int
	limiter *rate.Limiter
}

// NewBulkService creates the bulk runner. ratePerSec is shared across all
// workers to respect remote rate limits.
func NewBulkService(syncSvc *SyncService, users domain.UserRepository, directory domain.DirectoryClient, workers int, ratePerSec float64) *BulkService {
	if workers <= 0 {
		workers = 4
	}
	limit := rate.Limit(ratePerSec)
	if ratePerSec <= 0 {
		limit = rate.Inf
	}
	return &BulkService{
		sync:      syncSvc,
		users:     users,
		directory: directory,
		workers:   workers,
		limiter:   rate.NewLimiter(limit, workers),
	}
}

// RunPush reconciles every local record (matching filter, when given) to the
// remote surfaces. Cancelling ctx stops dispatching new records; the partial
// result up to that point is still returned alongside ctx's error.
func (b *BulkService) RunPush(ctx context.Context, filter UserFilter) (*domain.BulkSyncResult, error) {
	result := &domain.BulkSyncResult{}
	var mu sync.Mutex

	g := &errgroup.Group{}
	g.SetLimit(b.workers)

	pageToken := ""
	var dispatchErr error
dispatch:
	for {
		users, next, err := b.users.List(ctx, pageToken, listPageSize)
		if err != nil {
			dispatchErr = fmt.Errorf("failed to list local users: %w", err)
			break
		}
		for _, user := range users {
			if ctx.Err() != nil {
				dispatchErr = ctx.Err()
				break dispatch
			}
			if filter != nil && !filter(user) {
				continue
			}
			user := user
			g.Go(func() error {
				outcome := b.guarded(ctx, user.Email, func() domain.SyncOutcome {
					return b.sync.PushUser(ctx, user)
				})
				mu.Lock()
				result.Add(user.Email, outcome)
				mu.Unlock()
				return nil
			})
		}
		if next == "" {
			break
		}
		pageToken = next
	}

	_ = g.Wait()
	log.Info().Int("total", result.Total).Int("successful", result.Successful).
		Int("failed", result.Failed).Msg("Bulk push finished")
	return result, dispatchErr
}

// RunPull walks the remote directory listing and reconciles every remote
// identity into the local store.
func (b *BulkService) RunPull(ctx context.Context) (*domain.BulkSyncResult, error) {
	result := &domain.BulkSyncResult{}
	var mu sync.Mutex

	g := &errgroup.Group{}
	g.SetLimit(b.workers)

	walkErr := b.directory.Each(ctx, func(remote domain.RemoteIdentity) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.Go(func() error {
			key := remote.Email
			if key == "" {
				key = remote.ExternalID
			}
			outcome := b.guarded(ctx, key, func() domain.SyncOutcome {
				return b.sync.PullIdentity(ctx, remote)
			})
			mu.Lock()
			result.Add(key, outcome)
			mu.Unlock()
			return nil
		})
		return nil
	})

	_ = g.Wait()
	log.Info().Int("total", result.Total).Int("successful", result.Successful).
		Int("failed", result.Failed).Msg("Bulk pull finished")
	return result, walkErr
}

// RunBoth runs a push pass then a pull pass.
func (b *BulkService) RunBoth(ctx context.Context) (push, pull *domain.BulkSyncResult, err error) {
	push, err = b.RunPush(ctx, nil)
	if err != nil {
		return push, nil, err
	}
	pull, err = b.RunPull(ctx)
	return push, pull, err
}

// guarded applies the shared rate limit and converts panics and limiter
// errors into failed outcomes, keeping the batch alive.
func (b *BulkService) guarded(ctx context.Context, key string, run func() domain.SyncOutcome) (outcome domain.SyncOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("key", key).Msg("Reconciliation panicked")
			outcome = domain.FailedOutcome("reconciliation panicked: %v", r)
		}
	}()
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.FailedOutcome("cancelled before dispatch: %v", err)
	}
	return run()
}
