package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/idsync/domain"
)

func TestNotifyUserChanged_TriggersAsyncPush(t *testing.T) {
	f := newSyncFixture()
	bridge := NewEventBridge(f.svc, f.users, 8)
	user := &domain.User{ID: "u1", Email: "a@x.com", ExternalID: strPtr("E1")}

	upserted := make(chan struct{})
	f.users.On("GetByID", mock.Anything, "u1").Return(user, nil)
	f.roles.On("AssignmentForScope", mock.Anything, "u1", "default").Return(nil, domain.ErrRoleNotFound)
	f.directory.On("Update", mock.Anything, "E1", mock.Anything).Return(nil)
	f.profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil).
		Run(func(mock.Arguments) { close(upserted) }).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	bridge.NotifyUserChanged(user, "billing update")

	select {
	case <-upserted:
	case <-time.After(2 * time.Second):
		t.Fatal("push reconciliation was never triggered")
	}
}

func TestNotifyUserChanged_DropsWhenQueueFull(t *testing.T) {
	f := newSyncFixture()
	// Queue of one, no worker running: the second notify must not block.
	bridge := NewEventBridge(f.svc, f.users, 1)
	user := &domain.User{ID: "u1", Email: "a@x.com"}

	done := make(chan struct{})
	go func() {
		bridge.NotifyUserChanged(user, "first")
		bridge.NotifyUserChanged(user, "second")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyUserChanged blocked on a full queue")
	}
}

func TestHandleRemoteChange_InsertRunsPull(t *testing.T) {
	f := newSyncFixture()
	bridge := NewEventBridge(f.svc, f.users, 8)

	f.users.On("Upsert", mock.Anything, mock.Anything).
		Return(&domain.User{ID: "u2", Email: "b@x.com"}, nil)
	f.roles.On("GetByName", mock.Anything, domain.RoleMember).
		Return(&domain.Role{ID: "r-member", Name: domain.RoleMember}, nil)
	f.roles.On("AssignmentForScope", mock.Anything, "u2", "default").Return(nil, domain.ErrRoleNotFound)
	f.roles.On("ReplaceAssignment", mock.Anything, "u2", "r-member", "default").Return(nil)

	outcome := bridge.HandleRemoteChange(context.Background(), domain.RemoteChangeEvent{
		Type:     domain.RemoteChangeInsert,
		Identity: domain.RemoteIdentity{ExternalID: "E2", Email: "b@x.com"},
	})
	require.True(t, outcome.Success)

	// The same notification delivered again converges on the same state.
	outcome = bridge.HandleRemoteChange(context.Background(), domain.RemoteChangeEvent{
		Type:     domain.RemoteChangeUpdate,
		Identity: domain.RemoteIdentity{ExternalID: "E2", Email: "b@x.com"},
	})
	require.True(t, outcome.Success)
}

func TestHandleRemoteChange_DeleteWithoutLocalRecordSucceeds(t *testing.T) {
	f := newSyncFixture()
	bridge := NewEventBridge(f.svc, f.users, 8)

	f.users.On("FindByEmailOrExternalID", mock.Anything, "gone@x.com", "E7").
		Return(nil, domain.ErrUserNotFound)

	outcome := bridge.HandleRemoteChange(context.Background(), domain.RemoteChangeEvent{
		Type:     domain.RemoteChangeDelete,
		Identity: domain.RemoteIdentity{ExternalID: "E7", Email: "gone@x.com"},
	})
	assert.True(t, outcome.Success)
}

// scriptedFeed fails a fixed number of Next calls, then delivers one event,
// then blocks until the context is cancelled.
type scriptedFeed struct {
	mu       sync.Mutex
	failures int
	event    domain.RemoteChangeEvent
	sent     bool
}

func (f *scriptedFeed) Next(ctx context.Context) (domain.RemoteChangeEvent, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return domain.RemoteChangeEvent{}, errors.New("feed connection lost")
	}
	if !f.sent {
		f.sent = true
		f.mu.Unlock()
		return f.event, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return domain.RemoteChangeEvent{}, ctx.Err()
}

func TestListen_ReconnectsAfterFeedFailure(t *testing.T) {
	f := newSyncFixture()
	bridge := NewEventBridge(f.svc, f.users, 8)
	bridge.reconnectInterval = time.Millisecond

	pulled := make(chan struct{})
	f.users.On("Upsert", mock.Anything, mock.Anything).
		Return(&domain.User{ID: "u2", Email: "b@x.com"}, nil)
	f.roles.On("GetByName", mock.Anything, domain.RoleMember).
		Return(&domain.Role{ID: "r-member", Name: domain.RoleMember}, nil)
	f.roles.On("AssignmentForScope", mock.Anything, "u2", "default").Return(nil, domain.ErrRoleNotFound)
	f.roles.On("ReplaceAssignment", mock.Anything, "u2", "r-member", "default").Return(nil).
		Run(func(mock.Arguments) { close(pulled) }).Once()

	feed := &scriptedFeed{
		failures: 2,
		event: domain.RemoteChangeEvent{
			Type:     domain.RemoteChangeInsert,
			Identity: domain.RemoteIdentity{ExternalID: "E2", Email: "b@x.com"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		bridge.Listen(ctx, feed)
		close(stopped)
	}()

	select {
	case <-pulled:
	case <-time.After(2 * time.Second):
		t.Fatal("event after feed failures was never reconciled")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Listen did not return on cancellation")
	}
}

func TestHandleRemoteChange_UnknownTypeFails(t *testing.T) {
	f := newSyncFixture()
	bridge := NewEventBridge(f.svc, f.users, 8)

	outcome := bridge.HandleRemoteChange(context.Background(), domain.RemoteChangeEvent{
		Type: domain.RemoteChangeType("TRUNCATE"),
	})
	assert.False(t, outcome.Success)
}
