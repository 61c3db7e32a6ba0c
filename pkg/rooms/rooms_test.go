package rooms

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deckmate/tablesync/pkg/game/adapters"
	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshStateProvider(ctx context.Context, adapter adapters.Adapter, sessionID string) (*types.GameState, error) {
	return adapter.CreateInitialState(adapters.DemoConfig(20))
}

func newTestRegistry(t *testing.T, opts NewRegistryOptions) *Registry {
	t.Helper()
	if opts.Adapters == nil {
		registry := adapters.NewRegistry()
		require.NoError(t, registry.Register(adapters.NewArcanumAdapter()))
		opts.Adapters = registry
	}
	if opts.StateProvider == nil {
		opts.StateProvider = freshStateProvider
	}
	return NewRegistry(opts)
}

func TestRegistry_joinCreatesRoomLazily(t *testing.T) {
	r := newTestRegistry(t, NewRegistryOptions{})
	ctx := context.Background()

	assert.Equal(t, 0, r.Count())

	room, err := r.JoinRoom(ctx, "session-1", adapters.GameTypeArcanum, "conn-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, room.MemberCount())
	assert.True(t, room.HasMember("conn-1"))

	// A second join reuses the room.
	again, err := r.JoinRoom(ctx, "session-1", adapters.GameTypeArcanum, "conn-2", "bob")
	require.NoError(t, err)
	assert.Same(t, room, again)
	assert.Equal(t, 2, room.MemberCount())
}

func TestRegistry_joinUnknownGameType(t *testing.T) {
	r := newTestRegistry(t, NewRegistryOptions{})

	_, err := r.JoinRoom(context.Background(), "session-1", "chess", "conn-1", "alice")
	assert.ErrorIs(t, err, adapters.ErrAdapterNotFound)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_joinRejectsGameTypeMismatch(t *testing.T) {
	r := newTestRegistry(t, NewRegistryOptions{})
	ctx := context.Background()

	room, err := r.JoinRoom(ctx, "session-1", adapters.GameTypeArcanum, "conn-1", "alice")
	require.NoError(t, err)

	// The session is already an arcanum table; a join naming any other
	// game type must not be seated.
	_, err = r.JoinRoom(ctx, "session-1", "chess", "conn-2", "bob")
	assert.ErrorIs(t, err, ErrGameTypeMismatch)
	assert.Equal(t, 1, room.MemberCount())
	assert.False(t, room.HasMember("conn-2"))
}

func TestRegistry_concurrentJoinsCreateOneRoom(t *testing.T) {
	// The state provider blocks so that every waiter piles up on the
	// creation lock before the room exists.
	block := make(chan struct{})
	var calls int
	var mu sync.Mutex
	r := newTestRegistry(t, NewRegistryOptions{
		StateProvider: func(ctx context.Context, adapter adapters.Adapter, sessionID string) (*types.GameState, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			<-block
			return adapter.CreateInitialState(adapters.DemoConfig(20))
		},
	})

	const joiners = 8
	var wg sync.WaitGroup
	roomsSeen := make([]*Room, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := r.JoinRoom(context.Background(), "session-1", adapters.GameTypeArcanum, fmt.Sprintf("conn-%d", i), "alice")
			assert.NoError(t, err)
			roomsSeen[i] = room
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, calls, "state provider ran once")
	for i := 1; i < joiners; i++ {
		assert.Same(t, roomsSeen[0], roomsSeen[i])
	}
	room, err := r.Get("session-1")
	require.NoError(t, err)
	assert.Equal(t, joiners, room.MemberCount())
}

func TestRegistry_creationLockTimeout(t *testing.T) {
	holding := make(chan struct{})
	block := make(chan struct{})
	r := newTestRegistry(t, NewRegistryOptions{
		LockTimeout: 50 * time.Millisecond,
		StateProvider: func(ctx context.Context, adapter adapters.Adapter, sessionID string) (*types.GameState, error) {
			close(holding)
			<-block
			return adapter.CreateInitialState(adapters.DemoConfig(20))
		},
	})
	defer close(block)

	go func() {
		_, _ = r.JoinRoom(context.Background(), "session-1", adapters.GameTypeArcanum, "conn-1", "alice")
	}()
	<-holding

	_, err := r.JoinRoom(context.Background(), "session-1", adapters.GameTypeArcanum, "conn-2", "bob")
	assert.ErrorIs(t, err, ErrRoomLockTimeout)
}

func TestRegistry_leaveAndReap(t *testing.T) {
	r := newTestRegistry(t, NewRegistryOptions{GracePeriod: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := r.JoinRoom(ctx, "session-1", adapters.GameTypeArcanum, "conn-1", "alice")
	require.NoError(t, err)

	// An occupied room is never reaped.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.ReapIdle())

	require.NoError(t, r.LeaveRoom("session-1", "conn-1"))
	assert.Empty(t, r.PeekIdle(), "grace period has not elapsed yet")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"session-1"}, r.PeekIdle())
	assert.Equal(t, []string{"session-1"}, r.ReapIdle())
	assert.Equal(t, 0, r.Count())

	err = r.LeaveRoom("session-1", "conn-1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistry_rejoinResetsEmptyClock(t *testing.T) {
	r := newTestRegistry(t, NewRegistryOptions{GracePeriod: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := r.JoinRoom(ctx, "session-1", adapters.GameTypeArcanum, "conn-1", "alice")
	require.NoError(t, err)
	require.NoError(t, r.LeaveRoom("session-1", "conn-1"))

	// Rejoining before the reaper runs keeps the room alive.
	_, err = r.JoinRoom(ctx, "session-1", adapters.GameTypeArcanum, "conn-2", "alice")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.ReapIdle())
}
