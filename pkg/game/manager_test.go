package game

import (
	"fmt"
	"testing"

	"github.com/deckmate/tablesync/pkg/game/adapters"
	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, window int) *Manager {
	t.Helper()
	adapter := adapters.NewArcanumAdapter()
	initial, err := adapter.CreateInitialState(adapters.DemoConfig(20))
	require.NoError(t, err)
	return NewManager(NewManagerOptions{
		Adapter:       adapter,
		InitialState:  initial,
		HistoryWindow: window,
	})
}

func submitDraw(t *testing.T, m *Manager, playerID string, base uint64) *ApplyResult {
	t.Helper()
	result, err := m.ApplyAction(&types.Action{
		ID:                   fmt.Sprintf("%s-draw-%d", playerID, base),
		Type:                 types.ActionTypeDraw,
		PlayerID:             playerID,
		Payload:              types.MustPayload(types.DrawPayload{Count: 1}),
		PreviousStateVersion: base,
	})
	require.NoError(t, err)
	return result
}

func handSize(state *types.GameState, playerID string) int {
	return len(state.Zones[types.ZoneKey(playerID, "hand")].Cards)
}

func TestManager_versionsAreMonotonic(t *testing.T) {
	m := newTestManager(t, 0)

	for i := 0; i < 5; i++ {
		base := m.Version()
		result := submitDraw(t, m, "player1", base)
		assert.Equal(t, base+1, result.State.Version)
		assert.Equal(t, base+1, m.Version())
	}
}

func TestManager_simultaneousDraws(t *testing.T) {
	m := newTestManager(t, 0)
	base := m.Version()

	first := submitDraw(t, m, "player1", base)
	second := submitDraw(t, m, "player2", base)

	assert.False(t, first.Noop)
	assert.False(t, second.Noop)
	assert.Equal(t, base+2, second.State.Version)
	assert.Equal(t, 8, handSize(second.State, "player1"))
	assert.Equal(t, 8, handSize(second.State, "player2"))
}

func TestManager_simultaneousTapsCollapse(t *testing.T) {
	m := newTestManager(t, 0)

	// Put a card from player1's hand onto the battlefield so it can be
	// tapped at all.
	cardID := m.Current().Zones[types.ZoneKey("player1", "hand")].Cards[0].ID
	_, err := m.ApplyAction(&types.Action{
		ID:       "play-card",
		Type:     types.ActionTypeMoveZone,
		PlayerID: "player1",
		Payload: types.MustPayload(types.MoveZonePayload{
			CardID:   cardID,
			FromZone: types.ZoneKey("player1", "hand"),
			ToZone:   types.ZoneKey("player1", "battlefield"),
			Position: -1,
		}),
		PreviousStateVersion: m.Version(),
	})
	require.NoError(t, err)

	base := m.Version()
	tap := func(id, playerID string) *types.Action {
		return &types.Action{
			ID:                   id,
			Type:                 types.ActionTypeTap,
			PlayerID:             playerID,
			Payload:              types.MustPayload(types.TapPayload{CardID: cardID}),
			PreviousStateVersion: base,
		}
	}

	first, err := m.ApplyAction(tap("tap-1", "player1"))
	require.NoError(t, err)
	second, err := m.ApplyAction(tap("tap-2", "player2"))
	require.NoError(t, err)

	// Exactly one version was produced and the card is tapped once.
	assert.False(t, first.Noop)
	assert.True(t, second.Noop)
	assert.Equal(t, base+1, m.Version())
	_, _, card, ok := m.Current().FindCard(cardID)
	require.True(t, ok)
	assert.True(t, card.Tapped)

	noops := m.NoopLog()
	require.Len(t, noops, 1)
	assert.Equal(t, "tap-2", noops[0].ID)
}

func TestManager_undoRedoSymmetry(t *testing.T) {
	m := newTestManager(t, 0)

	submitDraw(t, m, "player1", 0)
	afterTwo := submitDraw(t, m, "player2", 1).State

	undone, err := m.Undo(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), undone.Version)
	assert.Equal(t, uint64(1), m.Version())

	redone, err := m.Redo(1)
	require.NoError(t, err)
	assert.True(t, afterTwo.Equal(redone))
	assert.Equal(t, uint64(2), m.Version())
}

func TestManager_undoBounds(t *testing.T) {
	m := newTestManager(t, 0)
	submitDraw(t, m, "player1", 0)

	_, err := m.Undo(2)
	assert.ErrorIs(t, err, ErrHistoryEvicted)

	_, err = m.Redo(1)
	assert.ErrorIs(t, err, ErrHistoryEvicted)
}

func TestManager_newActionTruncatesRedo(t *testing.T) {
	m := newTestManager(t, 0)

	submitDraw(t, m, "player1", 0)
	submitDraw(t, m, "player2", 1)

	_, err := m.Undo(1)
	require.NoError(t, err)

	// Acting from the undone position discards the redo horizon.
	submitDraw(t, m, "player1", 1)

	_, err = m.Redo(1)
	assert.ErrorIs(t, err, ErrHistoryEvicted)
	assert.Equal(t, uint64(2), m.Version())
}

func TestManager_evictedBaseVersion(t *testing.T) {
	m := newTestManager(t, 3)

	players := []string{"player1", "player2"}
	for i := 0; i < 6; i++ {
		submitDraw(t, m, players[i%2], m.Version())
	}

	// Version 0 fell out of the retained window.
	_, err := m.ApplyAction(&types.Action{
		ID:                   "stale",
		Type:                 types.ActionTypeDraw,
		PlayerID:             "player1",
		Payload:              types.MustPayload(types.DrawPayload{Count: 1}),
		PreviousStateVersion: 0,
	})
	assert.ErrorIs(t, err, ErrHistoryEvicted)
}

func TestManager_futureBaseVersion(t *testing.T) {
	m := newTestManager(t, 0)

	_, err := m.ApplyAction(&types.Action{
		ID:                   "from-the-future",
		Type:                 types.ActionTypeDraw,
		PlayerID:             "player1",
		Payload:              types.MustPayload(types.DrawPayload{Count: 1}),
		PreviousStateVersion: 99,
	})
	assert.ErrorIs(t, err, ErrFutureVersion)
}

func TestManager_invalidActionRejected(t *testing.T) {
	m := newTestManager(t, 0)

	_, err := m.ApplyAction(&types.Action{
		ID:                   "greedy",
		Type:                 types.ActionTypeDraw,
		PlayerID:             "player1",
		Payload:              types.MustPayload(types.DrawPayload{Count: 99}),
		PreviousStateVersion: m.Version(),
	})
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Equal(t, uint64(0), m.Version())
}
