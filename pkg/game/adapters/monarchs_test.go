package adapters

import (
	"testing"

	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonarchsState(t *testing.T) *types.GameState {
	t.Helper()
	state, err := NewMonarchsAdapter().CreateInitialState(DemoConfig(20))
	require.NoError(t, err)
	return state
}

func TestMonarchs_initialState(t *testing.T) {
	state := newMonarchsState(t)

	assert.Equal(t, GameTypeMonarchs, state.GameType)
	for _, playerID := range state.TurnOrder {
		prizes := state.Zones[types.ZoneKey(playerID, "prizes")]
		require.Len(t, prizes.Cards, 6)
		for _, card := range prizes.Cards {
			assert.True(t, card.FaceDown, "prizes are set face down")
		}
		assert.Len(t, state.Zones[types.ZoneKey(playerID, "hand")].Cards, 7)
		assert.Len(t, state.Zones[types.ZoneKey(playerID, "deck")].Cards, 7)
	}

	assert.Empty(t, NewMonarchsAdapter().ValidateState(state))
}

func TestMonarchs_isStrictlyTwoPlayer(t *testing.T) {
	config := DemoConfig(20)
	config.Seats = config.Seats[:1]
	_, err := NewMonarchsAdapter().CreateInitialState(config)
	assert.Error(t, err)
}

func TestMonarchs_rejectsForeignMechanics(t *testing.T) {
	adapter := NewMonarchsAdapter()
	state := newMonarchsState(t)
	cardID := state.Zones[types.ZoneKey("player1", "hand")].Cards[0].ID

	tap := &types.Action{
		ID:       "tap-1",
		Type:     types.ActionTypeTap,
		PlayerID: "player1",
		Payload:  types.MustPayload(types.TapPayload{CardID: cardID}),
	}
	assert.Error(t, adapter.ValidateAction(tap, state))

	life := &types.Action{
		ID:       "life-1",
		Type:     types.ActionTypeChangeLife,
		PlayerID: "player1",
		Payload:  types.MustPayload(types.ChangeLifePayload{TargetPlayerID: "player2", Delta: -1}),
	}
	assert.Error(t, adapter.ValidateAction(life, state))
}

func TestMonarchs_benchLimit(t *testing.T) {
	adapter := NewMonarchsAdapter()
	state := newMonarchsState(t)

	hand := state.Zones[types.ZoneKey("player1", "hand")]
	playToBench := func(cardID string) *types.Action {
		return &types.Action{
			ID:       "bench-" + cardID,
			Type:     types.ActionTypeMoveZone,
			PlayerID: "player1",
			Payload: types.MustPayload(types.MoveZonePayload{
				CardID:   cardID,
				FromZone: types.ZoneKey("player1", "hand"),
				ToZone:   types.ZoneKey("player1", "bench"),
				Position: -1,
			}),
		}
	}

	var err error
	for i := 0; i < 5; i++ {
		action := playToBench(hand.Cards[0].ID)
		require.NoError(t, adapter.ValidateAction(action, state))
		state, err = adapter.ApplyAction(action, state)
		require.NoError(t, err)
		hand = state.Zones[types.ZoneKey("player1", "hand")]
	}

	sixth := playToBench(hand.Cards[0].ID)
	assert.Error(t, adapter.ValidateAction(sixth, state), "bench holds at most 5")
}

func TestMonarchs_activeSpotHoldsOne(t *testing.T) {
	adapter := NewMonarchsAdapter()
	state := newMonarchsState(t)
	hand := state.Zones[types.ZoneKey("player1", "hand")]

	promote := func(cardID string) *types.Action {
		return &types.Action{
			ID:       "active-" + cardID,
			Type:     types.ActionTypeMoveZone,
			PlayerID: "player1",
			Payload: types.MustPayload(types.MoveZonePayload{
				CardID:   cardID,
				FromZone: types.ZoneKey("player1", "hand"),
				ToZone:   types.ZoneKey("player1", "active"),
				Position: -1,
			}),
		}
	}

	first := promote(hand.Cards[0].ID)
	require.NoError(t, adapter.ValidateAction(first, state))
	state, err := adapter.ApplyAction(first, state)
	require.NoError(t, err)

	second := promote(state.Zones[types.ZoneKey("player1", "hand")].Cards[0].ID)
	assert.Error(t, adapter.ValidateAction(second, state))
}

func TestMonarchs_winByPrizes(t *testing.T) {
	adapter := NewMonarchsAdapter()
	state := newMonarchsState(t)

	assert.False(t, adapter.IsGameOver(state))

	state.Zones[types.ZoneKey("player1", "prizes")].Cards = nil
	winner, ok := adapter.Winner(state)
	require.True(t, ok)
	assert.Equal(t, "player1", winner)
}

func TestMonarchs_winByDeckOut(t *testing.T) {
	adapter := NewMonarchsAdapter()
	state := newMonarchsState(t)

	state.Zones[types.ZoneKey("player2", "deck")].Cards = nil
	winner, ok := adapter.Winner(state)
	require.True(t, ok)
	assert.Equal(t, "player1", winner)
}

func TestMonarchs_shuffleOnlyDecks(t *testing.T) {
	adapter := NewMonarchsAdapter()
	state := newMonarchsState(t)

	shuffleHand := &types.Action{
		ID:       "shuffle-1",
		Type:     types.ActionTypeShuffle,
		PlayerID: "player1",
		Payload: types.MustPayload(types.ShufflePayload{
			ZoneKey: types.ZoneKey("player1", "hand"),
			Seed:    7,
		}),
	}
	assert.Error(t, adapter.ValidateAction(shuffleHand, state))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewArcanumAdapter()))
	require.NoError(t, r.Register(NewMonarchsAdapter()))
	assert.ErrorIs(t, r.Register(NewArcanumAdapter()), ErrAdapterRegistered)

	adapter, err := r.Get(GameTypeArcanum)
	require.NoError(t, err)
	assert.Equal(t, GameTypeArcanum, adapter.GameType())

	_, err = r.Get("chess")
	assert.ErrorIs(t, err, ErrAdapterNotFound)

	games := r.ListSupportedGames()
	assert.Len(t, games, 2)
}
