package adapters

import (
	"fmt"
	"time"

	"github.com/deckmate/tablesync/pkg/game/types"
)

const (
	// GameTypeMonarchs is the registry key for the Monarchs reference adapter.
	GameTypeMonarchs = "monarchs"

	monarchsOpeningHand = 7
	monarchsPrizeCount  = 6
	monarchsBenchLimit  = 5
)

var monarchsZones = []string{"deck", "hand", "active", "bench", "prizes", "discard"}

// MonarchsAdapter implements a prize-race trading card game with a
// deliberately different table shape from Arcanum: per-player
// deck/hand/active/bench/prizes/discard zones, a bench size limit,
// no tapping, and a win condition of collecting all prize cards.
// Its existence alongside Arcanum is what keeps the synchronization
// core honest about making no game-specific assumptions.
type MonarchsAdapter struct{}

// NewMonarchsAdapter creates the Monarchs reference adapter.
func NewMonarchsAdapter() *MonarchsAdapter {
	return &MonarchsAdapter{}
}

func (m *MonarchsAdapter) GameType() string {
	return GameTypeMonarchs
}

func (m *MonarchsAdapter) Name() string {
	return "Monarchs of the Realm"
}

func (m *MonarchsAdapter) CreateInitialState(config Config) (*types.GameState, error) {
	if len(config.Seats) != 2 {
		return nil, fmt.Errorf("monarchs is a two-player game, got %d seats", len(config.Seats))
	}

	state := types.NewGameState(GameTypeMonarchs)
	state.Timestamp = time.Now().UnixMilli()

	for _, seat := range config.Seats {
		if len(seat.Deck) < monarchsOpeningHand+monarchsPrizeCount {
			return nil, fmt.Errorf("player %s deck has %d cards, need at least %d", seat.PlayerID, len(seat.Deck), monarchsOpeningHand+monarchsPrizeCount)
		}

		state.Players[seat.PlayerID] = &types.Player{
			ID:   seat.PlayerID,
			Name: seat.Name,
		}
		state.TurnOrder = append(state.TurnOrder, seat.PlayerID)

		for _, zoneName := range monarchsZones {
			state.Zones[types.ZoneKey(seat.PlayerID, zoneName)] = &types.Zone{
				Name:    zoneName,
				Owner:   seat.PlayerID,
				Ordered: zoneName == "deck" || zoneName == "prizes",
			}
		}

		deck := state.Zones[types.ZoneKey(seat.PlayerID, "deck")]
		for _, card := range seat.Deck {
			deck.Cards = append(deck.Cards, card.Clone())
		}

		// Prizes face down first, then the opening hand.
		if err := drawCards(state, seat.PlayerID, "deck", "prizes", monarchsPrizeCount); err != nil {
			return nil, fmt.Errorf("failed to set prizes for %s: %w", seat.PlayerID, err)
		}
		for _, card := range state.Zones[types.ZoneKey(seat.PlayerID, "prizes")].Cards {
			card.FaceDown = true
		}
		if err := drawCards(state, seat.PlayerID, "deck", "hand", monarchsOpeningHand); err != nil {
			return nil, fmt.Errorf("failed to deal opening hand for %s: %w", seat.PlayerID, err)
		}
	}

	return state, nil
}

func (m *MonarchsAdapter) ValidateState(state *types.GameState) []error {
	var errs []error
	if state.GameType != GameTypeMonarchs {
		errs = append(errs, fmt.Errorf("game type is %s, want %s", state.GameType, GameTypeMonarchs))
	}
	for playerID := range state.Players {
		for _, zoneName := range monarchsZones {
			if _, ok := state.Zones[types.ZoneKey(playerID, zoneName)]; !ok {
				errs = append(errs, fmt.Errorf("player %s is missing zone %s", playerID, zoneName))
			}
		}
		bench := state.Zones[types.ZoneKey(playerID, "bench")]
		if bench != nil && len(bench.Cards) > monarchsBenchLimit {
			errs = append(errs, fmt.Errorf("player %s bench has %d cards, limit is %d", playerID, len(bench.Cards), monarchsBenchLimit))
		}
		active := state.Zones[types.ZoneKey(playerID, "active")]
		if active != nil && len(active.Cards) > 1 {
			errs = append(errs, fmt.Errorf("player %s has %d active cards, limit is 1", playerID, len(active.Cards)))
		}
	}
	return errs
}

func (m *MonarchsAdapter) ValidateAction(action *types.Action, state *types.GameState) error {
	if _, ok := state.Players[action.PlayerID]; !ok && action.Type != types.ActionTypeNoop {
		return fmt.Errorf("player %s is not in this game", action.PlayerID)
	}

	switch action.Type {
	case types.ActionTypeTap, types.ActionTypeUntap:
		// Tapping is not a Monarchs mechanic.
		return fmt.Errorf("%s is not a legal monarchs action", action.Type)
	case types.ActionTypeChangeLife:
		// No life totals either; damage is tracked with counters.
		return fmt.Errorf("monarchs has no life totals")
	case types.ActionTypeDraw:
		var p types.DrawPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		count := p.Count
		if count == 0 {
			count = 1
		}
		deck := state.Zones[types.ZoneKey(action.PlayerID, "deck")]
		if deck == nil || len(deck.Cards) < count {
			return fmt.Errorf("player %s cannot draw %d cards", action.PlayerID, count)
		}
		return nil
	case types.ActionTypeMoveZone:
		var p types.MoveZonePayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		source, ok := state.Zones[p.FromZone]
		if !ok {
			return fmt.Errorf("unknown source zone %s", p.FromZone)
		}
		dest, ok := state.Zones[p.ToZone]
		if !ok {
			return fmt.Errorf("unknown destination zone %s", p.ToZone)
		}
		if dest.Name == "bench" && len(dest.Cards) >= monarchsBenchLimit {
			return fmt.Errorf("bench is full")
		}
		if dest.Name == "active" && len(dest.Cards) >= 1 {
			return fmt.Errorf("active spot is occupied")
		}
		for _, c := range source.Cards {
			if c.ID == p.CardID {
				return nil
			}
		}
		return fmt.Errorf("card %s is not in zone %s", p.CardID, p.FromZone)
	case types.ActionTypeAddCounter, types.ActionTypeRemoveCounter:
		var p types.CounterPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		if _, _, _, ok := state.FindCard(p.CardID); !ok {
			return fmt.Errorf("card %s is not on the table", p.CardID)
		}
		return nil
	case types.ActionTypeShuffle:
		var p types.ShufflePayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		zone, ok := state.Zones[p.ZoneKey]
		if !ok {
			return fmt.Errorf("unknown zone %s", p.ZoneKey)
		}
		if zone.Name != "deck" {
			return fmt.Errorf("only decks may be shuffled")
		}
		return nil
	case types.ActionTypeEndTurn, types.ActionTypeNoop:
		return nil
	default:
		return fmt.Errorf("unsupported action type %s", action.Type)
	}
}

func (m *MonarchsAdapter) ApplyAction(action *types.Action, state *types.GameState) (*types.GameState, error) {
	next := state.Clone()
	handled, err := applyShared(action, next, "deck", "hand")
	if err != nil {
		return nil, err
	}
	if !handled {
		return nil, fmt.Errorf("unsupported action type %s", action.Type)
	}
	return next, nil
}

// IsGameOver reports game end: a player has taken all their prizes, or
// a player cannot draw from an empty deck (deck-out).
func (m *MonarchsAdapter) IsGameOver(state *types.GameState) bool {
	_, ok := m.Winner(state)
	return ok
}

func (m *MonarchsAdapter) Winner(state *types.GameState) (string, bool) {
	for playerID := range state.Players {
		prizes := state.Zones[types.ZoneKey(playerID, "prizes")]
		if prizes != nil && len(prizes.Cards) == 0 {
			return playerID, true
		}
	}
	for playerID := range state.Players {
		deck := state.Zones[types.ZoneKey(playerID, "deck")]
		if deck != nil && len(deck.Cards) == 0 {
			// The opponent of the decked-out player wins.
			for otherID := range state.Players {
				if otherID != playerID {
					return otherID, true
				}
			}
		}
	}
	return "", false
}

func (m *MonarchsAdapter) LegalActions(state *types.GameState, playerID string) []*types.Action {
	var actions []*types.Action

	deck := state.Zones[types.ZoneKey(playerID, "deck")]
	if deck != nil && len(deck.Cards) > 0 {
		actions = append(actions, &types.Action{
			Type:     types.ActionTypeDraw,
			PlayerID: playerID,
			Payload:  types.MustPayload(types.DrawPayload{Count: 1}),
		})
	}

	hand := state.Zones[types.ZoneKey(playerID, "hand")]
	bench := state.Zones[types.ZoneKey(playerID, "bench")]
	active := state.Zones[types.ZoneKey(playerID, "active")]
	if hand != nil {
		for _, card := range hand.Cards {
			if bench != nil && len(bench.Cards) < monarchsBenchLimit {
				actions = append(actions, &types.Action{
					Type:     types.ActionTypeMoveZone,
					PlayerID: playerID,
					Payload: types.MustPayload(types.MoveZonePayload{
						CardID:   card.ID,
						FromZone: types.ZoneKey(playerID, "hand"),
						ToZone:   types.ZoneKey(playerID, "bench"),
						Position: -1,
					}),
				})
			}
			if active != nil && len(active.Cards) == 0 {
				actions = append(actions, &types.Action{
					Type:     types.ActionTypeMoveZone,
					PlayerID: playerID,
					Payload: types.MustPayload(types.MoveZonePayload{
						CardID:   card.ID,
						FromZone: types.ZoneKey(playerID, "hand"),
						ToZone:   types.ZoneKey(playerID, "active"),
						Position: -1,
					}),
				})
			}
		}
	}

	if len(state.TurnOrder) > 0 && state.TurnOrder[state.CurrentTurn] == playerID {
		actions = append(actions, &types.Action{
			Type:     types.ActionTypeEndTurn,
			PlayerID: playerID,
		})
	}

	return actions
}
