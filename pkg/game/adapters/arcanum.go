package adapters

import (
	"fmt"
	"time"

	"github.com/deckmate/tablesync/pkg/game/types"
)

const (
	// GameTypeArcanum is the registry key for the Arcanum reference adapter.
	GameTypeArcanum = "arcanum"

	arcanumStartingLife = 20
	arcanumOpeningHand  = 7
)

var arcanumZones = []string{"library", "hand", "battlefield", "graveyard", "exile"}

// ArcanumAdapter implements a duel-style trading card game: per-player
// library/hand/battlefield/graveyard/exile zones, a shared life race
// starting at 20, and tapping of battlefield permanents.
type ArcanumAdapter struct{}

// NewArcanumAdapter creates the Arcanum reference adapter.
func NewArcanumAdapter() *ArcanumAdapter {
	return &ArcanumAdapter{}
}

func (a *ArcanumAdapter) GameType() string {
	return GameTypeArcanum
}

func (a *ArcanumAdapter) Name() string {
	return "Arcanum Duels"
}

func (a *ArcanumAdapter) CreateInitialState(config Config) (*types.GameState, error) {
	if len(config.Seats) < 2 {
		return nil, fmt.Errorf("arcanum requires at least 2 players, got %d", len(config.Seats))
	}

	state := types.NewGameState(GameTypeArcanum)
	state.Timestamp = time.Now().UnixMilli()

	for _, seat := range config.Seats {
		state.Players[seat.PlayerID] = &types.Player{
			ID:   seat.PlayerID,
			Name: seat.Name,
			Life: arcanumStartingLife,
		}
		state.TurnOrder = append(state.TurnOrder, seat.PlayerID)

		for _, zoneName := range arcanumZones {
			state.Zones[types.ZoneKey(seat.PlayerID, zoneName)] = &types.Zone{
				Name:    zoneName,
				Owner:   seat.PlayerID,
				Ordered: zoneName == "library",
			}
		}

		library := state.Zones[types.ZoneKey(seat.PlayerID, "library")]
		for _, card := range seat.Deck {
			library.Cards = append(library.Cards, card.Clone())
		}

		if err := drawCards(state, seat.PlayerID, "library", "hand", min(arcanumOpeningHand, len(seat.Deck))); err != nil {
			return nil, fmt.Errorf("failed to deal opening hand for %s: %w", seat.PlayerID, err)
		}
	}

	return state, nil
}

func (a *ArcanumAdapter) ValidateState(state *types.GameState) []error {
	var errs []error
	if state.GameType != GameTypeArcanum {
		errs = append(errs, fmt.Errorf("game type is %s, want %s", state.GameType, GameTypeArcanum))
	}
	for playerID := range state.Players {
		for _, zoneName := range arcanumZones {
			if _, ok := state.Zones[types.ZoneKey(playerID, zoneName)]; !ok {
				errs = append(errs, fmt.Errorf("player %s is missing zone %s", playerID, zoneName))
			}
		}
	}
	for _, playerID := range state.TurnOrder {
		if _, ok := state.Players[playerID]; !ok {
			errs = append(errs, fmt.Errorf("turn order references unknown player %s", playerID))
		}
	}
	return errs
}

func (a *ArcanumAdapter) ValidateAction(action *types.Action, state *types.GameState) error {
	if _, ok := state.Players[action.PlayerID]; !ok && action.Type != types.ActionTypeNoop {
		return fmt.Errorf("player %s is not in this game", action.PlayerID)
	}

	switch action.Type {
	case types.ActionTypeTap, types.ActionTypeUntap:
		var p types.TapPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		zoneKey, _, card, ok := state.FindCard(p.CardID)
		if !ok {
			return fmt.Errorf("card %s is not on the table", p.CardID)
		}
		if state.Zones[zoneKey].Name != "battlefield" {
			return fmt.Errorf("card %s is not on the battlefield", p.CardID)
		}
		if action.Type == types.ActionTypeTap && card.Tapped {
			return fmt.Errorf("card %s is already tapped", p.CardID)
		}
		if action.Type == types.ActionTypeUntap && !card.Tapped {
			return fmt.Errorf("card %s is not tapped", p.CardID)
		}
		return nil
	case types.ActionTypeDraw:
		var p types.DrawPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		count := p.Count
		if count == 0 {
			count = 1
		}
		library := state.Zones[types.ZoneKey(action.PlayerID, "library")]
		if library == nil || len(library.Cards) < count {
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
		if _, ok := state.Zones[p.ToZone]; !ok {
			return fmt.Errorf("unknown destination zone %s", p.ToZone)
		}
		for _, c := range source.Cards {
			if c.ID == p.CardID {
				return nil
			}
		}
		return fmt.Errorf("card %s is not in zone %s", p.CardID, p.FromZone)
	case types.ActionTypeChangeLife:
		var p types.ChangeLifePayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		if _, ok := state.Players[p.TargetPlayerID]; !ok {
			return fmt.Errorf("unknown player %s", p.TargetPlayerID)
		}
		return nil
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
		if _, ok := state.Zones[p.ZoneKey]; !ok {
			return fmt.Errorf("unknown zone %s", p.ZoneKey)
		}
		return nil
	case types.ActionTypeEndTurn, types.ActionTypeNoop:
		return nil
	default:
		return fmt.Errorf("unsupported action type %s", action.Type)
	}
}

func (a *ArcanumAdapter) ApplyAction(action *types.Action, state *types.GameState) (*types.GameState, error) {
	next := state.Clone()
	handled, err := applyShared(action, next, "library", "hand")
	if err != nil {
		return nil, err
	}
	if !handled {
		return nil, fmt.Errorf("unsupported action type %s", action.Type)
	}
	return next, nil
}

func (a *ArcanumAdapter) IsGameOver(state *types.GameState) bool {
	alive := 0
	for _, player := range state.Players {
		if player.Life > 0 {
			alive++
		}
	}
	return len(state.Players) > 1 && alive <= 1
}

func (a *ArcanumAdapter) Winner(state *types.GameState) (string, bool) {
	if !a.IsGameOver(state) {
		return "", false
	}
	for id, player := range state.Players {
		if player.Life > 0 {
			return id, true
		}
	}
	// Everyone is at zero or below; the game is a draw.
	return "", false
}

func (a *ArcanumAdapter) LegalActions(state *types.GameState, playerID string) []*types.Action {
	var actions []*types.Action

	library := state.Zones[types.ZoneKey(playerID, "library")]
	if library != nil && len(library.Cards) > 0 {
		actions = append(actions, &types.Action{
			Type:     types.ActionTypeDraw,
			PlayerID: playerID,
			Payload:  types.MustPayload(types.DrawPayload{Count: 1}),
		})
	}

	battlefield := state.Zones[types.ZoneKey(playerID, "battlefield")]
	if battlefield != nil {
		for _, card := range battlefield.Cards {
			actionType := types.ActionTypeTap
			if card.Tapped {
				actionType = types.ActionTypeUntap
			}
			actions = append(actions, &types.Action{
				Type:     actionType,
				PlayerID: playerID,
				Payload:  types.MustPayload(types.TapPayload{CardID: card.ID}),
			})
		}
	}

	hand := state.Zones[types.ZoneKey(playerID, "hand")]
	if hand != nil {
		for _, card := range hand.Cards {
			actions = append(actions, &types.Action{
				Type:     types.ActionTypeMoveZone,
				PlayerID: playerID,
				Payload: types.MustPayload(types.MoveZonePayload{
					CardID:   card.ID,
					FromZone: types.ZoneKey(playerID, "hand"),
					ToZone:   types.ZoneKey(playerID, "battlefield"),
					Position: -1,
				}),
			})
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

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
