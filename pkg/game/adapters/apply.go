package adapters

import (
	"fmt"
	"math/rand"

	"github.com/deckmate/tablesync/pkg/game/types"
)

// Shared zone mechanics. The reference adapters differ in zone layout,
// legality rules, and win conditions; the low-level card plumbing is
// identical and lives here.

func tapCard(state *types.GameState, cardID string, tapped bool) error {
	_, _, card, ok := state.FindCard(cardID)
	if !ok {
		return fmt.Errorf("card %s is not on the table", cardID)
	}
	card.Tapped = tapped
	return nil
}

// drawCards moves count cards from the top of the source zone to the
// end of the destination zone.
func drawCards(state *types.GameState, playerID, sourceName, destName string, count int) error {
	source, ok := state.Zones[types.ZoneKey(playerID, sourceName)]
	if !ok {
		return fmt.Errorf("player %s has no %s zone", playerID, sourceName)
	}
	dest, ok := state.Zones[types.ZoneKey(playerID, destName)]
	if !ok {
		return fmt.Errorf("player %s has no %s zone", playerID, destName)
	}
	if len(source.Cards) < count {
		return fmt.Errorf("player %s has %d cards in %s, cannot draw %d", playerID, len(source.Cards), sourceName, count)
	}
	dest.Cards = append(dest.Cards, source.Cards[:count]...)
	source.Cards = source.Cards[count:]
	return nil
}

// moveCard moves a card between zones, inserting at position
// (-1 appends).
func moveCard(state *types.GameState, cardID, fromZone, toZone string, position int) error {
	source, ok := state.Zones[fromZone]
	if !ok {
		return fmt.Errorf("unknown source zone %s", fromZone)
	}
	dest, ok := state.Zones[toZone]
	if !ok {
		return fmt.Errorf("unknown destination zone %s", toZone)
	}

	index := -1
	for i, c := range source.Cards {
		if c.ID == cardID {
			index = i
			break
		}
	}
	if index == -1 {
		return fmt.Errorf("card %s is not in zone %s", cardID, fromZone)
	}

	card := source.Cards[index]
	source.Cards = append(source.Cards[:index], source.Cards[index+1:]...)

	if position < 0 || position >= len(dest.Cards) {
		dest.Cards = append(dest.Cards, card)
		return nil
	}
	dest.Cards = append(dest.Cards[:position], append([]*types.Card{card}, dest.Cards[position:]...)...)
	return nil
}

func changeLife(state *types.GameState, targetPlayerID string, delta int) error {
	player, ok := state.Players[targetPlayerID]
	if !ok {
		return fmt.Errorf("unknown player %s", targetPlayerID)
	}
	player.Life += delta
	return nil
}

func adjustCounters(state *types.GameState, cardID, kind string, count int) error {
	_, _, card, ok := state.FindCard(cardID)
	if !ok {
		return fmt.Errorf("card %s is not on the table", cardID)
	}
	if card.Counters == nil {
		card.Counters = make(map[string]int)
	}
	card.Counters[kind] += count
	if card.Counters[kind] <= 0 {
		delete(card.Counters, kind)
	}
	return nil
}

// shuffleZone permutes an ordered zone with a deterministic seed so
// every replica of the action produces the same order.
func shuffleZone(state *types.GameState, zoneKey string, seed int64) error {
	zone, ok := state.Zones[zoneKey]
	if !ok {
		return fmt.Errorf("unknown zone %s", zoneKey)
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(zone.Cards), func(i, j int) {
		zone.Cards[i], zone.Cards[j] = zone.Cards[j], zone.Cards[i]
	})
	return nil
}

func advanceTurn(state *types.GameState) {
	if len(state.TurnOrder) == 0 {
		return
	}
	state.CurrentTurn = (state.CurrentTurn + 1) % len(state.TurnOrder)
}

// applyShared handles the action types whose mechanics do not differ
// between the reference adapters. The bool result reports whether the
// action type was handled here.
func applyShared(action *types.Action, state *types.GameState, drawSource, drawDest string) (bool, error) {
	switch action.Type {
	case types.ActionTypeNoop:
		return true, nil
	case types.ActionTypeTap, types.ActionTypeUntap:
		var p types.TapPayload
		if err := action.DecodePayload(&p); err != nil {
			return true, err
		}
		return true, tapCard(state, p.CardID, action.Type == types.ActionTypeTap)
	case types.ActionTypeDraw:
		var p types.DrawPayload
		if err := action.DecodePayload(&p); err != nil {
			return true, err
		}
		count := p.Count
		if count == 0 {
			count = 1
		}
		return true, drawCards(state, action.PlayerID, drawSource, drawDest, count)
	case types.ActionTypeChangeLife:
		var p types.ChangeLifePayload
		if err := action.DecodePayload(&p); err != nil {
			return true, err
		}
		return true, changeLife(state, p.TargetPlayerID, p.Delta)
	case types.ActionTypeMoveZone:
		var p types.MoveZonePayload
		if err := action.DecodePayload(&p); err != nil {
			return true, err
		}
		return true, moveCard(state, p.CardID, p.FromZone, p.ToZone, p.Position)
	case types.ActionTypeAddCounter:
		var p types.CounterPayload
		if err := action.DecodePayload(&p); err != nil {
			return true, err
		}
		return true, adjustCounters(state, p.CardID, p.Kind, p.Count)
	case types.ActionTypeRemoveCounter:
		var p types.CounterPayload
		if err := action.DecodePayload(&p); err != nil {
			return true, err
		}
		return true, adjustCounters(state, p.CardID, p.Kind, -p.Count)
	case types.ActionTypeShuffle:
		var p types.ShufflePayload
		if err := action.DecodePayload(&p); err != nil {
			return true, err
		}
		return true, shuffleZone(state, p.ZoneKey, p.Seed)
	case types.ActionTypeEndTurn:
		advanceTurn(state)
		return true, nil
	}
	return false, nil
}
