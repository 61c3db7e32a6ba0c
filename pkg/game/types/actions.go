package types

import (
	"encoding/json"
	"fmt"
)

// ActionType identifies the kind of table mutation an action performs.
type ActionType string

const (
	ActionTypeTap           ActionType = "tap"
	ActionTypeUntap         ActionType = "untap"
	ActionTypeDraw          ActionType = "draw"
	ActionTypeChangeLife    ActionType = "change_life"
	ActionTypeMoveZone      ActionType = "move_zone"
	ActionTypeAddCounter    ActionType = "add_counter"
	ActionTypeRemoveCounter ActionType = "remove_counter"
	ActionTypeShuffle       ActionType = "shuffle"
	ActionTypeEndTurn       ActionType = "end_turn"
	// ActionTypeNoop is what an action collapses to when conflict
	// transformation determines it has no remaining effect.
	ActionTypeNoop ActionType = "noop"
)

// Action is one discrete, player-submitted table mutation. An action is
// only meaningful relative to the state version it was created against;
// the manager transforms stale actions before applying them.
type Action struct {
	ID                    string          `json:"id"`
	Type                  ActionType      `json:"type"`
	PlayerID              string          `json:"playerId"`
	Timestamp             int64           `json:"timestamp"`
	Payload               json.RawMessage `json:"payload,omitempty"`
	PreviousStateVersion  uint64          `json:"previousStateVersion"`
	ResultingStateVersion uint64          `json:"resultingStateVersion,omitempty"`
}

// TapPayload taps or untaps a single card.
type TapPayload struct {
	CardID string `json:"cardId"`
}

// DrawPayload draws from the owner's library/deck into their hand.
type DrawPayload struct {
	Count int `json:"count"`
}

// ChangeLifePayload applies a numeric delta to a player's life total.
type ChangeLifePayload struct {
	TargetPlayerID string `json:"targetPlayerId"`
	Delta          int    `json:"delta"`
}

// MoveZonePayload moves a card between zones. Position -1 appends.
type MoveZonePayload struct {
	CardID   string `json:"cardId"`
	FromZone string `json:"fromZone"`
	ToZone   string `json:"toZone"`
	Position int    `json:"position"`
}

// CounterPayload adds or removes counters on a card.
type CounterPayload struct {
	CardID string `json:"cardId"`
	Kind   string `json:"kind"`
	Count  int    `json:"count"`
}

// ShufflePayload shuffles an ordered zone with a caller-provided seed
// so every replica produces the same permutation.
type ShufflePayload struct {
	ZoneKey string `json:"zoneKey"`
	Seed    int64  `json:"seed"`
}

// DecodePayload unmarshals the action payload into dst.
func (a *Action) DecodePayload(dst interface{}) error {
	if len(a.Payload) == 0 {
		return fmt.Errorf("action %s has no payload", a.ID)
	}
	if err := json.Unmarshal(a.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", a.Type, err)
	}
	return nil
}

// MustPayload marshals a payload struct, panicking on failure. Intended
// for constructing actions from known-good payload types.
func MustPayload(payload interface{}) json.RawMessage {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal action payload: %v", err))
	}
	return b
}

// TargetID returns the identifier the action mutates: the card for
// card-scoped actions, the player for life changes, the zone for
// shuffles. Actions without a shared mutable target return "".
// Two concurrent actions can only conflict when their targets match.
func (a *Action) TargetID() string {
	switch a.Type {
	case ActionTypeTap, ActionTypeUntap:
		var p TapPayload
		if err := a.DecodePayload(&p); err != nil {
			return ""
		}
		return p.CardID
	case ActionTypeMoveZone:
		var p MoveZonePayload
		if err := a.DecodePayload(&p); err != nil {
			return ""
		}
		return p.CardID
	case ActionTypeAddCounter, ActionTypeRemoveCounter:
		var p CounterPayload
		if err := a.DecodePayload(&p); err != nil {
			return ""
		}
		return p.CardID
	case ActionTypeChangeLife:
		var p ChangeLifePayload
		if err := a.DecodePayload(&p); err != nil {
			return ""
		}
		return p.TargetPlayerID
	case ActionTypeShuffle:
		var p ShufflePayload
		if err := a.DecodePayload(&p); err != nil {
			return ""
		}
		return p.ZoneKey
	default:
		return ""
	}
}

// Clone returns a copy of the action with its own payload buffer.
func (a *Action) Clone() *Action {
	c := *a
	if a.Payload != nil {
		c.Payload = make(json.RawMessage, len(a.Payload))
		copy(c.Payload, a.Payload)
	}
	return &c
}
