package types

import (
	"encoding/json"
	"fmt"
)

// GameState is one immutable version of a table's shared state.
// A new version is produced for every accepted action; historical
// versions are never mutated in place.
type GameState struct {
	Version        uint64             `json:"version"`
	Timestamp      int64              `json:"timestamp"`
	LastModifiedBy string             `json:"lastModifiedBy"`
	GameType       string             `json:"gameType"`
	Players        map[string]*Player `json:"players"`
	TurnOrder      []string           `json:"turnOrder"`
	CurrentTurn    int                `json:"currentTurn"`
	Zones          map[string]*Zone   `json:"zones"`
}

// Player represents a seated participant in a game.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Life int    `json:"life"`
}

// Zone is a named collection of cards. Per-player zones are keyed
// as "<playerID>/<name>" in GameState.Zones; shared zones use the
// bare name. Ordered zones preserve card order (libraries, decks).
type Zone struct {
	Name    string  `json:"name"`
	Owner   string  `json:"owner,omitempty"`
	Ordered bool    `json:"ordered"`
	Cards   []*Card `json:"cards"`
}

// Card is one physical card on the table.
type Card struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Tapped   bool           `json:"tapped,omitempty"`
	FaceDown bool           `json:"faceDown,omitempty"`
	Counters map[string]int `json:"counters,omitempty"`
}

// ZoneKey returns the GameState.Zones key for a player-owned zone.
func ZoneKey(playerID, name string) string {
	return playerID + "/" + name
}

// NewGameState returns an empty version-0 state for the given game type.
func NewGameState(gameType string) *GameState {
	return &GameState{
		GameType: gameType,
		Players:  make(map[string]*Player),
		Zones:    make(map[string]*Zone),
	}
}

// Clone returns a deep copy of the state. Mutating the copy never
// affects the original, which is what keeps historical versions immutable.
func (s *GameState) Clone() *GameState {
	c := &GameState{
		Version:        s.Version,
		Timestamp:      s.Timestamp,
		LastModifiedBy: s.LastModifiedBy,
		GameType:       s.GameType,
		CurrentTurn:    s.CurrentTurn,
		Players:        make(map[string]*Player, len(s.Players)),
		Zones:          make(map[string]*Zone, len(s.Zones)),
	}
	if s.TurnOrder != nil {
		c.TurnOrder = make([]string, len(s.TurnOrder))
		copy(c.TurnOrder, s.TurnOrder)
	}
	for id, p := range s.Players {
		cp := *p
		c.Players[id] = &cp
	}
	for key, z := range s.Zones {
		c.Zones[key] = z.Clone()
	}
	return c
}

// Clone returns a deep copy of the zone.
func (z *Zone) Clone() *Zone {
	c := &Zone{
		Name:    z.Name,
		Owner:   z.Owner,
		Ordered: z.Ordered,
	}
	// A nil card slice stays nil so clones serialize byte-identically
	// to their originals.
	if z.Cards != nil {
		c.Cards = make([]*Card, len(z.Cards))
		for i, card := range z.Cards {
			c.Cards[i] = card.Clone()
		}
	}
	return c
}

// Clone returns a deep copy of the card.
func (c *Card) Clone() *Card {
	cc := *c
	if c.Counters != nil {
		cc.Counters = make(map[string]int, len(c.Counters))
		for k, v := range c.Counters {
			cc.Counters[k] = v
		}
	}
	return &cc
}

// Canonical returns the canonical JSON serialization of the state.
// Map keys are emitted in sorted order, so two states with equal
// content always serialize to identical bytes.
func (s *GameState) Canonical() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize game state: %w", err)
	}
	return b, nil
}

// Equal reports whether two states have identical canonical serializations.
func (s *GameState) Equal(other *GameState) bool {
	a, err := s.Canonical()
	if err != nil {
		return false
	}
	b, err := other.Canonical()
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// FindCard locates a card by ID across all zones. Returns the zone key
// and index within the zone, or ok=false if the card is not on the table.
func (s *GameState) FindCard(cardID string) (zoneKey string, index int, card *Card, ok bool) {
	for key, zone := range s.Zones {
		for i, c := range zone.Cards {
			if c.ID == cardID {
				return key, i, c, true
			}
		}
	}
	return "", 0, nil, false
}
