package adapters

import (
	"fmt"

	"github.com/deckmate/tablesync/pkg/game/types"
)

// DemoConfig builds a two-seat table with generated decks. It exists
// so a session can be started without an external deck-builder; real
// deployments supply their own Config at session creation.
func DemoConfig(deckSize int) Config {
	if deckSize <= 0 {
		deckSize = 40
	}
	seats := make([]Seat, 0, 2)
	for i := 1; i <= 2; i++ {
		playerID := fmt.Sprintf("player%d", i)
		deck := make([]*types.Card, 0, deckSize)
		for j := 1; j <= deckSize; j++ {
			deck = append(deck, &types.Card{
				ID:   fmt.Sprintf("%s-card-%d", playerID, j),
				Name: fmt.Sprintf("Card %d", j),
			})
		}
		seats = append(seats, Seat{
			PlayerID: playerID,
			Name:     fmt.Sprintf("Player %d", i),
			Deck:     deck,
		})
	}
	return Config{Seats: seats}
}
