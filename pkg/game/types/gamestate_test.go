package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZone_cloneKeepsNilCardSlices(t *testing.T) {
	// An empty zone with a nil card slice must clone to a nil slice,
	// not an empty one, or the clone serializes "cards":[] where the
	// original serializes "cards":null.
	state := &GameState{
		GameType: "arcanum",
		Players: map[string]*Player{
			"p1": {ID: "p1", Name: "Player One", Life: 20},
		},
		Zones: map[string]*Zone{
			"p1:graveyard": {Name: "Graveyard", Owner: "p1", Ordered: true},
			"p1:hand":      {Name: "Hand", Owner: "p1", Cards: []*Card{{ID: "c1", Name: "Card 1"}}},
		},
	}

	clone := state.Clone()
	assert.Nil(t, clone.Zones["p1:graveyard"].Cards)
	assert.Len(t, clone.Zones["p1:hand"].Cards, 1)

	base, err := state.Canonical()
	require.NoError(t, err)
	snapshot, err := clone.Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(base), string(snapshot))
	assert.True(t, state.Equal(clone))
}
