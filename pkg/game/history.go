package game

import (
	"github.com/deckmate/tablesync/pkg/game/types"
)

const (
	// DefaultHistoryWindow is the number of (version, state, action)
	// entries retained per room. Undo/redo works within this window.
	DefaultHistoryWindow = 100
)

// history holds the retained (version -> state) and (version -> action)
// window for one room. Version 0 is the initial state and has no action.
// Not safe for concurrent use; the Manager serializes access.
type history struct {
	window  int
	states  map[uint64]*types.GameState
	actions map[uint64]*types.Action
	order   []uint64
}

func newHistory(window int) *history {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &history{
		window:  window,
		states:  make(map[uint64]*types.GameState),
		actions: make(map[uint64]*types.Action),
	}
}

// record stores a new version. The action is nil for the initial state.
// The oldest entry is evicted once the window is exceeded.
func (h *history) record(version uint64, state *types.GameState, action *types.Action) {
	h.states[version] = state
	if action != nil {
		h.actions[version] = action
	}
	h.order = append(h.order, version)
	for len(h.order) > h.window {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.states, oldest)
		delete(h.actions, oldest)
	}
}

func (h *history) state(version uint64) (*types.GameState, bool) {
	s, ok := h.states[version]
	return s, ok
}

// actionsAfter returns the logged actions for versions in
// (base, through], in version order. ok is false when part of the
// range has been evicted.
func (h *history) actionsAfter(base, through uint64) ([]*types.Action, bool) {
	var out []*types.Action
	for v := base + 1; v <= through; v++ {
		a, ok := h.actions[v]
		if !ok {
			return nil, false
		}
		out = append(out, a)
	}
	return out, true
}

// truncateAfter drops all entries with versions greater than version.
// Called when a new action arrives while the current pointer sits in
// the middle of the chain: the redo horizon is gone.
func (h *history) truncateAfter(version uint64) {
	kept := h.order[:0]
	for _, v := range h.order {
		if v <= version {
			kept = append(kept, v)
			continue
		}
		delete(h.states, v)
		delete(h.actions, v)
	}
	h.order = kept
}

func (h *history) oldest() (uint64, bool) {
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[0], true
}

func (h *history) newest() (uint64, bool) {
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[len(h.order)-1], true
}

func (h *history) size() int {
	return len(h.order)
}
