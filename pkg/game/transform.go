package game

import (
	"github.com/deckmate/tablesync/pkg/game/types"
)

// Operational transformation of an incoming action against an action
// that was logged after the incoming action's base version. Rules are
// keyed by (incoming type, logged type). The table must stay total:
// pairs without an entry do not interact and the incoming action passes
// through unchanged. Any newly introduced action type needs an explicit
// rule decision here before it ships.

type transformRule func(incoming, logged *types.Action) *types.Action

var transformRules = map[[2]types.ActionType]transformRule{
	// Same permanent tapped twice concurrently: first logged wins,
	// the later submission collapses to a no-op.
	{types.ActionTypeTap, types.ActionTypeTap}:     firstWinsOnSameTarget,
	{types.ActionTypeUntap, types.ActionTypeUntap}: firstWinsOnSameTarget,

	// Same card moved twice concurrently: first logged wins.
	{types.ActionTypeMoveZone, types.ActionTypeMoveZone}: firstWinsOnSameTarget,

	// Commutative pairs: both apply unchanged.
	{types.ActionTypeDraw, types.ActionTypeDraw}:             commute,
	{types.ActionTypeChangeLife, types.ActionTypeChangeLife}: commute,
	{types.ActionTypeAddCounter, types.ActionTypeAddCounter}: commute,
}

func firstWinsOnSameTarget(incoming, logged *types.Action) *types.Action {
	if incoming.TargetID() != logged.TargetID() {
		return incoming
	}
	noop := incoming.Clone()
	noop.Type = types.ActionTypeNoop
	return noop
}

func commute(incoming, _ *types.Action) *types.Action {
	return incoming
}

// transformAgainst rewrites the incoming action relative to a single
// already-logged concurrent action.
func transformAgainst(incoming, logged *types.Action) *types.Action {
	if incoming.Type == types.ActionTypeNoop {
		return incoming
	}
	rule, ok := transformRules[[2]types.ActionType{incoming.Type, logged.Type}]
	if !ok {
		// Unlisted pairs are assumed non-conflicting.
		return incoming
	}
	return rule(incoming, logged)
}

// Transform rewrites the incoming action against every action in the
// concurrent set, in log order. A fully disjoint concurrent set returns
// the action unchanged.
func Transform(incoming *types.Action, concurrent []*types.Action) *types.Action {
	transformed := incoming
	for _, logged := range concurrent {
		transformed = transformAgainst(transformed, logged)
		if transformed.Type == types.ActionTypeNoop {
			break
		}
	}
	return transformed
}
