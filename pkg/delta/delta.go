package delta

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deckmate/tablesync/pkg/game/types"
)

var (
	// ErrVersionMismatch is returned when a delta's base version does
	// not match the state it is applied to. The caller falls back to a
	// full-state resync.
	ErrVersionMismatch = errors.New("delta base version mismatch")
	// ErrNonConsecutive is returned when merging deltas that do not
	// form a contiguous version chain.
	ErrNonConsecutive = errors.New("deltas are not consecutive")
)

const (
	// SizeRatioThreshold is the delta-to-full-state size ratio above
	// which a full state sync is cheaper to send than the delta.
	SizeRatioThreshold = 0.30
)

// OpType is a JSON-Patch-style operation kind.
type OpType string

const (
	OpAdd     OpType = "add"
	OpRemove  OpType = "remove"
	OpReplace OpType = "replace"
)

// Operation is one patch step addressed by a JSON Pointer path.
type Operation struct {
	Op    OpType          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Delta is the difference between two consecutive (or merged) state
// versions. Applying it to the state at BaseVersion reproduces the
// state at TargetVersion byte-for-byte after canonicalization.
type Delta struct {
	BaseVersion   uint64      `json:"baseVersion"`
	TargetVersion uint64      `json:"targetVersion"`
	Operations    []Operation `json:"operations"`
	Timestamp     int64       `json:"timestamp"`
}

// Create computes the structural diff between two states.
func Create(oldState, newState *types.GameState) (*Delta, error) {
	oldDoc, err := toDocument(oldState)
	if err != nil {
		return nil, err
	}
	newDoc, err := toDocument(newState)
	if err != nil {
		return nil, err
	}

	ops, err := diffValue("", oldDoc, newDoc)
	if err != nil {
		return nil, err
	}

	return &Delta{
		BaseVersion:   oldState.Version,
		TargetVersion: newState.Version,
		Operations:    ops,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

// Apply produces the target state by patching the base state. The base
// state is not mutated.
func Apply(state *types.GameState, d *Delta) (*types.GameState, error) {
	if state.Version != d.BaseVersion {
		return nil, fmt.Errorf("%w: state at %d, delta base %d", ErrVersionMismatch, state.Version, d.BaseVersion)
	}

	doc, err := toDocument(state)
	if err != nil {
		return nil, err
	}

	for _, op := range d.Operations {
		doc, err = applyOp(doc, op)
		if err != nil {
			return nil, fmt.Errorf("failed to apply %s %s: %w", op.Op, op.Path, err)
		}
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize patched state: %w", err)
	}
	result := &types.GameState{}
	if err := json.Unmarshal(b, result); err != nil {
		return nil, fmt.Errorf("failed to decode patched state: %w", err)
	}
	return result, nil
}

// Merge composes consecutive deltas into one, for catching up a
// recipient that missed several versions.
func Merge(deltas ...*Delta) (*Delta, error) {
	if len(deltas) == 0 {
		return nil, fmt.Errorf("no deltas to merge")
	}
	merged := &Delta{
		BaseVersion:   deltas[0].BaseVersion,
		TargetVersion: deltas[len(deltas)-1].TargetVersion,
		Timestamp:     deltas[len(deltas)-1].Timestamp,
	}
	previous := deltas[0].BaseVersion
	for _, d := range deltas {
		if d.BaseVersion != previous {
			return nil, fmt.Errorf("%w: expected base %d, got %d", ErrNonConsecutive, previous, d.BaseVersion)
		}
		merged.Operations = append(merged.Operations, d.Operations...)
		previous = d.TargetVersion
	}
	return merged, nil
}

// Size returns the serialized size of the delta in bytes.
func (d *Delta) Size() (int, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize delta: %w", err)
	}
	return len(b), nil
}

// WorthSending reports whether the delta is small enough, relative to
// the full serialized target state, to be worth sending instead of the
// full state.
func (d *Delta) WorthSending(fullState *types.GameState) (bool, error) {
	deltaSize, err := d.Size()
	if err != nil {
		return false, err
	}
	full, err := fullState.Canonical()
	if err != nil {
		return false, err
	}
	return float64(deltaSize) < SizeRatioThreshold*float64(len(full)), nil
}

// toDocument converts a state to a generic JSON document for diffing.
func toDocument(state *types.GameState) (interface{}, error) {
	b, err := state.Canonical()
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode canonical state: %w", err)
	}
	return doc, nil
}

// diffValue emits operations that turn oldVal into newVal at path.
func diffValue(path string, oldVal, newVal interface{}) ([]Operation, error) {
	if equalJSON(oldVal, newVal) {
		return nil, nil
	}

	switch oldTyped := oldVal.(type) {
	case map[string]interface{}:
		newMap, ok := newVal.(map[string]interface{})
		if !ok {
			return replaceOp(path, newVal)
		}
		return diffMap(path, oldTyped, newMap)
	case []interface{}:
		newSlice, ok := newVal.([]interface{})
		if !ok {
			return replaceOp(path, newVal)
		}
		return diffSlice(path, oldTyped, newSlice)
	default:
		return replaceOp(path, newVal)
	}
}

func diffMap(path string, oldMap, newMap map[string]interface{}) ([]Operation, error) {
	var ops []Operation
	// Deterministic op order keeps deltas canonical.
	for _, key := range sortedKeys(oldMap) {
		childPath := path + "/" + escapePointer(key)
		newChild, ok := newMap[key]
		if !ok {
			ops = append(ops, Operation{Op: OpRemove, Path: childPath})
			continue
		}
		childOps, err := diffValue(childPath, oldMap[key], newChild)
		if err != nil {
			return nil, err
		}
		ops = append(ops, childOps...)
	}
	for _, key := range sortedKeys(newMap) {
		if _, ok := oldMap[key]; ok {
			continue
		}
		addOps, err := valueOp(OpAdd, path+"/"+escapePointer(key), newMap[key])
		if err != nil {
			return nil, err
		}
		ops = append(ops, addOps...)
	}
	return ops, nil
}

func diffSlice(path string, oldSlice, newSlice []interface{}) ([]Operation, error) {
	var ops []Operation
	shared := len(oldSlice)
	if len(newSlice) < shared {
		shared = len(newSlice)
	}
	for i := 0; i < shared; i++ {
		childOps, err := diffValue(path+"/"+strconv.Itoa(i), oldSlice[i], newSlice[i])
		if err != nil {
			return nil, err
		}
		ops = append(ops, childOps...)
	}
	// Extra elements in the new slice are appended; extra elements in
	// the old slice are removed from the tail, highest index first so
	// the remaining indices stay valid.
	for i := shared; i < len(newSlice); i++ {
		addOps, err := valueOp(OpAdd, path+"/-", newSlice[i])
		if err != nil {
			return nil, err
		}
		ops = append(ops, addOps...)
	}
	for i := len(oldSlice) - 1; i >= shared; i-- {
		ops = append(ops, Operation{Op: OpRemove, Path: path + "/" + strconv.Itoa(i)})
	}
	return ops, nil
}

func replaceOp(path string, value interface{}) ([]Operation, error) {
	return valueOp(OpReplace, path, value)
}

func valueOp(op OpType, path string, value interface{}) ([]Operation, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value at %s: %w", path, err)
	}
	return []Operation{{Op: op, Path: path, Value: b}}, nil
}

func equalJSON(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func unescapePointer(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

// applyOp applies a single operation to the document and returns the
// (possibly new) document root.
func applyOp(doc interface{}, op Operation) (interface{}, error) {
	if op.Path == "" {
		if op.Op == OpRemove {
			return nil, fmt.Errorf("cannot remove document root")
		}
		var v interface{}
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, err
		}
		return v, nil
	}

	segments := strings.Split(strings.TrimPrefix(op.Path, "/"), "/")
	return applySegments(doc, segments, op)
}

func applySegments(node interface{}, segments []string, op Operation) (interface{}, error) {
	segment := unescapePointer(segments[0])
	last := len(segments) == 1

	switch typed := node.(type) {
	case map[string]interface{}:
		if last {
			switch op.Op {
			case OpRemove:
				if _, ok := typed[segment]; !ok {
					return nil, fmt.Errorf("key %s not found", segment)
				}
				delete(typed, segment)
			case OpAdd, OpReplace:
				var v interface{}
				if err := json.Unmarshal(op.Value, &v); err != nil {
					return nil, err
				}
				typed[segment] = v
			}
			return typed, nil
		}
		child, ok := typed[segment]
		if !ok {
			return nil, fmt.Errorf("key %s not found", segment)
		}
		patched, err := applySegments(child, segments[1:], op)
		if err != nil {
			return nil, err
		}
		typed[segment] = patched
		return typed, nil

	case []interface{}:
		if last && segment == "-" && op.Op == OpAdd {
			var v interface{}
			if err := json.Unmarshal(op.Value, &v); err != nil {
				return nil, err
			}
			return append(typed, v), nil
		}
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= len(typed) {
			return nil, fmt.Errorf("bad array index %q", segment)
		}
		if last {
			switch op.Op {
			case OpRemove:
				return append(typed[:index], typed[index+1:]...), nil
			case OpReplace:
				var v interface{}
				if err := json.Unmarshal(op.Value, &v); err != nil {
					return nil, err
				}
				typed[index] = v
				return typed, nil
			case OpAdd:
				var v interface{}
				if err := json.Unmarshal(op.Value, &v); err != nil {
					return nil, err
				}
				typed = append(typed[:index], append([]interface{}{v}, typed[index:]...)...)
				return typed, nil
			}
		}
		patched, err := applySegments(typed[index], segments[1:], op)
		if err != nil {
			return nil, err
		}
		typed[index] = patched
		return typed, nil

	default:
		return nil, fmt.Errorf("cannot descend into %T at %q", node, segment)
	}
}
