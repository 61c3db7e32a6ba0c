package engine

import (
	"encoding/json"
	"fmt"

	"github.com/deckmate/tablesync/pkg/delta"
	"github.com/deckmate/tablesync/pkg/messages"
)

func unmarshalPayload(msg *messages.Message, dst interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", msg.Type, err)
	}
	return nil
}

func marshalDelta(d *delta.Delta) (json.RawMessage, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize delta: %w", err)
	}
	return b, nil
}
