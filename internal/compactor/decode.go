package compactor

import (
	"encoding/json"
	"fmt"

	"github.com/obra/lace-sub001/pkg/lace"
)

func decodeData(ev lace.Event, v any) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return nil
}

// rawPayload re-emits an event's existing JSON payload verbatim so the
// shadow copy round-trips losslessly.
func rawPayload(ev lace.Event) json.RawMessage {
	return ev.Data
}
