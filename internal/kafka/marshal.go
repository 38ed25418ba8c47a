package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MustMarshal panics on values that cannot be encoded; callers only pass
// plain structs and maps.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeEnvelope parses a message value. An envelope without event_type or
// payload is rejected.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" || len(env.Payload) == 0 {
		return Envelope{}, errors.New("decode envelope: missing event_type or payload")
	}
	return env, nil
}

func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode %T payload: %w", t, err)
	}
	return t, nil
}
