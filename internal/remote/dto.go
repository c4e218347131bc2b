package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the remote API response shape: {success, data, error}. A bare
// array body is also accepted and normalized into the envelope.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    []T    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// decodeEnvelope parses body into an Envelope, tolerating a bare JSON array.
func decodeEnvelope[T any](body []byte) (Envelope[T], error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Envelope[T]{Success: true}, nil
	}

	if trimmed[0] == '[' {
		var data []T
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return Envelope[T]{}, fmt.Errorf("decode array response: %w", err)
		}
		return Envelope[T]{Success: true, Data: data}, nil
	}

	var env Envelope[T]
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope[T]{}, fmt.Errorf("decode envelope response: %w", err)
	}
	return env, nil
}

// MutationRequest is a single update/delete against one record identity.
type MutationRequest struct {
	Operation string          `json:"operation"`
	VideoID   string          `json:"video_id"`
	DayKey    string          `json:"day_key"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
