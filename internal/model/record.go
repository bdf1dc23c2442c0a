package model

import (
	"encoding/json"
	"fmt"
	"time"

	"golang-intel-service/internal/channel"
)

// Payload is the opaque structured body of a record
type Payload map[string]interface{}

// Clone returns a shallow copy so callers can't mutate a shared payload
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Record is one unit of data emitted by a producer. Records are treated as
// immutable once emitted.
type Record struct {
	Category  channel.Category `json:"category"`
	Key       string           `json:"key"`
	Payload   Payload          `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// DecodeRecord parses a JSON-encoded record as published on the
// Redis and Kafka feeds
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
