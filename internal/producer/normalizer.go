package producer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"
)

// ErrInvalidRecord is returned for records that can't be routed
var ErrInvalidRecord = errors.New("invalid record")

// Normalizer validates producer records, stamps missing timestamps and
// suppresses consecutive duplicates per (category, key)
type Normalizer struct {
	registry *channel.Registry
	now      func() time.Time

	mu       sync.Mutex
	lastSeen map[string]string

	total      int64
	normalized int64
	duplicates int64
	invalid    int64
}

// NewNormalizer creates a normalizer accepting the registry's categories
func NewNormalizer(registry *channel.Registry, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		registry: registry,
		now:      now,
		lastSeen: make(map[string]string),
	}
}

// Normalize returns the record ready for the cache and fan-out. ok is false
// for a duplicate of the previous record with the same (category, key),
// which is not an error.
func (n *Normalizer) Normalize(rec model.Record) (model.Record, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.total++

	if !n.registry.KnownCategory(rec.Category) {
		n.invalid++
		return model.Record{}, false, fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, rec.Category)
	}
	if rec.Key == "" {
		n.invalid++
		return model.Record{}, false, fmt.Errorf("%w: missing key for %s", ErrInvalidRecord, rec.Category)
	}
	if rec.Payload == nil {
		rec.Payload = model.Payload{}
	}

	fingerprint, err := json.Marshal(rec.Payload)
	if err != nil {
		n.invalid++
		return model.Record{}, false, fmt.Errorf("%w: payload is not serializable: %v", ErrInvalidRecord, err)
	}

	id := string(rec.Category) + "\x00" + rec.Key
	if n.lastSeen[id] == string(fingerprint) {
		n.duplicates++
		return model.Record{}, false, nil
	}
	n.lastSeen[id] = string(fingerprint)

	if rec.Timestamp.IsZero() {
		rec.Timestamp = n.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Payload = rec.Payload.Clone()

	n.normalized++
	return rec, true, nil
}

// GetStats returns normalizer statistics
func (n *Normalizer) GetStats() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	duplicateRate := float64(0)
	errorRate := float64(0)
	if n.total > 0 {
		duplicateRate = float64(n.duplicates) / float64(n.total) * 100
		errorRate = float64(n.invalid) / float64(n.total) * 100
	}

	return map[string]interface{}{
		"total_records":      n.total,
		"normalized_records": n.normalized,
		"duplicate_records":  n.duplicates,
		"invalid_records":    n.invalid,
		"duplicate_rate":     fmt.Sprintf("%.2f%%", duplicateRate),
		"error_rate":         fmt.Sprintf("%.2f%%", errorRate),
	}
}
