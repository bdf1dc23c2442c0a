package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"
)

const (
	TypeConnection   = "connection"
	TypeSubscription = "subscription"
	TypePong         = "pong"
	TypeError        = "error"

	StatusConnected    = "connected"
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
)

// Error codes carried by ErrorFrame
const (
	CodeInvalidFrame    = "invalid-frame"
	CodeUnknownAction   = "unknown-action"
	CodeUnknownChannel  = "unknown-channel"
	CodeClearanceDenied = "clearance-denied"
	CodeRateLimited     = "rate-limited"
)

// Frame is one outbound message
type Frame interface {
	FrameType() string
}

// Encode serializes a frame for the wire
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", f.FrameType(), err)
	}
	return data, nil
}

// ConnectionFrame is sent once after the handshake
type ConnectionFrame struct {
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	ClientID          string    `json:"client_id"`
	Timestamp         time.Time `json:"timestamp"`
	AvailableChannels []string  `json:"available_channels"`
	ClearanceLevel    string    `json:"clearance_level,omitempty"`
	Classification    string    `json:"classification,omitempty"`
}

func (ConnectionFrame) FrameType() string { return TypeConnection }

// NewConnectionFrame builds the greeting for an accepted connection
func NewConnectionFrame(clientID string, available []string, now time.Time) ConnectionFrame {
	return ConnectionFrame{
		Type:              TypeConnection,
		Status:            StatusConnected,
		ClientID:          clientID,
		Timestamp:         now.UTC(),
		AvailableChannels: available,
	}
}

// Gated adds the clearance fields carried by the gated entry point
func (f ConnectionFrame) Gated(level channel.Level) ConnectionFrame {
	f.ClearanceLevel = level.String()
	f.Classification = classificationBanner(level)
	return f
}

func classificationBanner(level channel.Level) string {
	switch level {
	case channel.TopSecretSCI:
		return "TOP SECRET//SCI"
	case channel.TopSecret:
		return "TOP SECRET"
	case channel.Secret:
		return "SECRET"
	case channel.Confidential:
		return "CONFIDENTIAL"
	default:
		return "UNCLASSIFIED"
	}
}

// SubscriptionFrame confirms a subscribe or unsubscribe
type SubscriptionFrame struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Channels  []string  `json:"channels"`
	Timestamp time.Time `json:"timestamp"`
}

func (SubscriptionFrame) FrameType() string { return TypeSubscription }

// NewSubscriptionFrame builds a confirmation, status is subscribed or unsubscribed
func NewSubscriptionFrame(status string, channels []string, now time.Time) SubscriptionFrame {
	if channels == nil {
		channels = []string{}
	}
	return SubscriptionFrame{Type: TypeSubscription, Status: status, Channels: channels, Timestamp: now.UTC()}
}

// PongFrame answers a ping
type PongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (PongFrame) FrameType() string { return TypePong }

// NewPongFrame builds a pong
func NewPongFrame(now time.Time) PongFrame {
	return PongFrame{Type: TypePong, Timestamp: now.UTC()}
}

// ErrorFrame reports a client mistake. The connection stays open.
type ErrorFrame struct {
	Type          string    `json:"type"`
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	Channels      []string  `json:"channels,omitempty"`
	Granted       []string  `json:"granted,omitempty"`
	RequiredLevel string    `json:"required_level,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (ErrorFrame) FrameType() string { return TypeError }

// NewErrorFrame builds an error reply
func NewErrorFrame(code, message string, now time.Time) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message, Timestamp: now.UTC()}
}

// DataFrame carries one producer record. Payload fields are flattened into
// the top-level object; type, key, timestamp and snapshot are reserved.
type DataFrame struct {
	Category  channel.Category
	Key       string
	Payload   model.Payload
	Timestamp time.Time
	Snapshot  bool
}

func (f DataFrame) FrameType() string { return string(f.Category) }

// NewDataFrame projects a record onto the wire
func NewDataFrame(rec model.Record) DataFrame {
	return DataFrame{Category: rec.Category, Key: rec.Key, Payload: rec.Payload, Timestamp: rec.Timestamp}
}

// MarshalJSON flattens the payload next to the frame header
func (f DataFrame) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(f.Payload)+4)
	for k, v := range f.Payload {
		out[k] = v
	}
	out["type"] = string(f.Category)
	out["key"] = f.Key
	out["timestamp"] = f.Timestamp.UTC()
	if f.Snapshot {
		out["snapshot"] = true
	} else {
		delete(out, "snapshot")
	}
	return json.Marshal(out)
}
