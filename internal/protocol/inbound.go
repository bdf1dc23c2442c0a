package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedFrame is returned for frames that are not valid control JSON
var ErrMalformedFrame = errors.New("malformed control frame")

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Request is one inbound control message. The concrete types are
// Subscribe, Unsubscribe, Ping and Unknown.
type Request interface {
	Action() string
}

// Subscribe asks to add channels to the connection
type Subscribe struct {
	Channels []string
}

// Unsubscribe asks to remove channels from the connection
type Unsubscribe struct {
	Channels []string
}

// Ping is a liveness check
type Ping struct{}

// Unknown carries an action the server does not understand
type Unknown struct {
	Name string
}

func (Subscribe) Action() string   { return ActionSubscribe }
func (Unsubscribe) Action() string { return ActionUnsubscribe }
func (Ping) Action() string        { return ActionPing }
func (u Unknown) Action() string   { return u.Name }

type rawRequest struct {
	Action   string   `json:"action"`
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// ParseRequest decodes one inbound text frame
func ParseRequest(data []byte) (Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	action := strings.ToLower(strings.TrimSpace(raw.Action))
	if action == "" {
		// older clients send {"type": "ping"}
		action = strings.ToLower(strings.TrimSpace(raw.Type))
	}

	switch action {
	case ActionSubscribe:
		return Subscribe{Channels: cleanChannels(raw.Channels)}, nil
	case ActionUnsubscribe:
		return Unsubscribe{Channels: cleanChannels(raw.Channels)}, nil
	case ActionPing:
		return Ping{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action", ErrMalformedFrame)
	default:
		return Unknown{Name: action}, nil
	}
}

// cleanChannels trims names, drops empties and removes duplicates keeping
// first occurrence order
func cleanChannels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, name := range in {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
