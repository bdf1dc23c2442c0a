package channel

import (
	"fmt"
	"strings"
)

// Level is a classification tier. Levels are strictly ordered, a higher
// level may access everything a lower level can.
type Level int

const (
	Unclassified Level = iota
	Confidential
	Secret
	TopSecret
	TopSecretSCI
)

var levelNames = map[Level]string{
	Unclassified: "unclassified",
	Confidential: "confidential",
	Secret:       "secret",
	TopSecret:    "top_secret",
	TopSecretSCI: "top_secret_sci",
}

// String returns the wire name of the level
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Allows reports whether l is at least required
func (l Level) Allows(required Level) bool {
	return l >= required
}

// ParseLevel parses a full level name as issued by the authentication collaborator
func ParseLevel(s string) (Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for level, name := range levelNames {
		if name == normalized {
			return level, nil
		}
	}
	return Unclassified, fmt.Errorf("unknown clearance level %q", s)
}

// ParseTier parses the tier presented at the gated entry point. Only
// secret, top_secret and sci are recognized there.
func ParseTier(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "secret":
		return Secret, nil
	case "top_secret":
		return TopSecret, nil
	case "sci":
		return TopSecretSCI, nil
	default:
		return Unclassified, fmt.Errorf("unrecognized clearance tier %q", s)
	}
}

// Min returns the lower of two levels
func Min(a, b Level) Level {
	if a < b {
		return a
	}
	return b
}
