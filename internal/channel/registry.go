package channel

import (
	"errors"
	"fmt"
	"sort"
)

// Category tags a producer record with the class of data it carries
type Category string

const (
	MarketData       Category = "market_data"
	TradeData        Category = "trade_data"
	GovernmentData   Category = "government_data"
	ThreatData       Category = "threat_data"
	RegulatoryData   Category = "regulatory_data"
	GeopoliticalData Category = "geopolitical_data"
	MilitaryData     Category = "military_data"
	OperationsData   Category = "operations_data"
	AlliedData       Category = "allied_data"
)

// ErrUnknownChannel is returned for channel names missing from the registry
var ErrUnknownChannel = errors.New("unknown channel")

// ErrInsufficientClearance is returned when a level is below a channel's requirement
var ErrInsufficientClearance = errors.New("insufficient clearance")

// Channel is a named logical topic backed by one producer category
type Channel struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Required    Level    `json:"-"`
	Description string   `json:"description"`
}

// Gated reports whether the channel needs more than public clearance
func (c Channel) Gated() bool {
	return c.Required > Unclassified
}

// Registry is the static channel -> category mapping. It is immutable after
// construction and safe for concurrent reads.
type Registry struct {
	channels   map[string]Channel
	byCategory map[Category][]string
	names      []string
}

// NewRegistry builds a registry from channel definitions
func NewRegistry(channels []Channel) (*Registry, error) {
	reg := &Registry{
		channels:   make(map[string]Channel, len(channels)),
		byCategory: make(map[Category][]string),
	}

	for _, ch := range channels {
		if ch.Name == "" || ch.Category == "" {
			return nil, fmt.Errorf("channel definition needs a name and a category: %+v", ch)
		}
		if _, dup := reg.channels[ch.Name]; dup {
			return nil, fmt.Errorf("duplicate channel %q", ch.Name)
		}
		reg.channels[ch.Name] = ch
		reg.byCategory[ch.Category] = append(reg.byCategory[ch.Category], ch.Name)
		reg.names = append(reg.names, ch.Name)
	}

	sort.Strings(reg.names)
	for category := range reg.byCategory {
		sort.Strings(reg.byCategory[category])
	}

	return reg, nil
}

// DefaultChannels returns the built-in channel set
func DefaultChannels() []Channel {
	return []Channel{
		{Name: "market_data", Category: MarketData, Required: Unclassified, Description: "Live market quotes"},
		{Name: "economic_indicators", Category: TradeData, Required: Unclassified, Description: "Trade balances and macro indicators"},
		{Name: "government_data", Category: GovernmentData, Required: Unclassified, Description: "Government statistical releases"},
		{Name: "threat_alerts", Category: ThreatData, Required: Unclassified, Description: "Public threat advisories"},
		{Name: "regulatory_updates", Category: RegulatoryData, Required: Unclassified, Description: "Regulatory filings and rule changes"},
		{Name: "geopolitical_events", Category: GeopoliticalData, Required: Unclassified, Description: "Geopolitical event feed"},
		{Name: "classified_threats", Category: ThreatData, Required: TopSecret, Description: "Classified threat reporting"},
		{Name: "military_intel", Category: MilitaryData, Required: Secret, Description: "Military intelligence summaries"},
		{Name: "strategic_operations", Category: OperationsData, Required: TopSecretSCI, Description: "Strategic operations traffic"},
		{Name: "allied_intelligence", Category: AlliedData, Required: Secret, Description: "Allied intelligence sharing"},
	}
}

// DefaultRegistry returns a registry with the built-in channel set
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultChannels())
	if err != nil {
		panic(err)
	}
	return reg
}

// Lookup returns the channel definition for a name
func (r *Registry) Lookup(name string) (Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// ChannelsFor returns every channel name fed by a category. A category may
// map to several aliases, for example a public and a gated variant.
func (r *Registry) ChannelsFor(category Category) []string {
	return r.byCategory[category]
}

// KnownCategory reports whether any channel is fed by the category
func (r *Registry) KnownCategory(category Category) bool {
	_, ok := r.byCategory[category]
	return ok
}

// Categories returns all categories with at least one channel, sorted
func (r *Registry) Categories() []Category {
	out := make([]Category, 0, len(r.byCategory))
	for category := range r.byCategory {
		out = append(out, category)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Names returns all channel names, sorted
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Channels returns all channel definitions sorted by name
func (r *Registry) Channels() []Channel {
	out := make([]Channel, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.channels[name])
	}
	return out
}

// Available returns the channel names a connection holding level may subscribe to
func (r *Registry) Available(level Level) []string {
	out := make([]string, 0, len(r.names))
	for _, name := range r.names {
		if level.Allows(r.channels[name].Required) {
			out = append(out, name)
		}
	}
	return out
}

// Authorize checks that level may subscribe to the named channel
func (r *Registry) Authorize(name string, level Level) (Channel, error) {
	ch, ok := r.channels[name]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	if !level.Allows(ch.Required) {
		return ch, fmt.Errorf("%w: %s requires %s", ErrInsufficientClearance, name, ch.Required)
	}
	return ch, nil
}
