package router

import (
	"sort"
	"sync"

	"golang-intel-service/internal/channel"
)

// Deliverer enqueues an encoded frame for one connection. It returns false
// when the connection is gone, which is not an error for the caller.
type Deliverer interface {
	Send(connectionID string, frame []byte) bool
}

// FanOutResult describes one fan-out pass
type FanOutResult struct {
	Recipients []string `json:"recipients"`
	Delivered  int      `json:"delivered"`
}

// Router keeps, per connection, the set of subscribed channels and the
// reverse index channel -> connection ids. Both sides are mutated under one
// lock so they are never observed out of step.
type Router struct {
	registry *channel.Registry

	mu           sync.RWMutex
	byConnection map[string]map[string]struct{}
	byChannel    map[string]map[string]struct{}
}

// New creates a router resolving categories through registry
func New(registry *channel.Registry) *Router {
	return &Router{
		registry:     registry,
		byConnection: make(map[string]map[string]struct{}),
		byChannel:    make(map[string]map[string]struct{}),
	}
}

// Subscribe adds channels to the connection's set and registers it in each
// channel's reverse index. Already-subscribed channels are left alone. The
// channels actually added are returned.
func (r *Router) Subscribe(connectionID string, channels []string) []string {
	return r.SubscribeWith(connectionID, channels, nil)
}

// SubscribeWith subscribes like Subscribe and runs then with the added
// channels before the index is unlocked. No fan-out can interleave with
// then, so frames it queues precede every live frame for those channels.
// then must not call back into the router.
func (r *Router) SubscribeWith(connectionID string, channels []string, then func(added []string)) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byConnection[connectionID]
	if !ok {
		subs = make(map[string]struct{})
		r.byConnection[connectionID] = subs
	}

	added := []string{}
	for _, name := range channels {
		if _, dup := subs[name]; dup {
			continue
		}
		subs[name] = struct{}{}

		members, ok := r.byChannel[name]
		if !ok {
			members = make(map[string]struct{})
			r.byChannel[name] = members
		}
		members[connectionID] = struct{}{}
		added = append(added, name)
	}
	if then != nil {
		then(added)
	}
	return added
}

// Unsubscribe removes channels from the connection's set. A channel losing
// its last subscriber keeps an empty reverse-index entry.
func (r *Router) Unsubscribe(connectionID string, channels []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := []string{}
	subs, ok := r.byConnection[connectionID]
	if !ok {
		return removed
	}

	for _, name := range channels {
		if _, present := subs[name]; !present {
			continue
		}
		delete(subs, name)
		delete(r.byChannel[name], connectionID)
		removed = append(removed, name)
	}
	return removed
}

// Unregister drops the connection from every reverse index entry and forgets
// its subscription set. It returns the channels it was subscribed to.
func (r *Router) Unregister(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byConnection[connectionID]
	if !ok {
		return nil
	}

	channels := make([]string, 0, len(subs))
	for name := range subs {
		delete(r.byChannel[name], connectionID)
		channels = append(channels, name)
	}
	delete(r.byConnection, connectionID)

	sort.Strings(channels)
	return channels
}

// Subscriptions returns the sorted channel set for a connection
func (r *Router) Subscriptions(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byConnection[connectionID])
}

// IsSubscribed reports whether the connection is subscribed to a channel
func (r *Router) IsSubscribed(connectionID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byChannel[name][connectionID]
	return ok
}

// Subscribers returns the sorted connection ids subscribed to a channel
func (r *Router) Subscribers(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byChannel[name])
}

// Snapshot returns connection id -> sorted channels for every known connection
func (r *Router) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.byConnection))
	for id, subs := range r.byConnection {
		out[id] = sortedKeys(subs)
	}
	return out
}

// ChannelCounts returns channel -> subscriber count, including empty entries
func (r *Router) ChannelCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.byChannel))
	for name, members := range r.byChannel {
		out[name] = len(members)
	}
	return out
}

// Recipients resolves a category to its channel aliases and returns the
// union of their subscribers, each connection once
func (r *Router) Recipients(category channel.Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recipientsLocked(category)
}

func (r *Router) recipientsLocked(category channel.Category) []string {
	names := r.registry.ChannelsFor(category)
	if len(names) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	for _, name := range names {
		for id := range r.byChannel[name] {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// FanOut delivers an encoded frame for a category to every current
// subscriber. Connections that vanished between selection and delivery are
// skipped by the deliverer.
func (r *Router) FanOut(category channel.Category, frame []byte, deliverer Deliverer) FanOutResult {
	return r.FanOutWith(category, frame, deliverer, nil)
}

// FanOutWith runs before and the delivery pass under one read lock, so a
// concurrent SubscribeWith observes either both or neither. before must not
// call back into the router.
func (r *Router) FanOutWith(category channel.Category, frame []byte, deliverer Deliverer, before func()) FanOutResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if before != nil {
		before()
	}
	recipients := r.recipientsLocked(category)
	result := FanOutResult{Recipients: recipients}
	for _, id := range recipients {
		if deliverer.Send(id, frame) {
			result.Delivered++
		}
	}
	return result
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
