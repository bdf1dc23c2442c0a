package session

import (
	"fmt"
	"strings"

	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"
	"golang-intel-service/internal/protocol"

	"go.uber.org/zap"
)

// handleControl answers one inbound control frame. Every frame gets exactly
// one reply; client mistakes become error frames and never close the connection.
func (m *Manager) handleControl(c *Connection, data []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		m.SendFrame(c.ID, protocol.NewErrorFrame(protocol.CodeRateLimited, "too many control messages", m.now()))
		return
	}

	req, err := protocol.ParseRequest(data)
	if err != nil {
		m.logger.Debug("Malformed control frame", zap.String("client_id", c.ID), zap.Error(err))
		m.SendFrame(c.ID, protocol.NewErrorFrame(protocol.CodeInvalidFrame, err.Error(), m.now()))
		return
	}

	switch r := req.(type) {
	case protocol.Subscribe:
		m.subscribe(c, r.Channels)
	case protocol.Unsubscribe:
		m.unsubscribe(c, r.Channels)
	case protocol.Ping:
		m.SendFrame(c.ID, protocol.NewPongFrame(m.now()))
	default:
		m.SendFrame(c.ID, protocol.NewErrorFrame(protocol.CodeUnknownAction,
			fmt.Sprintf("unknown action %q", req.Action()), m.now()))
	}
}

func (m *Manager) subscribe(c *Connection, names []string) {
	if len(names) == 0 {
		m.SendFrame(c.ID, protocol.NewErrorFrame(protocol.CodeInvalidFrame, "subscribe requires at least one channel", m.now()))
		return
	}

	var granted, unknown, denied []string
	required := channel.Unclassified
	for _, name := range names {
		ch, err := m.registry.Authorize(name, c.Identity.Clearance)
		switch {
		case err == nil:
			granted = append(granted, name)
		case ch.Name != "":
			denied = append(denied, name)
			if ch.Required > required {
				required = ch.Required
			}
		default:
			unknown = append(unknown, name)
		}
	}

	reply := m.subscribeReply(c, granted, unknown, denied, required)
	ok := c.withOpen(func() {
		if len(granted) == 0 {
			m.SendFrame(c.ID, reply)
			return
		}
		covered := m.coveredCategories(c.ID)
		// the reply and the snapshots are queued before any live frame
		// of the new channels can be fanned out
		m.router.SubscribeWith(c.ID, granted, func(added []string) {
			m.SendFrame(c.ID, reply)
			m.sendSnapshots(c, freshCategories(m.registry, added, covered))
		})
	})
	if !ok || len(denied) == 0 {
		return
	}
	m.logger.Warn("🔒 Subscription refused for insufficient clearance",
		zap.String("client_id", c.ID),
		zap.Strings("channels", denied),
		zap.String("clearance", c.Identity.Clearance.String()),
		zap.String("required", required.String()))
}

// subscribeReply builds the one reply to a subscribe request. Clearance
// denials take precedence over unknown channels.
func (m *Manager) subscribeReply(c *Connection, granted, unknown, denied []string, required channel.Level) protocol.Frame {
	now := m.now()
	switch {
	case len(denied) > 0:
		frame := protocol.NewErrorFrame(protocol.CodeClearanceDenied,
			fmt.Sprintf("clearance %s is insufficient, %s required", c.Identity.Clearance, required), now)
		frame.Channels = append(denied, unknown...)
		frame.Granted = granted
		frame.RequiredLevel = required.String()
		return frame
	case len(unknown) > 0:
		frame := protocol.NewErrorFrame(protocol.CodeUnknownChannel,
			"unknown channels: "+strings.Join(unknown, ", "), now)
		frame.Channels = unknown
		frame.Granted = granted
		return frame
	default:
		return protocol.NewSubscriptionFrame(protocol.StatusSubscribed, granted, now)
	}
}

// freshCategories returns the categories of added channels not already covered
func freshCategories(registry *channel.Registry, added []string, covered map[channel.Category]struct{}) []channel.Category {
	var fresh []channel.Category
	for _, name := range added {
		ch, _ := registry.Lookup(name)
		if _, seen := covered[ch.Category]; seen {
			continue
		}
		covered[ch.Category] = struct{}{}
		fresh = append(fresh, ch.Category)
	}
	return fresh
}

func (m *Manager) unsubscribe(c *Connection, names []string) {
	if len(names) == 0 {
		m.SendFrame(c.ID, protocol.NewErrorFrame(protocol.CodeInvalidFrame, "unsubscribe requires at least one channel", m.now()))
		return
	}

	ok := c.withOpen(func() {
		m.router.Unsubscribe(c.ID, names)
	})
	if !ok {
		return
	}
	m.SendFrame(c.ID, protocol.NewSubscriptionFrame(protocol.StatusUnsubscribed, names, m.now()))
}

// coveredCategories returns the categories already fed to the connection
// through its current subscriptions
func (m *Manager) coveredCategories(connectionID string) map[channel.Category]struct{} {
	covered := make(map[channel.Category]struct{})
	for _, name := range m.router.Subscriptions(connectionID) {
		if ch, ok := m.registry.Lookup(name); ok {
			covered[ch.Category] = struct{}{}
		}
	}
	return covered
}

// sendSnapshots queues the cached entries of each category, most recent first
func (m *Manager) sendSnapshots(c *Connection, categories []channel.Category) {
	if m.cache == nil {
		return
	}
	for _, category := range categories {
		for _, entry := range m.cache.List(category) {
			frame := protocol.NewDataFrame(model.Record{
				Category:  entry.Category,
				Key:       entry.Key,
				Payload:   entry.Payload,
				Timestamp: entry.WrittenAt,
			})
			frame.Snapshot = true
			m.SendFrame(c.ID, frame)
		}
	}
}
