package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"golang-intel-service/internal/auth"
	"golang-intel-service/internal/cache"
	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"
	"golang-intel-service/internal/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport records written frames and feeds inbound frames from a channel
type fakeTransport struct {
	inbound   chan []byte
	hangup    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	hangOnce  sync.Once

	mu         sync.Mutex
	written    [][]byte
	failWrites bool
	closeCode  int
	closeCalls int
	// closeDelay stalls Close after the read side has been released
	closeDelay time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		hangup:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.hangup:
		return nil, ErrClientClosed
	case <-f.done:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("broken pipe")
	}
	select {
	case <-f.done:
		return errTransportClosed
	default:
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	f.closeCalls++
	if f.closeCalls == 1 {
		f.closeCode = code
	}
	delay := f.closeDelay
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	time.Sleep(delay)
	return nil
}

func (f *fakeTransport) clientHangup() {
	f.hangOnce.Do(func() { close(f.hangup) })
}

func (f *fakeTransport) setFailWrites(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = fail
}

func (f *fakeTransport) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeTransport) frames() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.written))
	for _, data := range f.written {
		frame := map[string]interface{}{}
		if err := json.Unmarshal(data, &frame); err == nil {
			out = append(out, frame)
		}
	}
	return out
}

func waitFrames(t *testing.T, f *fakeTransport, n int) []map[string]interface{} {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.frames()) >= n }, time.Second, 5*time.Millisecond)
	return f.frames()
}

func newTestManager(t *testing.T, mutate ...func(*Options)) *Manager {
	t.Helper()
	opts := Options{
		Registry:   channel.DefaultRegistry(),
		QueueSize:  16,
		QueueWait:  20 * time.Millisecond,
		Registerer: prometheus.NewRegistry(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := NewManager(opts)
	require.Nil(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func accept(t *testing.T, m *Manager, identity auth.Identity) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c, err := m.Accept(ft, AcceptOptions{Identity: identity})
	require.Nil(t, err)
	waitFrames(t, ft, 1)
	return c, ft
}

func marketRecord(price int) model.Record {
	return model.Record{
		Category:  channel.MarketData,
		Key:       "AAPL",
		Payload:   model.Payload{"price": price},
		Timestamp: time.Now(),
	}
}

func threatRecord() model.Record {
	return model.Record{
		Category:  channel.ThreatData,
		Key:       "APT-29",
		Payload:   model.Payload{"severity": "high"},
		Timestamp: time.Now(),
	}
}

func pongFrame() protocol.Frame {
	return protocol.NewPongFrame(time.Now())
}

func TestAcceptSendsGreeting(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)

	c, ft := accept(t, m, auth.Public())
	greeting := ft.frames()[0]

	assert.Equal("connection", greeting["type"])
	assert.Equal("connected", greeting["status"])
	assert.Equal(c.ID, greeting["client_id"])
	assert.Contains(greeting["available_channels"], "market_data")
	assert.NotContains(greeting["available_channels"], "classified_threats")
	assert.NotContains(greeting, "clearance_level")
	assert.Equal(StateOpen, c.State())
	assert.Equal(1, m.Count())
}

func TestAcceptGatedGreeting(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)

	ft := newFakeTransport()
	_, err := m.Accept(ft, AcceptOptions{
		Identity: auth.Identity{UserID: "analyst", Clearance: channel.TopSecret},
		Gated:    true,
	})
	assert.Nil(err)

	greeting := waitFrames(t, ft, 1)[0]
	assert.Equal("top_secret", greeting["clearance_level"])
	assert.Equal("TOP SECRET", greeting["classification"])
	assert.Contains(greeting["available_channels"], "classified_threats")
	assert.NotContains(greeting["available_channels"], "strategic_operations")
}

func TestPublishToSubscriber(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	c, ft := accept(t, m, auth.Public())

	m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
	result := m.Publish(marketRecord(101))
	assert.Equal([]string{c.ID}, result.Recipients)
	assert.Equal(1, result.Delivered)

	frames := waitFrames(t, ft, 3)
	assert.Equal("subscription", frames[1]["type"])
	assert.Equal("subscribed", frames[1]["status"])
	assert.Equal("market_data", frames[2]["type"])
	assert.Equal(float64(101), frames[2]["price"])
	assert.Equal("AAPL", frames[2]["key"])

	time.Sleep(30 * time.Millisecond)
	assert.Len(ft.frames(), 3)
}

func TestPublishOnlyReachesMatchingSubscribers(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	a, fa := accept(t, m, auth.Public())
	b, fb := accept(t, m, auth.Public())

	m.handleControl(a, []byte(`{"action": "subscribe", "channels": ["threat_alerts"]}`))
	m.handleControl(b, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))

	result := m.Publish(marketRecord(5))
	assert.Equal([]string{b.ID}, result.Recipients)

	framesB := waitFrames(t, fb, 3)
	assert.Equal("market_data", framesB[2]["type"])

	waitFrames(t, fa, 2)
	time.Sleep(30 * time.Millisecond)
	for _, frame := range fa.frames() {
		assert.NotEqual("market_data", frame["type"])
	}
}

func TestFramesArriveInEnqueueOrder(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	c, ft := accept(t, m, auth.Public())
	m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))

	for i := 0; i < 10; i++ {
		m.Publish(marketRecord(i))
	}

	frames := waitFrames(t, ft, 12)
	for i := 0; i < 10; i++ {
		assert.Equal(float64(i), frames[i+2]["price"])
	}
	assert.Eventually(func() bool { return c.Delivered() == 12 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectCleansUp(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	c, ft := accept(t, m, auth.Public())
	m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data", "threat_alerts"]}`))

	assert.True(m.Disconnect(c.ID, ReasonServer))
	assert.False(m.Disconnect(c.ID, ReasonServer))

	<-c.Closed()
	assert.Equal(StateClosed, c.State())
	assert.Equal(0, m.Count())
	assert.Empty(m.Router().Subscriptions(c.ID))
	assert.Empty(m.Router().Subscribers("market_data"))
	assert.Nil(m.Router().Unregister(c.ID))
	assert.Equal(CloseNormal, ft.code())

	// the record is no longer routed to the dead connection
	result := m.Publish(marketRecord(1))
	assert.Empty(result.Recipients)
	assert.False(m.Send(c.ID, []byte(`{}`)))
}

func TestServeTearsDownOnClientClose(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	c, ft := accept(t, m, auth.Public())

	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), c) }()

	ft.inbound <- []byte(`{"action": "subscribe", "channels": ["market_data"]}`)
	waitFrames(t, ft, 2)
	assert.True(m.Router().IsSubscribed(c.ID, "market_data"))

	ft.clientHangup()
	select {
	case err := <-done:
		assert.Nil(err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after client hangup")
	}

	assert.Equal(0, m.Count())
	assert.Empty(m.Router().Subscribers("market_data"))
	assert.Empty(m.Publish(marketRecord(2)).Recipients)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	m := newTestManager(t)
	c, ft := accept(t, m, auth.Public())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, c) }()

	cancel()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Equal(t, CloseGoingAway, ft.code())
	assert.Equal(t, 0, m.Count())
}

func TestServeWaitsForConcurrentTeardown(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)

	ft := newFakeTransport()
	ft.closeDelay = 50 * time.Millisecond
	c, err := m.Accept(ft, AcceptOptions{Identity: auth.Public()})
	require.Nil(t, err)
	m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
	waitFrames(t, ft, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, c) }()

	cancel()
	select {
	case err := <-done:
		assert.Nil(err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	// teardown finished before Serve returned
	assert.Equal(StateClosed, c.State())
	assert.Equal(0, m.Count())
	assert.Empty(m.Router().Subscribers("market_data"))
}

func TestConcurrentDisconnectWaitsForTeardown(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)

	ft := newFakeTransport()
	ft.closeDelay = 50 * time.Millisecond
	c, err := m.Accept(ft, AcceptOptions{Identity: auth.Public()})
	require.Nil(t, err)
	waitFrames(t, ft, 1)

	first := make(chan bool, 1)
	go func() { first <- m.Disconnect(c.ID, ReasonServer) }()
	require.Eventually(t, func() bool { return c.State() == StateClosing }, time.Second, time.Millisecond)

	// Case 1: the losing caller returns only once the winner is done
	assert.False(m.Disconnect(c.ID, ReasonServer))
	assert.Equal(StateClosed, c.State())
	assert.False(m.IsRegistered(c.ID))
	assert.True(<-first)

	// Case 2: later calls are plain no-ops
	assert.False(m.Disconnect(c.ID, ReasonServer))
}

func TestServeOnClosedConnection(t *testing.T) {
	m := newTestManager(t)
	c, _ := accept(t, m, auth.Public())
	require.True(t, m.Disconnect(c.ID, ReasonServer))

	err := m.Serve(context.Background(), c)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWriteFailureDisconnectsOnlyThatClient(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	bad, fbad := accept(t, m, auth.Public())
	good, fgood := accept(t, m, auth.Public())
	m.handleControl(bad, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
	m.handleControl(good, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
	waitFrames(t, fbad, 2)
	waitFrames(t, fgood, 2)

	fbad.setFailWrites(true)
	m.Publish(marketRecord(7))

	<-bad.Closed()
	assert.Equal(CloseInternalError, fbad.code())
	assert.Equal(1, m.Count())

	frames := waitFrames(t, fgood, 3)
	assert.Equal(float64(7), frames[2]["price"])

	result := m.Publish(marketRecord(8))
	assert.Equal([]string{good.ID}, result.Recipients)
}

func TestBroadcast(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	a, fa := accept(t, m, auth.Public())
	_, fb := accept(t, m, auth.Public())
	m.handleControl(a, []byte(`{"action": "subscribe", "channels": ["government_data"]}`))
	waitFrames(t, fa, 2)

	assert.Equal(2, m.Broadcast(pongFrame(), ""))
	assert.Equal(1, m.Broadcast(pongFrame(), "government_data"))
	assert.Equal(0, m.Broadcast(pongFrame(), "military_intel"))

	waitFrames(t, fa, 4)
	framesB := waitFrames(t, fb, 2)
	time.Sleep(30 * time.Millisecond)
	assert.Len(fb.frames(), 2)
	assert.Equal("pong", framesB[1]["type"])
}

func TestSlowClientDropsOldest(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t, func(o *Options) { o.QueueSize = 2 })

	// no streaming loop drains this connection's queue
	c := &Connection{ID: "slow", queue: newQueue(2)}
	c.setState(StateOpen)
	m.mu.Lock()
	m.conns[c.ID] = c
	m.mu.Unlock()

	assert.True(m.Send(c.ID, []byte("1")))
	assert.True(m.Send(c.ID, []byte("2")))
	assert.True(m.Send(c.ID, []byte("3")))
	assert.Equal(uint64(1), c.Dropped())
	assert.Equal(2, c.Pending())
	assert.Equal(uint64(1), m.Status().Dropped["slow"])

	m.mu.Lock()
	delete(m.conns, c.ID)
	m.mu.Unlock()
}

func TestSendToUnknownIsNoop(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.Send("missing", []byte(`{}`)))
}

func TestStatus(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	a, _ := accept(t, m, auth.Public())
	b, _ := accept(t, m, auth.Public())
	m.handleControl(a, []byte(`{"action": "subscribe", "channels": ["market_data", "economic_indicators"]}`))

	status := m.Status()
	assert.Equal(2, status.ActiveConnections)
	assert.ElementsMatch([]string{a.ID, b.ID}, status.ClientIDs)
	assert.Equal([]string{"economic_indicators", "market_data"}, status.Subscriptions[a.ID])
	assert.Empty(status.Subscriptions[b.ID])
}

func TestShutdownRefusesNewConnections(t *testing.T) {
	assert := assert.New(t)
	m := newTestManager(t)
	c, ft := accept(t, m, auth.Public())

	assert.Nil(m.Shutdown(context.Background()))
	<-c.Closed()
	assert.Equal(CloseGoingAway, ft.code())

	_, err := m.Accept(newFakeTransport(), AcceptOptions{Identity: auth.Public()})
	assert.True(errors.Is(err, ErrManagerClosed))
}

func TestConcurrentSubscribeAndDisconnect(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		c, _ := accept(t, m, auth.Public())
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
				m.Publish(marketRecord(j))
			}
		}()
		go func() {
			defer wg.Done()
			m.Disconnect(c.ID, ReasonServer)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.Router().Subscribers("market_data"))
	assert.Empty(t, m.Router().Snapshot())
}

func TestSnapshotOnSubscribe(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := cache.New(cache.Options{DefaultTTL: time.Minute, Now: clock})
	store.Put(channel.MarketData, "AAPL", model.Payload{"price": 101})
	now = now.Add(time.Second)
	store.Put(channel.MarketData, "MSFT", model.Payload{"price": 400})

	m := newTestManager(t, func(o *Options) { o.Cache = store })
	c, ft := accept(t, m, auth.Public())

	m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
	frames := waitFrames(t, ft, 4)
	assert.Equal("subscription", frames[1]["type"])
	assert.Equal("MSFT", frames[2]["key"])
	assert.Equal(true, frames[2]["snapshot"])
	assert.Equal("AAPL", frames[3]["key"])

	// an already-covered category is not replayed
	m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
	waitFrames(t, ft, 5)
	time.Sleep(30 * time.Millisecond)
	assert.Len(ft.frames(), 5)
}

func TestSnapshotAndLiveFramesNeverOverlap(t *testing.T) {
	assert := assert.New(t)
	store := cache.New(cache.Options{DefaultTTL: time.Minute})
	m := newTestManager(t, func(o *Options) {
		o.Cache = store
		o.QueueSize = 1024
	})
	c, ft := accept(t, m, auth.Public())

	const records = 300
	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 1; i <= records; i++ {
			rec := marketRecord(i)
			m.PublishWith(rec, func() { store.Put(rec.Category, rec.Key, rec.Payload) })
		}
	}()

	time.Sleep(time.Millisecond)
	m.handleControl(c, []byte(`{"action": "subscribe", "channels": ["market_data"]}`))
	<-published

	// one snapshot of the latest value, then strictly newer live values
	require.Eventually(t, func() bool {
		frames := ft.frames()
		last := frames[len(frames)-1]
		return last["price"] == float64(records)
	}, time.Second, 5*time.Millisecond)

	prev := float64(0)
	for _, frame := range ft.frames() {
		if frame["type"] != "market_data" {
			continue
		}
		price := frame["price"].(float64)
		assert.Greater(price, prev)
		prev = price
	}
}
