package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang-intel-service/internal/auth"
	"golang-intel-service/internal/cache"
	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"
	"golang-intel-service/internal/protocol"
	"golang-intel-service/internal/router"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures a Manager
type Options struct {
	Registry *channel.Registry
	Router   *router.Router
	// Cache feeds initial snapshots to new subscribers, optional
	Cache *cache.Cache

	// QueueSize bounds each connection's outbound queue
	QueueSize int
	// QueueWait is how long the streaming loop waits on an empty queue
	// before re-checking that its connection is still registered
	QueueWait time.Duration

	// ControlRate limits inbound control frames per connection, zero disables
	ControlRate  rate.Limit
	ControlBurst int

	Registerer prometheus.Registerer
	Logger     *zap.Logger
	Now        func() time.Time
}

// AcceptOptions describes a connection being accepted
type AcceptOptions struct {
	Identity   auth.Identity
	Gated      bool
	RemoteAddr string
	UserAgent  string
}

// Status is a point-in-time view of the live connections
type Status struct {
	ActiveConnections int                 `json:"active_connections"`
	ClientIDs         []string            `json:"client_ids"`
	Subscriptions     map[string][]string `json:"subscriptions"`
	Dropped           map[string]uint64   `json:"dropped"`
}

// Manager owns the live connections, their queues and their lifecycle
type Manager struct {
	opts     Options
	registry *channel.Registry
	router   *router.Router
	cache    *cache.Cache
	metrics  *metrics
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	conns    map[string]*Connection
	shutdown bool

	wg sync.WaitGroup
}

// NewManager creates a connection manager
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("connection manager needs a channel registry")
	}
	if opts.Router == nil {
		opts.Router = router.New(opts.Registry)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = time.Second
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	return &Manager{
		opts:     opts,
		registry: opts.Registry,
		router:   opts.Router,
		cache:    opts.Cache,
		metrics:  m,
		logger:   opts.Logger.Named("session"),
		now:      opts.Now,
		conns:    make(map[string]*Connection),
	}, nil
}

// Router returns the subscription router used by the manager
func (m *Manager) Router() *router.Router {
	return m.router
}

// Accept registers a new connection over transport, queues the connection
// greeting and starts its streaming loop
func (m *Manager) Accept(transport Transport, opts AcceptOptions) (*Connection, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		Identity:   opts.Identity,
		Gated:      opts.Gated,
		RemoteAddr: opts.RemoteAddr,
		UserAgent:  opts.UserAgent,
		CreatedAt:  m.now(),
		transport:  transport,
		queue:      newQueue(m.opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	if m.opts.ControlRate > 0 {
		burst := m.opts.ControlBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(m.opts.ControlRate, burst)
	}
	c.setState(StateConnecting)

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		cancel()
		return nil, ErrManagerClosed
	}
	c.ID = uuid.New().String()
	for _, taken := m.conns[c.ID]; taken; _, taken = m.conns[c.ID] {
		c.ID = uuid.New().String()
	}
	m.conns[c.ID] = c
	c.setState(StateOpen)
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.accepted.Inc()
	m.metrics.active.Inc()

	greeting := protocol.NewConnectionFrame(c.ID, m.registry.Available(c.Identity.Clearance), m.now())
	if c.Gated {
		greeting = greeting.Gated(c.Identity.Clearance)
	}
	m.SendFrame(c.ID, greeting)

	go m.stream(c)

	m.logger.Info("🔌 Client connected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.Identity.UserID),
		zap.String("clearance", c.Identity.Clearance.String()),
		zap.Bool("gated", c.Gated),
		zap.String("remote_addr", c.RemoteAddr))

	return c, nil
}

// Serve runs the inbound control loop for c until the transport fails, the
// connection is torn down or ctx is cancelled. Teardown always happens
// before Serve returns.
func (m *Manager) Serve(ctx context.Context, c *Connection) error {
	if !c.IsOpen() {
		<-c.closed
		return ErrConnectionClosed
	}

	go func() {
		select {
		case <-ctx.Done():
			m.Disconnect(c.ID, ReasonShutdown)
		case <-c.ctx.Done():
		}
	}()

	var readErr error
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		m.handleControl(c, data)
	}

	reason := ReasonReadError
	if !c.IsOpen() {
		reason = ReasonServer
	} else if isNormalClose(readErr) {
		reason = ReasonClientClosed
	}
	m.Disconnect(c.ID, reason)
	<-c.closed

	if reason == ReasonReadError {
		return fmt.Errorf("failed to read from client %s: %w", c.ID, readErr)
	}
	return nil
}

// Get returns a live connection
func (m *Manager) Get(connectionID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connectionID]
	return c, ok
}

// IsRegistered reports whether the connection is in the live table
func (m *Manager) IsRegistered(connectionID string) bool {
	_, ok := m.Get(connectionID)
	return ok
}

// Count returns the number of live connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Send enqueues an encoded frame for a connection. Unknown or closing
// connections are a silent no-op reported as false.
func (m *Manager) Send(connectionID string, frame []byte) bool {
	c, ok := m.Get(connectionID)
	if !ok || !c.IsOpen() {
		return false
	}

	queued, dropped := c.queue.push(frame)
	if dropped {
		m.metrics.dropped.Inc()
		m.logger.Debug("Dropped oldest frame for slow client",
			zap.String("client_id", c.ID),
			zap.Uint64("dropped_total", c.queue.droppedCount()))
	}
	return queued
}

// SendFrame encodes and enqueues a frame for a connection
func (m *Manager) SendFrame(connectionID string, frame protocol.Frame) bool {
	data, err := protocol.Encode(frame)
	if err != nil {
		m.logger.Error("Failed to encode frame", zap.String("client_id", connectionID), zap.Error(err))
		return false
	}
	return m.Send(connectionID, data)
}

// Broadcast delivers a frame to every connection, or only to subscribers of
// channelName when it is not empty. It returns how many queues accepted it.
// A failing connection never stops delivery to the others; its streaming
// loop schedules its disconnect.
func (m *Manager) Broadcast(frame protocol.Frame, channelName string) int {
	data, err := protocol.Encode(frame)
	if err != nil {
		m.logger.Error("Failed to encode broadcast frame", zap.Error(err))
		return 0
	}

	var targets []string
	if channelName != "" {
		targets = m.router.Subscribers(channelName)
	} else {
		m.mu.RLock()
		targets = make([]string, 0, len(m.conns))
		for id := range m.conns {
			targets = append(targets, id)
		}
		m.mu.RUnlock()
	}

	delivered := 0
	for _, id := range targets {
		if m.Send(id, data) {
			delivered++
		}
	}
	return delivered
}

// Publish fans a producer record out to every connection subscribed to a
// channel fed by its category. The frame is encoded once.
func (m *Manager) Publish(rec model.Record) router.FanOutResult {
	return m.PublishWith(rec, nil)
}

// PublishWith is Publish with store run just before delivery, atomically
// with respect to subscribe. Writing the cache in store means a concurrent
// subscriber gets the record either in its snapshot or live, never both.
func (m *Manager) PublishWith(rec model.Record, store func()) router.FanOutResult {
	data, err := protocol.Encode(protocol.NewDataFrame(rec))
	if err != nil {
		m.logger.Error("Failed to encode record",
			zap.String("category", string(rec.Category)),
			zap.String("key", rec.Key),
			zap.Error(err))
		if store != nil {
			store()
		}
		return router.FanOutResult{}
	}

	result := m.router.FanOutWith(rec.Category, data, m, store)
	m.metrics.fanoutSize.Observe(float64(len(result.Recipients)))
	return result
}

// Disconnect tears a connection down: the streaming loop is cancelled and
// awaited, the transport closed, the router entry removed and the
// connection dropped from the live table. Only the first call returns true;
// concurrent callers block until that teardown has finished.
func (m *Manager) Disconnect(connectionID, reason string) bool {
	c, ok := m.Get(connectionID)
	if !ok {
		return false
	}
	if !c.beginClose() {
		// another caller owns the teardown
		<-c.closed
		return false
	}

	c.cancel()
	if err := c.transport.Close(closeCodeFor(reason), reason); err != nil {
		m.logger.Debug("Transport close returned error", zap.String("client_id", c.ID), zap.Error(err))
	}
	<-c.writerDone

	channels := m.router.Unregister(c.ID)

	m.mu.Lock()
	delete(m.conns, c.ID)
	m.mu.Unlock()

	pending := c.queue.len()
	c.queue.close()
	c.setState(StateClosed)
	close(c.closed)

	m.metrics.active.Dec()
	m.metrics.disconnections.WithLabelValues(reason).Inc()
	m.logger.Info("🔌 Client disconnected",
		zap.String("client_id", c.ID),
		zap.String("reason", reason),
		zap.Strings("channels", channels),
		zap.Int("pending_discarded", pending),
		zap.Uint64("delivered", c.Delivered()),
		zap.Uint64("dropped", c.Dropped()),
		zap.Duration("lifetime", m.now().Sub(c.CreatedAt)))
	return true
}

// Shutdown refuses new connections, disconnects every live one and waits
// for their streaming loops
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id, ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("✅ Connection manager stopped", zap.Int("disconnected", len(ids)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain streaming loops: %w", ctx.Err())
	}
}

// Status returns the live connections and their subscriptions
func (m *Manager) Status() Status {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	status := Status{
		ClientIDs:     make([]string, 0, len(conns)),
		Subscriptions: make(map[string][]string, len(conns)),
		Dropped:       make(map[string]uint64, len(conns)),
	}
	for _, c := range conns {
		status.ClientIDs = append(status.ClientIDs, c.ID)
		status.Subscriptions[c.ID] = m.router.Subscriptions(c.ID)
		status.Dropped[c.ID] = c.Dropped()
	}
	sort.Strings(status.ClientIDs)
	status.ActiveConnections = len(status.ClientIDs)
	return status
}
