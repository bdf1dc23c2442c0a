package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang-intel-service/internal/auth"
	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamOptions configures the WebSocket entry points
type StreamOptions struct {
	WriteWait    time.Duration
	PingInterval time.Duration
	// BaseContext bounds every served connection, cancelled on shutdown
	BaseContext context.Context
	Logger      *zap.Logger
}

// StreamHandler upgrades HTTP requests to streaming sessions
type StreamHandler struct {
	upgrader      websocket.Upgrader
	manager       *session.Manager
	authenticator auth.Authenticator
	opts          StreamOptions
	logger        *zap.Logger
}

// NewStreamHandler creates the handler for the open and gated entry points
func NewStreamHandler(manager *session.Manager, authenticator auth.Authenticator, opts StreamOptions) *StreamHandler {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &StreamHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		manager:       manager,
		authenticator: authenticator,
		opts:          opts,
		logger:        opts.Logger.Named("ws"),
	}
}

// credential returns the bearer token from the Authorization header or the
// token query parameter
func credential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	return r.URL.Query().Get("token")
}

// HandleStream serves the open entry point. Ungated channels are available
// to everyone; a valid token raises the caller's clearance.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticator.Authenticate(r.Context(), credential(r))
	if err != nil {
		h.logger.Warn("🔒 Rejected WebSocket credentials", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("❌ WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.serve(conn, r, identity, false)
}

// HandleSecureStream serves the gated entry point. The requested tier must
// be secret, top_secret or sci; anything else is closed with a policy
// violation. The effective clearance never exceeds what the credential grants.
func (h *StreamHandler) HandleSecureStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("❌ WebSocket upgrade failed", zap.Error(err))
		return
	}

	tier, err := channel.ParseTier(r.URL.Query().Get("clearance"))
	if err != nil {
		h.refuse(conn, r, err.Error())
		return
	}

	identity, err := h.authenticator.Authenticate(r.Context(), credential(r))
	if err != nil {
		reason := "invalid credentials"
		if !errors.Is(err, auth.ErrInvalidToken) {
			reason = "authentication unavailable"
		}
		h.refuse(conn, r, reason)
		return
	}

	effective := channel.Min(tier, identity.Clearance)
	if effective < tier {
		h.logger.Info("🔒 Requested clearance capped by credentials",
			zap.String("user_id", identity.UserID),
			zap.String("requested", tier.String()),
			zap.String("effective", effective.String()))
	}
	h.serve(conn, r, identity.WithClearance(effective), true)
}

func (h *StreamHandler) refuse(conn *websocket.Conn, r *http.Request, reason string) {
	h.logger.Warn("🔒 Refused gated connection", zap.String("remote_addr", r.RemoteAddr), zap.String("reason", reason))
	t := newWSTransport(conn, h.opts.WriteWait, 0)
	_ = t.Close(session.ClosePolicyViolation, reason)
}

func (h *StreamHandler) serve(conn *websocket.Conn, r *http.Request, identity auth.Identity, gated bool) {
	transport := newWSTransport(conn, h.opts.WriteWait, h.opts.PingInterval)

	c, err := h.manager.Accept(transport, session.AcceptOptions{
		Identity:   identity,
		Gated:      gated,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.Header.Get("User-Agent"),
	})
	if err != nil {
		_ = transport.Close(session.CloseGoingAway, "server shutting down")
		return
	}

	err = h.manager.Serve(h.opts.BaseContext, c)
	if errors.Is(err, session.ErrConnectionClosed) {
		h.logger.Debug("Connection closed before serving", zap.String("client_id", c.ID))
		return
	}
	if err != nil && !isExpectedReadError(err) {
		h.logger.Warn("⚠️ WebSocket session ended with error", zap.String("client_id", c.ID), zap.Error(err))
	}
}

func isExpectedReadError(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseAbnormalClosure
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
