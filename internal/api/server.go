package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang-intel-service/internal/cache"
	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"
	"golang-intel-service/internal/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ProducerStatus reports on the background data producer
type ProducerStatus interface {
	Running() bool
	GetStats() map[string]interface{}
}

// MirrorReader reads back the Redis copy of the delivery cache
type MirrorReader interface {
	GetEntry(ctx context.Context, category channel.Category, key string) (model.Record, bool, error)
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// StatusResponse is returned by /api/status
type StatusResponse struct {
	session.Status
	ProducerRunning bool      `json:"producer_running"`
	Timestamp       time.Time `json:"timestamp"`
}

// ChannelInfo describes one channel on /api/channels
type ChannelInfo struct {
	Name          string           `json:"name"`
	Category      channel.Category `json:"category"`
	RequiredLevel string           `json:"required_level"`
	Gated         bool             `json:"gated"`
	Description   string           `json:"description"`
	Subscribers   int              `json:"subscribers"`
}

// Dependencies are the components served over HTTP
type Dependencies struct {
	Manager  *session.Manager
	Registry *channel.Registry
	Cache    *cache.Cache
	Producer ProducerStatus
	// Mirror is optional; it answers cache lookups that miss in memory
	Mirror MirrorReader
	Stream   *StreamHandler
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Now      func() time.Time
}

type handlers struct {
	Dependencies
	logger *zap.Logger
}

// NewRouter registers every HTTP and WebSocket route
func NewRouter(deps Dependencies) *mux.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{Dependencies: deps, logger: deps.Logger.Named("http")}

	router := mux.NewRouter()
	router.HandleFunc("/ws", deps.Stream.HandleStream).Methods(http.MethodGet)
	router.HandleFunc("/ws/secure", deps.Stream.HandleSecureStream).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/status", h.status).Methods(http.MethodGet)
	apiRouter.HandleFunc("/health", h.health).Methods(http.MethodGet)
	apiRouter.HandleFunc("/channels", h.channels).Methods(http.MethodGet)
	apiRouter.HandleFunc("/cache/{category}", h.cacheList).Methods(http.MethodGet)
	apiRouter.HandleFunc("/cache/{category}/{key}", h.cacheGet).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

func (h *handlers) reply(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *handlers) replyError(w http.ResponseWriter, code int, message string) {
	h.reply(w, code, map[string]interface{}{
		"error":     message,
		"status":    code,
		"timestamp": h.Now().UTC(),
	})
}

func (h *handlers) producerRunning() bool {
	return h.Producer != nil && h.Producer.Running()
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	h.reply(w, http.StatusOK, StatusResponse{
		Status:          h.Manager.Status(),
		ProducerRunning: h.producerRunning(),
		Timestamp:       h.Now().UTC(),
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":             "healthy",
		"active_connections": h.Manager.Count(),
		"cache_entries":      h.Cache.Len(),
		"producer_running":   h.producerRunning(),
		"timestamp":          h.Now().UTC(),
	}
	if h.Producer != nil {
		body["producer"] = h.Producer.GetStats()
	}
	if h.Mirror != nil {
		stats, err := h.Mirror.Stats(r.Context())
		if err != nil {
			h.logger.Warn("⚠️ Failed to read Redis stats", zap.Error(err))
			stats = map[string]interface{}{"connection_status": "error", "error": err.Error()}
		}
		body["redis"] = stats
	}
	h.reply(w, http.StatusOK, body)
}

func (h *handlers) channels(w http.ResponseWriter, r *http.Request) {
	counts := h.Manager.Router().ChannelCounts()
	out := make([]ChannelInfo, 0)
	for _, ch := range h.Registry.Channels() {
		out = append(out, ChannelInfo{
			Name:          ch.Name,
			Category:      ch.Category,
			RequiredLevel: ch.Required.String(),
			Gated:         ch.Gated(),
			Description:   ch.Description,
			Subscribers:   counts[ch.Name],
		})
	}
	h.reply(w, http.StatusOK, map[string]interface{}{"channels": out})
}

func (h *handlers) category(w http.ResponseWriter, r *http.Request) (channel.Category, bool) {
	category := channel.Category(mux.Vars(r)["category"])
	if !h.Registry.KnownCategory(category) {
		h.replyError(w, http.StatusNotFound, "unknown category "+string(category))
		return "", false
	}
	return category, true
}

// cacheList serves entries of a category, most recent first. Classified
// categories are not exposed over plain HTTP.
func (h *handlers) cacheList(w http.ResponseWriter, r *http.Request) {
	category, ok := h.category(w, r)
	if !ok {
		return
	}
	if h.restricted(category) {
		h.replyError(w, http.StatusForbidden, "category requires clearance")
		return
	}
	entries := h.Cache.List(category)
	h.reply(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"count":    len(entries),
		"entries":  entries,
	})
}

func (h *handlers) cacheGet(w http.ResponseWriter, r *http.Request) {
	category, ok := h.category(w, r)
	if !ok {
		return
	}
	if h.restricted(category) {
		h.replyError(w, http.StatusForbidden, "category requires clearance")
		return
	}
	key := mux.Vars(r)["key"]
	if payload, found := h.Cache.Get(category, key); found {
		h.reply(w, http.StatusOK, map[string]interface{}{
			"category": category,
			"key":      key,
			"payload":  payload,
			"source":   "memory",
		})
		return
	}

	if h.Mirror != nil {
		rec, found, err := h.Mirror.GetEntry(r.Context(), category, key)
		if err != nil {
			h.logger.Warn("⚠️ Redis mirror lookup failed",
				zap.String("category", string(category)),
				zap.String("key", key),
				zap.Error(err))
		}
		if found {
			h.reply(w, http.StatusOK, map[string]interface{}{
				"category":  category,
				"key":       key,
				"payload":   rec.Payload,
				"timestamp": rec.Timestamp,
				"source":    "redis",
			})
			return
		}
	}
	h.replyError(w, http.StatusNotFound, "no live entry for "+key)
}

// restricted reports whether every channel fed by a category is gated
func (h *handlers) restricted(category channel.Category) bool {
	for _, name := range h.Registry.ChannelsFor(category) {
		if ch, ok := h.Registry.Lookup(name); ok && !ch.Gated() {
			return false
		}
	}
	return true
}
