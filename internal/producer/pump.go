package producer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang-intel-service/internal/cache"
	"golang-intel-service/internal/model"
	"golang-intel-service/internal/router"

	"go.uber.org/zap"
)

// Publisher fans a record out to subscribed connections. store runs
// immediately before the fan-out, atomically with respect to new
// subscriptions.
type Publisher interface {
	PublishWith(rec model.Record, store func()) router.FanOutResult
}

// Mirror receives a copy of every cached record
type Mirror interface {
	MirrorEntry(ctx context.Context, rec model.Record, ttl time.Duration) error
}

// PumpOptions configures a Pump
type PumpOptions struct {
	Source     Source
	Normalizer *Normalizer
	Cache      *cache.Cache
	Publisher  Publisher
	// Mirror is optional
	Mirror Mirror

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StatsInterval  time.Duration
	Logger         *zap.Logger
}

// Pump moves records from a source through the cache to subscribers
type Pump struct {
	opts    PumpOptions
	logger  *zap.Logger
	running atomic.Bool

	processed    atomic.Int64
	invalid      atomic.Int64
	duplicates   atomic.Int64
	sourceErrors atomic.Int64
	mirrorErrors atomic.Int64
	recipients   atomic.Int64
	startedAt    atomic.Int64
}

// NewPump creates a pump
func NewPump(opts PumpOptions) (*Pump, error) {
	if opts.Source == nil || opts.Cache == nil || opts.Publisher == nil || opts.Normalizer == nil {
		return nil, fmt.Errorf("pump needs a source, normalizer, cache and publisher")
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pump{opts: opts, logger: opts.Logger.Named("producer")}, nil
}

// Running reports whether Run is active
func (p *Pump) Running() bool {
	return p.running.Load()
}

// Run pulls records until ctx is done or the source is exhausted. Source
// faults are retried with capped exponential backoff.
func (p *Pump) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pump already running")
	}
	defer p.running.Store(false)
	p.startedAt.Store(time.Now().UnixNano())

	p.logger.Info("🚀 Data producer started")
	defer p.logger.Info("🛑 Data producer stopped", zap.Any("stats", p.GetStats()))

	if p.opts.StatsInterval > 0 {
		go p.statsReporter(ctx)
	}

	backoff := p.opts.InitialBackoff
	for {
		rec, err := p.opts.Source.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrSourceClosed):
				return nil
			case errors.Is(err, ErrInvalidRecord):
				p.invalid.Add(1)
				p.logger.Warn("⚠️ Dropped undecodable record", zap.Error(err))
				continue
			}

			p.sourceErrors.Add(1)
			p.logger.Warn("⚠️ Source fault, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > p.opts.MaxBackoff {
				backoff = p.opts.MaxBackoff
			}
			continue
		}
		backoff = p.opts.InitialBackoff

		p.process(ctx, rec)
	}
}

func (p *Pump) process(ctx context.Context, rec model.Record) {
	rec, ok, err := p.opts.Normalizer.Normalize(rec)
	if err != nil {
		p.invalid.Add(1)
		p.logger.Debug("Rejected record", zap.Error(err))
		return
	}
	if !ok {
		p.duplicates.Add(1)
		return
	}

	var entry cache.Entry
	result := p.opts.Publisher.PublishWith(rec, func() {
		entry = p.opts.Cache.Put(rec.Category, rec.Key, rec.Payload)
	})

	if p.opts.Mirror != nil {
		if err := p.opts.Mirror.MirrorEntry(ctx, rec, entry.TTL); err != nil {
			p.mirrorErrors.Add(1)
			p.logger.Warn("⚠️ Failed to mirror record",
				zap.String("category", string(rec.Category)),
				zap.String("key", rec.Key),
				zap.Error(err))
		}
	}

	p.recipients.Add(int64(result.Delivered))
	p.processed.Add(1)
}

func (p *Pump) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(p.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logger.Info("📊 Data producer statistics", zap.Any("stats", p.GetStats()))
		}
	}
}

// GetStats returns pump statistics
func (p *Pump) GetStats() map[string]interface{} {
	processed := p.processed.Load()
	rate := float64(0)
	if started := p.startedAt.Load(); started > 0 {
		if elapsed := time.Since(time.Unix(0, started)).Seconds(); elapsed > 0 {
			rate = float64(processed) / elapsed
		}
	}

	return map[string]interface{}{
		"running":            p.Running(),
		"processed":          processed,
		"invalid":            p.invalid.Load(),
		"duplicates":         p.duplicates.Load(),
		"source_errors":      p.sourceErrors.Load(),
		"mirror_errors":      p.mirrorErrors.Load(),
		"delivered_frames":   p.recipients.Load(),
		"records_per_second": fmt.Sprintf("%.2f", rate),
		"normalizer":         p.opts.Normalizer.GetStats(),
	}
}
