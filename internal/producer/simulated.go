package producer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	simSymbols    = []string{"AAPL", "MSFT", "NVDA", "LMT", "RTX", "NOC", "GD", "BA"}
	simIndicators = []string{"CPI", "PPI", "GDP", "UNEMPLOYMENT", "TRADE_BALANCE"}
	simAgencies   = []string{"DOD", "DHS", "DOE", "NASA", "STATE"}
	simRegions    = []string{"INDO_PACIFIC", "EASTERN_EUROPE", "MIDDLE_EAST", "ARCTIC", "SAHEL"}
	simSeverities = []string{"low", "moderate", "elevated", "high", "critical"}
	simRegulators = []string{"SEC", "FTC", "BIS", "OFAC", "FCC"}
)

// SimulatedSource generates plausible records across every category at a
// fixed rate. It is used for local runs and demos.
type SimulatedSource struct {
	limiter *rate.Limiter
	now     func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
	seq    uint64
	closed bool
}

// NewSimulatedSource emits perSecond records per second
func NewSimulatedSource(perSecond float64, seed int64) *SimulatedSource {
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	prices := make(map[string]decimal.Decimal, len(simSymbols))
	rng := rand.New(rand.NewSource(seed))
	for _, symbol := range simSymbols {
		prices[symbol] = decimal.NewFromFloat(50 + rng.Float64()*450).Round(2)
	}

	return &SimulatedSource{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
		rng:     rng,
		prices:  prices,
	}
}

// Next waits for the pacing limiter and returns the next record
func (s *SimulatedSource) Next(ctx context.Context) (model.Record, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return model.Record{}, ctx.Err()
		}
		return model.Record{}, fmt.Errorf("failed to pace simulated source: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Record{}, ErrSourceClosed
	}

	s.seq++
	categories := []channel.Category{
		channel.MarketData, channel.TradeData, channel.GovernmentData,
		channel.ThreatData, channel.RegulatoryData, channel.GeopoliticalData,
		channel.MilitaryData, channel.OperationsData, channel.AlliedData,
	}
	category := categories[int(s.seq)%len(categories)]
	key, payload := s.generate(category)

	return model.Record{Category: category, Key: key, Payload: payload, Timestamp: s.now()}, nil
}

func (s *SimulatedSource) generate(category channel.Category) (string, model.Payload) {
	switch category {
	case channel.MarketData:
		symbol := pick(s.rng, simSymbols)
		prev := s.prices[symbol]
		move := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 0.02)
		price := prev.Mul(decimal.NewFromInt(1).Add(move)).Round(2)
		s.prices[symbol] = price
		change := price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
		return symbol, model.Payload{
			"symbol":     symbol,
			"price":      price.InexactFloat64(),
			"change_pct": change.InexactFloat64(),
			"volume":     1000 + s.rng.Intn(100000),
		}
	case channel.TradeData:
		indicator := pick(s.rng, simIndicators)
		return indicator, model.Payload{
			"indicator": indicator,
			"value":     decimal.NewFromFloat(s.rng.Float64() * 10).Round(2).InexactFloat64(),
			"period":    s.now().UTC().Format("2006-01"),
		}
	case channel.GovernmentData:
		agency := pick(s.rng, simAgencies)
		return agency, model.Payload{
			"agency":       agency,
			"contract_id":  fmt.Sprintf("%s-%06d", agency, s.seq),
			"award_amount": decimal.NewFromFloat(1e5 + s.rng.Float64()*5e7).Round(0).InexactFloat64(),
		}
	case channel.ThreatData:
		region := pick(s.rng, simRegions)
		return region, model.Payload{
			"region":   region,
			"severity": pick(s.rng, simSeverities),
			"score":    s.rng.Intn(100),
		}
	case channel.RegulatoryData:
		regulator := pick(s.rng, simRegulators)
		return regulator, model.Payload{
			"regulator": regulator,
			"notice":    fmt.Sprintf("%s-%d", regulator, s.seq),
			"impact":    pick(s.rng, simSeverities),
		}
	case channel.GeopoliticalData:
		region := pick(s.rng, simRegions)
		return region, model.Payload{
			"region":    region,
			"stability": decimal.NewFromFloat(s.rng.Float64()).Round(3).InexactFloat64(),
		}
	default:
		region := pick(s.rng, simRegions)
		return region, model.Payload{
			"region":     region,
			"readiness":  pick(s.rng, simSeverities),
			"confidence": decimal.NewFromFloat(s.rng.Float64()).Round(2).InexactFloat64(),
			"sequence":   s.seq,
		}
	}
}

// Close stops the source
func (s *SimulatedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}
