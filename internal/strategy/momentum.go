package strategy

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const (
	TypeMomentum = "momentum"

	momentumName = "Momentum Scalping"
	momentumDesc = "Trade in the direction of rapid price movements"

	// maxPricePoints bounds each market's rolling history, enough to cover
	// the lookback window with 1 Hz snapshots plus slack.
	maxPricePoints = 100
)

// MomentumConfig tunes the price-velocity detector. Prices are cents.
type MomentumConfig struct {
	LookbackSeconds     int                `json:"lookback_seconds"`
	MinPriceChangeCents float64            `json:"min_price_change_cents"`
	PositionSize        int64              `json:"position_size"`
	CooldownMinutes     int                `json:"cooldown_minutes"`
	MaxSpreadCents      float64            `json:"max_spread_cents"`
	MarketTypes         []types.MarketType `json:"market_types"`
}

// DefaultMomentumConfig returns the stock configuration.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		LookbackSeconds:     120,
		MinPriceChangeCents: 5,
		PositionSize:        10,
		CooldownMinutes:     3,
		MaxSpreadCents:      3,
		MarketTypes:         []types.MarketType{types.MarketMoneyline, types.MarketSpread, types.MarketTotal},
	}
}

type pricePoint struct {
	price decimal.Decimal // mid, cents
	at    time.Time
}

// Momentum tracks a rolling mid-price history per market and follows
// significant moves: a rising price buys YES, a falling price buys NO.
type Momentum struct {
	base

	cfgMu sync.RWMutex
	cfg   MomentumConfig

	histMu  sync.Mutex
	history map[string][]pricePoint
}

// NewMomentum builds the strategy with defaults overlaid by rawCfg.
func NewMomentum(id string, rawCfg json.RawMessage, logger *slog.Logger) (*Momentum, error) {
	m := &Momentum{
		base:    newBase(id, momentumName, TypeMomentum, momentumDesc, logger),
		cfg:     DefaultMomentumConfig(),
		history: make(map[string][]pricePoint),
	}
	if len(rawCfg) > 0 {
		if err := json.Unmarshal(rawCfg, &m.cfg); err != nil {
			return nil, types.Wrap(types.KindBadInput, err, "momentum config")
		}
	}
	return m, nil
}

func (m *Momentum) ConfigJSON() json.RawMessage {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	raw, _ := json.Marshal(m.cfg)
	return raw
}

func (m *Momentum) UpdateConfig(raw json.RawMessage) error {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if err := json.Unmarshal(raw, &m.cfg); err != nil {
		return types.Wrap(types.KindBadInput, err, "momentum config")
	}
	m.logger.Info("config updated")
	return nil
}

// Evaluate records the current mids into the rolling history, then looks for
// moves exceeding the threshold within the lookback window. History is
// updated even while disabled so enabling the strategy does not start cold.
func (m *Momentum) Evaluate(g *types.GameState) []types.TradeSignal {
	markets := sortedMarkets(g)
	for _, mkt := range markets {
		m.observe(mkt)
	}

	if !m.IsEnabled() {
		return nil
	}
	m.cfgMu.RLock()
	cfg := m.cfg
	m.cfgMu.RUnlock()

	var signals []types.TradeSignal
	for _, mkt := range markets {
		if sig := m.evaluateMarket(mkt, cfg); sig != nil {
			signals = append(signals, *sig)
			m.recordSignal(*sig)
		}
	}
	return signals
}

// observe appends the current mid to the market's history ring.
func (m *Momentum) observe(mkt *types.MarketState) {
	mid, ok := mkt.Orderbook.MidPrice()
	if !ok || mid.LessThanOrEqual(decimal.Zero) {
		return
	}
	m.histMu.Lock()
	h := append(m.history[mkt.Ticker], pricePoint{price: mid, at: m.now()})
	if len(h) > maxPricePoints {
		h = h[len(h)-maxPricePoints:]
	}
	m.history[mkt.Ticker] = h
	m.histMu.Unlock()
}

// historicalPrice returns the recorded price closest to secondsAgo back.
// It requires at least two points and rejects matches further than half the
// lookback window from the target time.
func (m *Momentum) historicalPrice(ticker string, secondsAgo int) (decimal.Decimal, bool) {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	h := m.history[ticker]
	if len(h) < 2 {
		return decimal.Zero, false
	}
	target := m.now().Add(-time.Duration(secondsAgo) * time.Second)

	var closest decimal.Decimal
	closestDiff := time.Duration(-1)
	for _, p := range h {
		diff := p.at.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if closestDiff < 0 || diff < closestDiff {
			closestDiff = diff
			closest = p.price
		}
	}
	if closestDiff >= 0 && closestDiff <= time.Duration(secondsAgo)*time.Second/2 {
		return closest, true
	}
	return decimal.Zero, false
}

func (m *Momentum) evaluateMarket(mkt *types.MarketState, cfg MomentumConfig) *types.TradeSignal {
	if !typeAllowed(mkt.MarketType, cfg.MarketTypes) {
		return nil
	}
	if !m.checkCooldown(mkt.Ticker, time.Duration(cfg.CooldownMinutes)*time.Minute) {
		return nil
	}
	if mkt.Orderbook == nil {
		return nil
	}

	mid, ok := mkt.Orderbook.MidPrice()
	if !ok || mid.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	past, ok := m.historicalPrice(mkt.Ticker, cfg.LookbackSeconds)
	if !ok {
		return nil
	}

	change, _ := mid.Sub(past).Float64()
	absChange := change
	if absChange < 0 {
		absChange = -absChange
	}
	if absChange < cfg.MinPriceChangeCents {
		return nil
	}

	if spread, ok := mkt.Orderbook.Spread(); ok {
		if sf, _ := spread.Float64(); sf > cfg.MaxSpreadCents {
			m.logger.Debug("spread too wide", "ticker", mkt.Ticker, "spread", sf)
			return nil
		}
	}

	var side types.Side
	var entry decimal.Decimal
	if change > 0 {
		side = types.SideYes
		entry = mkt.Orderbook.YesAsk
	} else {
		side = types.SideNo
		entry = mkt.Orderbook.NoAsk
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	m.recordTrade(mkt.Ticker)

	midF, _ := mid.Float64()
	pastF, _ := past.Float64()
	entryF, _ := entry.Float64()
	direction := "up"
	if change < 0 {
		direction = "down"
	}
	sig := &types.TradeSignal{
		StrategyID:   m.id,
		StrategyName: m.name,
		MarketTicker: mkt.Ticker,
		Side:         side,
		Quantity:     cfg.PositionSize,
		Confidence:   minF(absChange/10, 1.0),
		Reason: fmt.Sprintf("Price moved %s %.1f cents in %d seconds. Following momentum.",
			direction, absChange, cfg.LookbackSeconds),
		Metadata: map[string]any{
			"current_price_cents":    midF,
			"historical_price_cents": pastF,
			"price_change_cents":     change,
			"lookback_seconds":       cfg.LookbackSeconds,
			"entry_price":            entryF,
		},
		Timestamp: m.now(),
	}

	m.logger.Info("momentum signal",
		"side", side,
		"quantity", cfg.PositionSize,
		"ticker", mkt.Ticker,
		"change_cents", change,
		"lookback_seconds", cfg.LookbackSeconds,
	)
	return sig
}

// PricePoint is one observed mid for history inspection endpoints.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceHistory exposes the recorded points for one market, oldest first.
func (m *Momentum) PriceHistory(ticker string) []PricePoint {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	h := m.history[ticker]
	out := make([]PricePoint, 0, len(h))
	for _, p := range h {
		out = append(out, PricePoint{Price: p.price, Timestamp: p.at})
	}
	return out
}

// ClearPriceHistory drops all recorded points.
func (m *Momentum) ClearPriceHistory() {
	m.histMu.Lock()
	m.history = make(map[string][]pricePoint)
	m.histMu.Unlock()
}
