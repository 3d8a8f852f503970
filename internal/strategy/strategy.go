// Package strategy implements the signal-generating trading strategies and
// the evaluation engine that runs them against live game snapshots.
//
// Each strategy consumes deep-copied GameState snapshots and returns
// TradeSignal intents; it never executes orders itself. Strategies are
// registered by type in a Registry (loading a second instance of a type
// replaces the first) and evaluated on a fixed cadence by the Engine, which
// hands resulting signals to registered handlers.
package strategy

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// Strategy is a signal generator. Implementations must be safe for
// concurrent use: the engine evaluates from its loop while the API layer
// toggles enablement and rewrites config.
type Strategy interface {
	ID() string
	Name() string
	Type() string
	Description() string

	IsEnabled() bool
	Enable()
	Disable()

	// ConfigJSON returns the current effective configuration.
	ConfigJSON() json.RawMessage
	// UpdateConfig overlays the given JSON onto the current configuration.
	// Absent fields keep their current values.
	UpdateConfig(raw json.RawMessage) error

	// Evaluate inspects a game snapshot and returns zero or more signals.
	Evaluate(g *types.GameState) []types.TradeSignal

	// SignalHistory returns the most recent generated signals, oldest first.
	SignalHistory() []types.TradeSignal
}

// maxSignalHistory bounds the per-strategy signal ring.
const maxSignalHistory = 100

// base carries the bookkeeping shared by all strategies: identity,
// enablement, per-market trade cooldowns, and a bounded signal history.
type base struct {
	id   string
	name string
	typ  string
	desc string

	mu        sync.Mutex
	enabled   bool
	lastTrade map[string]time.Time
	history   []types.TradeSignal

	now    func() time.Time
	logger *slog.Logger
}

func newBase(id, name, typ, desc string, logger *slog.Logger) base {
	return base{
		id:        id,
		name:      name,
		typ:       typ,
		desc:      desc,
		lastTrade: make(map[string]time.Time),
		now:       time.Now,
		logger:    logger.With("strategy", typ, "strategy_id", id),
	}
}

func (b *base) ID() string          { return b.id }
func (b *base) Name() string        { return b.name }
func (b *base) Type() string        { return b.typ }
func (b *base) Description() string { return b.desc }

func (b *base) IsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *base) Enable() {
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
	b.logger.Info("strategy enabled")
}

func (b *base) Disable() {
	b.mu.Lock()
	b.enabled = false
	b.mu.Unlock()
	b.logger.Info("strategy disabled")
}

// checkCooldown reports whether the per-market cooldown has elapsed.
func (b *base) checkCooldown(ticker string, cooldown time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastTrade[ticker]
	if !ok {
		return true
	}
	elapsed := b.now().Sub(last)
	if elapsed < cooldown {
		b.logger.Debug("cooldown active",
			"ticker", ticker,
			"elapsed", elapsed,
			"cooldown", cooldown,
		)
		return false
	}
	return true
}

// recordTrade starts the cooldown clock for a market.
func (b *base) recordTrade(ticker string) {
	b.mu.Lock()
	b.lastTrade[ticker] = b.now()
	b.mu.Unlock()
}

// recordSignal appends to the bounded history ring.
func (b *base) recordSignal(sig types.TradeSignal) {
	b.mu.Lock()
	b.history = append(b.history, sig)
	if len(b.history) > maxSignalHistory {
		b.history = b.history[len(b.history)-maxSignalHistory:]
	}
	b.mu.Unlock()
}

func (b *base) SignalHistory() []types.TradeSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.TradeSignal, len(b.history))
	copy(out, b.history)
	return out
}

// ResetCooldowns clears all cooldown timers.
func (b *base) ResetCooldowns() {
	b.mu.Lock()
	b.lastTrade = make(map[string]time.Time)
	b.mu.Unlock()
}

// sortedMarkets returns the game's markets in ticker order so evaluation is
// deterministic across runs.
func sortedMarkets(g *types.GameState) []*types.MarketState {
	out := make([]*types.MarketState, 0, len(g.Markets))
	for _, m := range g.Markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// typeAllowed reports whether a market type is in the configured set.
func typeAllowed(mt types.MarketType, allowed []types.MarketType) bool {
	for _, a := range allowed {
		if a == mt {
			return true
		}
	}
	return false
}
