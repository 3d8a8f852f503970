package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// StateSource supplies game snapshots for evaluation. The aggregator
// implements it; tests stub it.
type StateSource interface {
	GameStates() []*types.GameState
}

// SignalHandler consumes a generated signal. Handler errors are logged and
// do not stop evaluation of other signals.
type SignalHandler func(ctx context.Context, sig types.TradeSignal) error

// Engine evaluates every enabled strategy against every active game on a
// fixed cadence. A panicking or erroring strategy is isolated; the rest of
// the sweep continues.
type Engine struct {
	registry *Registry
	source   StateSource
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers []SignalHandler

	evaluations atomic.Int64
	signals     atomic.Int64
}

// NewEngine builds the evaluation engine.
func NewEngine(registry *Registry, source StateSource, interval time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		source:   source,
		interval: interval,
		logger:   logger.With("component", "strategy_engine"),
	}
}

// OnSignal registers a handler for generated signals.
func (e *Engine) OnSignal(h SignalHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// Registry exposes the engine's strategy registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Run sweeps all games on the configured interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("strategy engine started", "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("strategy engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll runs every enabled strategy against every game snapshot and
// dispatches the resulting signals. Returns the number of signals produced.
func (e *Engine) EvaluateAll(ctx context.Context) int {
	strategies := e.registry.Enabled()
	if len(strategies) == 0 {
		return 0
	}

	total := 0
	for _, g := range e.source.GameStates() {
		if !g.IsActive {
			continue
		}
		sigs := e.evaluateGame(g, strategies)
		total += len(sigs)
		for _, sig := range sigs {
			e.dispatch(ctx, sig)
		}
	}
	return total
}

// EvaluateGame runs the enabled strategies against a single snapshot
// without dispatching, for the on-demand evaluation endpoint.
func (e *Engine) EvaluateGame(g *types.GameState) []types.TradeSignal {
	return e.evaluateGame(g, e.registry.Enabled())
}

func (e *Engine) evaluateGame(g *types.GameState, strategies []Strategy) []types.TradeSignal {
	var out []types.TradeSignal
	for _, s := range strategies {
		out = append(out, e.evaluateOne(s, g)...)
	}
	return out
}

// evaluateOne isolates a single strategy evaluation, recovering panics so a
// broken strategy cannot take down the sweep.
func (e *Engine) evaluateOne(s Strategy, g *types.GameState) (sigs []types.TradeSignal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panicked",
				"strategy", s.Type(),
				"strategy_id", s.ID(),
				"game_id", g.GameID,
				"panic", r,
			)
			sigs = nil
		}
	}()
	e.evaluations.Add(1)
	sigs = s.Evaluate(g)
	e.signals.Add(int64(len(sigs)))
	return sigs
}

func (e *Engine) dispatch(ctx context.Context, sig types.TradeSignal) {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, sig); err != nil {
			e.logger.Error("signal handler failed",
				"strategy_id", sig.StrategyID,
				"ticker", sig.MarketTicker,
				"error", err,
			)
		}
	}
}

// Stats reports lifetime evaluation counters.
func (e *Engine) Stats() (evaluations, signals int64) {
	return e.evaluations.Load(), e.signals.Load()
}
