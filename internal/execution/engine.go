// Package execution simulates order placement against live top-of-book
// prices. Signals that clear the risk gate fill immediately at the ask for
// their side; positions aggregate fills per (market, side) and are settled
// from final scores when a game ends. No real orders leave this process.
package execution

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/risk"
	"github.com/johnkush50/kalshi-NBA/internal/store"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// MarketDataSource supplies current game state for price discovery. The
// aggregator satisfies it.
type MarketDataSource interface {
	GameState(gameID string) (*types.GameState, error)
	GameForTicker(ticker string) (string, bool)
	GameStates() []*types.GameState
}

// FillCallback runs after every simulated fill with the order and the
// updated position.
type FillCallback func(order *types.Order, position *types.Position)

// Engine is the paper-trading executor.
type Engine struct {
	cfg    config.ExecutionConfig
	risk   *risk.Manager
	data   MarketDataSource
	store  *store.Store
	logger *slog.Logger

	mu          sync.Mutex
	positions   map[string]*types.Position // "ticker|side" -> open position
	ordersToday int64
	day         time.Time
	realized    decimal.Decimal
	callbacks   []FillCallback

	now func() time.Time
}

// NewEngine creates an executor. Call RestorePositions before trading to
// pick up open positions from a previous run.
func NewEngine(
	cfg config.ExecutionConfig,
	riskMgr *risk.Manager,
	data MarketDataSource,
	st *store.Store,
	logger *slog.Logger,
) *Engine {
	now := time.Now().UTC()
	return &Engine{
		cfg:       cfg,
		risk:      riskMgr,
		data:      data,
		store:     st,
		logger:    logger.With("component", "execution"),
		positions: make(map[string]*types.Position),
		day:       now.Truncate(24 * time.Hour),
		now:       time.Now,
	}
}

// RestorePositions loads open positions persisted by a previous run.
func (e *Engine) RestorePositions() error {
	open, err := e.store.ListPositions(true)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range open {
		e.positions[positionKey(p.MarketTicker, p.Side)] = p
	}
	if len(open) > 0 {
		e.logger.Info("restored open positions", "count", len(open))
	}
	return nil
}

// OnFill registers a callback invoked after each fill.
func (e *Engine) OnFill(fn FillCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, fn)
}

// ExecuteSignal turns a strategy signal into a simulated fill. The pipeline
// is: risk gate, local validation (loaded market, daily order budget,
// position cap), then price discovery at the ask. Every rejection persists
// the order as Cancelled with its reason before returning.
func (e *Engine) ExecuteSignal(ctx context.Context, sig types.TradeSignal) (*types.Order, error) {
	if sig.Quantity <= 0 {
		return nil, types.E(types.KindValidation, "signal quantity %d must be positive", sig.Quantity)
	}
	if sig.Side != types.SideYes && sig.Side != types.SideNo {
		return nil, types.E(types.KindValidation, "unknown side %q", sig.Side)
	}

	// The game id is best-effort here so the risk gate can apply its
	// per-game limits; an unresolved ticker is rejected just below.
	gameID, loaded := e.data.GameForTicker(sig.MarketTicker)

	now := e.now().UTC()
	order := &types.Order{
		ID:           uuid.NewString(),
		GameID:       gameID,
		StrategyID:   sig.StrategyID,
		MarketTicker: sig.MarketTicker,
		OrderType:    types.OrderTypeMarket,
		Side:         sig.Side,
		Quantity:     sig.Quantity,
		Status:       types.OrderStatusPending,
		Reason:       sig.Reason,
		PlacedAt:     now,
	}

	if res := e.risk.CheckOrder(order); !res.Approved {
		e.persistRejection(order, res.Reason)
		return nil, types.E(types.KindRiskRejected, "%s", res.Reason)
	}

	if !loaded {
		err := types.E(types.KindValidation, "market %s is not loaded", sig.MarketTicker)
		e.persistRejection(order, err.Error())
		return nil, err
	}
	g, err := e.data.GameState(gameID)
	if err != nil {
		e.persistRejection(order, err.Error())
		return nil, err
	}
	m, ok := g.Markets[sig.MarketTicker]
	if !ok {
		err := types.E(types.KindValidation, "market %s missing from game %s", sig.MarketTicker, gameID)
		e.persistRejection(order, err.Error())
		return nil, err
	}
	if err := e.checkCaps(order); err != nil {
		e.persistRejection(order, err.Error())
		return nil, err
	}

	price, err := askFor(m.Orderbook, sig.Side)
	if err != nil {
		e.persistRejection(order, err.Error())
		return nil, err
	}

	order.Status = types.OrderStatusFilled
	order.FilledPrice = &price
	order.FilledAt = &now
	e.risk.RecordOrder(order, price)

	e.mu.Lock()
	e.ordersToday++
	pos := e.applyFillLocked(order, price, now)
	callbacks := append([]FillCallback(nil), e.callbacks...)
	e.mu.Unlock()

	if err := e.store.SaveOrder(order); err != nil {
		e.logger.Warn("order persist failed", "order_id", order.ID, "error", err)
	}
	if err := e.store.SavePosition(pos); err != nil {
		e.logger.Warn("position persist failed", "position_id", pos.ID, "error", err)
	}

	e.logger.Info("filled",
		"ticker", order.MarketTicker, "side", order.Side,
		"qty", order.Quantity, "price", price,
		"strategy", order.StrategyID)

	posCopy := *pos
	for _, fn := range callbacks {
		fn(order, &posCopy)
	}
	return order, nil
}

// checkCaps enforces the executor's own budget and size limits, separate
// from the risk manager's.
func (e *Engine) checkCaps(order *types.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()

	if e.ordersToday >= e.cfg.MaxDailyOrders {
		return types.E(types.KindValidation,
			"daily order budget exhausted (%d/%d)", e.ordersToday, e.cfg.MaxDailyOrders)
	}
	if p, ok := e.positions[positionKey(order.MarketTicker, order.Side)]; ok {
		if p.Quantity+order.Quantity > e.cfg.MaxPositionSize {
			return types.E(types.KindValidation,
				"position cap reached for %s %s (%d + %d > %d)",
				order.MarketTicker, order.Side, p.Quantity, order.Quantity, e.cfg.MaxPositionSize)
		}
	} else if order.Quantity > e.cfg.MaxPositionSize {
		return types.E(types.KindValidation,
			"order size %d exceeds position cap %d", order.Quantity, e.cfg.MaxPositionSize)
	}
	return nil
}

// applyFillLocked folds a fill into the (market, side) position, creating it
// if needed. Average entry is cost-weighted.
func (e *Engine) applyFillLocked(order *types.Order, price decimal.Decimal, now time.Time) *types.Position {
	key := positionKey(order.MarketTicker, order.Side)
	cost := price.Mul(decimal.NewFromInt(order.Quantity))

	pos, ok := e.positions[key]
	if !ok {
		pos = &types.Position{
			ID:            uuid.NewString(),
			GameID:        order.GameID,
			MarketTicker:  order.MarketTicker,
			Side:          order.Side,
			Quantity:      order.Quantity,
			AvgEntryPrice: price,
			TotalCost:     cost,
			IsOpen:        true,
			OpenedAt:      now,
			UpdatedAt:     now,
		}
		e.positions[key] = pos
		return pos
	}

	pos.Quantity += order.Quantity
	pos.TotalCost = pos.TotalCost.Add(cost)
	pos.AvgEntryPrice = pos.TotalCost.Div(decimal.NewFromInt(pos.Quantity))
	pos.UpdatedAt = now
	return pos
}

func (e *Engine) persistRejection(order *types.Order, reason string) {
	order.Status = types.OrderStatusCancelled
	order.Reason = reason
	if err := e.store.SaveOrder(order); err != nil {
		e.logger.Warn("rejected order persist failed", "order_id", order.ID, "error", err)
	}
	e.logger.Info("order rejected",
		"ticker", order.MarketTicker, "side", order.Side,
		"qty", order.Quantity, "reason", reason)
}

// rollDayLocked resets the daily order counter at UTC midnight.
func (e *Engine) rollDayLocked() {
	today := e.now().UTC().Truncate(24 * time.Hour)
	if today.After(e.day) {
		e.day = today
		e.ordersToday = 0
	}
}

// Position returns the open position for a (market, side), if any.
func (e *Engine) Position(ticker string, side types.Side) (*types.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[positionKey(ticker, side)]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// OpenPositions lists open positions ordered by ticker then side.
func (e *Engine) OpenPositions() []*types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketTicker != out[j].MarketTicker {
			return out[i].MarketTicker < out[j].MarketTicker
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// askFor returns the entry price for a side, failing when that side of the
// book is unquoted.
func askFor(ob *types.OrderbookState, side types.Side) (decimal.Decimal, error) {
	if ob == nil {
		return decimal.Zero, types.E(types.KindValidation, "no orderbook")
	}
	ask := ob.YesAsk
	if side == types.SideNo {
		ask = ob.NoAsk
	}
	if ask.IsZero() {
		return decimal.Zero, types.E(types.KindValidation, "no %s ask on %s", side, ob.Ticker)
	}
	return ask, nil
}

// bidFor returns the exit price for a side.
func bidFor(ob *types.OrderbookState, side types.Side) (decimal.Decimal, error) {
	if ob == nil {
		return decimal.Zero, types.E(types.KindValidation, "no orderbook")
	}
	bid := ob.YesBid
	if side == types.SideNo {
		bid = ob.NoBid
	}
	if bid.IsZero() {
		return decimal.Zero, types.E(types.KindValidation, "no %s bid on %s", side, ob.Ticker)
	}
	return bid, nil
}

func positionKey(ticker string, side types.Side) string {
	return ticker + "|" + string(side)
}
