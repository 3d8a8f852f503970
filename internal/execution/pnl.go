package execution

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// ClosePosition sells an open position at the current bid for its side and
// realizes the P&L.
func (e *Engine) ClosePosition(ticker string, side types.Side) (*types.Position, error) {
	gameID, ok := e.data.GameForTicker(ticker)
	if !ok {
		return nil, types.E(types.KindValidation, "market %s is not loaded", ticker)
	}
	g, err := e.data.GameState(gameID)
	if err != nil {
		return nil, err
	}
	m, ok := g.Markets[ticker]
	if !ok {
		return nil, types.E(types.KindValidation, "market %s missing from game %s", ticker, gameID)
	}
	exit, err := bidFor(m.Orderbook, side)
	if err != nil {
		return nil, err
	}
	return e.closeAt(ticker, side, exit)
}

// SettleGame settles every open position of a finished game from its final
// score. It returns the settled positions.
func (e *Engine) SettleGame(gameID string) ([]*types.Position, error) {
	g, err := e.data.GameState(gameID)
	if err != nil {
		return nil, err
	}
	if !g.IsFinished() {
		return nil, types.E(types.KindValidation, "game %s is not finished", gameID)
	}
	if g.Sports == nil {
		return nil, types.E(types.KindValidation, "game %s has no final score", gameID)
	}

	var settled []*types.Position
	for _, p := range e.OpenPositions() {
		if p.GameID != gameID {
			continue
		}
		m, ok := g.Markets[p.MarketTicker]
		if !ok {
			continue
		}
		yesWon, err := resolveOutcome(g, m)
		if err != nil {
			e.logger.Warn("settlement skipped", "ticker", p.MarketTicker, "error", err)
			continue
		}

		// A winning contract pays 100 cents, a losing one pays zero.
		won := yesWon
		if p.Side == types.SideNo {
			won = !yesWon
		}
		payout := decimal.Zero
		if won {
			payout = hundred
		}
		pos, err := e.closeAt(p.MarketTicker, p.Side, payout)
		if err != nil {
			e.logger.Warn("settlement close failed", "ticker", p.MarketTicker, "error", err)
			continue
		}
		settled = append(settled, pos)
	}
	if len(settled) > 0 {
		e.logger.Info("game settled", "game_id", gameID, "positions", len(settled))
	}
	return settled, nil
}

// resolveOutcome decides whether the YES side of a market paid out, from the
// final score.
func resolveOutcome(g *types.GameState, m *types.MarketState) (bool, error) {
	s := g.Sports
	switch m.MarketType {
	case types.MarketMoneyline:
		if strings.EqualFold(m.Team, g.HomeTeam) {
			return s.HomeScore > s.AwayScore, nil
		}
		return s.AwayScore > s.HomeScore, nil
	case types.MarketSpread:
		if m.StrikeValue == nil {
			return false, types.E(types.KindValidation, "spread market %s has no strike", m.Ticker)
		}
		margin := s.HomeScore - s.AwayScore
		if !strings.EqualFold(m.Team, g.HomeTeam) {
			margin = -margin
		}
		return decimal.NewFromInt(int64(margin)).GreaterThan(*m.StrikeValue), nil
	case types.MarketTotal:
		if m.StrikeValue == nil {
			return false, types.E(types.KindValidation, "total market %s has no strike", m.Ticker)
		}
		return decimal.NewFromInt(int64(s.TotalScore())).GreaterThan(*m.StrikeValue), nil
	default:
		return false, types.E(types.KindValidation, "unknown market type %q", m.MarketType)
	}
}

// closeAt closes an open position at an exit price (bid or settlement
// payout) and updates the risk counters.
func (e *Engine) closeAt(ticker string, side types.Side, exit decimal.Decimal) (*types.Position, error) {
	now := e.now().UTC()

	e.mu.Lock()
	key := positionKey(ticker, side)
	pos, ok := e.positions[key]
	if !ok {
		e.mu.Unlock()
		return nil, types.E(types.KindNotFound, "no open %s position on %s", side, ticker)
	}
	delete(e.positions, key)

	pnl := exit.Sub(pos.AvgEntryPrice).Mul(decimal.NewFromInt(pos.Quantity))
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.UnrealizedPnL = decimal.Zero
	pos.IsOpen = false
	pos.UpdatedAt = now
	pos.ClosedAt = &now
	e.realized = e.realized.Add(pnl)
	cp := *pos
	e.mu.Unlock()

	e.risk.RecordPnL(pnl)
	e.risk.RecordPositionClose(ticker, cp.GameID, cp.Quantity)

	if err := e.store.SavePosition(&cp); err != nil {
		e.logger.Warn("position persist failed", "position_id", cp.ID, "error", err)
	}
	e.logger.Info("position closed",
		"ticker", ticker, "side", side,
		"exit", exit, "pnl_cents", pnl)
	return &cp, nil
}

// UpdateUnrealizedPnL marks every open position to the current mid for its
// side and persists the result.
func (e *Engine) UpdateUnrealizedPnL() {
	for _, p := range e.OpenPositions() {
		gameID, ok := e.data.GameForTicker(p.MarketTicker)
		if !ok {
			continue
		}
		g, err := e.data.GameState(gameID)
		if err != nil {
			continue
		}
		m, ok := g.Markets[p.MarketTicker]
		if !ok {
			continue
		}
		mid, ok := m.Orderbook.MidPrice()
		if !ok {
			continue
		}
		if p.Side == types.SideNo {
			mid = hundred.Sub(mid)
		}
		unrealized := mid.Mul(decimal.NewFromInt(p.Quantity)).Sub(p.TotalCost)

		e.mu.Lock()
		if live, ok := e.positions[positionKey(p.MarketTicker, p.Side)]; ok {
			live.UnrealizedPnL = unrealized
			live.UpdatedAt = e.now().UTC()
			cp := *live
			e.mu.Unlock()
			if err := e.store.SavePosition(&cp); err != nil {
				e.logger.Warn("position persist failed", "position_id", cp.ID, "error", err)
			}
			continue
		}
		e.mu.Unlock()
	}
}

// PortfolioSummary is the aggregate view served by the API.
type PortfolioSummary struct {
	OpenPositions int             `json:"open_positions"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OrdersToday   int64           `json:"orders_today"`
}

// Summary aggregates open positions and lifetime realized P&L.
func (e *Engine) Summary() PortfolioSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := PortfolioSummary{
		OpenPositions: len(e.positions),
		TotalCost:     decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		RealizedPnL:   e.realized,
		OrdersToday:   e.ordersToday,
	}
	for _, p := range e.positions {
		s.TotalCost = s.TotalCost.Add(p.TotalCost)
		s.UnrealizedPnL = s.UnrealizedPnL.Add(p.UnrealizedPnL)
	}
	return s
}

// StrategyPerformance summarizes one strategy's fills from order history.
type StrategyPerformance struct {
	StrategyID   string          `json:"strategy_id"`
	Orders       int             `json:"orders"`
	FilledOrders int             `json:"filled_orders"`
	Contracts    int64           `json:"contracts"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

// Performance computes fill statistics for a strategy from the persisted
// order history.
func (e *Engine) Performance(strategyID string) (*StrategyPerformance, error) {
	orders, err := e.store.OrdersByStrategy(strategyID)
	if err != nil {
		return nil, err
	}
	perf := &StrategyPerformance{StrategyID: strategyID, TotalCost: decimal.Zero}
	for _, o := range orders {
		perf.Orders++
		if o.Status != types.OrderStatusFilled || o.FilledPrice == nil {
			continue
		}
		perf.FilledOrders++
		perf.Contracts += o.Quantity
		perf.TotalCost = perf.TotalCost.Add(o.FilledPrice.Mul(decimal.NewFromInt(o.Quantity)))
	}
	return perf, nil
}
