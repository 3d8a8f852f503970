package api

import (
	"time"

	"github.com/johnkush50/kalshi-NBA/internal/risk"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// Snapshot is the full engine state sent to a stream client on connect.
type Snapshot struct {
	Timestamp  time.Time          `json:"timestamp"`
	Games      []*types.GameState `json:"games"`
	Strategies []StrategyInfo     `json:"strategies"`
	Portfolio  PortfolioResponse  `json:"portfolio"`
	Risk       risk.Status        `json:"risk"`
}

func (s *Server) buildSnapshot() Snapshot {
	list := s.deps.Strategy.Registry().List()
	strategies := make([]StrategyInfo, 0, len(list))
	for _, st := range list {
		strategies = append(strategies, strategyInfo(st))
	}

	summary := s.deps.Execution.Summary()
	return Snapshot{
		Timestamp:  time.Now().UTC(),
		Games:      s.deps.Games.GameStates(),
		Strategies: strategies,
		Portfolio: PortfolioResponse{
			OpenPositions: summary.OpenPositions,
			TotalCost:     summary.TotalCost,
			UnrealizedPnL: summary.UnrealizedPnL,
			RealizedPnL:   summary.RealizedPnL,
			OrdersToday:   summary.OrdersToday,
			Positions:     s.deps.Execution.OpenPositions(),
		},
		Risk: s.deps.Risk.GetStatus(),
	}
}
