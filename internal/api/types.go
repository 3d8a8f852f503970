// Package api exposes the HTTP control surface: game loading, strategy
// management, risk limits, portfolio inspection, and a websocket stream of
// live game state.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Wire DTOs
// ————————————————————————————————————————————————————————————————————————

// GameSummary is one row of the games listing.
type GameSummary struct {
	GameID      string `json:"game_id"`
	EventTicker string `json:"event_ticker"`
	HomeTeam    string `json:"home_team"`
	AwayTeam    string `json:"away_team"`
	GameDate    string `json:"game_date"`
	Status      string `json:"status"`
	Loaded      bool   `json:"loaded"`
}

// StrategyInfo is one row of the strategies listing.
type StrategyInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	Config      json.RawMessage `json:"config"`
}

// LoadStrategyRequest creates or replaces a strategy instance.
type LoadStrategyRequest struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Config json.RawMessage `json:"config,omitempty"`
}

// OrderRequest places a manual paper order.
type OrderRequest struct {
	MarketTicker string `json:"market_ticker"`
	Side         string `json:"side"`
	Quantity     int64  `json:"quantity"`
	Reason       string `json:"reason,omitempty"`
}

// CloseRequest closes an open position at the current bid.
type CloseRequest struct {
	MarketTicker string `json:"market_ticker"`
	Side         string `json:"side"`
}

// LimitRequest overrides one risk limit.
type LimitRequest struct {
	Value float64 `json:"value"`
}

// EvaluateResponse carries the signals from an on-demand evaluation.
type EvaluateResponse struct {
	GameID  string              `json:"game_id"`
	Signals []types.TradeSignal `json:"signals"`
}

// PortfolioResponse is the aggregate portfolio view.
type PortfolioResponse struct {
	OpenPositions int               `json:"open_positions"`
	TotalCost     decimal.Decimal   `json:"total_cost"`
	UnrealizedPnL decimal.Decimal   `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal   `json:"realized_pnl"`
	OrdersToday   int64             `json:"orders_today"`
	Positions     []*types.Position `json:"positions"`
}

// StreamEvent is the websocket envelope. Snapshot events carry the full
// Snapshot; game events carry the updated GameState.
type StreamEvent struct {
	Type      string           `json:"type"` // "snapshot" or an EventKind
	GameID    string           `json:"game_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Game      *types.GameState `json:"game,omitempty"`
	Snapshot  *Snapshot        `json:"snapshot,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ————————————————————————————————————————————————————————————————————————
// Response helpers
// ————————————————————————————————————————————————————————————————————————

// statusFor maps the error taxonomy to HTTP statuses.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindBadInput, types.KindValidation:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	case types.KindRiskRejected:
		return http.StatusUnprocessableEntity
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	case types.KindAuthFailure:
		return http.StatusUnauthorized
	case types.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := types.KindOf(err)
	writeJSON(w, logger, statusFor(kind), errorResponse{Error: err.Error(), Kind: string(kind)})
}
