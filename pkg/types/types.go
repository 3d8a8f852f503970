// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — game state, market
// and orderbook snapshots, trade signals, simulated orders and positions,
// and the error taxonomy. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the side of a binary contract: YES or NO.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side of the contract.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ParseSide converts a string to a Side, case-insensitively.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "yes":
		return SideYes, nil
	case "no":
		return SideNo, nil
	default:
		return "", E(KindBadInput, "unknown side %q", s)
	}
}

// OrderType enumerates supported order kinds. Only market orders are
// simulated; limit orders exist in the model for persistence compatibility.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle state of a simulated order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Phase is the lifecycle phase of a game.
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhasePregame   Phase = "pregame"
	PhaseLive      Phase = "live"
	PhaseHalftime  Phase = "halftime"
	PhaseFinished  Phase = "finished"
	PhaseCancelled Phase = "cancelled"
)

// PhaseFromStatus maps a provider status string to a Phase. Unknown statuses
// map to Scheduled so a bad feed never kills a loaded game.
func PhaseFromStatus(status string) Phase {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "", "scheduled":
		return PhaseScheduled
	case "in_progress", "live":
		return PhaseLive
	case "halftime":
		return PhaseHalftime
	case "final", "finished":
		return PhaseFinished
	case "cancelled", "postponed":
		return PhaseCancelled
	}
	// Providers report live games as "1st Qtr", "4TH QTR", etc.
	if strings.Contains(s, "qtr") || strings.Contains(s, "quarter") || strings.Contains(s, "ot") {
		return PhaseLive
	}
	return PhaseScheduled
}

// MarketType classifies a binary contract.
type MarketType string

const (
	MarketMoneyline MarketType = "moneyline"
	MarketSpread    MarketType = "spread"
	MarketTotal     MarketType = "total"
)

// EventKind identifies the change that triggered a subscriber notification.
type EventKind string

const (
	EventOrderbookUpdate EventKind = "orderbook_update"
	EventSportsUpdate    EventKind = "sports_update"
	EventOddsUpdate      EventKind = "odds_update"
	EventStateChange     EventKind = "state_change"
	EventGameLoaded      EventKind = "game_loaded"
	EventGameUnloaded    EventKind = "game_unloaded"
)

// ————————————————————————————————————————————————————————————————————————
// Error taxonomy
// ————————————————————————————————————————————————————————————————————————

// ErrorKind classifies failures so the HTTP layer and callers can branch
// without string matching.
type ErrorKind string

const (
	KindBadInput     ErrorKind = "bad_input"
	KindNotFound     ErrorKind = "not_found"
	KindAuthFailure  ErrorKind = "auth_failure"
	KindUpstream     ErrorKind = "upstream_failure"
	KindRateLimited  ErrorKind = "rate_limited"
	KindRiskRejected ErrorKind = "risk_rejected"
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindInternal     ErrorKind = "internal"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a typed error around an underlying cause.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from an error chain, defaulting to Internal.
func KindOf(err error) ErrorKind {
	var te *Error
	for e := err; e != nil; {
		if t, ok := e.(*Error); ok {
			te = t
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if te != nil {
		return te.Kind
	}
	return KindInternal
}

// ————————————————————————————————————————————————————————————————————————
// Orderbook and market state
// ————————————————————————————————————————————————————————————————————————

// OrderbookState is the top-of-book for a single binary market. Prices are
// integer cents on [0, 100] held as decimals; zero values mean "no quote".
type OrderbookState struct {
	Ticker      string          `json:"ticker"`
	YesBid      decimal.Decimal `json:"yes_bid"`
	YesAsk      decimal.Decimal `json:"yes_ask"`
	NoBid       decimal.Decimal `json:"no_bid"`
	NoAsk       decimal.Decimal `json:"no_ask"`
	YesBidSize  int64           `json:"yes_bid_size"`
	YesAskSize  int64           `json:"yes_ask_size"`
	NoBidSize   int64           `json:"no_bid_size"`
	NoAskSize   int64           `json:"no_ask_size"`
	LastUpdated time.Time       `json:"last_updated"`
}

// MidPrice returns (yes_bid + yes_ask) / 2, or zero and false when either
// side is unquoted.
func (o *OrderbookState) MidPrice() (decimal.Decimal, bool) {
	if o == nil || o.YesBid.IsZero() || o.YesAsk.IsZero() {
		return decimal.Zero, false
	}
	return o.YesBid.Add(o.YesAsk).Div(decimal.NewFromInt(2)), true
}

// Spread returns yes_ask - yes_bid, or zero and false when unquoted.
func (o *OrderbookState) Spread() (decimal.Decimal, bool) {
	if o == nil || o.YesBid.IsZero() || o.YesAsk.IsZero() {
		return decimal.Zero, false
	}
	return o.YesAsk.Sub(o.YesBid), true
}

// HasLiquidity reports whether both sides of the YES book are quoted with size.
func (o *OrderbookState) HasLiquidity() bool {
	return o != nil && !o.YesBid.IsZero() && !o.YesAsk.IsZero() &&
		o.YesBidSize > 0 && o.YesAskSize > 0
}

// MarketState is one binary contract within a game.
type MarketState struct {
	ID          string           `json:"id"`
	Ticker      string           `json:"ticker"`
	MarketType  MarketType       `json:"market_type"`
	StrikeValue *decimal.Decimal `json:"strike_value,omitempty"` // spread magnitude or total line
	Team        string           `json:"team,omitempty"`         // which team a moneyline/spread contract is on
	Orderbook   *OrderbookState  `json:"orderbook,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Live sports and odds
// ————————————————————————————————————————————————————————————————————————

// LiveSportsState is the latest scoreboard snapshot for a game.
type LiveSportsState struct {
	ProviderGameID int64     `json:"provider_game_id"`
	Status         string    `json:"status"`
	Period         int       `json:"period"`
	TimeRemaining  string    `json:"time_remaining"` // "MM:SS"
	HomeScore      int       `json:"home_score"`
	AwayScore      int       `json:"away_score"`
	HomeTeam       string    `json:"home_team"`
	AwayTeam       string    `json:"away_team"`
	LastUpdated    time.Time `json:"last_updated"`
}

// TotalScore returns the combined score.
func (s *LiveSportsState) TotalScore() int { return s.HomeScore + s.AwayScore }

// ScoreDifferential returns home minus away (positive = home leading).
func (s *LiveSportsState) ScoreDifferential() int { return s.HomeScore - s.AwayScore }

// MinutesElapsed estimates game minutes played from the period and the
// period clock. Periods are 12 minutes; an unparseable clock counts as the
// start of the period.
func (s *LiveSportsState) MinutesElapsed() float64 {
	if s.Period == 0 {
		return 0
	}
	timeLeft := 12.0
	if parts := strings.Split(s.TimeRemaining, ":"); len(parts) == 2 {
		var m, sec int
		if _, err := fmt.Sscanf(s.TimeRemaining, "%d:%d", &m, &sec); err == nil {
			timeLeft = float64(m) + float64(sec)/60
		}
	}
	completed := s.Period - 1
	if completed < 0 {
		completed = 0
	}
	return float64(completed)*12 + (12 - timeLeft)
}

// OddsQuote is one sportsbook's three-way line for a game. Pointer fields
// are nil when the vendor does not publish that line.
type OddsQuote struct {
	Vendor    string    `json:"vendor"`
	Timestamp time.Time `json:"timestamp"`

	MoneylineHome *int64 `json:"moneyline_home,omitempty"` // American odds
	MoneylineAway *int64 `json:"moneyline_away,omitempty"`

	SpreadHomeValue *decimal.Decimal `json:"spread_home_value,omitempty"` // e.g. -5.5
	SpreadHomeOdds  *int64           `json:"spread_home_odds,omitempty"`
	SpreadAwayValue *decimal.Decimal `json:"spread_away_value,omitempty"`
	SpreadAwayOdds  *int64           `json:"spread_away_odds,omitempty"`

	TotalValue     *decimal.Decimal `json:"total_value,omitempty"` // e.g. 220.5
	TotalOverOdds  *int64           `json:"total_over_odds,omitempty"`
	TotalUnderOdds *int64           `json:"total_under_odds,omitempty"`
}

// ConsensusOdds aggregates vendor quotes into vig-free probabilities and
// median lines. Probability pointers are nil when too few vendors quote.
type ConsensusOdds struct {
	NumSportsbooks int `json:"num_sportsbooks"`

	HomeWinProbability *decimal.Decimal `json:"home_win_probability,omitempty"` // 0-1
	AwayWinProbability *decimal.Decimal `json:"away_win_probability,omitempty"`

	SpreadLine            *decimal.Decimal `json:"spread_line,omitempty"`
	SpreadHomeProbability *decimal.Decimal `json:"spread_home_probability,omitempty"`

	TotalLine       *decimal.Decimal `json:"total_line,omitempty"`
	OverProbability *decimal.Decimal `json:"over_probability,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// ————————————————————————————————————————————————————————————————————————
// Game state
// ————————————————————————————————————————————————————————————————————————

// GameState is the authoritative per-game aggregate combining exchange
// markets, the live scoreboard, and vendor odds. It is owned by the
// aggregator; strategies receive deep-copied snapshots and must not expect
// mutations to be observed.
type GameState struct {
	GameID      string `json:"game_id"`
	EventTicker string `json:"event_ticker"`

	HomeTeam string    `json:"home_team"`
	AwayTeam string    `json:"away_team"`
	GameDate time.Time `json:"game_date"`
	Phase    Phase     `json:"phase"`

	Markets map[string]*MarketState `json:"markets"` // ticker -> market

	Sports *LiveSportsState `json:"sports,omitempty"`

	Odds      map[string]*OddsQuote `json:"odds"` // vendor -> quote
	Consensus *ConsensusOdds        `json:"consensus,omitempty"`

	// Implied probabilities derived from exchange mids, keyed by ticker.
	ExchangeProbabilities map[string]decimal.Decimal `json:"exchange_probabilities"`

	LastUpdated time.Time `json:"last_updated"`
	IsActive    bool      `json:"is_active"`
}

// IsLive reports whether the game is in play.
func (g *GameState) IsLive() bool { return g.Phase == PhaseLive }

// IsFinished reports whether the game has ended.
func (g *GameState) IsFinished() bool { return g.Phase == PhaseFinished }

// HasSportsData reports whether a scoreboard feed is attached.
func (g *GameState) HasSportsData() bool {
	return g.Sports != nil && g.Sports.ProviderGameID != 0
}

// ActiveMarkets counts markets with a two-sided quoted book.
func (g *GameState) ActiveMarkets() int {
	n := 0
	for _, m := range g.Markets {
		if m.Orderbook.HasLiquidity() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to strategies and subscribers.
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Markets = make(map[string]*MarketState, len(g.Markets))
	for t, m := range g.Markets {
		mc := *m
		if m.Orderbook != nil {
			ob := *m.Orderbook
			mc.Orderbook = &ob
		}
		if m.StrikeValue != nil {
			sv := *m.StrikeValue
			mc.StrikeValue = &sv
		}
		cp.Markets[t] = &mc
	}
	if g.Sports != nil {
		sp := *g.Sports
		cp.Sports = &sp
	}
	cp.Odds = make(map[string]*OddsQuote, len(g.Odds))
	for v, q := range g.Odds {
		qc := *q
		cp.Odds[v] = &qc
	}
	if g.Consensus != nil {
		cc := *g.Consensus
		cp.Consensus = &cc
	}
	cp.ExchangeProbabilities = make(map[string]decimal.Decimal, len(g.ExchangeProbabilities))
	for t, p := range g.ExchangeProbabilities {
		cp.ExchangeProbabilities[t] = p
	}
	return &cp
}

// ————————————————————————————————————————————————————————————————————————
// Signals, orders, positions
// ————————————————————————————————————————————————————————————————————————

// TradeSignal is a strategy's trade intent, consumed by execution after the
// risk gate.
type TradeSignal struct {
	StrategyID   string         `json:"strategy_id"`
	StrategyName string         `json:"strategy_name"`
	MarketTicker string         `json:"market_ticker"`
	Side         Side           `json:"side"`
	Quantity     int64          `json:"quantity"`
	Confidence   float64        `json:"confidence"` // 0-1
	Reason       string         `json:"reason"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Order is a simulated order. Filled orders always carry FilledPrice and
// FilledAt.
type Order struct {
	ID           string           `json:"id"`
	GameID       string           `json:"game_id"`
	StrategyID   string           `json:"strategy_id,omitempty"`
	MarketTicker string           `json:"market_ticker"`
	OrderType    OrderType        `json:"order_type"`
	Side         Side             `json:"side"`
	Quantity     int64            `json:"quantity"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	FilledPrice  *decimal.Decimal `json:"filled_price,omitempty"`
	Status       OrderStatus      `json:"status"`
	Reason       string           `json:"reason,omitempty"` // signal reason, or rejection reason
	PlacedAt     time.Time        `json:"placed_at"`
	FilledAt     *time.Time       `json:"filled_at,omitempty"`
}

// Position is the per (market, side) holdings aggregate. Prices in cents.
type Position struct {
	ID            string          `json:"id"`
	GameID        string          `json:"game_id"`
	MarketTicker  string          `json:"market_ticker"`
	Side          Side            `json:"side"`
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	IsOpen        bool            `json:"is_open"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

// CurrentValue returns the mark-to-market value at the given price.
func (p *Position) CurrentValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}
