// Package risk enforces pre-trade limits on the simulated portfolio.
//
// The Manager is a process-wide gate consulted before every simulated fill.
// It tracks contract counts per market and game, exposure per game and
// strategy, realized losses per day and week, rolling order frequency, and a
// consecutive-loss cooldown. Checks run in a fixed order and the first
// failure is returned with the limit that tripped. Exposure checks use the
// worst case of 100 cents per contract since the fill price isn't known at
// check time.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// LimitKind identifies a configurable risk limit.
type LimitKind string

const (
	MaxContractsPerMarket LimitKind = "max_contracts_per_market"
	MaxContractsPerGame   LimitKind = "max_contracts_per_game"
	MaxTotalContracts     LimitKind = "max_total_contracts"
	MaxDailyLoss          LimitKind = "max_daily_loss"
	MaxWeeklyLoss         LimitKind = "max_weekly_loss"
	MaxPerTradeRisk       LimitKind = "max_per_trade_risk"
	MaxTotalExposure      LimitKind = "max_total_exposure"
	MaxExposurePerGame    LimitKind = "max_exposure_per_game"
	MaxExposurePerStrat   LimitKind = "max_exposure_per_strategy"
	MaxOrdersPerDay       LimitKind = "max_orders_per_day"
	MaxOrdersPerHour      LimitKind = "max_orders_per_hour"
	LossStreakCooldown    LimitKind = "loss_streak_cooldown"
)

// AllLimitKinds lists every limit, in check order, for API responses.
var AllLimitKinds = []LimitKind{
	MaxContractsPerMarket, MaxContractsPerGame, MaxTotalContracts,
	MaxDailyLoss, MaxWeeklyLoss, MaxPerTradeRisk,
	MaxTotalExposure, MaxExposurePerGame, MaxExposurePerStrat,
	MaxOrdersPerDay, MaxOrdersPerHour, LossStreakCooldown,
}

const lossStreakCooldownDuration = 5 * time.Minute

// CheckResult is the outcome of a pre-trade risk check.
type CheckResult struct {
	Approved bool      `json:"approved"`
	Reason   string    `json:"reason,omitempty"`
	Limit    LimitKind `json:"limit_type,omitempty"`
	Current  float64   `json:"current_value,omitempty"`
	Max      float64   `json:"limit_value,omitempty"`
}

func approved() CheckResult { return CheckResult{Approved: true} }

func rejected(limit LimitKind, current, max float64, format string, args ...any) CheckResult {
	return CheckResult{
		Approved: false,
		Reason:   fmt.Sprintf(format, args...),
		Limit:    limit,
		Current:  current,
		Max:      max,
	}
}

// Status is a point-in-time view of the risk counters.
type Status struct {
	Enabled           bool                  `json:"enabled"`
	DailyLoss         decimal.Decimal       `json:"daily_loss"`
	WeeklyLoss        decimal.Decimal       `json:"weekly_loss"`
	ConsecutiveLosses int                   `json:"consecutive_losses"`
	CooldownActive    bool                  `json:"cooldown_active"`
	CooldownUntil     *time.Time            `json:"cooldown_until,omitempty"`
	OrdersToday       int                   `json:"orders_today"`
	OrdersThisHour    int                   `json:"orders_this_hour"`
	TotalExposure     decimal.Decimal       `json:"total_exposure"`
	TotalContracts    int64                 `json:"total_contracts"`
	Limits            map[LimitKind]float64 `json:"limits"`
}

// Manager tracks risk counters and validates orders against limits.
type Manager struct {
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time

	limits  map[LimitKind]float64
	enabled bool

	dailyLoss  decimal.Decimal
	weeklyLoss decimal.Decimal

	hourlyOrders []time.Time
	dailyOrders  []time.Time

	consecutiveLosses int
	cooldownUntil     time.Time

	contractsByMarket  map[string]int64
	contractsByGame    map[string]int64
	exposureByGame     map[string]decimal.Decimal
	exposureByStrategy map[string]decimal.Decimal

	lastDailyReset  time.Time // date truncated
	lastWeeklyReset time.Time // Monday of the last reset week
}

// NewManager creates a risk manager seeded with the configured limits.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	now := time.Now().UTC()
	return &Manager{
		logger: logger.With("component", "risk"),
		now:    time.Now,
		limits: map[LimitKind]float64{
			MaxContractsPerMarket: float64(cfg.MaxContractsPerMarket),
			MaxContractsPerGame:   float64(cfg.MaxContractsPerGame),
			MaxTotalContracts:     float64(cfg.MaxTotalContracts),
			MaxDailyLoss:          float64(cfg.MaxDailyLoss),
			MaxWeeklyLoss:         float64(cfg.MaxWeeklyLoss),
			MaxPerTradeRisk:       float64(cfg.MaxPerTradeRisk),
			MaxTotalExposure:      float64(cfg.MaxTotalExposure),
			MaxExposurePerGame:    float64(cfg.MaxExposurePerGame),
			MaxExposurePerStrat:   float64(cfg.MaxExposurePerStrat),
			MaxOrdersPerDay:       float64(cfg.MaxOrdersPerDay),
			MaxOrdersPerHour:      float64(cfg.MaxOrdersPerHour),
			LossStreakCooldown:    float64(cfg.LossStreakCooldown),
		},
		enabled:            true,
		contractsByMarket:  make(map[string]int64),
		contractsByGame:    make(map[string]int64),
		exposureByGame:     make(map[string]decimal.Decimal),
		exposureByStrategy: make(map[string]decimal.Decimal),
		lastDailyReset:     truncateDay(now),
		lastWeeklyReset:    weekStart(now),
	}
}

// CheckOrder runs every pre-trade check and returns the first failure.
func (m *Manager) CheckOrder(order *types.Order) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return CheckResult{Approved: true, Reason: "risk management disabled"}
	}

	m.checkResets()

	now := m.now().UTC()
	if now.Before(m.cooldownUntil) {
		remaining := m.cooldownUntil.Sub(now).Round(time.Second)
		return rejected(LossStreakCooldown, float64(m.consecutiveLosses), m.limits[LossStreakCooldown],
			"in cooldown after %d consecutive losses, %s remaining", m.consecutiveLosses, remaining)
	}

	if r := m.checkPositionLimits(order); !r.Approved {
		m.logger.Warn("risk check failed", "reason", r.Reason)
		return r
	}
	if r := m.checkLossLimits(); !r.Approved {
		m.logger.Warn("risk check failed", "reason", r.Reason)
		return r
	}
	if r := m.checkExposureLimits(order); !r.Approved {
		m.logger.Warn("risk check failed", "reason", r.Reason)
		return r
	}
	if r := m.checkTradingLimits(now); !r.Approved {
		m.logger.Warn("risk check failed", "reason", r.Reason)
		return r
	}
	if r := m.checkPerTradeRisk(order); !r.Approved {
		m.logger.Warn("risk check failed", "reason", r.Reason)
		return r
	}

	return CheckResult{Approved: true, Reason: "all risk checks passed"}
}

func (m *Manager) checkPositionLimits(order *types.Order) CheckResult {
	current := m.contractsByMarket[order.MarketTicker]
	if total := current + order.Quantity; float64(total) > m.limits[MaxContractsPerMarket] {
		return rejected(MaxContractsPerMarket, float64(current), m.limits[MaxContractsPerMarket],
			"would exceed max contracts per market (%d > %.0f)", total, m.limits[MaxContractsPerMarket])
	}

	currentGame := m.contractsByGame[order.GameID]
	if total := currentGame + order.Quantity; float64(total) > m.limits[MaxContractsPerGame] {
		return rejected(MaxContractsPerGame, float64(currentGame), m.limits[MaxContractsPerGame],
			"would exceed max contracts per game (%d > %.0f)", total, m.limits[MaxContractsPerGame])
	}

	var all int64
	for _, n := range m.contractsByMarket {
		all += n
	}
	if total := all + order.Quantity; float64(total) > m.limits[MaxTotalContracts] {
		return rejected(MaxTotalContracts, float64(all), m.limits[MaxTotalContracts],
			"would exceed max total contracts (%d > %.0f)", total, m.limits[MaxTotalContracts])
	}

	return approved()
}

func (m *Manager) checkLossLimits() CheckResult {
	if limit := m.limits[MaxDailyLoss]; m.dailyLoss.GreaterThanOrEqual(decimal.NewFromFloat(limit)) {
		return rejected(MaxDailyLoss, m.dailyLoss.InexactFloat64(), limit,
			"daily loss limit reached (%s cents >= %.0f cents)", m.dailyLoss, limit)
	}
	if limit := m.limits[MaxWeeklyLoss]; m.weeklyLoss.GreaterThanOrEqual(decimal.NewFromFloat(limit)) {
		return rejected(MaxWeeklyLoss, m.weeklyLoss.InexactFloat64(), limit,
			"weekly loss limit reached (%s cents >= %.0f cents)", m.weeklyLoss, limit)
	}
	return approved()
}

// checkExposureLimits assumes the worst case of 100 cents per contract.
func (m *Manager) checkExposureLimits(order *types.Order) CheckResult {
	estimated := decimal.NewFromInt(order.Quantity * 100)

	total := decimal.Zero
	for _, e := range m.exposureByGame {
		total = total.Add(e)
	}
	if limit := m.limits[MaxTotalExposure]; total.Add(estimated).GreaterThan(decimal.NewFromFloat(limit)) {
		return rejected(MaxTotalExposure, total.InexactFloat64(), limit,
			"would exceed max total exposure (%s cents > %.0f cents)", total.Add(estimated), limit)
	}

	gameExposure := m.exposureByGame[order.GameID]
	if limit := m.limits[MaxExposurePerGame]; gameExposure.Add(estimated).GreaterThan(decimal.NewFromFloat(limit)) {
		return rejected(MaxExposurePerGame, gameExposure.InexactFloat64(), limit,
			"would exceed max exposure per game (%s cents > %.0f cents)", gameExposure.Add(estimated), limit)
	}

	if order.StrategyID != "" {
		stratExposure := m.exposureByStrategy[order.StrategyID]
		if limit := m.limits[MaxExposurePerStrat]; stratExposure.Add(estimated).GreaterThan(decimal.NewFromFloat(limit)) {
			return rejected(MaxExposurePerStrat, stratExposure.InexactFloat64(), limit,
				"would exceed max exposure per strategy (%s cents > %.0f cents)", stratExposure.Add(estimated), limit)
		}
	}

	return approved()
}

func (m *Manager) checkTradingLimits(now time.Time) CheckResult {
	hourAgo := now.Add(-time.Hour)
	recent := m.hourlyOrders[:0]
	for _, t := range m.hourlyOrders {
		if t.After(hourAgo) {
			recent = append(recent, t)
		}
	}
	m.hourlyOrders = recent

	if limit := m.limits[MaxOrdersPerHour]; float64(len(recent)) >= limit {
		return rejected(MaxOrdersPerHour, float64(len(recent)), limit,
			"hourly order limit reached (%d >= %.0f)", len(recent), limit)
	}
	if limit := m.limits[MaxOrdersPerDay]; float64(len(m.dailyOrders)) >= limit {
		return rejected(MaxOrdersPerDay, float64(len(m.dailyOrders)), limit,
			"daily order limit reached (%d >= %.0f)", len(m.dailyOrders), limit)
	}
	return approved()
}

// checkPerTradeRisk uses the maximum possible loss of 100 cents per contract.
func (m *Manager) checkPerTradeRisk(order *types.Order) CheckResult {
	maxRisk := order.Quantity * 100
	if limit := m.limits[MaxPerTradeRisk]; float64(maxRisk) > limit {
		return rejected(MaxPerTradeRisk, float64(maxRisk), limit,
			"per-trade risk too high (%d cents > %.0f cents)", maxRisk, limit)
	}
	return approved()
}

// RecordOrder updates the counters after a simulated fill.
func (m *Manager) RecordOrder(order *types.Order, fillPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	m.hourlyOrders = append(m.hourlyOrders, now)
	m.dailyOrders = append(m.dailyOrders, now)

	m.contractsByMarket[order.MarketTicker] += order.Quantity
	m.contractsByGame[order.GameID] += order.Quantity

	cost := fillPrice.Mul(decimal.NewFromInt(order.Quantity))
	m.exposureByGame[order.GameID] = m.exposureByGame[order.GameID].Add(cost)
	if order.StrategyID != "" && order.StrategyID != "manual" {
		m.exposureByStrategy[order.StrategyID] = m.exposureByStrategy[order.StrategyID].Add(cost)
	}
}

// RecordPnL registers realized P&L from a closed position. Losses feed the
// daily/weekly counters and the loss streak; a win resets the streak.
func (m *Manager) RecordPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pnl.IsNegative() {
		loss := pnl.Abs()
		m.dailyLoss = m.dailyLoss.Add(loss)
		m.weeklyLoss = m.weeklyLoss.Add(loss)
		m.consecutiveLosses++

		if float64(m.consecutiveLosses) >= m.limits[LossStreakCooldown] {
			m.cooldownUntil = m.now().UTC().Add(lossStreakCooldownDuration)
			m.logger.Warn("loss streak cooldown triggered",
				"consecutive_losses", m.consecutiveLosses,
				"cooldown_until", m.cooldownUntil,
			)
		}
	} else {
		m.consecutiveLosses = 0
	}

	m.logger.Info("recorded pnl",
		"pnl_cents", pnl,
		"daily_loss", m.dailyLoss,
		"streak", m.consecutiveLosses,
	)
}

// RecordPositionClose releases contract counts when a position closes.
func (m *Manager) RecordPositionClose(marketTicker, gameID string, quantity int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.contractsByMarket[marketTicker]; ok {
		m.contractsByMarket[marketTicker] = max64(0, n-quantity)
	}
	if n, ok := m.contractsByGame[gameID]; ok {
		m.contractsByGame[gameID] = max64(0, n-quantity)
	}
}

// SetLimit overrides one limit at runtime.
func (m *Manager) SetLimit(kind LimitKind, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[kind] = value
	m.logger.Info("risk limit updated", "limit", kind, "value", value)
}

// GetLimit returns one limit value.
func (m *Manager) GetLimit(kind LimitKind) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits[kind]
}

// GetAllLimits returns a copy of the limit table.
func (m *Manager) GetAllLimits() map[LimitKind]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[LimitKind]float64, len(m.limits))
	for k, v := range m.limits {
		out[k] = v
	}
	return out
}

// Enable turns the risk gate on.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.logger.Info("risk management enabled")
}

// Disable turns the risk gate off; every order passes.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	m.logger.Warn("risk management disabled")
}

// IsEnabled reports whether the gate is active.
func (m *Manager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// GetStatus returns the current counters and limits.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkResets()

	now := m.now().UTC()
	hourAgo := now.Add(-time.Hour)
	hourly := 0
	for _, t := range m.hourlyOrders {
		if t.After(hourAgo) {
			hourly++
		}
	}

	total := decimal.Zero
	for _, e := range m.exposureByGame {
		total = total.Add(e)
	}
	var contracts int64
	for _, n := range m.contractsByMarket {
		contracts += n
	}

	st := Status{
		Enabled:           m.enabled,
		DailyLoss:         m.dailyLoss,
		WeeklyLoss:        m.weeklyLoss,
		ConsecutiveLosses: m.consecutiveLosses,
		CooldownActive:    now.Before(m.cooldownUntil),
		OrdersToday:       len(m.dailyOrders),
		OrdersThisHour:    hourly,
		TotalExposure:     total,
		TotalContracts:    contracts,
		Limits:            make(map[LimitKind]float64, len(m.limits)),
	}
	if !m.cooldownUntil.IsZero() {
		cd := m.cooldownUntil
		st.CooldownUntil = &cd
	}
	for k, v := range m.limits {
		st.Limits[k] = v
	}
	return st
}

// ResetAll clears every counter.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyLoss = decimal.Zero
	m.weeklyLoss = decimal.Zero
	m.hourlyOrders = nil
	m.dailyOrders = nil
	m.consecutiveLosses = 0
	m.cooldownUntil = time.Time{}
	m.contractsByMarket = make(map[string]int64)
	m.contractsByGame = make(map[string]int64)
	m.exposureByGame = make(map[string]decimal.Decimal)
	m.exposureByStrategy = make(map[string]decimal.Decimal)
	m.logger.Info("risk manager reset")
}

// checkResets rolls the daily counters at midnight UTC and the weekly
// counters on Monday. Callers must hold the mutex.
func (m *Manager) checkResets() {
	now := m.now().UTC()

	if today := truncateDay(now); today.After(m.lastDailyReset) {
		m.dailyLoss = decimal.Zero
		m.dailyOrders = nil
		m.lastDailyReset = today
		m.logger.Info("daily risk counters reset")
	}

	if ws := weekStart(now); ws.After(m.lastWeeklyReset) {
		m.weeklyLoss = decimal.Zero
		m.lastWeeklyReset = ws
		m.logger.Info("weekly risk counters reset")
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	day := truncateDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
