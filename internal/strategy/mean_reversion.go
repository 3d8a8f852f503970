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
	TypeMeanReversion = "mean_reversion"

	meanReversionName = "Live Mean Reversion"
	meanReversionDesc = "Trade on overreactions during live games, expecting mean reversion"
)

// MeanReversionConfig tunes the live overreaction detector. Swings are in
// percentage points of the contract price.
type MeanReversionConfig struct {
	MinReversionPercent float64            `json:"min_reversion_percent"`
	MaxReversionPercent float64            `json:"max_reversion_percent"`
	MinTimeRemainingPct float64            `json:"min_time_remaining_pct"`
	PositionSize        int64              `json:"position_size"`
	CooldownMinutes     int                `json:"cooldown_minutes"`
	OnlyFirstHalf       bool               `json:"only_first_half"`
	MarketTypes         []types.MarketType `json:"market_types"`
	MaxScoreDeficit     int                `json:"max_score_deficit"`
}

// DefaultMeanReversionConfig returns the stock configuration.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		MinReversionPercent: 15,
		MaxReversionPercent: 40,
		MinTimeRemainingPct: 25,
		PositionSize:        10,
		CooldownMinutes:     10,
		OnlyFirstHalf:       true,
		MarketTypes:         []types.MarketType{types.MarketMoneyline},
		MaxScoreDeficit:     20,
	}
}

// MeanReversion snapshots pre-game mids when a game first goes live, then
// fades in-game swings that land inside a tradeable band: big enough to be
// an overreaction, small enough to not be a genuine shift.
type MeanReversion struct {
	base

	cfgMu sync.RWMutex
	cfg   MeanReversionConfig

	stateMu  sync.Mutex
	pregame  map[string]map[string]decimal.Decimal // game id -> ticker -> mid
	seenLive map[string]bool
}

// NewMeanReversion builds the strategy with defaults overlaid by rawCfg.
func NewMeanReversion(id string, rawCfg json.RawMessage, logger *slog.Logger) (*MeanReversion, error) {
	s := &MeanReversion{
		base:     newBase(id, meanReversionName, TypeMeanReversion, meanReversionDesc, logger),
		cfg:      DefaultMeanReversionConfig(),
		pregame:  make(map[string]map[string]decimal.Decimal),
		seenLive: make(map[string]bool),
	}
	if len(rawCfg) > 0 {
		if err := json.Unmarshal(rawCfg, &s.cfg); err != nil {
			return nil, types.Wrap(types.KindBadInput, err, "mean_reversion config")
		}
	}
	return s, nil
}

func (s *MeanReversion) ConfigJSON() json.RawMessage {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	raw, _ := json.Marshal(s.cfg)
	return raw
}

func (s *MeanReversion) UpdateConfig(raw json.RawMessage) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if err := json.Unmarshal(raw, &s.cfg); err != nil {
		return types.Wrap(types.KindBadInput, err, "mean_reversion config")
	}
	s.logger.Info("config updated")
	return nil
}

// Evaluate handles the live-transition snapshot and then fades qualifying
// swings. The first live evaluation of a game only records the baseline.
func (s *MeanReversion) Evaluate(g *types.GameState) []types.TradeSignal {
	if !s.IsEnabled() {
		return nil
	}
	s.cfgMu.RLock()
	cfg := s.cfg
	s.cfgMu.RUnlock()

	live := isGameLive(g)

	s.stateMu.Lock()
	firstLive := live && !s.seenLive[g.GameID]
	if firstLive {
		s.snapshotPregameLocked(g)
		s.seenLive[g.GameID] = true
	}
	_, havePregame := s.pregame[g.GameID]
	s.stateMu.Unlock()

	if firstLive {
		// Baseline just captured; nothing to fade yet.
		return nil
	}
	if !live || !havePregame {
		return nil
	}
	if !enoughTimeRemaining(g, cfg.MinTimeRemainingPct) {
		return nil
	}
	if cfg.OnlyFirstHalf && !isFirstHalf(g) {
		return nil
	}

	var signals []types.TradeSignal
	for _, m := range sortedMarkets(g) {
		if sig := s.evaluateMarket(g, m, cfg); sig != nil {
			signals = append(signals, *sig)
			s.recordSignal(*sig)
		}
	}
	return signals
}

func (s *MeanReversion) evaluateMarket(g *types.GameState, m *types.MarketState, cfg MeanReversionConfig) *types.TradeSignal {
	if !typeAllowed(m.MarketType, cfg.MarketTypes) {
		return nil
	}
	if !s.checkCooldown(m.Ticker, time.Duration(cfg.CooldownMinutes)*time.Minute) {
		return nil
	}
	if m.Orderbook == nil {
		return nil
	}

	current, ok := m.Orderbook.MidPrice()
	if !ok {
		return nil
	}
	s.stateMu.Lock()
	baseline, havePrice := s.pregame[g.GameID][m.Ticker]
	s.stateMu.Unlock()
	if !havePrice {
		return nil
	}

	// Cent prices, so the swing is already percentage points.
	swing, _ := current.Sub(baseline).Float64()
	swingPct := swing
	if swingPct < 0 {
		swingPct = -swingPct
	}
	if swingPct < cfg.MinReversionPercent {
		return nil
	}
	if swingPct > cfg.MaxReversionPercent {
		s.logger.Debug("swing beyond tradeable band, likely a real shift",
			"ticker", m.Ticker, "swing_pct", swingPct)
		return nil
	}
	if !deficitWithinBound(g, cfg.MaxScoreDeficit) {
		return nil
	}

	var side types.Side
	var entry decimal.Decimal
	if swing < 0 {
		// Price dropped; expect a bounce back up.
		side = types.SideYes
		entry = m.Orderbook.YesAsk
	} else {
		side = types.SideNo
		entry = m.Orderbook.NoAsk
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	s.recordTrade(m.Ticker)

	baseF, _ := baseline.Float64()
	curF, _ := current.Float64()
	entryF, _ := entry.Float64()
	direction := "increased"
	if swing < 0 {
		direction = "dropped"
	}
	meta := map[string]any{
		"pregame_price": baseF,
		"current_price": curF,
		"swing_percent": swingPct,
		"entry_price":   entryF,
	}
	if g.Sports != nil {
		meta["period"] = g.Sports.Period
		meta["score_home"] = g.Sports.HomeScore
		meta["score_away"] = g.Sports.AwayScore
	}
	sig := &types.TradeSignal{
		StrategyID:   s.id,
		StrategyName: s.name,
		MarketTicker: m.Ticker,
		Side:         side,
		Quantity:     cfg.PositionSize,
		Confidence:   minF(swingPct/cfg.MaxReversionPercent, 1.0),
		Reason: fmt.Sprintf("Price %s %.1fpp from pre-game (%.1f to %.1f cents). Expecting mean reversion.",
			direction, swingPct, baseF, curF),
		Metadata:  meta,
		Timestamp: s.now(),
	}

	s.logger.Info("mean reversion signal",
		"side", side,
		"quantity", cfg.PositionSize,
		"ticker", m.Ticker,
		"swing_pp", swing,
		"pregame_cents", baseF,
	)
	return sig
}

// snapshotPregameLocked records current mids as the pre-game baseline.
// Caller holds stateMu.
func (s *MeanReversion) snapshotPregameLocked(g *types.GameState) {
	prices := make(map[string]decimal.Decimal)
	for _, m := range g.Markets {
		if mid, ok := m.Orderbook.MidPrice(); ok {
			prices[m.Ticker] = mid
		}
	}
	s.pregame[g.GameID] = prices
	s.logger.Info("pre-game baseline captured", "game_id", g.GameID, "markets", len(prices))
}

// SeedPregamePrices sets the baseline directly, marking the game as seen
// live. Used by replay tooling and tests.
func (s *MeanReversion) SeedPregamePrices(gameID string, prices map[string]decimal.Decimal) {
	s.stateMu.Lock()
	cp := make(map[string]decimal.Decimal, len(prices))
	for t, p := range prices {
		cp[t] = p
	}
	s.pregame[gameID] = cp
	s.seenLive[gameID] = true
	s.stateMu.Unlock()
}

// ClearGameData drops the baseline and live marker for a game.
func (s *MeanReversion) ClearGameData(gameID string) {
	s.stateMu.Lock()
	delete(s.pregame, gameID)
	delete(s.seenLive, gameID)
	s.stateMu.Unlock()
}

func isGameLive(g *types.GameState) bool {
	if g.Phase == types.PhaseLive {
		return true
	}
	return g.Sports != nil && g.Sports.Period > 0
}

// isFirstHalf reports whether the game is in Q1 or Q2. Missing scoreboard
// data counts as first half.
func isFirstHalf(g *types.GameState) bool {
	if g.Sports == nil || g.Sports.Period == 0 {
		return true
	}
	return g.Sports.Period <= 2
}

// enoughTimeRemaining estimates remaining game share from the period alone:
// each of the 4 periods is a quarter of the game, counted from its start.
func enoughTimeRemaining(g *types.GameState, minPct float64) bool {
	if g.Sports == nil {
		return true
	}
	period := g.Sports.Period
	if period == 0 {
		period = 1
	}
	remaining := float64(4-period+1) / 4 * 100
	return remaining >= minPct
}

func deficitWithinBound(g *types.GameState, maxDeficit int) bool {
	if g.Sports == nil {
		return true
	}
	d := g.Sports.ScoreDifferential()
	if d < 0 {
		d = -d
	}
	return d <= maxDeficit
}
