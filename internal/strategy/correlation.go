package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const (
	TypeCorrelation = "correlation"

	correlationName = "Cross-Market Correlation"
	correlationDesc = "Exploit pricing inefficiencies between correlated markets"
)

// CorrelationConfig tunes the cross-market consistency checks.
type CorrelationConfig struct {
	MinDiscrepancyPercent float64 `json:"min_discrepancy_percent"`
	ComplementaryMaxSum   float64 `json:"complementary_max_sum"`
	ComplementaryMinSum   float64 `json:"complementary_min_sum"`
	PositionSize          int64   `json:"position_size"`
	CooldownMinutes       int     `json:"cooldown_minutes"`
	CheckComplementary    bool    `json:"check_complementary"`
	CheckMoneylineSpread  bool    `json:"check_moneyline_spread"`
	PreferNoOnOvervalued  bool    `json:"prefer_no_on_overvalued"`
}

// DefaultCorrelationConfig returns the stock configuration.
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		MinDiscrepancyPercent: 5,
		ComplementaryMaxSum:   105,
		ComplementaryMinSum:   95,
		PositionSize:          10,
		CooldownMinutes:       5,
		CheckComplementary:    true,
		CheckMoneylineSpread:  true,
		PreferNoOnOvervalued:  true,
	}
}

// Correlation checks that related markets for the same game are priced
// consistently: the two moneyline legs should sum to roughly 100 cents, and
// spread probabilities should track the moneyline favorite.
type Correlation struct {
	base

	cfgMu sync.RWMutex
	cfg   CorrelationConfig
}

// NewCorrelation builds the strategy with defaults overlaid by rawCfg.
func NewCorrelation(id string, rawCfg json.RawMessage, logger *slog.Logger) (*Correlation, error) {
	s := &Correlation{
		base: newBase(id, correlationName, TypeCorrelation, correlationDesc, logger),
		cfg:  DefaultCorrelationConfig(),
	}
	if len(rawCfg) > 0 {
		if err := json.Unmarshal(rawCfg, &s.cfg); err != nil {
			return nil, types.Wrap(types.KindBadInput, err, "correlation config")
		}
	}
	return s, nil
}

func (s *Correlation) ConfigJSON() json.RawMessage {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	raw, _ := json.Marshal(s.cfg)
	return raw
}

func (s *Correlation) UpdateConfig(raw json.RawMessage) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if err := json.Unmarshal(raw, &s.cfg); err != nil {
		return types.Wrap(types.KindBadInput, err, "correlation config")
	}
	s.logger.Info("config updated")
	return nil
}

// Evaluate groups the game's markets by type and runs both consistency
// checks.
func (s *Correlation) Evaluate(g *types.GameState) []types.TradeSignal {
	if !s.IsEnabled() {
		return nil
	}
	s.cfgMu.RLock()
	cfg := s.cfg
	s.cfgMu.RUnlock()

	moneyline := make(map[string]*types.MarketState) // team -> market
	var spreads []*types.MarketState
	for _, m := range sortedMarkets(g) {
		switch m.MarketType {
		case types.MarketMoneyline:
			moneyline[strings.ToUpper(m.Team)] = m
		case types.MarketSpread:
			spreads = append(spreads, m)
		}
	}

	var signals []types.TradeSignal
	if cfg.CheckComplementary && len(moneyline) >= 2 {
		signals = append(signals, s.checkComplementary(g, moneyline, cfg)...)
	}
	if cfg.CheckMoneylineSpread && len(moneyline) > 0 && len(spreads) > 0 {
		signals = append(signals, s.checkMoneylineSpread(g, moneyline, spreads, cfg)...)
	}
	for _, sig := range signals {
		s.recordSignal(sig)
	}
	return signals
}

// checkComplementary verifies home YES + away YES sums near 100 cents. A sum
// above the max means at least one leg is overvalued; the pricier leg gets a
// NO signal. Sums below the min are noted but not traded.
func (s *Correlation) checkComplementary(g *types.GameState, moneyline map[string]*types.MarketState, cfg CorrelationConfig) []types.TradeSignal {
	home := moneyline[strings.ToUpper(g.HomeTeam)]
	away := moneyline[strings.ToUpper(g.AwayTeam)]
	if home == nil || away == nil {
		return nil
	}

	homeMid, okH := home.Orderbook.MidPrice()
	awayMid, okA := away.Orderbook.MidPrice()
	if !okH || !okA {
		return nil
	}
	homeF, _ := homeMid.Float64()
	awayF, _ := awayMid.Float64()
	sum := homeF + awayF

	if sum <= cfg.ComplementaryMaxSum {
		if sum < cfg.ComplementaryMinSum {
			// Both legs undervalued is unusual and less reliable; log only.
			s.logger.Debug("complementary sum below band",
				"game_id", g.GameID, "sum", sum, "min", cfg.ComplementaryMinSum)
		}
		return nil
	}
	if !cfg.PreferNoOnOvervalued {
		return nil
	}

	target := home
	if awayF > homeF {
		target = away
	}
	if !s.checkCooldown(target.Ticker, time.Duration(cfg.CooldownMinutes)*time.Minute) {
		return nil
	}
	s.recordTrade(target.Ticker)

	excess := sum - 100
	sig := types.TradeSignal{
		StrategyID:   s.id,
		StrategyName: s.name,
		MarketTicker: target.Ticker,
		Side:         types.SideNo,
		Quantity:     cfg.PositionSize,
		Confidence:   minF(excess/10, 1.0),
		Reason: fmt.Sprintf("Complementary markets overvalued: %s YES %.1f%% + %s YES %.1f%% = %.1f%% (should be ~100%%)",
			strings.ToUpper(g.HomeTeam), homeF, strings.ToUpper(g.AwayTeam), awayF, sum),
		Metadata: map[string]any{
			"home_team":      strings.ToUpper(g.HomeTeam),
			"away_team":      strings.ToUpper(g.AwayTeam),
			"home_yes_price": homeF,
			"away_yes_price": awayF,
			"total_sum":      sum,
			"excess_percent": excess,
			"signal_type":    "complementary_overvalued",
		},
		Timestamp: s.now(),
	}

	s.logger.Info("correlation signal",
		"side", types.SideNo,
		"quantity", cfg.PositionSize,
		"ticker", target.Ticker,
		"complementary_sum", sum,
	)
	return []types.TradeSignal{sig}
}

// checkMoneylineSpread compares spread mids on the moneyline favorite
// against a linear model of how spread coverage tracks win probability:
// expected = 50 + (ml - 50) * 0.5, all in cents.
func (s *Correlation) checkMoneylineSpread(g *types.GameState, moneyline map[string]*types.MarketState, spreads []*types.MarketState, cfg CorrelationConfig) []types.TradeSignal {
	home := moneyline[strings.ToUpper(g.HomeTeam)]
	away := moneyline[strings.ToUpper(g.AwayTeam)]
	if home == nil || away == nil {
		return nil
	}

	homeMid, _ := home.Orderbook.MidPrice()
	awayMid, _ := away.Orderbook.MidPrice()
	homeF, _ := homeMid.Float64()
	awayF, _ := awayMid.Float64()

	favoriteTeam := strings.ToUpper(g.HomeTeam)
	favoriteProb := homeF
	if awayF > homeF {
		favoriteTeam = strings.ToUpper(g.AwayTeam)
		favoriteProb = awayF
	}

	var signals []types.TradeSignal
	for _, spread := range spreads {
		if spread.Orderbook == nil {
			continue
		}
		if strings.ToUpper(spread.Team) != favoriteTeam {
			continue
		}
		mid, ok := spread.Orderbook.MidPrice()
		if !ok {
			continue
		}
		spreadProb, _ := mid.Float64()

		expected := 50 + (favoriteProb-50)*0.5
		discrepancy := spreadProb - expected
		absDisc := discrepancy
		if absDisc < 0 {
			absDisc = -absDisc
		}
		if absDisc < cfg.MinDiscrepancyPercent {
			continue
		}
		if !s.checkCooldown(spread.Ticker, time.Duration(cfg.CooldownMinutes)*time.Minute) {
			continue
		}

		var side types.Side
		var entry decimal.Decimal
		if discrepancy > 0 {
			side = types.SideNo
			entry = spread.Orderbook.NoAsk
		} else {
			side = types.SideYes
			entry = spread.Orderbook.YesAsk
		}
		if entry.IsZero() {
			continue
		}
		s.recordTrade(spread.Ticker)

		direction := "undervalued"
		if discrepancy > 0 {
			direction = "overvalued"
		}
		meta := map[string]any{
			"spread_ticker":        spread.Ticker,
			"spread_prob":          spreadProb,
			"expected_spread_prob": expected,
			"moneyline_prob":       favoriteProb,
			"favorite_team":        favoriteTeam,
			"discrepancy":          discrepancy,
			"signal_type":          "ml_spread_correlation",
		}
		if spread.StrikeValue != nil {
			sv, _ := spread.StrikeValue.Float64()
			meta["spread_value"] = sv
		}
		signals = append(signals, types.TradeSignal{
			StrategyID:   s.id,
			StrategyName: s.name,
			MarketTicker: spread.Ticker,
			Side:         side,
			Quantity:     cfg.PositionSize,
			Confidence:   minF(absDisc/10, 1.0),
			Reason: fmt.Sprintf("Spread %s: priced at %.1f%% but moneyline (%s %.1f%%) implies %.1f%%",
				direction, spreadProb, favoriteTeam, favoriteProb, expected),
			Metadata:  meta,
			Timestamp: s.now(),
		})

		s.logger.Info("correlation signal",
			"side", side,
			"quantity", cfg.PositionSize,
			"ticker", spread.Ticker,
			"discrepancy", discrepancy,
		)
	}
	return signals
}
