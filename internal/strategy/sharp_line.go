package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/odds"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const (
	TypeSharpLine = "sharp_line"

	sharpLineName = "Sharp Line Detection"
	sharpLineDesc = "Compare exchange prices to sportsbook consensus and trade on divergences"
)

// SharpLineConfig tunes the consensus-divergence detector. Percentages are
// whole numbers (5.0 = 5%).
type SharpLineConfig struct {
	ThresholdPercent float64            `json:"threshold_percent"`
	MinSportsbooks   int                `json:"min_sample_sportsbooks"`
	PositionSize     int64              `json:"position_size"`
	CooldownMinutes  int                `json:"cooldown_minutes"`
	MinEVPercent     float64            `json:"min_ev_percent"`
	MarketTypes      []types.MarketType `json:"market_types"`
	UseKellySizing   bool               `json:"use_kelly_sizing"`
	KellyFraction    float64            `json:"kelly_fraction"`
}

// DefaultSharpLineConfig returns the stock configuration.
func DefaultSharpLineConfig() SharpLineConfig {
	return SharpLineConfig{
		ThresholdPercent: 5.0,
		MinSportsbooks:   3,
		PositionSize:     10,
		CooldownMinutes:  5,
		MinEVPercent:     2.0,
		MarketTypes:      []types.MarketType{types.MarketMoneyline},
		UseKellySizing:   false,
		KellyFraction:    0.25,
	}
}

// SharpLine trades when the exchange mid diverges from the vig-free
// sportsbook consensus by more than a threshold. A market priced below
// consensus is bought YES at the ask; above consensus, NO.
type SharpLine struct {
	base

	cfgMu sync.RWMutex
	cfg   SharpLineConfig
}

// NewSharpLine builds the strategy with defaults overlaid by rawCfg.
func NewSharpLine(id string, rawCfg json.RawMessage, logger *slog.Logger) (*SharpLine, error) {
	s := &SharpLine{
		base: newBase(id, sharpLineName, TypeSharpLine, sharpLineDesc, logger),
		cfg:  DefaultSharpLineConfig(),
	}
	if len(rawCfg) > 0 {
		if err := json.Unmarshal(rawCfg, &s.cfg); err != nil {
			return nil, types.Wrap(types.KindBadInput, err, "sharp_line config")
		}
	}
	return s, nil
}

func (s *SharpLine) ConfigJSON() json.RawMessage {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	raw, _ := json.Marshal(s.cfg)
	return raw
}

func (s *SharpLine) UpdateConfig(raw json.RawMessage) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if err := json.Unmarshal(raw, &s.cfg); err != nil {
		return types.Wrap(types.KindBadInput, err, "sharp_line config")
	}
	s.logger.Info("config updated")
	return nil
}

// Evaluate scans each market for a divergence between the exchange mid and
// the sportsbook consensus probability.
func (s *SharpLine) Evaluate(g *types.GameState) []types.TradeSignal {
	if !s.IsEnabled() {
		return nil
	}
	s.cfgMu.RLock()
	cfg := s.cfg
	s.cfgMu.RUnlock()

	if g.Consensus == nil {
		return nil
	}
	if g.Consensus.NumSportsbooks < cfg.MinSportsbooks {
		s.logger.Debug("insufficient sportsbook sources",
			"game_id", g.GameID,
			"sources", g.Consensus.NumSportsbooks,
			"required", cfg.MinSportsbooks,
		)
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

func (s *SharpLine) evaluateMarket(g *types.GameState, m *types.MarketState, cfg SharpLineConfig) *types.TradeSignal {
	if !typeAllowed(m.MarketType, cfg.MarketTypes) {
		return nil
	}
	if !s.checkCooldown(m.Ticker, time.Duration(cfg.CooldownMinutes)*time.Minute) {
		return nil
	}
	if m.Orderbook == nil {
		return nil
	}

	mid, ok := m.Orderbook.MidPrice()
	if !ok || mid.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	exchProb := odds.CentsToProb(mid)

	consensusProb := consensusForMarket(g, m)
	if consensusProb == nil {
		return nil
	}

	divergence, _ := consensusProb.Sub(exchProb).Float64()
	divergencePct := divergence * 100
	if divergencePct < 0 {
		divergencePct = -divergencePct
	}
	if divergencePct < cfg.ThresholdPercent {
		return nil
	}

	var side types.Side
	var entry decimal.Decimal
	if divergence > 0 {
		// Exchange undervalued: consensus sees the event as more likely.
		side = types.SideYes
		entry = m.Orderbook.YesAsk
	} else {
		side = types.SideNo
		entry = m.Orderbook.NoAsk
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	ev, err := odds.EV(entry, *consensusProb, side)
	if err != nil {
		return nil
	}
	minEV := decimal.NewFromFloat(cfg.MinEVPercent / 100)
	if ev.LessThan(minEV) {
		s.logger.Debug("ev below minimum", "ticker", m.Ticker, "ev", ev, "min", minEV)
		return nil
	}

	qty := cfg.PositionSize
	if cfg.UseKellySizing {
		kelly, kerr := odds.Kelly(entry, *consensusProb, side, decimal.NewFromFloat(cfg.KellyFraction))
		if kerr == nil {
			kf, _ := kelly.Float64()
			qty = int64(float64(cfg.PositionSize) * kf * 4)
			if qty < 1 {
				qty = 1
			}
		}
	}

	evF, _ := ev.Float64()
	exchF, _ := exchProb.Float64()
	consF, _ := consensusProb.Float64()
	entryF, _ := entry.Float64()

	direction := "undervalued"
	if side == types.SideNo {
		direction = "overvalued"
	}
	sig := &types.TradeSignal{
		StrategyID:   s.id,
		StrategyName: s.name,
		MarketTicker: m.Ticker,
		Side:         side,
		Quantity:     qty,
		Confidence:   minF(divergencePct/10, 1.0),
		Reason: fmt.Sprintf("Exchange %s by %.1f%%. Exchange: %.1f%%, Consensus: %.1f%%. EV: +%.1f%%",
			direction, divergencePct, exchF*100, consF*100, evF*100),
		Metadata: map[string]any{
			"exchange_prob":      exchF,
			"consensus_prob":     consF,
			"divergence_percent": divergencePct,
			"expected_value":     evF,
			"entry_price_cents":  entryF,
			"market_type":        string(m.MarketType),
			"sources_count":      g.Consensus.NumSportsbooks,
		},
		Timestamp: s.now(),
	}

	s.logger.Info("sharp line signal",
		"side", side,
		"quantity", qty,
		"ticker", m.Ticker,
		"divergence_percent", divergencePct,
		"ev", evF,
	)
	s.recordTrade(m.Ticker)
	return sig
}

// consensusForMarket maps a market to the matching consensus probability.
// Moneyline markets resolve home/away by the contract's team.
func consensusForMarket(g *types.GameState, m *types.MarketState) *decimal.Decimal {
	c := g.Consensus
	if c == nil {
		return nil
	}
	switch m.MarketType {
	case types.MarketMoneyline:
		if strings.EqualFold(m.Team, g.HomeTeam) {
			return c.HomeWinProbability
		}
		return c.AwayWinProbability
	case types.MarketSpread:
		return c.SpreadHomeProbability
	case types.MarketTotal:
		return c.OverProbability
	}
	return nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
