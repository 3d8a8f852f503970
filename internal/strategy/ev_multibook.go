package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/odds"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const (
	TypeEVMultiBook = "ev_multibook"

	evMultiBookName = "EV Multi-Book Arbitrage"
	evMultiBookDesc = "Find +EV opportunities by comparing exchange prices to individual sportsbooks"
)

// EVMultiBookConfig tunes the per-book expected-value scanner.
type EVMultiBookConfig struct {
	MinEVPercent    float64            `json:"min_ev_percent"`
	MinBooks        int                `json:"min_sportsbooks_agreeing"`
	PositionSize    int64              `json:"position_size"`
	CooldownMinutes int                `json:"cooldown_minutes"`
	PreferredBooks  []string           `json:"preferred_books"`
	ExcludeBooks    []string           `json:"exclude_books"`
	MarketTypes     []types.MarketType `json:"market_types"`
}

// DefaultEVMultiBookConfig returns the stock configuration.
func DefaultEVMultiBookConfig() EVMultiBookConfig {
	return EVMultiBookConfig{
		MinEVPercent:    3.0,
		MinBooks:        2,
		PositionSize:    10,
		CooldownMinutes: 5,
		MarketTypes:     []types.MarketType{types.MarketMoneyline},
	}
}

// bookEV is one sportsbook's verdict on a side of a market.
type bookEV struct {
	book string
	ev   float64
	prob float64
}

// EVMultiBook compares the exchange ask against each vendor's implied
// probability independently and signals when enough books agree the price
// carries positive expected value.
type EVMultiBook struct {
	base

	cfgMu sync.RWMutex
	cfg   EVMultiBookConfig
}

// NewEVMultiBook builds the strategy with defaults overlaid by rawCfg.
func NewEVMultiBook(id string, rawCfg json.RawMessage, logger *slog.Logger) (*EVMultiBook, error) {
	s := &EVMultiBook{
		base: newBase(id, evMultiBookName, TypeEVMultiBook, evMultiBookDesc, logger),
		cfg:  DefaultEVMultiBookConfig(),
	}
	if len(rawCfg) > 0 {
		if err := json.Unmarshal(rawCfg, &s.cfg); err != nil {
			return nil, types.Wrap(types.KindBadInput, err, "ev_multibook config")
		}
	}
	return s, nil
}

func (s *EVMultiBook) ConfigJSON() json.RawMessage {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	raw, _ := json.Marshal(s.cfg)
	return raw
}

func (s *EVMultiBook) UpdateConfig(raw json.RawMessage) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if err := json.Unmarshal(raw, &s.cfg); err != nil {
		return types.Wrap(types.KindBadInput, err, "ev_multibook config")
	}
	s.logger.Info("config updated")
	return nil
}

// Evaluate scans each market against every vendor quote.
func (s *EVMultiBook) Evaluate(g *types.GameState) []types.TradeSignal {
	if !s.IsEnabled() {
		return nil
	}
	if len(g.Odds) == 0 {
		return nil
	}
	s.cfgMu.RLock()
	cfg := s.cfg
	s.cfgMu.RUnlock()

	var signals []types.TradeSignal
	for _, m := range sortedMarkets(g) {
		if sig := s.evaluateMarket(g, m, cfg); sig != nil {
			signals = append(signals, *sig)
			s.recordSignal(*sig)
		}
	}
	return signals
}

func (s *EVMultiBook) evaluateMarket(g *types.GameState, m *types.MarketState, cfg EVMultiBookConfig) *types.TradeSignal {
	if !typeAllowed(m.MarketType, cfg.MarketTypes) {
		return nil
	}
	if !s.checkCooldown(m.Ticker, time.Duration(cfg.CooldownMinutes)*time.Minute) {
		return nil
	}
	if m.Orderbook == nil {
		return nil
	}

	yesAsk := m.Orderbook.YesAsk
	noAsk := m.Orderbook.NoAsk
	if yesAsk.IsZero() || noAsk.IsZero() {
		return nil
	}

	isHome := strings.EqualFold(m.Team, g.HomeTeam)
	minEV := decimal.NewFromFloat(cfg.MinEVPercent / 100)

	var yesBooks, noBooks []bookEV
	for _, vendor := range sortedVendors(g.Odds) {
		quote := g.Odds[vendor]
		if contains(cfg.ExcludeBooks, vendor) {
			continue
		}
		if len(cfg.PreferredBooks) > 0 && !contains(cfg.PreferredBooks, vendor) {
			continue
		}

		bookProb, ok := bookProbability(quote, m.MarketType, isHome)
		if !ok {
			continue
		}

		evYes, err := odds.EV(yesAsk, bookProb, types.SideYes)
		if err != nil {
			continue
		}
		evNo, err := odds.EV(noAsk, bookProb, types.SideNo)
		if err != nil {
			continue
		}

		pF, _ := bookProb.Float64()
		if evYes.GreaterThanOrEqual(minEV) {
			f, _ := evYes.Float64()
			yesBooks = append(yesBooks, bookEV{book: vendor, ev: f, prob: pF})
		}
		if evNo.GreaterThanOrEqual(minEV) {
			f, _ := evNo.Float64()
			noBooks = append(noBooks, bookEV{book: vendor, ev: f, prob: 1 - pF})
		}
	}

	var side types.Side
	var agreeing []bookEV
	var entry decimal.Decimal
	switch {
	case len(yesBooks) >= cfg.MinBooks && len(yesBooks) >= len(noBooks):
		side, agreeing, entry = types.SideYes, yesBooks, yesAsk
	case len(noBooks) >= cfg.MinBooks:
		side, agreeing, entry = types.SideNo, noBooks, noAsk
	default:
		return nil
	}

	sort.Slice(agreeing, func(i, j int) bool { return agreeing[i].ev > agreeing[j].ev })
	best := agreeing[0]

	s.recordTrade(m.Ticker)

	entryF, _ := entry.Float64()
	sig := &types.TradeSignal{
		StrategyID:   s.id,
		StrategyName: s.name,
		MarketTicker: m.Ticker,
		Side:         side,
		Quantity:     cfg.PositionSize,
		Confidence:   minF(float64(len(agreeing))/5, 1.0),
		Reason: fmt.Sprintf("%d sportsbooks show +EV for %s. Best: %s at +%.1f%% EV.",
			len(agreeing), strings.ToUpper(string(side)), best.book, best.ev*100),
		Metadata: map[string]any{
			"best_book":         best.book,
			"best_ev_percent":   best.ev * 100,
			"best_implied_prob": best.prob,
			"agreeing_books":    len(agreeing),
			"entry_price":       entryF,
			"is_home_market":    isHome,
		},
		Timestamp: s.now(),
	}

	s.logger.Info("ev multibook signal",
		"side", side,
		"quantity", cfg.PositionSize,
		"ticker", m.Ticker,
		"best_book", best.book,
		"best_ev", best.ev,
		"agreeing_books", len(agreeing),
	)
	return sig
}

// bookProbability derives one vendor's implied probability for a market.
// Moneyline and spread odds resolve home/away by the contract's team; total
// contracts settle YES on the over.
func bookProbability(q *types.OddsQuote, mt types.MarketType, isHome bool) (decimal.Decimal, bool) {
	var american *int64
	switch mt {
	case types.MarketMoneyline:
		if isHome {
			american = q.MoneylineHome
		} else {
			american = q.MoneylineAway
		}
	case types.MarketSpread:
		if isHome {
			american = q.SpreadHomeOdds
		} else {
			american = q.SpreadAwayOdds
		}
	case types.MarketTotal:
		american = q.TotalOverOdds
	}
	if american == nil {
		return decimal.Zero, false
	}
	return odds.AmericanToImplied(*american), true
}

func sortedVendors(m map[string]*types.OddsQuote) []string {
	out := make([]string, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
