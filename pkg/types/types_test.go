package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseSide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"yes", SideYes, false},
		{"YES", SideYes, false},
		{"No", SideNo, false},
		{"maybe", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSide(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseSide(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}

	if SideYes.Opposite() != SideNo || SideNo.Opposite() != SideYes {
		t.Error("Opposite should flip sides")
	}
}

func TestPhaseFromStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   Phase
	}{
		{"", PhaseScheduled},
		{"scheduled", PhaseScheduled},
		{"live", PhaseLive},
		{"in_progress", PhaseLive},
		{"1st Qtr", PhaseLive},
		{"4TH QTR", PhaseLive},
		{"OT", PhaseLive},
		{"Halftime", PhaseHalftime},
		{"Final", PhaseFinished},
		{"finished", PhaseFinished},
		{"Postponed", PhaseCancelled},
		{"cancelled", PhaseCancelled},
		{"2026-01-06T19:30:00Z", PhaseScheduled}, // pregame ISO timestamp
		{"garbage", PhaseScheduled},
	}
	for _, tt := range tests {
		if got := PhaseFromStatus(tt.status); got != tt.want {
			t.Errorf("PhaseFromStatus(%q) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestOrderbookMidAndSpread(t *testing.T) {
	t.Parallel()

	ob := &OrderbookState{
		YesBid: decimal.NewFromInt(44),
		YesAsk: decimal.NewFromInt(47),
	}
	mid, ok := ob.MidPrice()
	if !ok || !mid.Equal(decimal.NewFromFloat(45.5)) {
		t.Errorf("mid = %s, %v, want 45.5", mid, ok)
	}
	spread, ok := ob.Spread()
	if !ok || !spread.Equal(decimal.NewFromInt(3)) {
		t.Errorf("spread = %s, %v, want 3", spread, ok)
	}

	oneSided := &OrderbookState{YesBid: decimal.NewFromInt(44)}
	if _, ok := oneSided.MidPrice(); ok {
		t.Error("one-sided book should have no mid")
	}
	if _, ok := oneSided.Spread(); ok {
		t.Error("one-sided book should have no spread")
	}

	var nilBook *OrderbookState
	if _, ok := nilBook.MidPrice(); ok {
		t.Error("nil book should have no mid")
	}
	if nilBook.HasLiquidity() {
		t.Error("nil book should report no liquidity")
	}
}

func TestHasLiquidityNeedsSizes(t *testing.T) {
	t.Parallel()

	ob := &OrderbookState{
		YesBid: decimal.NewFromInt(44),
		YesAsk: decimal.NewFromInt(46),
	}
	if ob.HasLiquidity() {
		t.Error("quoted prices without sizes should not count as liquid")
	}
	ob.YesBidSize, ob.YesAskSize = 10, 5
	if !ob.HasLiquidity() {
		t.Error("two-sided book with sizes should be liquid")
	}
}

func TestMinutesElapsed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		period int
		clock  string
		want   float64
	}{
		{0, "", 0},
		{1, "12:00", 0},
		{1, "6:00", 6},
		{2, "12:00", 12},
		{3, "5:30", 30.5},
		{4, "0:00", 48},
		{2, "bogus", 12}, // unparseable clock counts as period start
	}
	for _, tt := range tests {
		s := &LiveSportsState{Period: tt.period, TimeRemaining: tt.clock}
		if got := s.MinutesElapsed(); got != tt.want {
			t.Errorf("period %d clock %q: elapsed = %v, want %v", tt.period, tt.clock, got, tt.want)
		}
	}
}

func TestScoreHelpers(t *testing.T) {
	t.Parallel()

	s := &LiveSportsState{HomeScore: 101, AwayScore: 96}
	if s.TotalScore() != 197 {
		t.Errorf("total = %d", s.TotalScore())
	}
	if s.ScoreDifferential() != 5 {
		t.Errorf("differential = %d", s.ScoreDifferential())
	}
}

func TestGameStateCloneIsDeep(t *testing.T) {
	t.Parallel()

	strike := decimal.NewFromFloat(-6.5)
	ml := int64(-150)
	g := &GameState{
		GameID: "2026-01-06-DALSAC",
		Phase:  PhaseLive,
		Markets: map[string]*MarketState{
			"T1": {
				Ticker:      "T1",
				MarketType:  MarketSpread,
				StrikeValue: &strike,
				Orderbook: &OrderbookState{
					YesBid: decimal.NewFromInt(40),
					YesAsk: decimal.NewFromInt(42),
				},
			},
		},
		Sports: &LiveSportsState{HomeScore: 50},
		Odds: map[string]*OddsQuote{
			"book": {Vendor: "book", MoneylineHome: &ml},
		},
		Consensus:             &ConsensusOdds{NumSportsbooks: 2},
		ExchangeProbabilities: map[string]decimal.Decimal{"T1": decimal.NewFromFloat(0.41)},
	}

	cp := g.Clone()

	cp.Markets["T1"].Orderbook.YesBid = decimal.NewFromInt(99)
	cp.Markets["T2"] = &MarketState{Ticker: "T2"}
	*cp.Markets["T1"].StrikeValue = decimal.NewFromInt(0)
	cp.Sports.HomeScore = 0
	cp.Odds["book"].Vendor = "changed"
	cp.Consensus.NumSportsbooks = 9
	cp.ExchangeProbabilities["T1"] = decimal.Zero

	if !g.Markets["T1"].Orderbook.YesBid.Equal(decimal.NewFromInt(40)) {
		t.Error("orderbook mutation leaked into original")
	}
	if len(g.Markets) != 1 {
		t.Error("market map mutation leaked into original")
	}
	if !g.Markets["T1"].StrikeValue.Equal(decimal.NewFromFloat(-6.5)) {
		t.Error("strike mutation leaked into original")
	}
	if g.Sports.HomeScore != 50 {
		t.Error("sports mutation leaked into original")
	}
	if g.Odds["book"].Vendor != "book" {
		t.Error("odds mutation leaked into original")
	}
	if g.Consensus.NumSportsbooks != 2 {
		t.Error("consensus mutation leaked into original")
	}
	if !g.ExchangeProbabilities["T1"].Equal(decimal.NewFromFloat(0.41)) {
		t.Error("probability mutation leaked into original")
	}

	var nilGame *GameState
	if nilGame.Clone() != nil {
		t.Error("nil game should clone to nil")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	base := E(KindNotFound, "game %s not found", "x")
	if KindOf(base) != KindNotFound {
		t.Errorf("kind = %s", KindOf(base))
	}

	wrapped := Wrap(KindUpstream, errors.New("connection reset"), "fetch odds")
	if KindOf(wrapped) != KindUpstream {
		t.Errorf("wrapped kind = %s", KindOf(wrapped))
	}
	if !errors.Is(wrapped, wrapped.Err) {
		t.Error("Unwrap should expose the cause")
	}

	// Kind survives an fmt wrapping layer.
	double := fmt.Errorf("refresh: %w", base)
	if KindOf(double) != KindNotFound {
		t.Errorf("fmt-wrapped kind = %s", KindOf(double))
	}

	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("untyped error should default to internal")
	}
	if KindOf(nil) != KindInternal {
		t.Error("nil should default to internal")
	}
}

func TestPositionCurrentValue(t *testing.T) {
	t.Parallel()

	p := &Position{Quantity: 10}
	if v := p.CurrentValue(decimal.NewFromInt(46)); !v.Equal(decimal.NewFromInt(460)) {
		t.Errorf("value = %s, want 460", v)
	}
}
