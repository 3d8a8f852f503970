package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

func newCorrelation(t *testing.T, rawCfg string) *Correlation {
	t.Helper()
	var raw []byte
	if rawCfg != "" {
		raw = []byte(rawCfg)
	}
	s, err := NewCorrelation("corr-1", raw, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Enable()
	return s
}

const (
	corrHomeML = "KXNBAGAME-26JAN06DALSAC-SAC"
	corrAwayML = "KXNBAGAME-26JAN06DALSAC-DAL"
)

// Home at 60 and away at 50 sum to 110: the pricier home leg gets a NO.
func TestCorrelationComplementaryOvervalued(t *testing.T) {
	t.Parallel()
	s := newCorrelation(t, `{"check_moneyline_spread": false}`)

	g := mkGame(
		mkMarket(corrHomeML, types.MarketMoneyline, "SAC", 59, 61),
		mkMarket(corrAwayML, types.MarketMoneyline, "DAL", 49, 51),
	)
	sigs := s.Evaluate(g)
	if len(sigs) != 1 {
		t.Fatalf("signals = %d, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.MarketTicker != corrHomeML {
		t.Errorf("ticker = %s, want the higher priced home leg", sig.MarketTicker)
	}
	if sig.Side != types.SideNo {
		t.Errorf("side = %s, want no", sig.Side)
	}
	if sig.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 for a 10pp excess", sig.Confidence)
	}
	if sig.Metadata["total_sum"] != 110.0 {
		t.Errorf("sum = %v, want 110", sig.Metadata["total_sum"])
	}
}

func TestCorrelationComplementaryWithinBand(t *testing.T) {
	t.Parallel()
	s := newCorrelation(t, `{"check_moneyline_spread": false}`)

	g := mkGame(
		mkMarket(corrHomeML, types.MarketMoneyline, "SAC", 54, 56),
		mkMarket(corrAwayML, types.MarketMoneyline, "DAL", 46, 48),
	)
	// 55 + 47 = 102, inside [95, 105].
	if sigs := s.Evaluate(g); len(sigs) != 0 {
		t.Fatalf("signals = %d, want 0", len(sigs))
	}
}

// A 70% favorite implies roughly 60% spread coverage; a spread priced at 70
// is overvalued by 10 points and gets a NO.
func TestCorrelationSpreadOvervalued(t *testing.T) {
	t.Parallel()
	s := newCorrelation(t, `{"check_complementary": false}`)

	strike := decimal.NewFromFloat(7.5)
	spread := mkMarket("KXNBASPREAD-26JAN06DALSAC-SAC7.5", types.MarketSpread, "SAC", 69, 71)
	spread.StrikeValue = &strike

	g := mkGame(
		mkMarket(corrHomeML, types.MarketMoneyline, "SAC", 69, 71),
		mkMarket(corrAwayML, types.MarketMoneyline, "DAL", 29, 31),
		spread,
	)
	sigs := s.Evaluate(g)
	if len(sigs) != 1 {
		t.Fatalf("signals = %d, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.Side != types.SideNo {
		t.Errorf("side = %s, want no", sig.Side)
	}
	if sig.Metadata["expected_spread_prob"] != 60.0 {
		t.Errorf("expected = %v, want 60", sig.Metadata["expected_spread_prob"])
	}
	if sig.Metadata["discrepancy"] != 10.0 {
		t.Errorf("discrepancy = %v, want +10", sig.Metadata["discrepancy"])
	}
}

func TestCorrelationSpreadUndervalued(t *testing.T) {
	t.Parallel()
	s := newCorrelation(t, `{"check_complementary": false}`)

	spread := mkMarket("KXNBASPREAD-26JAN06DALSAC-SAC7.5", types.MarketSpread, "SAC", 49, 51)
	g := mkGame(
		mkMarket(corrHomeML, types.MarketMoneyline, "SAC", 69, 71),
		mkMarket(corrAwayML, types.MarketMoneyline, "DAL", 29, 31),
		spread,
	)
	sigs := s.Evaluate(g)
	if len(sigs) != 1 {
		t.Fatalf("signals = %d, want 1", len(sigs))
	}
	// Spread at 50 vs expected 60: 10 points cheap, buy YES.
	if sigs[0].Side != types.SideYes {
		t.Errorf("side = %s, want yes", sigs[0].Side)
	}
}

func TestCorrelationUnderdogSpreadIgnored(t *testing.T) {
	t.Parallel()
	s := newCorrelation(t, `{"check_complementary": false}`)

	// Spread contract is on the underdog; only favorite spreads are checked.
	spread := mkMarket("KXNBASPREAD-26JAN06DALSAC-DAL7.5", types.MarketSpread, "DAL", 19, 21)
	g := mkGame(
		mkMarket(corrHomeML, types.MarketMoneyline, "SAC", 69, 71),
		mkMarket(corrAwayML, types.MarketMoneyline, "DAL", 29, 31),
		spread,
	)
	if sigs := s.Evaluate(g); len(sigs) != 0 {
		t.Fatalf("signals = %d, want 0", len(sigs))
	}
}

func TestCorrelationNeedsBothLegs(t *testing.T) {
	t.Parallel()
	s := newCorrelation(t, "")

	g := mkGame(mkMarket(corrHomeML, types.MarketMoneyline, "SAC", 59, 61))
	if sigs := s.Evaluate(g); len(sigs) != 0 {
		t.Fatalf("signals = %d, want 0 with a single moneyline leg", len(sigs))
	}
}
