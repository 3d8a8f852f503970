package strategy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

func TestRegistryLoadReplacesSameType(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	a, _ := NewSharpLine("sharp-a", nil, testLogger())
	b, _ := NewSharpLine("sharp-b", nil, testLogger())
	m, _ := NewMomentum("mom-1", nil, testLogger())

	if replaced := r.Load(a); replaced != nil {
		t.Fatal("first load should replace nothing")
	}
	r.Load(m)
	replaced := r.Load(b)
	if replaced == nil || replaced.ID() != "sharp-a" {
		t.Fatalf("replaced = %v, want sharp-a evicted", replaced)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("loaded = %d, want 2", len(list))
	}
	if _, err := r.Get("sharp-a"); err == nil {
		t.Error("evicted strategy should be gone")
	}
	if _, err := r.Get("sharp-b"); err != nil {
		t.Errorf("get sharp-b: %v", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s, _ := NewMomentum("mom-1", nil, testLogger())
	r.Load(s)

	if err := r.Remove("mom-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("mom-1"); err == nil {
		t.Fatal("second remove should fail")
	}
	if types.KindOf(r.Remove("mom-1")) != types.KindNotFound {
		t.Error("missing strategy should be not_found")
	}
}

func TestRegistryEnabledFilters(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a, _ := NewSharpLine("sharp-1", nil, testLogger())
	b, _ := NewMomentum("mom-1", nil, testLogger())
	r.Load(a)
	r.Load(b)
	b.Enable()

	enabled := r.Enabled()
	if len(enabled) != 1 || enabled[0].ID() != "mom-1" {
		t.Fatalf("enabled = %v", enabled)
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	t.Parallel()
	_, err := New("martingale", "x", nil, testLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	if types.KindOf(err) != types.KindBadInput {
		t.Errorf("kind = %s, want bad_input", types.KindOf(err))
	}
}

func TestCatalogCoversAllTypes(t *testing.T) {
	t.Parallel()
	catalog := Catalog()
	if len(catalog) != 5 {
		t.Fatalf("catalog = %d entries, want 5", len(catalog))
	}
	for _, info := range catalog {
		s, err := New(info.Type, "probe-"+info.Type, nil, testLogger())
		if err != nil {
			t.Errorf("catalog type %q not constructible: %v", info.Type, err)
			continue
		}
		if s.Name() != info.Name {
			t.Errorf("%s: name %q != %q", info.Type, s.Name(), info.Name)
		}
		var cfg map[string]any
		if err := json.Unmarshal(info.DefaultConfig, &cfg); err != nil {
			t.Errorf("%s: default config not valid JSON: %v", info.Type, err)
		}
	}
}

// stubSource returns a fixed snapshot list.
type stubSource struct{ games []*types.GameState }

func (s stubSource) GameStates() []*types.GameState { return s.games }

// panicStrategy blows up on every evaluation.
type panicStrategy struct{ base }

func (p *panicStrategy) ConfigJSON() json.RawMessage          { return nil }
func (p *panicStrategy) UpdateConfig(json.RawMessage) error   { return nil }
func (p *panicStrategy) Evaluate(*types.GameState) []types.TradeSignal {
	panic("boom")
}

func TestEngineDispatchesSignals(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s, _ := NewSharpLine("sharp-1", nil, testLogger())
	s.Enable()
	r.Load(s)

	g := mkGame(mkMarket("KXNBAGAME-26JAN06DALSAC-SAC", types.MarketMoneyline, "SAC", 44, 46))
	g.Consensus = &types.ConsensusOdds{NumSportsbooks: 3, HomeWinProbability: probPtr(0.60)}

	e := NewEngine(r, stubSource{games: []*types.GameState{g}}, time.Second, testLogger())

	var got []types.TradeSignal
	e.OnSignal(func(_ context.Context, sig types.TradeSignal) error {
		got = append(got, sig)
		return nil
	})

	n := e.EvaluateAll(context.Background())
	if n != 1 || len(got) != 1 {
		t.Fatalf("dispatched = %d/%d, want 1", n, len(got))
	}
	if got[0].StrategyID != "sharp-1" {
		t.Errorf("strategy id = %s", got[0].StrategyID)
	}

	evals, sigs := e.Stats()
	if evals != 1 || sigs != 1 {
		t.Errorf("stats = %d/%d, want 1/1", evals, sigs)
	}
}

func TestEngineSkipsInactiveGames(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s, _ := NewSharpLine("sharp-1", nil, testLogger())
	s.Enable()
	r.Load(s)

	g := mkGame(mkMarket("KXNBAGAME-26JAN06DALSAC-SAC", types.MarketMoneyline, "SAC", 44, 46))
	g.Consensus = &types.ConsensusOdds{NumSportsbooks: 3, HomeWinProbability: probPtr(0.60)}
	g.IsActive = false

	e := NewEngine(r, stubSource{games: []*types.GameState{g}}, time.Second, testLogger())
	if n := e.EvaluateAll(context.Background()); n != 0 {
		t.Fatalf("dispatched = %d, want 0 for inactive game", n)
	}
}

func TestEngineIsolatesPanickingStrategy(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	bad := &panicStrategy{base: newBase("bad-1", "Bad", "bad", "panics", testLogger())}
	bad.Enable()
	good, _ := NewSharpLine("sharp-1", nil, testLogger())
	good.Enable()
	r.Load(bad)
	r.Load(good)

	g := mkGame(mkMarket("KXNBAGAME-26JAN06DALSAC-SAC", types.MarketMoneyline, "SAC", 44, 46))
	g.Consensus = &types.ConsensusOdds{NumSportsbooks: 3, HomeWinProbability: probPtr(0.60)}

	e := NewEngine(r, stubSource{games: []*types.GameState{g}}, time.Second, testLogger())
	if n := e.EvaluateAll(context.Background()); n != 1 {
		t.Fatalf("dispatched = %d, want the healthy strategy's signal", n)
	}
}

func TestEngineHandlerErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s, _ := NewSharpLine("sharp-1", nil, testLogger())
	s.Enable()
	r.Load(s)

	g := mkGame(mkMarket("KXNBAGAME-26JAN06DALSAC-SAC", types.MarketMoneyline, "SAC", 44, 46))
	g.Consensus = &types.ConsensusOdds{NumSportsbooks: 3, HomeWinProbability: probPtr(0.60)}

	e := NewEngine(r, stubSource{games: []*types.GameState{g}}, time.Second, testLogger())
	e.OnSignal(func(context.Context, types.TradeSignal) error {
		return types.E(types.KindInternal, "handler down")
	})
	called := false
	e.OnSignal(func(context.Context, types.TradeSignal) error {
		called = true
		return nil
	})

	e.EvaluateAll(context.Background())
	if !called {
		t.Fatal("second handler should still run after the first errors")
	}
}
