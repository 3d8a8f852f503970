package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/aggregator"
	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/execution"
	"github.com/johnkush50/kalshi-NBA/internal/risk"
	"github.com/johnkush50/kalshi-NBA/internal/store"
	"github.com/johnkush50/kalshi-NBA/internal/strategy"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const (
	testGameID = "2026-01-06-DALSAC"
	homeTicker = "KXNBAGAME-26JAN06DALSAC-SAC"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubGames is an in-memory GameService and execution data source.
type stubGames struct {
	games  map[string]*types.GameState
	loaded map[string]bool
}

func newStubGames(games ...*types.GameState) *stubGames {
	s := &stubGames{games: make(map[string]*types.GameState), loaded: make(map[string]bool)}
	for _, g := range games {
		s.games[g.GameID] = g
	}
	return s
}

func (s *stubGames) LoadGame(_ context.Context, id string) error {
	if _, ok := s.games[id]; !ok {
		return types.E(types.KindNotFound, "game %s not found", id)
	}
	s.loaded[id] = true
	return nil
}

func (s *stubGames) UnloadGame(id string) error {
	if !s.loaded[id] {
		return types.E(types.KindNotFound, "game %s is not loaded", id)
	}
	delete(s.loaded, id)
	return nil
}

func (s *stubGames) GameState(id string) (*types.GameState, error) {
	g, ok := s.games[id]
	if !ok || !s.loaded[id] {
		return nil, types.E(types.KindNotFound, "game %s is not loaded", id)
	}
	return g.Clone(), nil
}

func (s *stubGames) GameStates() []*types.GameState {
	out := make([]*types.GameState, 0, len(s.loaded))
	for id := range s.loaded {
		out = append(out, s.games[id].Clone())
	}
	return out
}

func (s *stubGames) GameIDs() []string {
	out := make([]string, 0, len(s.loaded))
	for id := range s.loaded {
		out = append(out, id)
	}
	return out
}

func (s *stubGames) RefreshOrderbooks(_ context.Context, id string) error { return s.requireLoaded(id) }
func (s *stubGames) RefreshSports(_ context.Context, id string) error     { return s.requireLoaded(id) }
func (s *stubGames) RefreshOdds(_ context.Context, id string) error       { return s.requireLoaded(id) }

func (s *stubGames) requireLoaded(id string) error {
	if !s.loaded[id] {
		return types.E(types.KindNotFound, "game %s is not loaded", id)
	}
	return nil
}

func (s *stubGames) Subscribe(aggregator.Subscriber) int { return 1 }
func (s *stubGames) Unsubscribe(int)                     {}

func (s *stubGames) GameForTicker(ticker string) (string, bool) {
	for id, g := range s.games {
		if _, ok := g.Markets[ticker]; ok && s.loaded[id] {
			return id, true
		}
	}
	return "", false
}

func probPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func mkGame() *types.GameState {
	return &types.GameState{
		GameID:      testGameID,
		EventTicker: "KXNBAGAME-26JAN06DALSAC",
		HomeTeam:    "SAC",
		AwayTeam:    "DAL",
		Phase:       types.PhaseLive,
		Markets: map[string]*types.MarketState{
			homeTicker: {
				ID:         testGameID + ":" + homeTicker,
				Ticker:     homeTicker,
				MarketType: types.MarketMoneyline,
				Team:       "SAC",
				Orderbook: &types.OrderbookState{
					Ticker: homeTicker,
					YesBid: decimal.NewFromInt(44), YesAsk: decimal.NewFromInt(46),
					NoBid: decimal.NewFromInt(54), NoAsk: decimal.NewFromInt(56),
					YesBidSize: 100, YesAskSize: 100, NoBidSize: 100, NoAskSize: 100,
				},
			},
		},
		Odds:                  make(map[string]*types.OddsQuote),
		Consensus:             &types.ConsensusOdds{NumSportsbooks: 3, HomeWinProbability: probPtr(0.60)},
		ExchangeProbabilities: make(map[string]decimal.Decimal),
		IsActive:              true,
	}
}

type apiFixture struct {
	srv   *httptest.Server
	games *stubGames
	st    *store.Store
	riskM *risk.Manager
	strat *strategy.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.UpsertGame(&store.GameRecord{
		GameID: testGameID, EventTicker: "KXNBAGAME-26JAN06DALSAC",
		HomeTeam: "SAC", AwayTeam: "DAL", GameDate: "2026-01-06", Status: "live",
	}); err != nil {
		t.Fatal(err)
	}

	games := newStubGames(mkGame())
	riskM := risk.NewManager(config.RiskConfig{
		MaxContractsPerMarket: 1000, MaxContractsPerGame: 1000, MaxTotalContracts: 10000,
		MaxDailyLoss: 100000, MaxWeeklyLoss: 100000, MaxPerTradeRisk: 100000,
		MaxTotalExposure: 1000000, MaxExposurePerGame: 1000000, MaxExposurePerStrat: 1000000,
		MaxOrdersPerDay: 1000, MaxOrdersPerHour: 1000, LossStreakCooldown: 100,
	}, testLogger())
	exec := execution.NewEngine(config.ExecutionConfig{MaxDailyOrders: 100, MaxPositionSize: 100},
		riskM, games, st, testLogger())
	strat := strategy.NewEngine(strategy.NewRegistry(), games, 10*time.Second, testLogger())

	server := NewServer(config.APIConfig{Addr: ":0"}, Deps{
		Store:     st,
		Games:     games,
		Strategy:  strat,
		Execution: exec,
		Risk:      riskM,
	}, testLogger())

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, games: games, st: st, riskM: riskM, strat: strat}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	} else {
		req, err = http.NewRequest(method, f.srv.URL+path, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if readErr != nil {
			break
		}
	}
	return resp, buf
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d", resp.StatusCode)
	}
}

func TestGameLifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/games", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", resp.StatusCode)
	}
	var games []GameSummary
	if err := json.Unmarshal(body, &games); err != nil {
		t.Fatal(err)
	}
	if len(games) != 1 || games[0].Loaded {
		t.Fatalf("games = %+v, want one unloaded game", games)
	}

	if resp, _ := f.do(t, http.MethodPost, "/v1/games/"+testGameID+"/load", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("load = %d", resp.StatusCode)
	}
	resp, body = f.do(t, http.MethodGet, "/v1/games/"+testGameID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	var g types.GameState
	if err := json.Unmarshal(body, &g); err != nil {
		t.Fatal(err)
	}
	if len(g.Markets) != 1 {
		t.Errorf("markets = %d, want 1", len(g.Markets))
	}

	if resp, _ := f.do(t, http.MethodPost, "/v1/games/"+testGameID+"/refresh?feed=orderbooks", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("refresh = %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/v1/games/"+testGameID+"/refresh?feed=bogus", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus feed should be 400")
	}

	if resp, _ := f.do(t, http.MethodPost, "/v1/games/"+testGameID+"/unload", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("unload failed")
	}
	if resp, _ := f.do(t, http.MethodGet, "/v1/games/"+testGameID, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unloaded game should 404")
	}
	if resp, _ := f.do(t, http.MethodPost, "/v1/games/nope/load", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown game load should 404")
	}
}

func TestStrategyLifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/strategies/types", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("types = %d", resp.StatusCode)
	}
	var catalog []strategy.TypeInfo
	if err := json.Unmarshal(body, &catalog); err != nil {
		t.Fatal(err)
	}
	if len(catalog) != 5 {
		t.Errorf("catalog = %d entries, want 5", len(catalog))
	}

	resp, body = f.do(t, http.MethodPost, "/v1/strategies",
		`{"type":"sharp_line","id":"sharp-1","config":{"threshold_percent":7}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", resp.StatusCode, body)
	}

	if resp, _ := f.do(t, http.MethodPost, "/v1/strategies/sharp-1/enable", ""); resp.StatusCode != http.StatusOK {
		t.Fatal("enable failed")
	}

	resp, body = f.do(t, http.MethodGet, "/v1/strategies/sharp-1/config", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get config = %d", resp.StatusCode)
	}
	var cfg map[string]any
	if err := json.Unmarshal(body, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg["threshold_percent"] != 7.0 {
		t.Errorf("threshold = %v, want the configured 7", cfg["threshold_percent"])
	}

	if resp, _ := f.do(t, http.MethodPut, "/v1/strategies/sharp-1/config", `{"position_size":25}`); resp.StatusCode != http.StatusOK {
		t.Fatal("update config failed")
	}

	// The loaded strategy survives in the store for restart recovery.
	recs, err := f.st.ListStrategies()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "sharp-1" || !recs[0].Enabled {
		t.Errorf("persisted strategies = %+v", recs)
	}

	if resp, _ := f.do(t, http.MethodDelete, "/v1/strategies/sharp-1", ""); resp.StatusCode != http.StatusOK {
		t.Fatal("delete failed")
	}
	if resp, _ := f.do(t, http.MethodGet, "/v1/strategies/sharp-1/config", ""); resp.StatusCode != http.StatusNotFound {
		t.Error("deleted strategy should 404")
	}
	if resp, _ := f.do(t, http.MethodPost, "/v1/strategies", `{"type":"martingale","id":"x"}`); resp.StatusCode != http.StatusBadRequest {
		t.Error("unknown type should 400")
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.games.loaded[testGameID] = true

	f.do(t, http.MethodPost, "/v1/strategies", `{"type":"sharp_line","id":"sharp-1"}`)
	f.do(t, http.MethodPost, "/v1/strategies/sharp-1/enable", "")

	resp, body := f.do(t, http.MethodPost, "/v1/games/"+testGameID+"/evaluate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate = %d: %s", resp.StatusCode, body)
	}
	var out EvaluateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	// Mid 45 vs 60% consensus clears the default 5% divergence threshold.
	if len(out.Signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(out.Signals))
	}
	if out.Signals[0].Side != types.SideYes {
		t.Errorf("side = %s, want yes", out.Signals[0].Side)
	}
}

func TestRiskEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/risk/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var status risk.Status
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if !status.Enabled {
		t.Error("risk should start enabled")
	}

	if resp, _ := f.do(t, http.MethodPut, "/v1/risk/limits/max_daily_loss", `{"value":123}`); resp.StatusCode != http.StatusOK {
		t.Fatal("set limit failed")
	}
	if got := f.riskM.GetLimit(risk.MaxDailyLoss); got != 123 {
		t.Errorf("limit = %v, want 123", got)
	}
	if resp, _ := f.do(t, http.MethodPut, "/v1/risk/limits/bogus", `{"value":1}`); resp.StatusCode != http.StatusBadRequest {
		t.Error("unknown limit should 400")
	}
	if resp, _ := f.do(t, http.MethodPut, "/v1/risk/limits/max_daily_loss", `{"value":-5}`); resp.StatusCode != http.StatusBadRequest {
		t.Error("negative limit should 400")
	}

	f.do(t, http.MethodPost, "/v1/risk/disable", "")
	if f.riskM.IsEnabled() {
		t.Error("disable endpoint should disable the gate")
	}
	f.do(t, http.MethodPost, "/v1/risk/enable", "")
	if !f.riskM.IsEnabled() {
		t.Error("enable endpoint should re-enable the gate")
	}
}

func TestEvaluateAllEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.games.loaded[testGameID] = true

	f.do(t, http.MethodPost, "/v1/strategies", `{"type":"sharp_line","id":"sharp-1"}`)
	f.do(t, http.MethodPost, "/v1/strategies/sharp-1/enable", "")

	resp, body := f.do(t, http.MethodPost, "/v1/strategies/evaluate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate-all = %d: %s", resp.StatusCode, body)
	}
	var out map[string]int
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out["signals"] != 1 {
		t.Errorf("signals = %d, want 1", out["signals"])
	}
}

func TestRiskCheckEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.games.loaded[testGameID] = true

	resp, body := f.do(t, http.MethodPost, "/v1/risk/check",
		`{"market_ticker":"`+homeTicker+`","side":"yes","quantity":10}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check = %d: %s", resp.StatusCode, body)
	}
	var result risk.CheckResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if !result.Approved {
		t.Errorf("hypothetical order rejected: %s", result.Reason)
	}

	// Nothing is recorded: the same large order still passes afterwards.
	resp, body = f.do(t, http.MethodPost, "/v1/risk/check",
		`{"market_ticker":"`+homeTicker+`","side":"yes","quantity":999}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second check = %d: %s", resp.StatusCode, body)
	}

	if resp, _ := f.do(t, http.MethodPost, "/v1/risk/check",
		`{"market_ticker":"UNKNOWN","side":"yes","quantity":1}`); resp.StatusCode != http.StatusNotFound {
		t.Error("unknown market should 404")
	}
}

func TestSettleEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.games.loaded[testGameID] = true

	if resp, _ := f.do(t, http.MethodPost, "/v1/orders",
		`{"market_ticker":"`+homeTicker+`","side":"yes","quantity":10}`); resp.StatusCode != http.StatusCreated {
		t.Fatal("order failed")
	}

	// A live game cannot settle.
	if resp, _ := f.do(t, http.MethodPost, "/v1/games/"+testGameID+"/settle", ""); resp.StatusCode != http.StatusBadRequest {
		t.Error("settling a live game should 400")
	}

	g := f.games.games[testGameID]
	g.Phase = types.PhaseFinished
	g.Sports = &types.LiveSportsState{HomeScore: 112, AwayScore: 104}

	resp, body := f.do(t, http.MethodPost, "/v1/games/"+testGameID+"/settle", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settle = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		GameID  string            `json:"game_id"`
		Settled []*types.Position `json:"settled"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Settled) != 1 {
		t.Fatalf("settled = %d positions, want 1", len(out.Settled))
	}
	// Home won, so a YES on the home moneyline pays 100: (100-46)*10.
	if !out.Settled[0].RealizedPnL.Equal(decimal.NewFromInt(540)) {
		t.Errorf("realized = %v, want 540", out.Settled[0].RealizedPnL)
	}
}

func TestRefreshPnLEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.games.loaded[testGameID] = true

	f.do(t, http.MethodPost, "/v1/orders",
		`{"market_ticker":"`+homeTicker+`","side":"yes","quantity":10}`)

	resp, body := f.do(t, http.MethodPost, "/v1/portfolio/refresh", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh = %d: %s", resp.StatusCode, body)
	}
	var summary execution.PortfolioSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatal(err)
	}
	// Filled at ask 46, marked at mid 45: (45-46)*10.
	if !summary.UnrealizedPnL.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("unrealized = %v, want -10", summary.UnrealizedPnL)
	}
}

func TestManualOrderAndClose(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	f.games.loaded[testGameID] = true

	resp, body := f.do(t, http.MethodPost, "/v1/orders",
		`{"market_ticker":"`+homeTicker+`","side":"yes","quantity":10}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("order = %d: %s", resp.StatusCode, body)
	}
	var order types.Order
	if err := json.Unmarshal(body, &order); err != nil {
		t.Fatal(err)
	}
	if order.Status != types.OrderStatusFilled || order.StrategyID != "manual" {
		t.Errorf("order = %+v", order)
	}

	resp, body = f.do(t, http.MethodGet, "/v1/portfolio", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("portfolio = %d", resp.StatusCode)
	}
	var pf PortfolioResponse
	if err := json.Unmarshal(body, &pf); err != nil {
		t.Fatal(err)
	}
	if pf.OpenPositions != 1 || len(pf.Positions) != 1 {
		t.Errorf("portfolio = %+v", pf)
	}

	resp, _ = f.do(t, http.MethodPost, "/v1/positions/close",
		`{"market_ticker":"`+homeTicker+`","side":"yes"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close = %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/v1/orders?game="+testGameID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("orders = %d", resp.StatusCode)
	}
	var orders []types.Order
	if err := json.Unmarshal(body, &orders); err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Errorf("orders = %d, want 1", len(orders))
	}

	if resp, _ := f.do(t, http.MethodPost, "/v1/orders", `{"market_ticker":"x","side":"sideways","quantity":1}`); resp.StatusCode != http.StatusBadRequest {
		t.Error("bad side should 400")
	}
	if resp, _ := f.do(t, http.MethodPost, "/v1/orders", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Error("bad body should 400")
	}
}
