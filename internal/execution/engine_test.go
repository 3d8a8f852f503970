package execution

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/risk"
	"github.com/johnkush50/kalshi-NBA/internal/store"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const (
	testGameID = "2026-01-06-DALSAC"
	yesTicker  = "KXNBAGAME-26JAN06DALSAC-SAC"
	awyTicker  = "KXNBAGAME-26JAN06DALSAC-DAL"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubData serves a fixed set of games; tests mutate the underlying state
// directly to move prices.
type stubData struct{ games map[string]*types.GameState }

func (s *stubData) GameState(id string) (*types.GameState, error) {
	g, ok := s.games[id]
	if !ok {
		return nil, types.E(types.KindNotFound, "game %s is not loaded", id)
	}
	return g.Clone(), nil
}

func (s *stubData) GameForTicker(ticker string) (string, bool) {
	for id, g := range s.games {
		if _, ok := g.Markets[ticker]; ok {
			return id, true
		}
	}
	return "", false
}

func (s *stubData) GameStates() []*types.GameState {
	out := make([]*types.GameState, 0, len(s.games))
	for _, g := range s.games {
		out = append(out, g.Clone())
	}
	return out
}

func mkMarket(ticker string, mt types.MarketType, team string, yesBid, yesAsk int64) *types.MarketState {
	return &types.MarketState{
		ID:         testGameID + ":" + ticker,
		Ticker:     ticker,
		MarketType: mt,
		Team:       team,
		Orderbook: &types.OrderbookState{
			Ticker:     ticker,
			YesBid:     decimal.NewFromInt(yesBid),
			YesAsk:     decimal.NewFromInt(yesAsk),
			NoBid:      decimal.NewFromInt(100 - yesAsk),
			NoAsk:      decimal.NewFromInt(100 - yesBid),
			YesBidSize: 100,
			YesAskSize: 100,
			NoBidSize:  100,
			NoAskSize:  100,
		},
	}
}

func mkGame(markets ...*types.MarketState) *types.GameState {
	g := &types.GameState{
		GameID:                testGameID,
		EventTicker:           "KXNBAGAME-26JAN06DALSAC",
		HomeTeam:              "SAC",
		AwayTeam:              "DAL",
		Phase:                 types.PhaseLive,
		Markets:               make(map[string]*types.MarketState),
		Odds:                  make(map[string]*types.OddsQuote),
		ExchangeProbabilities: make(map[string]decimal.Decimal),
		IsActive:              true,
	}
	for _, m := range markets {
		g.Markets[m.Ticker] = m
	}
	return g
}

func generousRisk() config.RiskConfig {
	return config.RiskConfig{
		MaxContractsPerMarket: 10000,
		MaxContractsPerGame:   10000,
		MaxTotalContracts:     100000,
		MaxDailyLoss:          1000000,
		MaxWeeklyLoss:         1000000,
		MaxPerTradeRisk:       1000000,
		MaxTotalExposure:      10000000,
		MaxExposurePerGame:    10000000,
		MaxExposurePerStrat:   10000000,
		MaxOrdersPerDay:       10000,
		MaxOrdersPerHour:      10000,
		LossStreakCooldown:    100,
	}
}

type fixture struct {
	eng  *Engine
	data *stubData
	st   *store.Store
}

func newFixture(t *testing.T, execCfg config.ExecutionConfig, riskCfg config.RiskConfig, g *types.GameState) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	data := &stubData{games: map[string]*types.GameState{g.GameID: g}}
	eng := NewEngine(execCfg, risk.NewManager(riskCfg, testLogger()), data, st, testLogger())
	return &fixture{eng: eng, data: data, st: st}
}

func defaultExec() config.ExecutionConfig {
	return config.ExecutionConfig{MaxDailyOrders: 50, MaxPositionSize: 100}
}

func sig(ticker string, side types.Side, qty int64) types.TradeSignal {
	return types.TradeSignal{
		StrategyID:   "sharp-1",
		StrategyName: "Sharp Line",
		MarketTicker: ticker,
		Side:         side,
		Quantity:     qty,
		Confidence:   0.8,
		Reason:       "test signal",
	}
}

func TestExecuteSignalFills(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultExec(), generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	var cbOrders int
	f.eng.OnFill(func(o *types.Order, p *types.Position) {
		cbOrders++
		if p.Quantity != o.Quantity {
			t.Errorf("callback position qty = %d, order qty = %d", p.Quantity, o.Quantity)
		}
	})

	order, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10))
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Fatalf("status = %s", order.Status)
	}
	if !order.FilledPrice.Equal(decimal.NewFromInt(46)) {
		t.Errorf("fill price = %v, want the 46 yes ask", order.FilledPrice)
	}

	pos, ok := f.eng.Position(yesTicker, types.SideYes)
	if !ok {
		t.Fatal("position missing")
	}
	if pos.Quantity != 10 || !pos.TotalCost.Equal(decimal.NewFromInt(460)) {
		t.Errorf("position = qty %d cost %v", pos.Quantity, pos.TotalCost)
	}
	if cbOrders != 1 {
		t.Errorf("callbacks = %d, want 1", cbOrders)
	}

	saved, err := f.st.ListOrders(testGameID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].Status != types.OrderStatusFilled {
		t.Errorf("persisted orders = %+v", saved)
	}
}

func TestExecuteSignalAveragesIntoPosition(t *testing.T) {
	t.Parallel()
	g := mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46))
	f := newFixture(t, defaultExec(), generousRisk(), g)

	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}
	g.Markets[yesTicker].Orderbook.YesAsk = decimal.NewFromInt(50)
	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}

	pos, _ := f.eng.Position(yesTicker, types.SideYes)
	if pos.Quantity != 20 {
		t.Fatalf("qty = %d, want 20", pos.Quantity)
	}
	if !pos.TotalCost.Equal(decimal.NewFromInt(960)) {
		t.Errorf("cost = %v, want 960", pos.TotalCost)
	}
	if !pos.AvgEntryPrice.Equal(decimal.NewFromInt(48)) {
		t.Errorf("avg = %v, want 48", pos.AvgEntryPrice)
	}
}

func TestExecuteSignalNoSideUsesNoAsk(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultExec(), generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	order, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideNo, 5))
	if err != nil {
		t.Fatal(err)
	}
	// no_ask = 100 - yes_bid = 56.
	if !order.FilledPrice.Equal(decimal.NewFromInt(56)) {
		t.Errorf("fill price = %v, want 56", order.FilledPrice)
	}
}

func TestExecuteSignalValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultExec(), generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	cases := []struct {
		name string
		sig  types.TradeSignal
	}{
		{"unknown market", sig("KXNBAGAME-26JAN06BOSNYK-BOS", types.SideYes, 10)},
		{"zero quantity", sig(yesTicker, types.SideYes, 0)},
		{"bad side", sig(yesTicker, types.Side("maybe"), 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eng.ExecuteSignal(context.Background(), tc.sig)
			if types.KindOf(err) != types.KindValidation {
				t.Errorf("kind = %s, want validation", types.KindOf(err))
			}
		})
	}
}

func TestExecuteSignalOneSidedBook(t *testing.T) {
	t.Parallel()
	m := mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)
	m.Orderbook.YesAsk = decimal.Zero
	f := newFixture(t, defaultExec(), generousRisk(), mkGame(m))

	_, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10))
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("kind = %s, want validation on missing ask", types.KindOf(err))
	}

	// The rejection still leaves a cancelled order with its reason.
	orders, err := f.st.ListOrders(testGameID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Fatalf("persisted orders = %d, want the cancelled one", len(orders))
	}
	if orders[0].Status != types.OrderStatusCancelled || orders[0].Reason == "" {
		t.Errorf("persisted order = status %s reason %q", orders[0].Status, orders[0].Reason)
	}
}

func TestUnknownMarketPersistsCancelledOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultExec(), generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	_, err := f.eng.ExecuteSignal(context.Background(), sig("KXNBAGAME-26JAN06BOSNYK-BOS", types.SideYes, 10))
	if types.KindOf(err) != types.KindValidation {
		t.Fatalf("kind = %s, want validation", types.KindOf(err))
	}

	orders, err := f.st.ListOrders("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Status != types.OrderStatusCancelled {
		t.Fatalf("persisted orders = %+v, want one cancelled", orders)
	}
}

func TestDailyOrderBudget(t *testing.T) {
	t.Parallel()
	cfg := config.ExecutionConfig{MaxDailyOrders: 2, MaxPositionSize: 100}
	f := newFixture(t, cfg, generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	for i := 0; i < 2; i++ {
		if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 1)); err != nil {
			t.Fatal(err)
		}
	}
	_, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 1))
	if types.KindOf(err) != types.KindValidation {
		t.Fatalf("kind = %s, want validation at the daily budget", types.KindOf(err))
	}

	// The rejection leaves a cancelled order in history.
	orders, err := f.st.ListOrders(testGameID, 10)
	if err != nil {
		t.Fatal(err)
	}
	cancelled := 0
	for _, o := range orders {
		if o.Status == types.OrderStatusCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Errorf("cancelled orders = %d, want 1", cancelled)
	}
}

func TestPositionCap(t *testing.T) {
	t.Parallel()
	cfg := config.ExecutionConfig{MaxDailyOrders: 50, MaxPositionSize: 15}
	f := newFixture(t, cfg, generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}
	_, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10))
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("kind = %s, want validation at the cap", types.KindOf(err))
	}
	// The opposite side has its own cap.
	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideNo, 10)); err != nil {
		t.Errorf("no side should be unaffected: %v", err)
	}
}

func TestRiskGateRejection(t *testing.T) {
	t.Parallel()
	riskCfg := generousRisk()
	riskCfg.MaxPerTradeRisk = 500 // 5 contracts worst case
	f := newFixture(t, defaultExec(), riskCfg, mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	_, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10))
	if types.KindOf(err) != types.KindRiskRejected {
		t.Fatalf("kind = %s, want risk_rejected", types.KindOf(err))
	}
	if _, ok := f.eng.Position(yesTicker, types.SideYes); ok {
		t.Error("rejected order must not open a position")
	}
}

func TestRiskGateRunsBeforeLocalCaps(t *testing.T) {
	t.Parallel()
	riskCfg := generousRisk()
	riskCfg.MaxPerTradeRisk = 500 // 5 contracts worst case
	cfg := config.ExecutionConfig{MaxDailyOrders: 50, MaxPositionSize: 5}
	f := newFixture(t, cfg, riskCfg, mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	// Both the risk gate and the local position cap would reject this; the
	// caller must see the risk reason.
	_, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10))
	if types.KindOf(err) != types.KindRiskRejected {
		t.Errorf("kind = %s, want risk_rejected ahead of the cap check", types.KindOf(err))
	}
}

func TestClosePositionRealizesPnL(t *testing.T) {
	t.Parallel()
	g := mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46))
	f := newFixture(t, defaultExec(), generousRisk(), g)

	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}
	// Price rallies; exit at the 60 bid against the 46 entry.
	g.Markets[yesTicker].Orderbook.YesBid = decimal.NewFromInt(60)
	g.Markets[yesTicker].Orderbook.YesAsk = decimal.NewFromInt(62)

	pos, err := f.eng.ClosePosition(yesTicker, types.SideYes)
	if err != nil {
		t.Fatal(err)
	}
	if pos.IsOpen {
		t.Error("position should be closed")
	}
	if !pos.RealizedPnL.Equal(decimal.NewFromInt(140)) {
		t.Errorf("realized = %v, want (60-46)*10 = 140", pos.RealizedPnL)
	}
	if _, ok := f.eng.Position(yesTicker, types.SideYes); ok {
		t.Error("closed position should be gone from the open set")
	}
	if got := f.eng.Summary().RealizedPnL; !got.Equal(decimal.NewFromInt(140)) {
		t.Errorf("summary realized = %v, want 140", got)
	}

	// Double close is not found.
	if _, err := f.eng.ClosePosition(yesTicker, types.SideYes); types.KindOf(err) != types.KindNotFound {
		t.Errorf("kind = %s, want not_found", types.KindOf(err))
	}
}

func TestSettleGameMoneyline(t *testing.T) {
	t.Parallel()
	g := mkGame(
		mkMarket(yesTicker, types.MarketMoneyline, "SAC", 38, 40),
		mkMarket(awyTicker, types.MarketMoneyline, "DAL", 58, 60),
	)
	f := newFixture(t, defaultExec(), generousRisk(), g)

	// Long the home underdog at 40 and the away favorite at 60.
	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.ExecuteSignal(context.Background(), sig(awyTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}

	// Home team wins.
	g.Phase = types.PhaseFinished
	g.IsActive = false
	g.Sports = &types.LiveSportsState{
		ProviderGameID: 123, Status: "Final", Period: 4,
		HomeScore: 112, AwayScore: 104,
	}

	settled, err := f.eng.SettleGame(testGameID)
	if err != nil {
		t.Fatal(err)
	}
	if len(settled) != 2 {
		t.Fatalf("settled = %d, want 2", len(settled))
	}

	byTicker := map[string]decimal.Decimal{}
	for _, p := range settled {
		byTicker[p.MarketTicker] = p.RealizedPnL
	}
	if !byTicker[yesTicker].Equal(decimal.NewFromInt(600)) {
		t.Errorf("winner pnl = %v, want (100-40)*10 = 600", byTicker[yesTicker])
	}
	if !byTicker[awyTicker].Equal(decimal.NewFromInt(-600)) {
		t.Errorf("loser pnl = %v, want (0-60)*10 = -600", byTicker[awyTicker])
	}
	if n := len(f.eng.OpenPositions()); n != 0 {
		t.Errorf("open positions = %d after settlement", n)
	}
}

func TestSettleGameRequiresFinished(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultExec(), generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	_, err := f.eng.SettleGame(testGameID)
	if types.KindOf(err) != types.KindValidation {
		t.Errorf("kind = %s, want validation for a live game", types.KindOf(err))
	}
}

func TestResolveOutcome(t *testing.T) {
	t.Parallel()
	strike := decimal.NewFromFloat(7.5)
	total := decimal.NewFromFloat(220.5)
	g := mkGame()
	g.Sports = &types.LiveSportsState{HomeScore: 112, AwayScore: 104}

	cases := []struct {
		name string
		m    *types.MarketState
		want bool
	}{
		{"home ml wins", &types.MarketState{MarketType: types.MarketMoneyline, Team: "SAC"}, true},
		{"away ml loses", &types.MarketState{MarketType: types.MarketMoneyline, Team: "DAL"}, false},
		{"home spread covers", &types.MarketState{MarketType: types.MarketSpread, Team: "SAC", StrikeValue: &strike}, true},
		{"away spread misses", &types.MarketState{MarketType: types.MarketSpread, Team: "DAL", StrikeValue: &strike}, false},
		{"total under", &types.MarketState{MarketType: types.MarketTotal, StrikeValue: &total}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveOutcome(g, tc.m)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("yes won = %v, want %v", got, tc.want)
			}
		})
	}

	// Margin 8 exactly at an 8.0 strike does not pay.
	eight := decimal.NewFromInt(8)
	got, err := resolveOutcome(g, &types.MarketState{MarketType: types.MarketSpread, Team: "SAC", StrikeValue: &eight})
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("push at the strike must not pay YES")
	}
}

func TestUpdateUnrealizedPnL(t *testing.T) {
	t.Parallel()
	g := mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46))
	f := newFixture(t, defaultExec(), generousRisk(), g)

	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}
	// Mid moves from 45 to 50.
	g.Markets[yesTicker].Orderbook.YesBid = decimal.NewFromInt(49)
	g.Markets[yesTicker].Orderbook.YesAsk = decimal.NewFromInt(51)

	f.eng.UpdateUnrealizedPnL()
	pos, _ := f.eng.Position(yesTicker, types.SideYes)
	if !pos.UnrealizedPnL.Equal(decimal.NewFromInt(40)) {
		t.Errorf("unrealized = %v, want 50*10 - 460 = 40", pos.UnrealizedPnL)
	}
}

func TestRestorePositions(t *testing.T) {
	t.Parallel()
	g := mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46))
	f := newFixture(t, defaultExec(), generousRisk(), g)

	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}

	// A fresh engine over the same store sees the open position.
	eng2 := NewEngine(defaultExec(), risk.NewManager(generousRisk(), testLogger()), f.data, f.st, testLogger())
	if err := eng2.RestorePositions(); err != nil {
		t.Fatal(err)
	}
	pos, ok := eng2.Position(yesTicker, types.SideYes)
	if !ok || pos.Quantity != 10 {
		t.Fatalf("restored position = %+v", pos)
	}
}

func TestPerformanceFromOrderHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultExec(), generousRisk(), mkGame(mkMarket(yesTicker, types.MarketMoneyline, "SAC", 44, 46)))

	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.ExecuteSignal(context.Background(), sig(yesTicker, types.SideYes, 5)); err != nil {
		t.Fatal(err)
	}

	perf, err := f.eng.Performance("sharp-1")
	if err != nil {
		t.Fatal(err)
	}
	if perf.Orders != 2 || perf.FilledOrders != 2 || perf.Contracts != 15 {
		t.Errorf("performance = %+v", perf)
	}
	if !perf.TotalCost.Equal(decimal.NewFromInt(690)) {
		t.Errorf("cost = %v, want 46*15 = 690", perf.TotalCost)
	}
}
