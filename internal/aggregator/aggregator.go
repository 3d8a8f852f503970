// Package aggregator owns the authoritative per-game state. It merges three
// feeds into one GameState per loaded game: exchange orderbooks (REST polls
// plus the websocket stream), the live scoreboard, and vendor odds. Every
// mutation happens under the aggregator's lock; consumers only ever see deep
// copies.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/exchange"
	"github.com/johnkush50/kalshi-NBA/internal/market"
	"github.com/johnkush50/kalshi-NBA/internal/odds"
	"github.com/johnkush50/kalshi-NBA/internal/sports"
	"github.com/johnkush50/kalshi-NBA/internal/store"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// Subscriber receives a deep-copied snapshot after each state change. The
// callback runs on the aggregator's goroutine and must not block.
type Subscriber func(gameID string, g *types.GameState, kind types.EventKind)

// Aggregator maintains live GameState for every loaded game.
type Aggregator struct {
	intervals config.IntervalsConfig
	exchange  *exchange.Client
	sports    *sports.Client
	store     *store.Store
	books     *market.BookSet
	feed      *exchange.WSFeed // nil when the websocket feed is disabled
	logger    *slog.Logger

	mu      sync.RWMutex
	games   map[string]*types.GameState
	tickers map[string]string // market ticker -> game id

	subMu   sync.Mutex
	nextSub int
	subs    map[int]Subscriber

	now func() time.Time
}

// New creates an aggregator. feed may be nil; orderbooks then come from REST
// polls only.
func New(
	intervals config.IntervalsConfig,
	exchangeClient *exchange.Client,
	sportsClient *sports.Client,
	st *store.Store,
	books *market.BookSet,
	feed *exchange.WSFeed,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		intervals: intervals,
		exchange:  exchangeClient,
		sports:    sportsClient,
		store:     st,
		books:     books,
		feed:      feed,
		logger:    logger.With("component", "aggregator"),
		games:     make(map[string]*types.GameState),
		tickers:   make(map[string]string),
		subs:      make(map[int]Subscriber),
		now:       time.Now,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Load / unload
// ————————————————————————————————————————————————————————————————————————

// LoadGame brings a persisted game into live tracking. Loading an already
// loaded game is a no-op. The initial refreshes are best effort; a dead feed
// must not block loading.
func (a *Aggregator) LoadGame(ctx context.Context, gameID string) error {
	a.mu.RLock()
	_, loaded := a.games[gameID]
	a.mu.RUnlock()
	if loaded {
		return nil
	}

	rec, err := a.store.GetGame(gameID)
	if err != nil {
		return err
	}
	markets, err := a.store.MarketsForGame(gameID)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return types.E(types.KindValidation, "game %s has no markets", gameID)
	}

	g := buildState(rec, markets)

	a.mu.Lock()
	a.games[gameID] = g
	for t := range g.Markets {
		a.tickers[t] = gameID
	}
	a.mu.Unlock()

	if err := a.RefreshOrderbooks(ctx, gameID); err != nil {
		a.logger.Warn("initial orderbook refresh failed", "game_id", gameID, "error", err)
	}
	if g.HasSportsData() {
		if err := a.RefreshSports(ctx, gameID); err != nil {
			a.logger.Warn("initial sports refresh failed", "game_id", gameID, "error", err)
		}
		if err := a.RefreshOdds(ctx, gameID); err != nil {
			a.logger.Warn("initial odds refresh failed", "game_id", gameID, "error", err)
		}
	}

	if a.feed != nil {
		if err := a.feed.Subscribe(marketTickers(g)); err != nil {
			a.logger.Warn("websocket subscribe failed", "game_id", gameID, "error", err)
		}
	}

	a.logger.Info("game loaded",
		"game_id", gameID, "markets", len(g.Markets), "phase", g.Phase)
	a.notify(gameID, types.EventGameLoaded)
	return nil
}

// UnloadGame removes a game from live tracking. Persisted rows are untouched.
func (a *Aggregator) UnloadGame(gameID string) error {
	a.mu.Lock()
	g, ok := a.games[gameID]
	if !ok {
		a.mu.Unlock()
		return types.E(types.KindNotFound, "game %s is not loaded", gameID)
	}
	final := g.Clone()
	delete(a.games, gameID)
	for t := range g.Markets {
		delete(a.tickers, t)
		a.books.Remove(t)
	}
	a.mu.Unlock()

	if a.feed != nil {
		if err := a.feed.Unsubscribe(marketTickers(final)); err != nil {
			a.logger.Warn("websocket unsubscribe failed", "game_id", gameID, "error", err)
		}
	}

	a.logger.Info("game unloaded", "game_id", gameID)
	a.fanout(gameID, final, types.EventGameUnloaded)
	return nil
}

// GameState returns a deep copy of one game's state.
func (a *Aggregator) GameState(gameID string) (*types.GameState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	g, ok := a.games[gameID]
	if !ok {
		return nil, types.E(types.KindNotFound, "game %s is not loaded", gameID)
	}
	return g.Clone(), nil
}

// GameStates returns deep copies of every loaded game, ordered by game id.
// It satisfies the strategy engine's state source.
func (a *Aggregator) GameStates() []*types.GameState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*types.GameState, 0, len(a.games))
	for _, g := range a.games {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// GameIDs lists loaded game ids in sorted order.
func (a *Aggregator) GameIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.games))
	for id := range a.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GameForTicker resolves which loaded game a market ticker belongs to.
func (a *Aggregator) GameForTicker(ticker string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.tickers[ticker]
	return id, ok
}

// ————————————————————————————————————————————————————————————————————————
// Subscriptions
// ————————————————————————————————————————————————————————————————————————

// Subscribe registers a callback and returns its id for Unsubscribe.
func (a *Aggregator) Subscribe(fn Subscriber) int {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.nextSub++
	a.subs[a.nextSub] = fn
	return a.nextSub
}

// Unsubscribe removes a previously registered callback.
func (a *Aggregator) Unsubscribe(id int) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	delete(a.subs, id)
}

func (a *Aggregator) notify(gameID string, kind types.EventKind) {
	a.mu.RLock()
	g, ok := a.games[gameID]
	var snap *types.GameState
	if ok {
		snap = g.Clone()
	}
	a.mu.RUnlock()
	if snap == nil {
		return
	}
	a.fanout(gameID, snap, kind)
}

// fanout delivers one snapshot to every subscriber. A panicking subscriber
// is logged and skipped; it never takes down the feed loop.
func (a *Aggregator) fanout(gameID string, snap *types.GameState, kind types.EventKind) {
	a.subMu.Lock()
	subs := make([]Subscriber, 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.subMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("subscriber panicked",
						"game_id", gameID, "event", kind, "panic", r)
				}
			}()
			fn(gameID, snap, kind)
		}()
	}
}

// ————————————————————————————————————————————————————————————————————————
// Refreshes
// ————————————————————————————————————————————————————————————————————————

// RefreshOrderbooks polls the exchange for every market of a game and
// updates top-of-book state and implied probabilities. Sizes come from the
// websocket-maintained depth books when available; the REST market record
// only carries prices.
func (a *Aggregator) RefreshOrderbooks(ctx context.Context, gameID string) error {
	a.mu.RLock()
	g, ok := a.games[gameID]
	if !ok {
		a.mu.RUnlock()
		return types.E(types.KindNotFound, "game %s is not loaded", gameID)
	}
	tickers := marketTickers(g)
	a.mu.RUnlock()

	updated := 0
	for _, t := range tickers {
		m, err := a.exchange.GetMarket(ctx, t)
		if err != nil {
			a.logger.Warn("market fetch failed", "ticker", t, "error", err)
			continue
		}

		ob := &types.OrderbookState{
			Ticker:      t,
			YesBid:      decimal.NewFromInt(m.YesBid),
			YesAsk:      decimal.NewFromInt(m.YesAsk),
			NoBid:       decimal.NewFromInt(m.NoBid),
			NoAsk:       decimal.NewFromInt(m.NoAsk),
			LastUpdated: a.now().UTC(),
		}
		if book, ok := a.books.Lookup(t); ok {
			_, _, _, _, yesBidSize, noBidSize := book.TopOfBook()
			ob.YesBidSize = yesBidSize
			ob.NoBidSize = noBidSize
			ob.YesAskSize = noBidSize
			ob.NoAskSize = yesBidSize
		}

		a.applyOrderbook(gameID, t, ob)
		if err := a.store.AppendOrderbookSnapshot(gameID, ob); err != nil {
			a.logger.Warn("orderbook snapshot persist failed", "ticker", t, "error", err)
		}
		updated++
	}

	if updated > 0 {
		a.notify(gameID, types.EventOrderbookUpdate)
	}
	return nil
}

// applyOrderbook installs new top-of-book state for one market and refreshes
// the derived exchange probability.
func (a *Aggregator) applyOrderbook(gameID, ticker string, ob *types.OrderbookState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.games[gameID]
	if !ok {
		return
	}
	m, ok := g.Markets[ticker]
	if !ok {
		return
	}
	m.Orderbook = ob
	if mid, ok := ob.MidPrice(); ok {
		g.ExchangeProbabilities[ticker] = odds.CentsToProb(mid)
	} else {
		delete(g.ExchangeProbabilities, ticker)
	}
	g.LastUpdated = a.now().UTC()
}

// RefreshSports pulls the live scoreboard for a game. Live games come from
// the bulk live box score endpoint; when a game is absent there (not started
// or already final) the single-game endpoint supplies the status.
func (a *Aggregator) RefreshSports(ctx context.Context, gameID string) error {
	a.mu.RLock()
	g, ok := a.games[gameID]
	if !ok {
		a.mu.RUnlock()
		return types.E(types.KindNotFound, "game %s is not loaded", gameID)
	}
	if g.Sports == nil || g.Sports.ProviderGameID == 0 {
		a.mu.RUnlock()
		return types.E(types.KindValidation, "game %s has no sports feed attached", gameID)
	}
	providerID := g.Sports.ProviderGameID
	a.mu.RUnlock()

	boxes, err := a.sports.GetLiveBoxScores(ctx)
	if err != nil {
		return err
	}
	for i := range boxes {
		if boxes[i].Game.ID == providerID {
			a.applySports(gameID, &boxes[i].Game)
			return nil
		}
	}

	// Not in the live set: fall back to the game record for scheduled/final
	// status, with no score update.
	game, err := a.sports.GetGame(ctx, providerID)
	if err != nil {
		return err
	}
	a.applySports(gameID, game)
	return nil
}

func (a *Aggregator) applySports(gameID string, src *sports.Game) {
	now := a.now().UTC()
	st := &types.LiveSportsState{
		ProviderGameID: src.ID,
		Status:         src.Status,
		Period:         src.Period,
		TimeRemaining:  src.Time,
		HomeScore:      src.HomeTeamScore,
		AwayScore:      src.VisitorTeamScore,
		HomeTeam:       src.HomeTeam.Abbreviation,
		AwayTeam:       src.VisitorTeam.Abbreviation,
		LastUpdated:    now,
	}
	newPhase := types.PhaseFromStatus(src.Status)

	a.mu.Lock()
	g, ok := a.games[gameID]
	if !ok {
		a.mu.Unlock()
		return
	}
	oldPhase := g.Phase
	g.Sports = st
	g.Phase = newPhase
	if newPhase == types.PhaseFinished || newPhase == types.PhaseCancelled {
		g.IsActive = false
	}
	g.LastUpdated = now
	a.mu.Unlock()

	if err := a.store.AppendSportsHistory(gameID, st); err != nil {
		a.logger.Warn("sports history persist failed", "game_id", gameID, "error", err)
	}
	if newPhase != oldPhase {
		if err := a.store.UpdateGameStatus(gameID, string(newPhase)); err != nil {
			a.logger.Warn("game status persist failed", "game_id", gameID, "error", err)
		}
		a.logger.Info("game phase changed",
			"game_id", gameID, "from", oldPhase, "to", newPhase,
			"score", st.HomeScore, "score_away", st.AwayScore)
		a.notify(gameID, types.EventStateChange)
		return
	}
	a.notify(gameID, types.EventSportsUpdate)
}

// RefreshOdds pulls vendor odds for a game and recomputes the consensus.
func (a *Aggregator) RefreshOdds(ctx context.Context, gameID string) error {
	a.mu.RLock()
	g, ok := a.games[gameID]
	if !ok {
		a.mu.RUnlock()
		return types.E(types.KindNotFound, "game %s is not loaded", gameID)
	}
	if g.Sports == nil || g.Sports.ProviderGameID == 0 {
		a.mu.RUnlock()
		return types.E(types.KindValidation, "game %s has no sports feed attached", gameID)
	}
	providerID := g.Sports.ProviderGameID
	a.mu.RUnlock()

	rows, err := a.sports.GetOdds(ctx, []int64{providerID}, "")
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	quotes := make(map[string]*types.OddsQuote, len(rows))
	for i := range rows {
		q := rows[i].Quote()
		quotes[strings.ToLower(q.Vendor)] = q
		if err := a.store.AppendOddsHistory(gameID, q); err != nil {
			a.logger.Warn("odds history persist failed",
				"game_id", gameID, "vendor", q.Vendor, "error", err)
		}
	}
	consensus := computeConsensus(quotes, a.now().UTC())

	a.mu.Lock()
	if g, ok := a.games[gameID]; ok {
		g.Odds = quotes
		g.Consensus = consensus
		g.LastUpdated = a.now().UTC()
	}
	a.mu.Unlock()

	a.notify(gameID, types.EventOddsUpdate)
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Consensus
// ————————————————————————————————————————————————————————————————————————

// computeConsensus collapses vendor quotes into vig-free median
// probabilities and median lines. Each line type uses only the vendors that
// quote both sides of it.
func computeConsensus(quotes map[string]*types.OddsQuote, now time.Time) *types.ConsensusOdds {
	var homeProbs, awayProbs []decimal.Decimal
	var spreadLines, spreadHomeProbs []decimal.Decimal
	var totalLines, overProbs []decimal.Decimal

	for _, q := range quotes {
		if q.MoneylineHome != nil && q.MoneylineAway != nil {
			h := odds.AmericanToImplied(*q.MoneylineHome)
			aw := odds.AmericanToImplied(*q.MoneylineAway)
			if fh, fa, err := odds.RemoveVig(h, aw); err == nil {
				homeProbs = append(homeProbs, fh)
				awayProbs = append(awayProbs, fa)
			}
		}
		if q.SpreadHomeValue != nil {
			spreadLines = append(spreadLines, *q.SpreadHomeValue)
		}
		if q.SpreadHomeOdds != nil && q.SpreadAwayOdds != nil {
			h := odds.AmericanToImplied(*q.SpreadHomeOdds)
			aw := odds.AmericanToImplied(*q.SpreadAwayOdds)
			if fh, _, err := odds.RemoveVig(h, aw); err == nil {
				spreadHomeProbs = append(spreadHomeProbs, fh)
			}
		}
		if q.TotalValue != nil {
			totalLines = append(totalLines, *q.TotalValue)
		}
		if q.TotalOverOdds != nil && q.TotalUnderOdds != nil {
			over := odds.AmericanToImplied(*q.TotalOverOdds)
			under := odds.AmericanToImplied(*q.TotalUnderOdds)
			if fo, _, err := odds.RemoveVig(over, under); err == nil {
				overProbs = append(overProbs, fo)
			}
		}
	}

	c := &types.ConsensusOdds{
		NumSportsbooks: len(homeProbs),
		LastUpdated:    now,
	}
	if len(homeProbs) > 0 {
		h := odds.Median(homeProbs)
		aw := odds.Median(awayProbs)
		c.HomeWinProbability = &h
		c.AwayWinProbability = &aw
	}
	if len(spreadLines) > 0 {
		line := odds.Median(spreadLines)
		c.SpreadLine = &line
	}
	if len(spreadHomeProbs) > 0 {
		p := odds.Median(spreadHomeProbs)
		c.SpreadHomeProbability = &p
	}
	if len(totalLines) > 0 {
		line := odds.Median(totalLines)
		c.TotalLine = &line
	}
	if len(overProbs) > 0 {
		p := odds.Median(overProbs)
		c.OverProbability = &p
	}
	return c
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

// buildState assembles the initial in-memory state from persisted rows.
func buildState(rec *store.GameRecord, markets []*store.MarketRecord) *types.GameState {
	gameDate, _ := time.Parse("2006-01-02", rec.GameDate)
	g := &types.GameState{
		GameID:                rec.GameID,
		EventTicker:           rec.EventTicker,
		HomeTeam:              rec.HomeTeam,
		AwayTeam:              rec.AwayTeam,
		GameDate:              gameDate,
		Phase:                 types.PhaseFromStatus(rec.Status),
		Markets:               make(map[string]*types.MarketState, len(markets)),
		Odds:                  make(map[string]*types.OddsQuote),
		ExchangeProbabilities: make(map[string]decimal.Decimal),
		IsActive:              true,
	}
	if g.Phase == types.PhaseFinished || g.Phase == types.PhaseCancelled {
		g.IsActive = false
	}
	for _, m := range markets {
		g.Markets[m.Ticker] = &types.MarketState{
			ID:          m.GameID + ":" + m.Ticker,
			Ticker:      m.Ticker,
			MarketType:  m.MarketType,
			StrikeValue: m.StrikeValue,
			Team:        m.Team,
		}
	}
	if rec.ProviderGameID != 0 {
		g.Sports = &types.LiveSportsState{
			ProviderGameID: rec.ProviderGameID,
			HomeTeam:       rec.HomeTeam,
			AwayTeam:       rec.AwayTeam,
		}
	}
	return g
}

func marketTickers(g *types.GameState) []string {
	out := make([]string, 0, len(g.Markets))
	for t := range g.Markets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
