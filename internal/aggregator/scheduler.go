package aggregator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// Run drives the polling loop at 1 Hz until the context is cancelled. Live
// and halftime games poll orderbooks every tick, the scoreboard every
// SportsTicks, and odds every OddsTicks. Games that have not tipped off poll
// at ScheduledMultiple times the sports interval so a slate of scheduled
// games does not burn the rate budget.
func (a *Aggregator) Run(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	a.logger.Info("polling loop started",
		"sports_ticks", a.intervals.SportsTicks,
		"odds_ticks", a.intervals.OddsTicks,
		"scheduled_multiple", a.intervals.ScheduledMultiple)

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("polling loop stopped")
			return ctx.Err()
		case <-t.C:
			tick++
			a.pollOnce(ctx, tick)
		}
	}
}

// pollOnce runs one scheduler tick across all loaded games. A panic in one
// game's refresh is contained and the loop keeps going.
func (a *Aggregator) pollOnce(ctx context.Context, tick uint64) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("polling tick panicked", "tick", tick, "panic", r)
		}
	}()

	a.mu.RLock()
	type gameRef struct {
		id      string
		phase   types.Phase
		hasFeed bool
	}
	refs := make([]gameRef, 0, len(a.games))
	for id, g := range a.games {
		refs = append(refs, gameRef{id: id, phase: g.Phase, hasFeed: g.HasSportsData()})
	}
	a.mu.RUnlock()

	scheduledTicks := uint64(a.intervals.SportsTicks * a.intervals.ScheduledMultiple)

	for _, ref := range refs {
		inPlay := ref.phase == types.PhaseLive || ref.phase == types.PhaseHalftime
		switch {
		case inPlay:
			if err := a.RefreshOrderbooks(ctx, ref.id); err != nil {
				a.logger.Warn("orderbook poll failed", "game_id", ref.id, "error", err)
			}
			if ref.hasFeed && tick%uint64(a.intervals.SportsTicks) == 0 {
				if err := a.RefreshSports(ctx, ref.id); err != nil {
					a.logger.Warn("sports poll failed", "game_id", ref.id, "error", err)
				}
			}
		case ref.phase == types.PhaseFinished || ref.phase == types.PhaseCancelled:
			// Ended games stay loaded for settlement but stop polling.
			continue
		default:
			if tick%scheduledTicks == 0 {
				if err := a.RefreshOrderbooks(ctx, ref.id); err != nil {
					a.logger.Warn("orderbook poll failed", "game_id", ref.id, "error", err)
				}
				if ref.hasFeed {
					if err := a.RefreshSports(ctx, ref.id); err != nil {
						a.logger.Warn("sports poll failed", "game_id", ref.id, "error", err)
					}
				}
			}
		}

		if ref.hasFeed && tick%uint64(a.intervals.OddsTicks) == 0 {
			if err := a.RefreshOdds(ctx, ref.id); err != nil {
				a.logger.Warn("odds poll failed", "game_id", ref.id, "error", err)
			}
		}
	}
}

// RunWS consumes the websocket stream until the context is cancelled.
// Snapshot and delta messages maintain the depth books; ticker messages
// carry top-of-book directly. Websocket updates refresh in-memory state and
// notify subscribers but are not persisted; the polling loop owns history.
func (a *Aggregator) RunWS(ctx context.Context) error {
	if a.feed == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-a.feed.SnapshotEvents():
			if !ok {
				return nil
			}
			book := a.books.Get(snap.MarketTicker)
			book.ApplySnapshot(snap.Yes, snap.No)
			a.updateFromBook(snap.MarketTicker)
		case delta, ok := <-a.feed.DeltaEvents():
			if !ok {
				return nil
			}
			book := a.books.Get(delta.MarketTicker)
			book.ApplyDelta(delta.Side, delta.Price, delta.Delta)
			a.updateFromBook(delta.MarketTicker)
		case tk, ok := <-a.feed.TickerEvents():
			if !ok {
				return nil
			}
			a.applyTicker(tk.MarketTicker, tk.YesBid, tk.YesAsk)
		}
	}
}

// updateFromBook rebuilds top-of-book state from the depth book after a
// snapshot or delta.
func (a *Aggregator) updateFromBook(ticker string) {
	gameID, ok := a.GameForTicker(ticker)
	if !ok {
		return
	}
	book, ok := a.books.Lookup(ticker)
	if !ok {
		return
	}
	yesBid, yesAsk, noBid, noAsk, yesBidSize, noBidSize := book.TopOfBook()

	a.applyOrderbook(gameID, ticker, &types.OrderbookState{
		Ticker:      ticker,
		YesBid:      decimal.NewFromInt(yesBid),
		YesAsk:      decimal.NewFromInt(yesAsk),
		NoBid:       decimal.NewFromInt(noBid),
		NoAsk:       decimal.NewFromInt(noAsk),
		YesBidSize:  yesBidSize,
		NoBidSize:   noBidSize,
		YesAskSize:  noBidSize,
		NoAskSize:   yesBidSize,
		LastUpdated: a.now().UTC(),
	})
	a.notify(gameID, types.EventOrderbookUpdate)
}

// applyTicker applies a top-of-book ticker message. The complement side is
// derived: no_bid = 100 - yes_ask, no_ask = 100 - yes_bid.
func (a *Aggregator) applyTicker(ticker string, yesBid, yesAsk int64) {
	gameID, ok := a.GameForTicker(ticker)
	if !ok {
		return
	}
	if yesBid <= 0 || yesAsk <= 0 {
		return
	}

	a.applyOrderbook(gameID, ticker, &types.OrderbookState{
		Ticker:      ticker,
		YesBid:      decimal.NewFromInt(yesBid),
		YesAsk:      decimal.NewFromInt(yesAsk),
		NoBid:       decimal.NewFromInt(100 - yesAsk),
		NoAsk:       decimal.NewFromInt(100 - yesBid),
		LastUpdated: a.now().UTC(),
	})
	a.notify(gameID, types.EventOrderbookUpdate)
}
