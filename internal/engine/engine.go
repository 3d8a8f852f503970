// Package engine wires the paper-trading bot together and owns its
// lifecycle.
//
// Subsystems, in data-flow order:
//
//  1. Scanner discovers NBA game events on the exchange and persists them.
//  2. Aggregator polls exchange orderbooks, live box scores and sportsbook
//     odds into one GameState per loaded game.
//  3. Strategy engine sweeps the game states on a fixed cadence and emits
//     trade signals.
//  4. Execution engine fills signals against the observed book, gated by the
//     risk manager, and tracks simulated positions and P&L.
//  5. API server exposes control endpoints and a websocket event stream.
//
// Lifecycle: New() → Run(ctx) → [runs until ctx is cancelled] → Close()
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnkush50/kalshi-NBA/internal/aggregator"
	"github.com/johnkush50/kalshi-NBA/internal/api"
	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/exchange"
	"github.com/johnkush50/kalshi-NBA/internal/execution"
	"github.com/johnkush50/kalshi-NBA/internal/market"
	"github.com/johnkush50/kalshi-NBA/internal/risk"
	"github.com/johnkush50/kalshi-NBA/internal/sports"
	"github.com/johnkush50/kalshi-NBA/internal/store"
	"github.com/johnkush50/kalshi-NBA/internal/strategy"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// Runtime owns every subsystem of the bot.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.Store
	exchange   *exchange.Client
	sports     *sports.Client
	feed       *exchange.WSFeed // nil when the websocket is disabled
	books      *market.BookSet
	aggregator *aggregator.Aggregator
	scanner    *market.Scanner // nil when discovery is disabled
	riskMgr    *risk.Manager
	strategies *strategy.Engine
	execution  *execution.Engine
	api        *api.Server
}

// New wires all components and restores persisted state (open positions and
// the strategy registry) from the store.
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	auth, err := exchange.NewAuth(cfg.Exchange.APIKeyID, cfg.Exchange.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	exClient := exchange.NewClient(cfg.Exchange, auth, logger)
	sportsClient := sports.NewClient(cfg.Sports, logger)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	var feed *exchange.WSFeed
	if cfg.Exchange.UseWebsocket {
		feed = exchange.NewWSFeed(cfg.Exchange.WSURL, auth, logger)
	}

	books := market.NewBookSet()
	agg := aggregator.New(cfg.Intervals, exClient, sportsClient, st, books, feed, logger)

	riskMgr := risk.NewManager(cfg.Risk, logger)
	exec := execution.NewEngine(cfg.Execution, riskMgr, agg, st, logger)
	strat := strategy.NewEngine(strategy.NewRegistry(), agg, cfg.Intervals.StrategyEval, logger)

	var scanner *market.Scanner
	if cfg.Discovery.Enabled {
		scanner = market.NewScanner(exClient, cfg.Discovery, logger)
	}

	apiServer := api.NewServer(cfg.API, api.Deps{
		Store:     st,
		Games:     agg,
		Strategy:  strat,
		Execution: exec,
		Risk:      riskMgr,
	}, logger)

	r := &Runtime{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		store:      st,
		exchange:   exClient,
		sports:     sportsClient,
		feed:       feed,
		books:      books,
		aggregator: agg,
		scanner:    scanner,
		riskMgr:    riskMgr,
		strategies: strat,
		execution:  exec,
		api:        apiServer,
	}

	strat.OnSignal(func(ctx context.Context, sig types.TradeSignal) error {
		_, err := exec.ExecuteSignal(ctx, sig)
		if types.KindOf(err) == types.KindRiskRejected {
			r.logger.Info("signal rejected by risk gate",
				"strategy_id", sig.StrategyID, "ticker", sig.MarketTicker, "error", err)
			return nil
		}
		return err
	})

	// Finished games settle once: every open position pays 100 or 0.
	agg.Subscribe(func(gameID string, g *types.GameState, kind types.EventKind) {
		if kind != types.EventStateChange || g == nil || !g.IsFinished() {
			return
		}
		if _, err := exec.SettleGame(gameID); err != nil {
			r.logger.Error("settlement failed", "game_id", gameID, "error", err)
		}
	})

	if err := exec.RestorePositions(); err != nil {
		r.logger.Warn("position restore failed", "error", err)
	}
	if err := r.restoreStrategies(); err != nil {
		r.logger.Warn("strategy restore failed", "error", err)
	}

	return r, nil
}

// restoreStrategies rebuilds the registry from persisted records so enabled
// strategies survive a restart.
func (r *Runtime) restoreStrategies() error {
	recs, err := r.store.ListStrategies()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		st, err := strategy.New(rec.Type, rec.ID, []byte(rec.Config), r.logger)
		if err != nil {
			r.logger.Warn("skipping unrestorable strategy",
				"id", rec.ID, "type", rec.Type, "error", err)
			continue
		}
		if rec.Enabled {
			st.Enable()
		}
		r.strategies.Registry().Load(st)
		r.logger.Info("strategy restored", "id", rec.ID, "type", rec.Type, "enabled", rec.Enabled)
	}
	return nil
}

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails. A clean cancellation returns nil.
func (r *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.aggregator.Run(ctx) })
	g.Go(func() error { return r.aggregator.RunWS(ctx) })
	g.Go(func() error { return r.api.Run(ctx) })

	if r.feed != nil {
		g.Go(func() error {
			if err := r.feed.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return ctx.Err()
		})
	}

	if r.scanner != nil {
		g.Go(func() error {
			r.scanner.Run(ctx)
			return ctx.Err()
		})
		g.Go(func() error { return r.consumeScans(ctx) })
	}

	g.Go(func() error { return r.strategies.Run(ctx) })
	g.Go(func() error { return r.refreshPnL(ctx) })

	r.logger.Info("engine started",
		"environment", r.cfg.Environment,
		"discovery", r.cfg.Discovery.Enabled,
		"websocket", r.cfg.Exchange.UseWebsocket,
		"api_addr", r.cfg.API.Addr,
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources once Run has returned.
func (r *Runtime) Close() error {
	var errs []error
	if r.feed != nil {
		errs = append(errs, r.feed.Close())
	}
	errs = append(errs, r.store.Close())
	return errors.Join(errs...)
}

// consumeScans persists discovered games and markets and, with auto-load
// enabled, pulls them into the aggregator.
func (r *Runtime) consumeScans(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-r.scanner.Results():
			if !ok {
				return nil
			}
			r.logger.Info("scan received", "games", len(result.Games))
			for _, dg := range result.Games {
				if err := r.registerGame(ctx, dg); err != nil {
					r.logger.Warn("game registration failed",
						"game_id", dg.GameID, "error", err)
				}
			}
		}
	}
}

// registerGame upserts one discovered game, resolving the sports provider's
// game id on first sight so live box scores can be matched later.
func (r *Runtime) registerGame(ctx context.Context, dg market.DiscoveredGame) error {
	rec := &store.GameRecord{
		GameID:      dg.GameID,
		EventTicker: dg.EventTicker,
		HomeTeam:    dg.HomeTeam,
		AwayTeam:    dg.AwayTeam,
		GameDate:    dg.Date,
		Status:      "scheduled",
	}

	if existing, err := r.store.GetGame(dg.GameID); err == nil {
		rec.Status = existing.Status
		rec.ProviderGameID = existing.ProviderGameID
	}
	if rec.ProviderGameID == 0 {
		game, err := r.sports.FindGame(ctx, dg.Date, dg.AwayTeam, dg.HomeTeam)
		if err != nil {
			r.logger.Warn("provider game lookup failed",
				"game_id", dg.GameID, "error", err)
		} else if game != nil {
			rec.ProviderGameID = game.ID
		}
	}

	if err := r.store.UpsertGame(rec); err != nil {
		return err
	}
	for _, m := range dg.Markets {
		err := r.store.UpsertMarket(&store.MarketRecord{
			Ticker:      m.Ticker,
			GameID:      dg.GameID,
			MarketType:  m.MarketType,
			Team:        m.Team,
			StrikeValue: m.Strike,
			Status:      m.Status,
		})
		if err != nil {
			return err
		}
	}

	if r.cfg.Discovery.AutoLoad {
		if err := r.aggregator.LoadGame(ctx, dg.GameID); err != nil {
			r.logger.Warn("auto-load failed", "game_id", dg.GameID, "error", err)
		}
	}
	return nil
}

// refreshPnL marks every open position to the current book mid on a slow
// cadence.
func (r *Runtime) refreshPnL(ctx context.Context) error {
	interval := r.cfg.Intervals.PnLRefresh
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.execution.UpdateUnrealizedPnL()
		}
	}
}
