package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/johnkush50/kalshi-NBA/internal/aggregator"
	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/execution"
	"github.com/johnkush50/kalshi-NBA/internal/risk"
	"github.com/johnkush50/kalshi-NBA/internal/store"
	"github.com/johnkush50/kalshi-NBA/internal/strategy"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// GameService is the aggregator surface the API consumes.
type GameService interface {
	LoadGame(ctx context.Context, gameID string) error
	UnloadGame(gameID string) error
	GameState(gameID string) (*types.GameState, error)
	GameStates() []*types.GameState
	GameIDs() []string
	RefreshOrderbooks(ctx context.Context, gameID string) error
	RefreshSports(ctx context.Context, gameID string) error
	RefreshOdds(ctx context.Context, gameID string) error
	Subscribe(fn aggregator.Subscriber) int
	Unsubscribe(id int)
}

// Deps are the components the handlers operate on.
type Deps struct {
	Store     *store.Store
	Games     GameService
	Strategy  *strategy.Engine
	Execution *execution.Engine
	Risk      *risk.Manager
}

// Server is the HTTP control surface.
type Server struct {
	cfg      config.APIConfig
	deps     Deps
	hub      *Hub
	server   *http.Server
	logger   *slog.Logger
	streamID int
}

// NewServer builds the server and its route table.
func NewServer(cfg config.APIConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		hub:    NewHub(logger),
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /v1/games", s.handleListGames)
	mux.HandleFunc("GET /v1/games/{id}", s.handleGetGame)
	mux.HandleFunc("POST /v1/games/{id}/load", s.handleLoadGame)
	mux.HandleFunc("POST /v1/games/{id}/unload", s.handleUnloadGame)
	mux.HandleFunc("POST /v1/games/{id}/refresh", s.handleRefreshGame)
	mux.HandleFunc("POST /v1/games/{id}/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /v1/games/{id}/settle", s.handleSettleGame)

	mux.HandleFunc("GET /v1/strategies/types", s.handleStrategyTypes)
	mux.HandleFunc("POST /v1/strategies/evaluate", s.handleEvaluateAll)
	mux.HandleFunc("GET /v1/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /v1/strategies", s.handleLoadStrategy)
	mux.HandleFunc("DELETE /v1/strategies/{id}", s.handleUnloadStrategy)
	mux.HandleFunc("POST /v1/strategies/{id}/enable", s.handleEnableStrategy)
	mux.HandleFunc("POST /v1/strategies/{id}/disable", s.handleDisableStrategy)
	mux.HandleFunc("GET /v1/strategies/{id}/config", s.handleGetStrategyConfig)
	mux.HandleFunc("PUT /v1/strategies/{id}/config", s.handlePutStrategyConfig)
	mux.HandleFunc("GET /v1/strategies/{id}/signals", s.handleStrategySignals)
	mux.HandleFunc("GET /v1/strategies/{id}/performance", s.handleStrategyPerformance)

	mux.HandleFunc("GET /v1/risk/status", s.handleRiskStatus)
	mux.HandleFunc("PUT /v1/risk/limits/{kind}", s.handleSetLimit)
	mux.HandleFunc("POST /v1/risk/enable", s.handleRiskEnable)
	mux.HandleFunc("POST /v1/risk/disable", s.handleRiskDisable)
	mux.HandleFunc("POST /v1/risk/reset", s.handleRiskReset)
	mux.HandleFunc("POST /v1/risk/check", s.handleRiskCheck)

	mux.HandleFunc("GET /v1/portfolio", s.handlePortfolio)
	mux.HandleFunc("POST /v1/portfolio/refresh", s.handleRefreshPnL)
	mux.HandleFunc("GET /v1/positions", s.handlePositions)
	mux.HandleFunc("POST /v1/positions/close", s.handleClosePosition)
	mux.HandleFunc("GET /v1/orders", s.handleListOrders)
	mux.HandleFunc("POST /v1/orders", s.handlePlaceOrder)

	mux.HandleFunc("GET /v1/stream", s.handleStream)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run serves until the context is cancelled, then shuts down gracefully.
// Game state changes are forwarded to every connected stream client.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.streamID = s.deps.Games.Subscribe(func(gameID string, g *types.GameState, kind types.EventKind) {
		s.hub.BroadcastEvent(StreamEvent{
			Type:      string(kind),
			GameID:    gameID,
			Timestamp: time.Now().UTC(),
			Game:      g,
		})
	})
	defer s.deps.Games.Unsubscribe(s.streamID)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, s.logger, http.StatusServiceUnavailable,
			map[string]string{"status": "store unavailable"})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}
