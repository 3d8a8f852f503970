package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/johnkush50/kalshi-NBA/internal/store"
	"github.com/johnkush50/kalshi-NBA/internal/strategy"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

func (s *Server) handleStrategyTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, strategy.Catalog())
}

func (s *Server) handleListStrategies(w http.ResponseWriter, _ *http.Request) {
	list := s.deps.Strategy.Registry().List()
	out := make([]StrategyInfo, 0, len(list))
	for _, st := range list {
		out = append(out, strategyInfo(st))
	}
	writeJSON(w, s.logger, http.StatusOK, out)
}

func (s *Server) handleLoadStrategy(w http.ResponseWriter, r *http.Request) {
	var req LoadStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, types.Wrap(types.KindBadInput, err, "decode strategy request"))
		return
	}
	if req.ID == "" {
		writeError(w, s.logger, types.E(types.KindBadInput, "strategy id is required"))
		return
	}

	st, err := strategy.New(req.Type, req.ID, req.Config, s.logger)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if replaced := s.deps.Strategy.Registry().Load(st); replaced != nil {
		s.logger.Info("strategy replaced",
			"type", req.Type, "old_id", replaced.ID(), "new_id", st.ID())
	}
	s.persistStrategy(st)
	writeJSON(w, s.logger, http.StatusCreated, strategyInfo(st))
}

func (s *Server) handleUnloadStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Strategy.Registry().Remove(id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"id": id, "status": "unloaded"})
}

func (s *Server) handleEnableStrategy(w http.ResponseWriter, r *http.Request) {
	s.toggleStrategy(w, r, true)
}

func (s *Server) handleDisableStrategy(w http.ResponseWriter, r *http.Request) {
	s.toggleStrategy(w, r, false)
}

func (s *Server) toggleStrategy(w http.ResponseWriter, r *http.Request, enable bool) {
	st, err := s.deps.Strategy.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if enable {
		st.Enable()
	} else {
		st.Disable()
	}
	s.persistStrategy(st)
	writeJSON(w, s.logger, http.StatusOK, strategyInfo(st))
}

func (s *Server) handleGetStrategyConfig(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Strategy.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, st.ConfigJSON())
}

func (s *Server) handlePutStrategyConfig(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Strategy.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.logger, types.Wrap(types.KindBadInput, err, "read config body"))
		return
	}
	if err := st.UpdateConfig(body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.persistStrategy(st)
	writeJSON(w, s.logger, http.StatusOK, st.ConfigJSON())
}

func (s *Server) handleStrategySignals(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Strategy.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, st.SignalHistory())
}

func (s *Server) handleStrategyPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.deps.Execution.Performance(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, perf)
}

// handleEvaluate runs every enabled strategy against one game without
// dispatching signals to execution.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	g, err := s.deps.Games.GameState(gameID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, EvaluateResponse{
		GameID:  gameID,
		Signals: s.deps.Strategy.EvaluateGame(g),
	})
}

// handleEvaluateAll sweeps every active game immediately, dispatching any
// resulting signals through the normal execution path.
func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Strategy.EvaluateAll(r.Context())
	writeJSON(w, s.logger, http.StatusOK, map[string]int{"signals": n})
}

func (s *Server) persistStrategy(st strategy.Strategy) {
	rec := &store.StrategyRecord{
		ID:        st.ID(),
		Name:      st.Name(),
		Type:      st.Type(),
		Enabled:   st.IsEnabled(),
		Config:    string(st.ConfigJSON()),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.deps.Store.SaveStrategy(rec); err != nil {
		s.logger.Warn("strategy persist failed", "id", st.ID(), "error", err)
	}
}

func strategyInfo(st strategy.Strategy) StrategyInfo {
	return StrategyInfo{
		ID:          st.ID(),
		Name:        st.Name(),
		Type:        st.Type(),
		Description: st.Description(),
		Enabled:     st.IsEnabled(),
		Config:      st.ConfigJSON(),
	}
}
