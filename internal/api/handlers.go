package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/johnkush50/kalshi-NBA/internal/risk"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Games
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handleListGames(w http.ResponseWriter, _ *http.Request) {
	recs, err := s.deps.Store.ListGames()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	loaded := make(map[string]bool)
	for _, id := range s.deps.Games.GameIDs() {
		loaded[id] = true
	}

	out := make([]GameSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, GameSummary{
			GameID:      rec.GameID,
			EventTicker: rec.EventTicker,
			HomeTeam:    rec.HomeTeam,
			AwayTeam:    rec.AwayTeam,
			GameDate:    rec.GameDate,
			Status:      rec.Status,
			Loaded:      loaded[rec.GameID],
		})
	}
	writeJSON(w, s.logger, http.StatusOK, out)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Games.GameState(r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, g)
}

func (s *Server) handleLoadGame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Games.LoadGame(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"game_id": id, "status": "loaded"})
}

func (s *Server) handleUnloadGame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Games.UnloadGame(id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"game_id": id, "status": "unloaded"})
}

// handleRefreshGame forces a feed refresh. ?feed=orderbooks|sports|odds
// narrows it; the default refreshes everything.
func (s *Server) handleRefreshGame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	feed := r.URL.Query().Get("feed")

	var err error
	switch feed {
	case "orderbooks":
		err = s.deps.Games.RefreshOrderbooks(r.Context(), id)
	case "sports":
		err = s.deps.Games.RefreshSports(r.Context(), id)
	case "odds":
		err = s.deps.Games.RefreshOdds(r.Context(), id)
	case "":
		if err = s.deps.Games.RefreshOrderbooks(r.Context(), id); err == nil {
			if err = s.deps.Games.RefreshSports(r.Context(), id); err == nil {
				err = s.deps.Games.RefreshOdds(r.Context(), id)
			}
		}
	default:
		err = types.E(types.KindBadInput, "unknown feed %q", feed)
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"game_id": id, "status": "refreshed"})
}

// ————————————————————————————————————————————————————————————————————————
// Risk
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handleRiskStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.deps.Risk.GetStatus())
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	kind := risk.LimitKind(r.PathValue("kind"))
	known := false
	for _, k := range risk.AllLimitKinds {
		if k == kind {
			known = true
			break
		}
	}
	if !known {
		writeError(w, s.logger, types.E(types.KindBadInput, "unknown limit %q", kind))
		return
	}

	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, types.Wrap(types.KindBadInput, err, "decode limit"))
		return
	}
	if req.Value <= 0 {
		writeError(w, s.logger, types.E(types.KindBadInput, "limit value must be positive"))
		return
	}
	s.deps.Risk.SetLimit(kind, req.Value)
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"limit": kind, "value": req.Value})
}

func (s *Server) handleRiskEnable(w http.ResponseWriter, _ *http.Request) {
	s.deps.Risk.Enable()
	writeJSON(w, s.logger, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) handleRiskDisable(w http.ResponseWriter, _ *http.Request) {
	s.deps.Risk.Disable()
	writeJSON(w, s.logger, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) handleRiskReset(w http.ResponseWriter, _ *http.Request) {
	s.deps.Risk.ResetAll()
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "reset"})
}

// handleRiskCheck runs the risk gate against a hypothetical order without
// placing it.
func (s *Server) handleRiskCheck(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, types.Wrap(types.KindBadInput, err, "decode order request"))
		return
	}
	side, err := types.ParseSide(req.Side)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	gameID := ""
	for _, g := range s.deps.Games.GameStates() {
		if _, ok := g.Markets[req.MarketTicker]; ok {
			gameID = g.GameID
			break
		}
	}
	if gameID == "" {
		writeError(w, s.logger, types.E(types.KindNotFound,
			"no loaded game trades market %q", req.MarketTicker))
		return
	}

	result := s.deps.Risk.CheckOrder(&types.Order{
		GameID:       gameID,
		MarketTicker: req.MarketTicker,
		Side:         side,
		Quantity:     req.Quantity,
	})
	writeJSON(w, s.logger, http.StatusOK, result)
}

// ————————————————————————————————————————————————————————————————————————
// Portfolio, positions, orders
// ————————————————————————————————————————————————————————————————————————

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	summary := s.deps.Execution.Summary()
	writeJSON(w, s.logger, http.StatusOK, PortfolioResponse{
		OpenPositions: summary.OpenPositions,
		TotalCost:     summary.TotalCost,
		UnrealizedPnL: summary.UnrealizedPnL,
		RealizedPnL:   summary.RealizedPnL,
		OrdersToday:   summary.OrdersToday,
		Positions:     s.deps.Execution.OpenPositions(),
	})
}

// handleRefreshPnL forces a mark-to-market pass outside the periodic loop.
func (s *Server) handleRefreshPnL(w http.ResponseWriter, _ *http.Request) {
	s.deps.Execution.UpdateUnrealizedPnL()
	writeJSON(w, s.logger, http.StatusOK, s.deps.Execution.Summary())
}

// handleSettleGame settles every open position in a finished game at the
// final score.
func (s *Server) handleSettleGame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	settled, err := s.deps.Execution.SettleGame(id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"game_id": id,
		"settled": settled,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("open") == "false" {
		all, err := s.deps.Store.ListPositions(false)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, s.logger, http.StatusOK, all)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, s.deps.Execution.OpenPositions())
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, types.Wrap(types.KindBadInput, err, "decode close request"))
		return
	}
	side, err := types.ParseSide(req.Side)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	pos, err := s.deps.Execution.ClosePosition(req.MarketTicker, side)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, pos)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, s.logger, types.E(types.KindBadInput, "bad limit %q", v))
			return
		}
		limit = n
	}
	orders, err := s.deps.Store.ListOrders(r.URL.Query().Get("game"), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, orders)
}

// handlePlaceOrder places a manual paper order through the same pipeline as
// strategy signals.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, types.Wrap(types.KindBadInput, err, "decode order request"))
		return
	}
	side, err := types.ParseSide(req.Side)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual order"
	}

	order, err := s.deps.Execution.ExecuteSignal(r.Context(), types.TradeSignal{
		StrategyID:   "manual",
		StrategyName: "Manual",
		MarketTicker: req.MarketTicker,
		Side:         side,
		Quantity:     req.Quantity,
		Confidence:   1,
		Reason:       reason,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusCreated, order)
}
