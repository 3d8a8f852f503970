package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/exchange"
	"github.com/johnkush50/kalshi-NBA/internal/ticker"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// Scanner periodically polls the exchange for NBA game events across the
// configured series (moneyline, spread, total) and groups the markets it
// finds by game. The engine reads ScanResults from the Results() channel,
// persists discovered games, and optionally loads them into the aggregator.

// DiscoveredMarket is one exchange market attributed to a game.
type DiscoveredMarket struct {
	Ticker     string
	MarketType types.MarketType
	Team       string
	Strike     *decimal.Decimal
	Status     string
	Volume     int64
}

// DiscoveredGame is the full set of markets the exchange lists for one game.
type DiscoveredGame struct {
	GameID      string // "<YYYY-MM-DD>-<AWAY><HOME>"
	EventTicker string // the game-winner event ticker
	Date        string
	AwayTeam    string
	HomeTeam    string
	Title       string
	Markets     []DiscoveredMarket
	Volume      int64 // summed across markets
	FirstSeen   time.Time
}

// ScanResult contains the discovered games, most active first.
type ScanResult struct {
	Games     []DiscoveredGame
	ScannedAt time.Time
}

// Scanner polls the exchange events listing for NBA games.
type Scanner struct {
	client   *exchange.Client
	cfg      config.DiscoveryConfig
	logger   *slog.Logger
	resultCh chan ScanResult // engine reads discovered games from here
}

// NewScanner creates a game discovery scanner.
func NewScanner(client *exchange.Client, cfg config.DiscoveryConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		client:   client,
		cfg:      cfg,
		logger:   logger.With("component", "scanner"),
		resultCh: make(chan ScanResult, 1),
	}
}

// Results returns the channel the engine reads from.
func (s *Scanner) Results() <-chan ScanResult {
	return s.resultCh
}

// Run starts the polling loop. Blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	// Immediate scan on startup
	s.scan(ctx)

	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	events, err := s.fetchEvents(ctx)
	if err != nil {
		s.logger.Error("scan failed", "error", err)
		return
	}

	games := s.groupByGame(events)

	result := ScanResult{
		Games:     games,
		ScannedAt: time.Now(),
	}

	s.logger.Info("scan complete",
		"events", len(events),
		"games", len(games),
	)

	// Non-blocking send, replacing any unread stale result
	select {
	case s.resultCh <- result:
	default:
		select {
		case <-s.resultCh:
		default:
		}
		s.resultCh <- result
	}
}

func (s *Scanner) fetchEvents(ctx context.Context) ([]exchange.Event, error) {
	var all []exchange.Event
	for _, series := range s.cfg.SeriesTickers {
		cursor := ""
		for {
			page, next, err := s.client.ListEvents(ctx, exchange.ListEventsParams{
				SeriesTicker:      series,
				Status:            "open",
				WithNestedMarkets: true,
				Limit:             100,
				Cursor:            cursor,
			})
			if err != nil {
				return nil, fmt.Errorf("list events for %s: %w", series, err)
			}
			all = append(all, page...)
			if next == "" || len(page) == 0 {
				break
			}
			cursor = next
		}
	}
	return all, nil
}

// groupByGame attributes every market to its game, dropping events whose
// tickers don't parse, and ranks games by summed volume.
func (s *Scanner) groupByGame(events []exchange.Event) []DiscoveredGame {
	byGame := make(map[string]*DiscoveredGame)
	now := time.Now()

	for _, ev := range events {
		info, err := ticker.ParseGameInfo(ev.EventTicker)
		if err != nil {
			s.logger.Debug("skipping unparseable event ticker", "ticker", ev.EventTicker, "error", err)
			continue
		}

		gameID := GameID(info)
		g, ok := byGame[gameID]
		if !ok {
			g = &DiscoveredGame{
				GameID:    gameID,
				Date:      info.Date,
				AwayTeam:  ticker.NormalizeTeam(info.AwayTeam),
				HomeTeam:  ticker.NormalizeTeam(info.HomeTeam),
				Title:     ev.Title,
				FirstSeen: now,
			}
			byGame[gameID] = g
		}

		// Spread and total events for the same game share the identity;
		// the moneyline event names the game.
		if g.EventTicker == "" || isGameWinnerSeries(ev.EventTicker) {
			g.EventTicker = ev.EventTicker
		}

		for _, m := range ev.Markets {
			mt, team, strike, err := ticker.ClassifyMarket(m.Ticker)
			if err != nil {
				s.logger.Debug("skipping unclassifiable market", "ticker", m.Ticker, "error", err)
				continue
			}
			g.Markets = append(g.Markets, DiscoveredMarket{
				Ticker:     m.Ticker,
				MarketType: mt,
				Team:       ticker.NormalizeTeam(team),
				Strike:     strike,
				Status:     m.Status,
				Volume:     m.Volume,
			})
			g.Volume += m.Volume
		}
	}

	games := make([]DiscoveredGame, 0, len(byGame))
	for _, g := range byGame {
		if len(g.Markets) == 0 {
			continue
		}
		if g.Volume < s.cfg.MinVolume {
			continue
		}
		games = append(games, *g)
	}

	sort.Slice(games, func(i, j int) bool { return games[i].Volume > games[j].Volume })
	return games
}

func isGameWinnerSeries(eventTicker string) bool {
	series, _, _ := strings.Cut(eventTicker, "-")
	return !strings.Contains(series, "SPREAD") && !strings.Contains(series, "TOTAL")
}

// GameID derives the canonical game key from parsed ticker identity.
func GameID(info ticker.GameInfo) string {
	return fmt.Sprintf("%s-%s%s", info.Date, info.AwayTeam, info.HomeTeam)
}
