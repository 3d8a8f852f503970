// Package sports implements the NBA data provider client (games, live box
// scores, betting odds).
//
// The provider authenticates with a bare API key in the Authorization header
// (no Bearer prefix). Requests are throttled through a rate.Limiter and
// retried on 5xx. Responses wrap payloads in {"data": …, "meta": …}
// envelopes with cursor pagination.
package sports

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Wire types
// ————————————————————————————————————————————————————————————————————————

// Team is the provider's team record.
type Team struct {
	ID           int64  `json:"id"`
	Abbreviation string `json:"abbreviation"`
	City         string `json:"city"`
	Name         string `json:"name"`
	FullName     string `json:"full_name"`
	Conference   string `json:"conference"`
	Division     string `json:"division"`
}

// Game is the provider's game record. Status is "Final", "Halftime", a
// quarter string like "3rd Qtr", or an ISO tip-off time for scheduled games.
type Game struct {
	ID               int64  `json:"id"`
	Date             string `json:"date"` // YYYY-MM-DD
	Season           int    `json:"season"`
	Status           string `json:"status"`
	Period           int    `json:"period"`
	Time             string `json:"time"` // clock "MM:SS", empty pregame
	Postseason       bool   `json:"postseason"`
	HomeTeamScore    int    `json:"home_team_score"`
	VisitorTeamScore int    `json:"visitor_team_score"`
	HomeTeam         Team   `json:"home_team"`
	VisitorTeam      Team   `json:"visitor_team"`
}

// BoxScore is one live scoreboard record; the provider nests the game under
// a "game" key alongside per-player stats we don't consume.
type BoxScore struct {
	Game Game `json:"game"`
}

// OddsRecord is one vendor's flat odds row for a game. Pointer fields are
// absent when the vendor doesn't publish that line.
type OddsRecord struct {
	GameID int64  `json:"game_id"`
	Vendor string `json:"vendor"`

	MoneylineHomeOdds *int64 `json:"moneyline_home_odds,omitempty"`
	MoneylineAwayOdds *int64 `json:"moneyline_away_odds,omitempty"`

	SpreadHomeValue *decimal.Decimal `json:"spread_home_value,omitempty"`
	SpreadHomeOdds  *int64           `json:"spread_home_odds,omitempty"`
	SpreadAwayValue *decimal.Decimal `json:"spread_away_value,omitempty"`
	SpreadAwayOdds  *int64           `json:"spread_away_odds,omitempty"`

	TotalValue     *decimal.Decimal `json:"total_value,omitempty"`
	TotalOverOdds  *int64           `json:"total_over_odds,omitempty"`
	TotalUnderOdds *int64           `json:"total_under_odds,omitempty"`
}

// Quote converts the flat provider row to the engine's odds model.
func (r *OddsRecord) Quote() *types.OddsQuote {
	return &types.OddsQuote{
		Vendor:          r.Vendor,
		Timestamp:       time.Now().UTC(),
		MoneylineHome:   r.MoneylineHomeOdds,
		MoneylineAway:   r.MoneylineAwayOdds,
		SpreadHomeValue: r.SpreadHomeValue,
		SpreadHomeOdds:  r.SpreadHomeOdds,
		SpreadAwayValue: r.SpreadAwayValue,
		SpreadAwayOdds:  r.SpreadAwayOdds,
		TotalValue:      r.TotalValue,
		TotalOverOdds:   r.TotalOverOdds,
		TotalUnderOdds:  r.TotalUnderOdds,
	}
}

// Meta carries cursor pagination info.
type Meta struct {
	NextCursor int64 `json:"next_cursor"`
	PerPage    int   `json:"per_page"`
}

type listResponse[T any] struct {
	Data []T   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

type itemResponse[T any] struct {
	Data T `json:"data"`
}

// GamesParams filters the games listing.
type GamesParams struct {
	Dates   []string // YYYY-MM-DD
	Seasons []int
	TeamIDs []int64
	Cursor  int64
	PerPage int
}

// ————————————————————————————————————————————————————————————————————————
// Client
// ————————————————————————————————————————————————————————————————————————

// Client is the sports provider REST client.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a sports client with throttling and retry.
func NewClient(cfg config.SportsConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Authorization", cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  logger.With("component", "sports_client"),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		SetResult(result).
		Get(path)
	if err != nil {
		return types.Wrap(types.KindUpstream, err, "GET %s", path)
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.E(types.KindAuthFailure, "GET %s: status %d", path, code)
	case code == http.StatusNotFound:
		return types.E(types.KindNotFound, "GET %s: status %d", path, code)
	case code == http.StatusTooManyRequests:
		return types.E(types.KindRateLimited, "GET %s: status %d", path, code)
	case code >= 500:
		return types.E(types.KindUpstream, "GET %s: status %d: %s", path, code, resp.String())
	default:
		return types.E(types.KindBadInput, "GET %s: status %d: %s", path, code, resp.String())
	}
}

// GetTeams lists all NBA teams.
func (c *Client) GetTeams(ctx context.Context) ([]Team, error) {
	var result listResponse[Team]
	if err := c.get(ctx, "/v1/teams", nil, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// GetGames lists games matching the filters, one page at a time.
func (c *Client) GetGames(ctx context.Context, p GamesParams) ([]Game, *Meta, error) {
	query := url.Values{}
	for _, d := range p.Dates {
		query.Add("dates[]", d)
	}
	for _, s := range p.Seasons {
		query.Add("seasons[]", strconv.Itoa(s))
	}
	for _, id := range p.TeamIDs {
		query.Add("team_ids[]", strconv.FormatInt(id, 10))
	}
	if p.Cursor > 0 {
		query.Set("cursor", strconv.FormatInt(p.Cursor, 10))
	}
	perPage := p.PerPage
	if perPage <= 0 {
		perPage = 25
	}
	query.Set("per_page", strconv.Itoa(perPage))

	var result listResponse[Game]
	if err := c.get(ctx, "/v1/games", query, &result); err != nil {
		return nil, nil, err
	}
	return result.Data, result.Meta, nil
}

// GetGamesForDate lists every game on one date.
func (c *Client) GetGamesForDate(ctx context.Context, date string) ([]Game, error) {
	games, _, err := c.GetGames(ctx, GamesParams{Dates: []string{date}, PerPage: 100})
	return games, err
}

// GetGame fetches one game by provider id.
func (c *Client) GetGame(ctx context.Context, gameID int64) (*Game, error) {
	var result itemResponse[Game]
	if err := c.get(ctx, fmt.Sprintf("/v1/games/%d", gameID), nil, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

// GetLiveBoxScores lists scoreboards for games currently in progress.
func (c *Client) GetLiveBoxScores(ctx context.Context) ([]BoxScore, error) {
	var result listResponse[BoxScore]
	if err := c.get(ctx, "/v1/box_scores/live", nil, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// GetBoxScores lists scoreboards by game ids or date.
func (c *Client) GetBoxScores(ctx context.Context, gameIDs []int64, date string) ([]BoxScore, error) {
	query := url.Values{}
	for _, id := range gameIDs {
		query.Add("game_ids[]", strconv.FormatInt(id, 10))
	}
	if date != "" {
		query.Set("date", date)
	}

	var result listResponse[BoxScore]
	if err := c.get(ctx, "/v1/box_scores", query, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// GetOdds lists vendor odds rows by game ids, date, or both.
func (c *Client) GetOdds(ctx context.Context, gameIDs []int64, date string) ([]OddsRecord, error) {
	query := url.Values{}
	for _, id := range gameIDs {
		query.Add("game_ids[]", strconv.FormatInt(id, 10))
	}
	if date != "" {
		query.Add("dates[]", date)
	}

	var result listResponse[OddsRecord]
	if err := c.get(ctx, "/nba/v2/odds", query, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// FindGame locates the provider game matching a date and team pair, used to
// attach a scoreboard feed to an exchange game.
func (c *Client) FindGame(ctx context.Context, date, awayAbbr, homeAbbr string) (*Game, error) {
	games, err := c.GetGamesForDate(ctx, date)
	if err != nil {
		return nil, err
	}

	for i := range games {
		g := &games[i]
		if strings.EqualFold(g.VisitorTeam.Abbreviation, awayAbbr) &&
			strings.EqualFold(g.HomeTeam.Abbreviation, homeAbbr) {
			c.logger.Info("matched provider game",
				"away", awayAbbr, "home", homeAbbr, "date", date, "provider_game_id", g.ID)
			return g, nil
		}
	}
	return nil, types.E(types.KindNotFound, "no game for %s @ %s on %s", awayAbbr, homeAbbr, date)
}
