// Package exchange implements the prediction-market exchange REST and
// WebSocket clients.
//
// The REST client (Client) reads market data:
//   - GetExchangeStatus: GET /exchange/status
//   - ListEvents:        GET /events                — events with nested markets
//   - GetEvent:          GET /events/{ticker}
//   - ListMarkets:       GET /markets
//   - GetMarket:         GET /markets/{ticker}
//   - GetOrderbook:      GET /markets/{ticker}/orderbook
//
// Every request is rate-limited through a TokenBucket, retried on 5xx, and
// signed with RSA-PSS auth headers.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const basePath = "/trade-api/v2"

// ————————————————————————————————————————————————————————————————————————
// Wire types
// ————————————————————————————————————————————————————————————————————————

// ExchangeStatus reports whether the venue is up and accepting trades.
type ExchangeStatus struct {
	ExchangeActive bool `json:"exchange_active"`
	TradingActive  bool `json:"trading_active"`
}

// Market is the exchange's market record. Prices are integer cents.
type Market struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	YesBid      int64  `json:"yes_bid"`
	YesAsk      int64  `json:"yes_ask"`
	NoBid       int64  `json:"no_bid"`
	NoAsk       int64  `json:"no_ask"`
	Volume      int64  `json:"volume"`
	OpenTime    string `json:"open_time"`
	CloseTime   string `json:"close_time"`
}

// Event groups the markets for one game.
type Event struct {
	EventTicker  string   `json:"event_ticker"`
	SeriesTicker string   `json:"series_ticker"`
	Title        string   `json:"title"`
	Markets      []Market `json:"markets"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
	Cursor string  `json:"cursor"`
}

type eventResponse struct {
	Event   Event    `json:"event"`
	Markets []Market `json:"markets"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

type marketResponse struct {
	Market Market `json:"market"`
}

// OrderbookLevels is one side of the book: [price, quantity] pairs, resting
// bids for that side.
type OrderbookLevels [][2]int64

// Orderbook is the exchange book for one market. Yes and No each list bids
// for that side; the ask for a side is 100 minus the opposite side's best
// bid.
type Orderbook struct {
	Yes OrderbookLevels `json:"yes"`
	No  OrderbookLevels `json:"no"`
}

type orderbookResponse struct {
	Orderbook Orderbook `json:"orderbook"`
}

// BestBid returns the highest price level and its size, or (0, 0) when the
// side is empty.
func (l OrderbookLevels) BestBid() (price, size int64) {
	for _, lvl := range l {
		if lvl[0] > price {
			price, size = lvl[0], lvl[1]
		}
	}
	return price, size
}

// TopOfBook derives the four top-of-book quotes from the two bid ladders.
func (ob *Orderbook) TopOfBook() (yesBid, yesAsk, noBid, noAsk int64, yesBidSize, noBidSize int64) {
	yesBid, yesBidSize = ob.Yes.BestBid()
	noBid, noBidSize = ob.No.BestBid()
	if noBid > 0 {
		yesAsk = 100 - noBid
	}
	if yesBid > 0 {
		noAsk = 100 - yesBid
	}
	return
}

// ListEventsParams filters the events listing.
type ListEventsParams struct {
	SeriesTicker      string
	Status            string
	WithNestedMarkets bool
	Limit             int
	Cursor            string
}

// ————————————————————————————————————————————————————————————————————————
// Client
// ————————————————————————————————————————————————————————————————————————

// Client is the exchange REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and request signing.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *TokenBucket
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.ExchangeConfig, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewTokenBucket(float64(cfg.RateBurst), cfg.RateLimit),
		logger: logger,
	}
}

// request signs and sends a GET, decoding the 200 body into result.
func (c *Client) request(ctx context.Context, path string, query map[string]string, result any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	headers, err := c.auth.Headers(http.MethodGet, basePath+path, "")
	if err != nil {
		return types.Wrap(types.KindAuthFailure, err, "sign request %s", path)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(query).
		SetResult(result).
		Get(basePath + path)
	if err != nil {
		return types.Wrap(types.KindUpstream, err, "GET %s", path)
	}
	return statusError(resp, path)
}

func statusError(resp *resty.Response, path string) error {
	code := resp.StatusCode()
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.E(types.KindAuthFailure, "GET %s: status %d", path, code)
	case code == http.StatusNotFound:
		return types.E(types.KindNotFound, "GET %s: status %d", path, code)
	case code == http.StatusTooManyRequests:
		return types.E(types.KindRateLimited, "GET %s: status %d, retry-after %s", path, code, resp.Header().Get("Retry-After"))
	case code >= 500:
		return types.E(types.KindUpstream, "GET %s: status %d: %s", path, code, resp.String())
	default:
		return types.E(types.KindBadInput, "GET %s: status %d: %s", path, code, resp.String())
	}
}

// GetExchangeStatus checks whether the venue is up.
func (c *Client) GetExchangeStatus(ctx context.Context) (*ExchangeStatus, error) {
	var result ExchangeStatus
	if err := c.request(ctx, "/exchange/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListEvents pages through events, optionally with nested markets.
func (c *Client) ListEvents(ctx context.Context, p ListEventsParams) ([]Event, string, error) {
	query := map[string]string{}
	if p.SeriesTicker != "" {
		query["series_ticker"] = p.SeriesTicker
	}
	if p.Status != "" {
		query["status"] = p.Status
	}
	if p.WithNestedMarkets {
		query["with_nested_markets"] = "true"
	}
	if p.Limit > 0 {
		query["limit"] = strconv.Itoa(p.Limit)
	}
	if p.Cursor != "" {
		query["cursor"] = p.Cursor
	}

	var result eventsResponse
	if err := c.request(ctx, "/events", query, &result); err != nil {
		return nil, "", err
	}
	return result.Events, result.Cursor, nil
}

// GetEvent fetches one event. Markets come back nested or alongside
// depending on the flag; both are merged into the returned Event.
func (c *Client) GetEvent(ctx context.Context, eventTicker string, withNestedMarkets bool) (*Event, error) {
	query := map[string]string{}
	if withNestedMarkets {
		query["with_nested_markets"] = "true"
	}

	var result eventResponse
	if err := c.request(ctx, "/events/"+eventTicker, query, &result); err != nil {
		return nil, err
	}
	ev := result.Event
	if len(ev.Markets) == 0 {
		ev.Markets = result.Markets
	}
	return &ev, nil
}

// ListMarkets pages through markets for an event or series.
func (c *Client) ListMarkets(ctx context.Context, eventTicker, seriesTicker, status string, limit int, cursor string) ([]Market, string, error) {
	query := map[string]string{}
	if eventTicker != "" {
		query["event_ticker"] = eventTicker
	}
	if seriesTicker != "" {
		query["series_ticker"] = seriesTicker
	}
	if status != "" {
		query["status"] = status
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	if cursor != "" {
		query["cursor"] = cursor
	}

	var result marketsResponse
	if err := c.request(ctx, "/markets", query, &result); err != nil {
		return nil, "", err
	}
	return result.Markets, result.Cursor, nil
}

// GetMarket fetches a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, marketTicker string) (*Market, error) {
	var result marketResponse
	if err := c.request(ctx, "/markets/"+marketTicker, nil, &result); err != nil {
		return nil, err
	}
	return &result.Market, nil
}

// GetOrderbook fetches the book for a market, optionally depth-limited.
func (c *Client) GetOrderbook(ctx context.Context, marketTicker string, depth int) (*Orderbook, error) {
	query := map[string]string{}
	if depth > 0 {
		query["depth"] = strconv.Itoa(depth)
	}

	var result orderbookResponse
	if err := c.request(ctx, fmt.Sprintf("/markets/%s/orderbook", marketTicker), query, &result); err != nil {
		return nil, err
	}
	return &result.Orderbook, nil
}
