// Package store provides durable persistence on embedded SQLite.
//
// One database holds the game catalog, the market catalog, append-only
// history tables (scoreboard, vendor odds, orderbook snapshots), and the
// simulated trading records (orders, positions, strategy registry). The
// connection pool is capped at a single connection; all access goes through
// a mutex so writes never contend. Monetary columns are TEXT holding decimal
// strings, timestamps are RFC 3339 UTC.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
	game_id          TEXT PRIMARY KEY,
	event_ticker     TEXT NOT NULL DEFAULT '',
	home_team        TEXT NOT NULL,
	away_team        TEXT NOT NULL,
	game_date        TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'scheduled',
	provider_game_id INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
	ticker       TEXT PRIMARY KEY,
	game_id      TEXT NOT NULL,
	market_type  TEXT NOT NULL,
	team         TEXT NOT NULL DEFAULT '',
	strike_value TEXT,
	status       TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_markets_game ON markets(game_id);

CREATE TABLE IF NOT EXISTS sports_history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id        TEXT NOT NULL,
	status         TEXT NOT NULL,
	period         INTEGER NOT NULL,
	time_remaining TEXT NOT NULL,
	home_score     INTEGER NOT NULL,
	away_score     INTEGER NOT NULL,
	recorded_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sports_history_game ON sports_history(game_id);

CREATE TABLE IF NOT EXISTS odds_history (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id           TEXT NOT NULL,
	vendor            TEXT NOT NULL,
	moneyline_home    INTEGER,
	moneyline_away    INTEGER,
	spread_home_value TEXT,
	spread_home_odds  INTEGER,
	spread_away_value TEXT,
	spread_away_odds  INTEGER,
	total_value       TEXT,
	total_over_odds   INTEGER,
	total_under_odds  INTEGER,
	recorded_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_odds_history_game ON odds_history(game_id);

CREATE TABLE IF NOT EXISTS orderbook_snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id      TEXT NOT NULL,
	ticker       TEXT NOT NULL,
	yes_bid      TEXT NOT NULL,
	yes_ask      TEXT NOT NULL,
	no_bid       TEXT NOT NULL,
	no_ask       TEXT NOT NULL,
	yes_bid_size INTEGER NOT NULL DEFAULT 0,
	no_bid_size  INTEGER NOT NULL DEFAULT 0,
	recorded_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orderbook_snapshots_ticker ON orderbook_snapshots(ticker);

CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	game_id       TEXT NOT NULL,
	strategy_id   TEXT NOT NULL DEFAULT '',
	market_ticker TEXT NOT NULL,
	order_type    TEXT NOT NULL,
	side          TEXT NOT NULL,
	quantity      INTEGER NOT NULL,
	limit_price   TEXT,
	filled_price  TEXT,
	status        TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	placed_at     TEXT NOT NULL,
	filled_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_orders_game ON orders(game_id);
CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy_id);

CREATE TABLE IF NOT EXISTS positions (
	id              TEXT PRIMARY KEY,
	game_id         TEXT NOT NULL,
	market_ticker   TEXT NOT NULL,
	side            TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	avg_entry_price TEXT NOT NULL,
	total_cost      TEXT NOT NULL,
	unrealized_pnl  TEXT NOT NULL,
	realized_pnl    TEXT NOT NULL,
	is_open         INTEGER NOT NULL,
	opened_at       TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	closed_at       TEXT
);
CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions(market_ticker);

CREATE TABLE IF NOT EXISTS strategies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	enabled    INTEGER NOT NULL,
	config     TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
);
`

// GameRecord is the durable game catalog row the aggregator loads from.
type GameRecord struct {
	GameID         string
	EventTicker    string
	HomeTeam       string
	AwayTeam       string
	GameDate       string // YYYY-MM-DD
	Status         string
	ProviderGameID int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MarketRecord is one exchange market attributed to a game.
type MarketRecord struct {
	Ticker      string
	GameID      string
	MarketType  types.MarketType
	Team        string
	StrikeValue *decimal.Decimal
	Status      string
	CreatedAt   time.Time
}

// StrategyRecord is the persisted strategy registry row.
type StrategyRecord struct {
	ID        string
	Name      string
	Type      string
	Enabled   bool
	Config    string // JSON
	UpdatedAt time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ————————————————————————————————————————————————————————————————————————
// Games and markets
// ————————————————————————————————————————————————————————————————————————

// UpsertGame inserts or updates a game catalog row.
func (s *Store) UpsertGame(g *GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeStr(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO games (game_id, event_ticker, home_team, away_team, game_date, status, provider_game_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id) DO UPDATE SET
			event_ticker = excluded.event_ticker,
			home_team = excluded.home_team,
			away_team = excluded.away_team,
			game_date = excluded.game_date,
			status = excluded.status,
			provider_game_id = excluded.provider_game_id,
			updated_at = excluded.updated_at`,
		g.GameID, g.EventTicker, g.HomeTeam, g.AwayTeam, g.GameDate, g.Status, g.ProviderGameID, now, now)
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", g.GameID, err)
	}
	return nil
}

// UpdateGameStatus sets the stored status for a game.
func (s *Store) UpdateGameStatus(gameID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE games SET status = ?, updated_at = ? WHERE game_id = ?`,
		status, timeStr(time.Now()), gameID)
	if err != nil {
		return fmt.Errorf("update game status %s: %w", gameID, err)
	}
	return nil
}

// GetGame fetches one game row.
func (s *Store) GetGame(gameID string) (*GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT game_id, event_ticker, home_team, away_team, game_date, status, provider_game_id, created_at, updated_at
		FROM games WHERE game_id = ?`, gameID)

	g, err := scanGame(row)
	if err == sql.ErrNoRows {
		return nil, types.E(types.KindNotFound, "game %s not found", gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	return g, nil
}

// ListGames returns the catalog ordered by date.
func (s *Store) ListGames() ([]*GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT game_id, event_ticker, home_team, away_team, game_date, status, provider_game_id, created_at, updated_at
		FROM games ORDER BY game_date, game_id`)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []*GameRecord
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGame(row scannable) (*GameRecord, error) {
	var g GameRecord
	var created, updated string
	if err := row.Scan(&g.GameID, &g.EventTicker, &g.HomeTeam, &g.AwayTeam, &g.GameDate,
		&g.Status, &g.ProviderGameID, &created, &updated); err != nil {
		return nil, err
	}
	g.CreatedAt = parseTime(created)
	g.UpdatedAt = parseTime(updated)
	return &g, nil
}

// UpsertMarket inserts or updates a market catalog row.
func (s *Store) UpsertMarket(m *MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO markets (ticker, game_id, market_type, team, strike_value, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			game_id = excluded.game_id,
			market_type = excluded.market_type,
			team = excluded.team,
			strike_value = excluded.strike_value,
			status = excluded.status`,
		m.Ticker, m.GameID, string(m.MarketType), m.Team, decPtr(m.StrikeValue), m.Status, timeStr(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.Ticker, err)
	}
	return nil
}

// MarketsForGame lists the markets attributed to a game.
func (s *Store) MarketsForGame(gameID string) ([]*MarketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT ticker, game_id, market_type, team, strike_value, status, created_at
		FROM markets WHERE game_id = ? ORDER BY ticker`, gameID)
	if err != nil {
		return nil, fmt.Errorf("markets for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []*MarketRecord
	for rows.Next() {
		var m MarketRecord
		var mt, created string
		var strike sql.NullString
		if err := rows.Scan(&m.Ticker, &m.GameID, &mt, &m.Team, &strike, &m.Status, &created); err != nil {
			return nil, err
		}
		m.MarketType = types.MarketType(mt)
		m.StrikeValue = decFromNull(strike)
		m.CreatedAt = parseTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Append-only history
// ————————————————————————————————————————————————————————————————————————

// AppendSportsHistory records one scoreboard observation.
func (s *Store) AppendSportsHistory(gameID string, st *types.LiveSportsState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sports_history (game_id, status, period, time_remaining, home_score, away_score, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		gameID, st.Status, st.Period, st.TimeRemaining, st.HomeScore, st.AwayScore, timeStr(time.Now()))
	if err != nil {
		return fmt.Errorf("append sports history %s: %w", gameID, err)
	}
	return nil
}

// AppendOddsHistory records one vendor odds observation.
func (s *Store) AppendOddsHistory(gameID string, q *types.OddsQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO odds_history (game_id, vendor, moneyline_home, moneyline_away,
			spread_home_value, spread_home_odds, spread_away_value, spread_away_odds,
			total_value, total_over_odds, total_under_odds, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gameID, q.Vendor, intPtr(q.MoneylineHome), intPtr(q.MoneylineAway),
		decPtr(q.SpreadHomeValue), intPtr(q.SpreadHomeOdds),
		decPtr(q.SpreadAwayValue), intPtr(q.SpreadAwayOdds),
		decPtr(q.TotalValue), intPtr(q.TotalOverOdds), intPtr(q.TotalUnderOdds),
		timeStr(time.Now()))
	if err != nil {
		return fmt.Errorf("append odds history %s/%s: %w", gameID, q.Vendor, err)
	}
	return nil
}

// AppendOrderbookSnapshot records one top-of-book observation.
func (s *Store) AppendOrderbookSnapshot(gameID string, ob *types.OrderbookState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO orderbook_snapshots (game_id, ticker, yes_bid, yes_ask, no_bid, no_ask, yes_bid_size, no_bid_size, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gameID, ob.Ticker, ob.YesBid.String(), ob.YesAsk.String(), ob.NoBid.String(), ob.NoAsk.String(),
		ob.YesBidSize, ob.NoBidSize, timeStr(time.Now()))
	if err != nil {
		return fmt.Errorf("append orderbook snapshot %s: %w", ob.Ticker, err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders and positions
// ————————————————————————————————————————————————————————————————————————

// SaveOrder inserts or updates a simulated order.
func (s *Store) SaveOrder(o *types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO orders (id, game_id, strategy_id, market_ticker, order_type, side, quantity,
			limit_price, filled_price, status, reason, placed_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_price = excluded.filled_price,
			status = excluded.status,
			reason = excluded.reason,
			filled_at = excluded.filled_at`,
		o.ID, o.GameID, o.StrategyID, o.MarketTicker, string(o.OrderType), string(o.Side), o.Quantity,
		decPtr(o.LimitPrice), decPtr(o.FilledPrice), string(o.Status), o.Reason,
		timeStr(o.PlacedAt), timePtr(o.FilledAt))
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// ListOrders returns orders newest first, optionally filtered by game.
func (s *Store) ListOrders(gameID string, limit int) ([]*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, game_id, strategy_id, market_ticker, order_type, side, quantity,
			limit_price, filled_price, status, reason, placed_at, filled_at
		FROM orders`
	args := []any{}
	if gameID != "" {
		query += ` WHERE game_id = ?`
		args = append(args, gameID)
	}
	query += ` ORDER BY placed_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OrdersByStrategy returns all orders placed by one strategy.
func (s *Store) OrdersByStrategy(strategyID string) ([]*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, game_id, strategy_id, market_ticker, order_type, side, quantity,
			limit_price, filled_price, status, reason, placed_at, filled_at
		FROM orders WHERE strategy_id = ? ORDER BY placed_at`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("orders by strategy %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(rows *sql.Rows) (*types.Order, error) {
	var o types.Order
	var orderType, side, status, placedAt string
	var limitPrice, filledPrice, filledAt sql.NullString
	if err := rows.Scan(&o.ID, &o.GameID, &o.StrategyID, &o.MarketTicker, &orderType, &side,
		&o.Quantity, &limitPrice, &filledPrice, &status, &o.Reason, &placedAt, &filledAt); err != nil {
		return nil, err
	}
	o.OrderType = types.OrderType(orderType)
	o.Side = types.Side(side)
	o.Status = types.OrderStatus(status)
	o.LimitPrice = decFromNull(limitPrice)
	o.FilledPrice = decFromNull(filledPrice)
	o.PlacedAt = parseTime(placedAt)
	if filledAt.Valid {
		t := parseTime(filledAt.String)
		o.FilledAt = &t
	}
	return &o, nil
}

// SavePosition inserts or updates a position keyed by its id.
func (s *Store) SavePosition(p *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO positions (id, game_id, market_ticker, side, quantity, avg_entry_price,
			total_cost, unrealized_pnl, realized_pnl, is_open, opened_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			total_cost = excluded.total_cost,
			unrealized_pnl = excluded.unrealized_pnl,
			realized_pnl = excluded.realized_pnl,
			is_open = excluded.is_open,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at`,
		p.ID, p.GameID, p.MarketTicker, string(p.Side), p.Quantity, p.AvgEntryPrice.String(),
		p.TotalCost.String(), p.UnrealizedPnL.String(), p.RealizedPnL.String(), boolInt(p.IsOpen),
		timeStr(p.OpenedAt), timeStr(p.UpdatedAt), timePtr(p.ClosedAt))
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

// ListPositions returns positions, optionally only open ones.
func (s *Store) ListPositions(onlyOpen bool) ([]*types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, game_id, market_ticker, side, quantity, avg_entry_price,
			total_cost, unrealized_pnl, realized_pnl, is_open, opened_at, updated_at, closed_at
		FROM positions`
	if onlyOpen {
		query += ` WHERE is_open = 1`
	}
	query += ` ORDER BY opened_at`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*types.Position
	for rows.Next() {
		var p types.Position
		var side, entry, cost, unreal, real, opened, updated string
		var isOpen int
		var closed sql.NullString
		if err := rows.Scan(&p.ID, &p.GameID, &p.MarketTicker, &side, &p.Quantity, &entry,
			&cost, &unreal, &real, &isOpen, &opened, &updated, &closed); err != nil {
			return nil, err
		}
		p.Side = types.Side(side)
		p.AvgEntryPrice = mustDec(entry)
		p.TotalCost = mustDec(cost)
		p.UnrealizedPnL = mustDec(unreal)
		p.RealizedPnL = mustDec(real)
		p.IsOpen = isOpen != 0
		p.OpenedAt = parseTime(opened)
		p.UpdatedAt = parseTime(updated)
		if closed.Valid {
			t := parseTime(closed.String)
			p.ClosedAt = &t
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Strategy registry
// ————————————————————————————————————————————————————————————————————————

// SaveStrategy inserts or updates a strategy registry row.
func (s *Store) SaveStrategy(r *StrategyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO strategies (id, name, type, enabled, config, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			enabled = excluded.enabled,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Type, boolInt(r.Enabled), r.Config, timeStr(time.Now()))
	if err != nil {
		return fmt.Errorf("save strategy %s: %w", r.ID, err)
	}
	return nil
}

// ListStrategies returns the persisted strategy registry.
func (s *Store) ListStrategies() ([]*StrategyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, name, type, enabled, config, updated_at FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []*StrategyRecord
	for rows.Next() {
		var r StrategyRecord
		var enabled int
		var updated string
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &enabled, &r.Config, &updated); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.UpdatedAt = parseTime(updated)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Scan/format helpers
// ————————————————————————————————————————————————————————————————————————

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func decPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func intPtr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func decFromNull(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

func mustDec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
