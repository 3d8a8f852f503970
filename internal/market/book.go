// Package market provides local order book management and game discovery.
//
// Book mirrors the exchange order book for a single binary market. Yes and
// No are each a bid ladder sorted descending by price; the ask for a side is
// derived as 100 minus the opposite side's best bid. Books are updated from
// two sources:
//   - WebSocket full snapshots via ApplySnapshot
//   - WebSocket incremental updates via ApplyDelta
//
// The Book is concurrency-safe (RWMutex protected) and provides derived
// top-of-book values for the aggregator layer. BookSet holds one Book per
// subscribed ticker for the streaming path.
package market

import (
	"sort"
	"sync"
	"time"
)

// Level is one resting price level: price in integer cents, contract count.
type Level struct {
	Price    int64
	Quantity int64
}

// Book maintains a local deep-book mirror for one market ticker.
type Book struct {
	mu      sync.RWMutex
	ticker  string
	yes     []Level // bids for YES, sorted descending by price
	no      []Level // bids for NO, sorted descending by price
	updated time.Time
}

// NewBook creates an empty local book for a market ticker.
func NewBook(ticker string) *Book {
	return &Book{ticker: ticker}
}

// Ticker returns the market ticker this book mirrors.
func (b *Book) Ticker() string { return b.ticker }

// ApplySnapshot replaces both sides with a full snapshot. Levels arrive as
// [price, quantity] pairs in no guaranteed order.
func (b *Book) ApplySnapshot(yes, no [][2]int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.yes = levelsFromPairs(yes)
	b.no = levelsFromPairs(no)
	b.updated = time.Now()
}

// ApplyDelta adds delta to the quantity resting at price on the given side.
// A level reaching zero or below is removed; an unknown price is inserted
// keeping the ladder sorted descending.
func (b *Book) ApplyDelta(side string, price, delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch side {
	case "yes":
		b.yes = applyLevelDelta(b.yes, price, delta)
	case "no":
		b.no = applyLevelDelta(b.no, price, delta)
	default:
		return
	}
	b.updated = time.Now()
}

// TopOfBook derives the four quotes and bid sizes from the two ladders.
// A missing side leaves its bid and the opposite ask at zero.
func (b *Book) TopOfBook() (yesBid, yesAsk, noBid, noAsk, yesBidSize, noBidSize int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.yes) > 0 {
		yesBid, yesBidSize = b.yes[0].Price, b.yes[0].Quantity
		noAsk = 100 - yesBid
	}
	if len(b.no) > 0 {
		noBid, noBidSize = b.no[0].Price, b.no[0].Quantity
		yesAsk = 100 - noBid
	}
	return
}

// MidPrice returns (yes_bid + yes_ask) / 2 in cents. Returns false when
// either side of the book is empty.
func (b *Book) MidPrice() (float64, bool) {
	yesBid, yesAsk, _, _, _, _ := b.TopOfBook()
	if yesBid == 0 || yesAsk == 0 {
		return 0, false
	}
	return float64(yesBid+yesAsk) / 2, true
}

// Depth returns copies of both ladders.
func (b *Book) Depth() (yes, no []Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	yes = make([]Level, len(b.yes))
	copy(yes, b.yes)
	no = make([]Level, len(b.no))
	copy(no, b.no)
	return yes, no
}

// IsStale returns true if the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last book update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func levelsFromPairs(pairs [][2]int64) []Level {
	levels := make([]Level, 0, len(pairs))
	for _, p := range pairs {
		if p[1] <= 0 {
			continue
		}
		levels = append(levels, Level{Price: p[0], Quantity: p[1]})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}

func applyLevelDelta(levels []Level, price, delta int64) []Level {
	for i, lvl := range levels {
		if lvl.Price != price {
			continue
		}
		qty := lvl.Quantity + delta
		if qty <= 0 {
			return append(levels[:i], levels[i+1:]...)
		}
		levels[i].Quantity = qty
		return levels
	}
	if delta <= 0 {
		return levels
	}
	// New level, insert keeping descending order.
	i := sort.Search(len(levels), func(i int) bool { return levels[i].Price < price })
	levels = append(levels, Level{})
	copy(levels[i+1:], levels[i:])
	levels[i] = Level{Price: price, Quantity: delta}
	return levels
}

// BookSet is a concurrency-safe collection of per-ticker books used by the
// streaming path.
type BookSet struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewBookSet creates an empty book collection.
func NewBookSet() *BookSet {
	return &BookSet{books: make(map[string]*Book)}
}

// Get returns the book for a ticker, creating it on first use.
func (s *BookSet) Get(ticker string) *Book {
	s.mu.RLock()
	b, ok := s.books[ticker]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.books[ticker]; ok {
		return b
	}
	b = NewBook(ticker)
	s.books[ticker] = b
	return b
}

// Lookup returns the book for a ticker without creating one.
func (s *BookSet) Lookup(ticker string) (*Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[ticker]
	return b, ok
}

// Remove drops the book for a ticker.
func (s *BookSet) Remove(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, ticker)
}

// Tickers lists the tracked tickers.
func (s *BookSet) Tickers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for t := range s.books {
		out = append(out, t)
	}
	return out
}
