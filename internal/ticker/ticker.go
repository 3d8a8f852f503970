// Package ticker parses exchange market tickers for NBA games.
//
// Event tickers embed the game date and the two team codes, e.g.
// "KXNBAGAME-26JAN06DALSAC" is DAL @ SAC on 2026-01-06. Market tickers add a
// contract suffix: "-DAL" (moneyline on DAL), "-DAL7" (DAL covers 7), or a
// bare number (total line).
package ticker

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// GameInfo is the identity parsed out of an event or market ticker.
type GameInfo struct {
	Date     string // YYYY-MM-DD
	AwayTeam string // 3-letter code, first in the ticker
	HomeTeam string // 3-letter code, second in the ticker
}

var datePattern = regexp.MustCompile(`(\d{2})([a-z]{3})(\d{2})`)

var months = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// teamAliases maps exchange team codes to the codes the sports provider
// uses.
var teamAliases = map[string]string{
	"GSC": "GSW",
	"PHO": "PHX",
}

// NormalizeTeam maps an exchange team code to the provider's code.
func NormalizeTeam(abbr string) string {
	up := strings.ToUpper(abbr)
	if mapped, ok := teamAliases[up]; ok {
		return mapped
	}
	return up
}

// ParseGameInfo extracts the game date and team codes from a ticker of the
// shape "<SERIES>-YYmonDD<AWAY><HOME>[-SUFFIX]".
func ParseGameInfo(t string) (GameInfo, error) {
	lower := strings.ToLower(t)

	loc := datePattern.FindStringSubmatchIndex(lower)
	if loc == nil {
		return GameInfo{}, types.E(types.KindBadInput, "no date pattern in ticker %q", t)
	}
	m := datePattern.FindStringSubmatch(lower)

	month, ok := months[m[2]]
	if !ok {
		return GameInfo{}, types.E(types.KindBadInput, "invalid month %q in ticker %q", m[2], t)
	}
	parsed, err := time.Parse("2006-01-02", fmt.Sprintf("20%s-%02d-%s", m[1], month, m[3]))
	if err != nil {
		return GameInfo{}, types.Wrap(types.KindBadInput, err, "invalid date in ticker %q", t)
	}

	rest := lower[loc[1]:]
	// Drop any market suffix after the team codes.
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		rest = rest[:i]
	}
	if len(rest) < 6 {
		return GameInfo{}, types.E(types.KindBadInput, "ticker %q has %d team chars, want 6", t, len(rest))
	}

	return GameInfo{
		Date:     parsed.Format("2006-01-02"),
		AwayTeam: strings.ToUpper(rest[:3]),
		HomeTeam: strings.ToUpper(rest[3:6]),
	}, nil
}

// ClassifyMarket determines the market type, the team a contract is on, and
// the strike value from a full market ticker.
//
// The series prefix decides the type: a series containing SPREAD is a spread
// market, TOTAL a total, anything else a moneyline. The final segment holds
// the team code and, for spreads, the spread magnitude; totals carry a bare
// number.
func ClassifyMarket(t string) (types.MarketType, string, *decimal.Decimal, error) {
	parts := strings.Split(t, "-")
	if len(parts) < 2 {
		return "", "", nil, types.E(types.KindBadInput, "market ticker %q has no suffix", t)
	}
	series := strings.ToUpper(parts[0])
	suffix := strings.ToUpper(parts[len(parts)-1])

	switch {
	case strings.Contains(series, "SPREAD"):
		team, strike, err := splitTeamStrike(suffix)
		if err != nil {
			return "", "", nil, types.Wrap(types.KindBadInput, err, "spread ticker %q", t)
		}
		return types.MarketSpread, team, strike, nil
	case strings.Contains(series, "TOTAL"):
		strike, err := decimal.NewFromString(suffix)
		if err != nil {
			return "", "", nil, types.E(types.KindBadInput, "total ticker %q has non-numeric line %q", t, suffix)
		}
		return types.MarketTotal, "", &strike, nil
	default:
		if suffix == "" || !isAlpha(suffix) {
			return "", "", nil, types.E(types.KindBadInput, "moneyline ticker %q has invalid team %q", t, suffix)
		}
		return types.MarketMoneyline, suffix, nil, nil
	}
}

// splitTeamStrike splits a suffix like "DAL7" or "UTA5.5" into team and
// strike.
func splitTeamStrike(suffix string) (string, *decimal.Decimal, error) {
	i := 0
	for i < len(suffix) && suffix[i] >= 'A' && suffix[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(suffix) {
		return "", nil, fmt.Errorf("suffix %q is not TEAM+NUMBER", suffix)
	}
	strike, err := decimal.NewFromString(suffix[i:])
	if err != nil {
		return "", nil, fmt.Errorf("suffix %q has non-numeric strike: %w", suffix, err)
	}
	return suffix[:i], &strike, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// DisplayName renders a ticker as "AWAY @ HOME - Mon DD, YYYY" for logs and
// API responses, falling back to the raw ticker when parsing fails.
func DisplayName(t string) string {
	info, err := ParseGameInfo(t)
	if err != nil {
		return t
	}
	d, err := time.Parse("2006-01-02", info.Date)
	if err != nil {
		return t
	}
	return fmt.Sprintf("%s @ %s - %s", info.AwayTeam, info.HomeTeam, d.Format("Jan 02, 2006"))
}
