// Package odds provides pure conversions between American odds, implied
// probabilities, and contract prices, plus consensus aggregation, vig
// removal, expected value, and Kelly sizing.
//
// All functions are stateless and operate on decimals. Probabilities are
// quantized to 4 decimal places and cent prices to 2, rounding half up.
package odds

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// ConsensusMethod selects how vendor probabilities are aggregated.
type ConsensusMethod string

const (
	ConsensusMean     ConsensusMethod = "mean"
	ConsensusMedian   ConsensusMethod = "median"
	ConsensusWeighted ConsensusMethod = "weighted"
)

const (
	probPlaces  = 4
	centsPlaces = 2
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
	half    = decimal.New(5, -1)
)

// AmericanToImplied converts American odds to an implied probability in
// [0, 1]. Odds of zero map to 0.5.
func AmericanToImplied(american int64) decimal.Decimal {
	if american == 0 {
		return half
	}
	o := decimal.NewFromInt(american)
	var p decimal.Decimal
	if american < 0 {
		abs := o.Abs()
		p = abs.Div(abs.Add(hundred))
	} else {
		p = hundred.Div(o.Add(hundred))
	}
	return p.Round(probPlaces)
}

// ImpliedToAmerican converts an implied probability back to integer American
// odds. Probabilities outside (0, 1) are BadInput.
func ImpliedToAmerican(p decimal.Decimal) (int64, error) {
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(one) {
		return 0, types.E(types.KindBadInput, "probability %s outside (0, 1)", p)
	}
	if p.GreaterThanOrEqual(half) {
		// Favorite: negative odds.
		o := p.Div(one.Sub(p)).Mul(hundred).Round(0)
		return -o.IntPart(), nil
	}
	o := one.Sub(p).Div(p).Mul(hundred).Round(0)
	return o.IntPart(), nil
}

// CentsToProb converts a cent price (0-100) to a probability, clamped to
// [0, 1].
func CentsToProb(cents decimal.Decimal) decimal.Decimal {
	p := cents.Div(hundred)
	if p.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if p.GreaterThan(one) {
		return one
	}
	return p.Round(probPlaces)
}

// ProbToCents converts a probability to a cent price rounded to 2 places.
func ProbToCents(p decimal.Decimal) decimal.Decimal {
	return p.Mul(hundred).Round(centsPlaces)
}

// Consensus aggregates vendor probabilities with the given method. The
// weighted method weights each probability by 1 + |p - 0.5| so confident
// books count more. Empty input is BadInput.
func Consensus(probs []decimal.Decimal, method ConsensusMethod) (decimal.Decimal, error) {
	if len(probs) == 0 {
		return decimal.Zero, types.E(types.KindBadInput, "no probabilities to aggregate")
	}
	switch method {
	case ConsensusMean:
		sum := decimal.Zero
		for _, p := range probs {
			sum = sum.Add(p)
		}
		return sum.Div(decimal.NewFromInt(int64(len(probs)))).Round(probPlaces), nil
	case ConsensusMedian:
		return Median(probs).Round(probPlaces), nil
	case ConsensusWeighted:
		num, den := decimal.Zero, decimal.Zero
		for _, p := range probs {
			w := one.Add(p.Sub(half).Abs())
			num = num.Add(p.Mul(w))
			den = den.Add(w)
		}
		return num.Div(den).Round(probPlaces), nil
	default:
		return decimal.Zero, types.E(types.KindBadInput, "unknown consensus method %q", method)
	}
}

// Median returns the median of the values. Panics on empty input; callers
// guard.
func Median(vals []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

// RemoveVig normalizes a two-way market's implied probabilities to sum to 1.
// A zero denominator is BadInput.
func RemoveVig(home, away decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	total := home.Add(away)
	if total.IsZero() {
		return decimal.Zero, decimal.Zero, types.E(types.KindBadInput, "zero total probability")
	}
	return home.Div(total).Round(probPlaces), away.Div(total).Round(probPlaces), nil
}

// EV computes the expected value of buying one contract at priceCents given
// trueProb, the probability that the YES outcome occurs. For the NO side the
// caller passes the NO price and the YES probability; the win probability is
// flipped internally. The result is a fraction of cost (0.05 = +5%).
func EV(priceCents, trueProb decimal.Decimal, side types.Side) (decimal.Decimal, error) {
	if priceCents.LessThanOrEqual(decimal.Zero) || priceCents.GreaterThan(hundred) {
		return decimal.Zero, types.E(types.KindBadInput, "price %s outside (0, 100]", priceCents)
	}
	if trueProb.LessThan(decimal.Zero) || trueProb.GreaterThan(one) {
		return decimal.Zero, types.E(types.KindBadInput, "probability %s outside [0, 1]", trueProb)
	}
	p := trueProb
	if side == types.SideNo {
		p = one.Sub(trueProb)
	}
	cost := priceCents.Div(hundred)
	return p.Sub(cost).Div(cost).Round(probPlaces), nil
}

// Kelly returns the fraction of bankroll to stake on a contract at
// priceCents with win probability derived from trueProb (YES probability;
// flipped for NO). fraction scales the full Kelly stake; the result is
// clamped to [0, 1].
func Kelly(priceCents, trueProb decimal.Decimal, side types.Side, fraction decimal.Decimal) (decimal.Decimal, error) {
	if priceCents.LessThanOrEqual(decimal.Zero) || priceCents.GreaterThanOrEqual(hundred) {
		return decimal.Zero, types.E(types.KindBadInput, "price %s outside (0, 100)", priceCents)
	}
	if trueProb.LessThan(decimal.Zero) || trueProb.GreaterThan(one) {
		return decimal.Zero, types.E(types.KindBadInput, "probability %s outside [0, 1]", trueProb)
	}
	p := trueProb
	if side == types.SideNo {
		p = one.Sub(trueProb)
	}
	payout := hundred.Sub(priceCents)
	b := payout.Div(priceCents)
	q := one.Sub(p)
	f := p.Mul(b).Sub(q).Div(b)
	f = f.Mul(fraction)
	if f.LessThan(decimal.Zero) {
		return decimal.Zero, nil
	}
	if f.GreaterThan(one) {
		return one, nil
	}
	return f.Round(probPlaces), nil
}
