package rating

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/arena/internal/errors"
)

// Rank labels, a five-band ladder keyed on rating.
const (
	LabelNovice      = "Novice"
	LabelAppellant   = "Appellant"
	LabelEngineer    = "Engineer"
	LabelArchitect   = "Architect"
	LabelGrandmaster = "Grandmaster"
)

const (
	firstPlaceDelta = 30
	lastPlaceDelta  = -20

	// Below this rating losses are forgiven entirely; above protectionCeil's
	// counterpart (diminishTop) gains are halved.
	protectionCeil = 1200
	diminishFloor  = 2000
)

// RankLabel maps a rating onto the ladder.
func RankLabel(rating int) string {
	switch {
	case rating < 1200:
		return LabelNovice
	case rating < 1500:
		return LabelAppellant
	case rating < 1800:
		return LabelEngineer
	case rating < 2100:
		return LabelArchitect
	default:
		return LabelGrandmaster
	}
}

// ComputeDelta converts a finish position into a bounded rating change.
// First place earns +30, last place -20, intermediate positions interpolate
// linearly. Two adjustments apply afterward, in order: a rating under 1200
// never loses points (newcomer protection), and a rating over 2000 earns
// half (diminishing returns at the top).
func ComputeDelta(currentRating, finishRank, totalPlayers int) (int, error) {
	if totalPlayers < 2 {
		return 0, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("a match needs at least 2 players, got %d", totalPlayers))
	}
	if finishRank < 1 || finishRank > totalPlayers {
		return 0, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("finish rank %d out of range [1, %d]", finishRank, totalPlayers))
	}

	var base decimal.Decimal
	switch finishRank {
	case 1:
		base = decimal.NewFromInt(firstPlaceDelta)
	case totalPlayers:
		base = decimal.NewFromInt(lastPlaceDelta)
	default:
		// 30 - 50 * (rank-1)/(n-1), kept exact until the final rounding.
		span := decimal.NewFromInt(firstPlaceDelta - lastPlaceDelta)
		frac := decimal.NewFromInt(int64(finishRank - 1)).
			Div(decimal.NewFromInt(int64(totalPlayers - 1)))
		base = decimal.NewFromInt(firstPlaceDelta).Sub(span.Mul(frac))
	}

	if currentRating < protectionCeil && base.IsNegative() {
		base = base.Div(decimal.NewFromInt(2)).Floor()
		if base.IsNegative() {
			base = decimal.Zero
		}
	}

	if currentRating > diminishFloor && base.IsPositive() {
		base = base.Div(decimal.NewFromInt(2)).Floor()
	}

	// Halves round toward positive infinity, so -7.5 lands on -7.
	return int(base.Add(decimal.New(5, -1)).Floor().IntPart()), nil
}
