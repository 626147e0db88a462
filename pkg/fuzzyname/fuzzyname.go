// Package fuzzyname wraps a third-party edit-distance implementation behind
// the exact matching rule the resolver's fuzzy-name searcher needs, so the
// core never hand-rolls Levenshtein distance.
package fuzzyname

import (
	"math"

	"github.com/antzucaro/matchr"
)

// DefaultMaxDistanceRatio is §4.3 step 5's default tolerance.
const DefaultMaxDistanceRatio = 0.2

// DefaultMinLengthForFuzzy is §4.3 step 5's default floor below which fuzzy
// matching is skipped entirely.
const DefaultMinLengthForFuzzy = 4

// Matches implements §4.3 step 5: distance(a, b) <= floor(min(len(a),
// len(b)) * maxDistanceRatio), and is always false if either string is
// shorter than minLengthForFuzzy.
func Matches(a, b string, maxDistanceRatio float64, minLengthForFuzzy int) bool {
	if len(a) < minLengthForFuzzy || len(b) < minLengthForFuzzy {
		return false
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	threshold := int(math.Floor(float64(minLen) * maxDistanceRatio))
	dist := matchr.Levenshtein(a, b)
	return dist <= threshold
}
