package fuzzyname

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches_WithinThreshold(t *testing.T) {
	assert.True(t, Matches("catherine", "katherine", DefaultMaxDistanceRatio, DefaultMinLengthForFuzzy))
}

func TestMatches_BeyondThreshold(t *testing.T) {
	assert.False(t, Matches("catherine", "bartholomew", DefaultMaxDistanceRatio, DefaultMinLengthForFuzzy))
}

func TestMatches_SkippedBelowMinLength(t *testing.T) {
	assert.False(t, Matches("bob", "rob", DefaultMaxDistanceRatio, DefaultMinLengthForFuzzy))
}

func TestMatches_IdenticalStrings(t *testing.T) {
	assert.True(t, Matches("alexander", "alexander", DefaultMaxDistanceRatio, DefaultMinLengthForFuzzy))
}
