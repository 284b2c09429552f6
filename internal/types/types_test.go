package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityRankOrdering(t *testing.T) {
	assert.Less(t, PriorityLow.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityCritical.Rank())
}

func TestPriorityRankUnknownFallsBackToMedium(t *testing.T) {
	var unknown Priority = "nonsense"
	assert.Equal(t, PriorityMedium.Rank(), unknown.Rank())
}
