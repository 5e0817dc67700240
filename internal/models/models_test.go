package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2505.20245v2", "2505.20245"},
		{"2505.20245v12", "2505.20245"},
		{"2505.20245", "2505.20245"},
		{"hep-th/9901001v1", "hep-th/9901001"},
		{"solv-int/9901001", "solv-int/9901001"},
		{"2505.20245v", "2505.20245v"},
		{" 2505.20245v1 ", "2505.20245"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanID(tt.input))
		})
	}
}

func TestItem_EnrichmentStates(t *testing.T) {
	var item Item
	assert.False(t, item.IsEnriched())
	assert.Equal(t, 0.0, item.PopularityValue())

	at := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	item.SetAttention(Attention{}, at)
	assert.True(t, item.IsEnriched(), "zero attention is still enriched")
	assert.Equal(t, 0.0, item.PopularityValue())
	assert.Equal(t, at, item.EnrichedAt)

	item.SetAttention(Attention{Score: 12.5, Tweeters: 3}, at)
	assert.Equal(t, 12.5, item.PopularityValue())
	assert.Equal(t, 3, item.Attention.Tweeters)
}

func TestItem_CloneDoesNotAlias(t *testing.T) {
	orig := Item{ID: "1", Authors: []string{"A"}, Categories: []string{"cs.AI"}}
	orig.SetAttention(Attention{Score: 1}, time.Now())

	c := orig.Clone()
	c.Authors[0] = "B"
	c.Categories[0] = "cs.LG"
	*c.Popularity = 99
	c.Attention.Score = 99

	assert.Equal(t, "A", orig.Authors[0])
	assert.Equal(t, "cs.AI", orig.Categories[0])
	assert.Equal(t, 1.0, orig.PopularityValue())
	assert.Equal(t, 1.0, orig.Attention.Score)
}
