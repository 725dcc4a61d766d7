package subtitle

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func TestIdealDuration(t *testing.T) {
	o := &Optimizer{ReadingSpeed: 10, MinDisplayTime: 1, MaxDisplayTime: 5}

	assert.Equal(t, 1.0, o.IdealDuration("hi", 0.2), "short text is raised to the minimum")
	assert.Equal(t, 3.0, o.IdealDuration(strings.Repeat("x", 30), 0.5), "reading time wins over a short source span")
	assert.Equal(t, 4.0, o.IdealDuration("hi", 4), "source span wins over a short reading time")
	assert.Equal(t, 5.0, o.IdealDuration(strings.Repeat("x", 200), 1), "capped at the maximum")
}

func TestOptimizeShrinksToNextStart(t *testing.T) {
	o := &Optimizer{ReadingSpeed: 10, MinDisplayTime: 1, MaxDisplayTime: 10, MinGap: 0.1}
	out := o.Optimize([]models.SubtitleSegment{
		{Start: 0, End: 1, Text: strings.Repeat("x", 40)}, // wants 4s
		{Start: 2, End: 3, Text: "ok"},
	}, 0)

	require.Len(t, out, 2)
	assert.InDelta(t, 1.9, out[0].End, 1e-9)
	assert.Equal(t, 2.0, out[1].Start, "next segment untouched")
}

func TestOptimizePushesNextWhenMinimumWouldBreak(t *testing.T) {
	o := &Optimizer{ReadingSpeed: 10, MinDisplayTime: 1, MaxDisplayTime: 10, MinGap: 0.1}
	out := o.Optimize([]models.SubtitleSegment{
		{Start: 0, End: 0.3, Text: "a"},
		{Start: 0.4, End: 1.4, Text: "b"},
		{Start: 1.5, End: 2.5, Text: "c"},
	}, 0)

	require.Len(t, out, 3)
	assert.InDelta(t, 1.0, out[0].End, 1e-9)
	// b is pushed to 1.1 and keeps its 1s duration
	assert.InDelta(t, 1.1, out[1].Start, 1e-9)
	assert.InDelta(t, 2.1, out[1].End, 1e-9)
	// cascade reaches c
	assert.InDelta(t, 2.2, out[2].Start, 1e-9)
	assert.InDelta(t, 3.2, out[2].End, 1e-9)
}

func TestOptimizeSortsAndCopies(t *testing.T) {
	o := DefaultOptimizer()
	in := []models.SubtitleSegment{
		{Start: 5, End: 6, Text: "later"},
		{Start: 1, End: 2, Text: "earlier"},
	}
	out := o.Optimize(in, 0)
	assert.Equal(t, "earlier", out[0].Text)
	assert.Equal(t, 5.0, in[0].Start, "input is not mutated")
}

func TestOptimizeMediaBound(t *testing.T) {
	o := &Optimizer{ReadingSpeed: 10, MinDisplayTime: 2, MaxDisplayTime: 10}
	out := o.Optimize([]models.SubtitleSegment{{Start: 9.5, End: 9.8, Text: "end"}}, 10)
	assert.Equal(t, 10.0, out[0].End, "minimum display is best-effort at the end of the media")
}

func TestOptimizeNeverOverlaps(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for iter := 0; iter < 300; iter++ {
		o := &Optimizer{
			ReadingSpeed:   5 + rng.Float64()*20,
			MinDisplayTime: rng.Float64() * 2,
			MaxDisplayTime: 2 + rng.Float64()*6,
			MinGap:         rng.Float64() * 0.3,
		}
		var segs []models.SubtitleSegment
		for i := 0; i < 1+rng.Intn(30); i++ {
			start := rng.Float64() * 60
			segs = append(segs, models.SubtitleSegment{
				Start: start,
				End:   start + 0.05 + rng.Float64()*4,
				Text:  strings.Repeat("w ", rng.Intn(40)),
			})
		}

		out := o.Optimize(segs, 0)
		require.Len(t, out, len(segs))
		for i := range out {
			assert.Greater(t, out[i].End, out[i].Start)
			if i+1 < len(out) {
				assert.LessOrEqual(t, out[i].End, out[i+1].Start+1e-9, "iteration %d segment %d", iter, i)
			}
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxLen   int
		maxLines int
		want     []string
	}{
		{"fits", "short text", 20, 2, []string{"short text"}},
		{"whitespace", "the quick brown fox jumps", 10, 3, []string{"the quick", "brown fox", "jumps"}},
		{"punctuation", "alpha,beta,gamma", 8, 3, []string{"alpha,", "beta,", "gamma"}},
		{"hard cut", "abcdefghijkl", 5, 3, []string{"abcde", "fghij", "kl"}},
		{"overflow joins last line", "one two three four five", 5, 2, []string{"one", "two three four five"}},
		{"collapses whitespace", "  a \n  b  ", 10, 2, []string{"a b"}},
		{"empty", "   ", 10, 2, nil},
		{"no limit", "anything goes here", 0, 0, []string{"anything goes here"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Wrap(tt.text, tt.maxLen, tt.maxLines))
		})
	}
}

func TestWrapCountsRunes(t *testing.T) {
	lines := Wrap("ééééé ééééé", 5, 2)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.LessOrEqual(t, utf8.RuneCountInString(l), 5)
	}
}

func TestNormalizeNFC(t *testing.T) {
	decomposed := "café"
	assert.Equal(t, "café", Normalize(decomposed))
}
