package transcoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressParserBlocks(t *testing.T) {
	p := newProgressParser(10, 1, 1)

	var got []Progress
	for _, l := range []string{
		"frame=120",
		"fps=30.0",
		"bitrate=1024.5kbits/s",
		"out_time_us=5000000",
		"speed=2.0x",
		"progress=continue",
	} {
		if snap, ok := p.line(l); ok {
			got = append(got, snap)
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, 50.0, got[0].Percent)
	assert.Equal(t, int64(120), got[0].Frame)
	assert.Equal(t, 30.0, got[0].FPS)
	assert.Equal(t, "1024.5kbits/s", got[0].Bitrate)
	assert.Equal(t, 2.0, got[0].Speed)
	assert.Equal(t, 5.0, got[0].OutTime)
	assert.False(t, got[0].Done)

	snap, ok := p.line("progress=end")
	require.True(t, ok)
	assert.True(t, snap.Done)
	assert.Equal(t, 100.0, snap.Percent)
}

func TestProgressParserTwoPass(t *testing.T) {
	p := newProgressParser(10, 2, 2)
	p.line("out_time_us=5000000")
	snap, ok := p.line("progress=continue")
	require.True(t, ok)
	assert.Equal(t, 75.0, snap.Percent)
	assert.Equal(t, 2, snap.Pass)

	first := newProgressParser(10, 1, 2)
	snap, _ = first.line("progress=end")
	assert.Equal(t, 50.0, snap.Percent)
}

func TestProgressParserIgnoresNoise(t *testing.T) {
	p := newProgressParser(0, 1, 1)
	_, ok := p.line("not a key value line")
	assert.False(t, ok)

	p.line("bitrate=N/A")
	p.line("out_time_ms=-9223372036854775807")
	snap, ok := p.line("progress=continue")
	require.True(t, ok)
	assert.Equal(t, "", snap.Bitrate)
	assert.Equal(t, 0.0, snap.OutTime)
	assert.Equal(t, 0.0, snap.Percent, "unknown duration reports zero until the end")
}

func TestParseProgress(t *testing.T) {
	stream := strings.Join([]string{
		"frame=10", "out_time_ms=2500000", "progress=continue",
		"frame=20", "out_time_ms=7500000", "progress=continue",
		"frame=30", "out_time_ms=10000000", "progress=end",
	}, "\n")

	var percents []float64
	err := parseProgress(strings.NewReader(stream), newProgressParser(10, 1, 1), func(p Progress) {
		percents = append(percents, p.Percent)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{25, 75, 100}, percents)
}

func TestThrottle(t *testing.T) {
	var calls []float64
	fn := Throttle(1, func(p Progress) { calls = append(calls, p.Percent) })

	for _, p := range []Progress{
		{Percent: 0},
		{Percent: 0.5},
		{Percent: 1.0},
		{Percent: 1.2},
		{Percent: 2.5},
		{Percent: 2.6, Done: true},
	} {
		fn(p)
	}
	assert.Equal(t, []float64{0, 1, 2.5, 2.6}, calls)

	// nil callbacks are allowed
	assert.NotPanics(t, func() { Throttle(1, nil)(Progress{Percent: 5}) })
}
