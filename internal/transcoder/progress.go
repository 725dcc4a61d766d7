package transcoder

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Progress is one snapshot of a running encode
type Progress struct {
	Percent float64 // overall, across passes
	Frame   int64
	FPS     float64
	Bitrate string
	Speed   float64
	OutTime float64 // seconds of output written in the current pass
	Pass    int
	Done    bool
}

// progressParser accumulates key=value lines from -progress pipe:1 and emits
// a Progress at the end of each block
type progressParser struct {
	duration float64
	pass     int
	passes   int
	cur      Progress
}

func newProgressParser(duration float64, pass, passes int) *progressParser {
	if passes < 1 {
		passes = 1
	}
	return &progressParser{duration: duration, pass: pass, passes: passes, cur: Progress{Pass: pass}}
}

// line consumes a single line and returns a snapshot when a block completes
func (p *progressParser) line(l string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(l), "=")
	if !ok {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		p.cur.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.cur.FPS, _ = strconv.ParseFloat(value, 64)
	case "bitrate":
		if value != "N/A" {
			p.cur.Bitrate = value
		}
	case "out_time_us", "out_time_ms":
		// both keys carry microseconds
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.cur.OutTime = float64(us) / 1e6
		}
	case "speed":
		p.cur.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
	case "progress":
		p.cur.Done = value == "end"
		p.cur.Percent = p.percent()
		return p.cur, true
	}
	return Progress{}, false
}

func (p *progressParser) percent() float64 {
	var within float64
	switch {
	case p.cur.Done:
		within = 1
	case p.duration > 0:
		within = math.Min(p.cur.OutTime/p.duration, 1)
	}
	overall := (float64(p.pass-1) + within) / float64(p.passes) * 100
	return math.Round(overall*100) / 100
}

// parseProgress reads a -progress stream until EOF, calling fn per block
func parseProgress(r io.Reader, p *progressParser, fn func(Progress)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if snap, ok := p.line(scanner.Text()); ok && fn != nil {
			fn(snap)
		}
	}
	return scanner.Err()
}

// Throttle wraps fn so it only fires when the percentage moved by at least
// threshold points, or when the pass finishes
func Throttle(threshold float64, fn func(Progress)) func(Progress) {
	if fn == nil {
		return func(Progress) {}
	}
	var mu sync.Mutex
	last := -1.0
	return func(p Progress) {
		mu.Lock()
		if last >= 0 && p.Percent-last < threshold && !p.Done {
			mu.Unlock()
			return
		}
		last = p.Percent
		mu.Unlock()
		fn(p)
	}
}
