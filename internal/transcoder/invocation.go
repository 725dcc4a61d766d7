package transcoder

import "strings"

// Input is one -i argument with its per-input options
type Input struct {
	Path    string
	Options []string
}

// Invocation is a fully resolved ffmpeg command line
type Invocation struct {
	Binary        string
	Inputs        []Input
	FilterGraph   string
	Maps          []string
	VideoOptions  []string
	AudioOptions  []string
	OutputOptions []string
	Output        string
	Overwrite     bool
	TwoPass       bool
	AudioOnly     bool
	PassLog       string
	Duration      float64 // expected output duration in seconds

	graph *FilterGraph
}

// Graph returns the structured filter graph the invocation was built from
func (inv *Invocation) Graph() *FilterGraph {
	if inv.graph == nil {
		return NewFilterGraph()
	}
	return inv.graph
}

// Passes returns how many times ffmpeg must run
func (inv *Invocation) Passes() int {
	if inv.TwoPass {
		return 2
	}
	return 1
}

// Args returns the ffmpeg arguments for a pass, numbered from 1. The first
// pass of a two-pass encode discards its output.
func (inv *Invocation) Args(pass int) []string {
	args := []string{"-hide_banner", "-nostats", "-progress", "pipe:1"}
	if inv.Overwrite || (inv.TwoPass && pass == 1) {
		args = append(args, "-y")
	} else {
		args = append(args, "-n")
	}

	for _, in := range inv.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if inv.FilterGraph != "" {
		args = append(args, "-filter_complex", inv.FilterGraph)
	}
	for _, m := range inv.Maps {
		args = append(args, "-map", m)
	}

	args = append(args, inv.VideoOptions...)

	if inv.TwoPass && pass == 1 {
		return append(args, "-pass", "1", "-passlogfile", inv.PassLog, "-an", "-f", "null", "-")
	}

	args = append(args, inv.AudioOptions...)
	if inv.TwoPass {
		args = append(args, "-pass", "2", "-passlogfile", inv.PassLog)
	}
	args = append(args, inv.OutputOptions...)
	return append(args, inv.Output)
}

// String renders the invocation as a shell command, joining passes with &&
func (inv *Invocation) String() string {
	cmds := make([]string, 0, inv.Passes())
	for pass := 1; pass <= inv.Passes(); pass++ {
		parts := []string{shellQuote(inv.Binary)}
		for _, a := range inv.Args(pass) {
			parts = append(parts, shellQuote(a))
		}
		cmds = append(cmds, strings.Join(parts, " "))
	}
	return strings.Join(cmds, " && ")
}

// shellQuote single-quotes s when it contains anything a POSIX shell would interpret
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=+,@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
