package transcoder

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterChain builds a comma separated chain of filters
type FilterChain struct {
	filters []string
}

// NewFilterChain creates an empty chain
func NewFilterChain() *FilterChain {
	return &FilterChain{filters: make([]string, 0)}
}

// Add appends a filter, ignoring empty strings
func (fc *FilterChain) Add(filter string) *FilterChain {
	if filter != "" {
		fc.filters = append(fc.filters, filter)
	}
	return fc
}

// Addf appends a formatted filter
func (fc *FilterChain) Addf(format string, args ...interface{}) *FilterChain {
	return fc.Add(fmt.Sprintf(format, args...))
}

// Len returns the number of filters in the chain
func (fc *FilterChain) Len() int {
	return len(fc.filters)
}

// String joins the chain with commas
func (fc *FilterChain) String() string {
	return strings.Join(fc.filters, ",")
}

// chain is one labelled filtergraph statement: [in]...filters...[out]
type chain struct {
	inputs  []string
	filters string
	outputs []string
}

// FilterGraph collects labelled chains for -filter_complex
type FilterGraph struct {
	chains  []chain
	counter map[string]int
}

// NewFilterGraph creates an empty graph
func NewFilterGraph() *FilterGraph {
	return &FilterGraph{counter: make(map[string]int)}
}

// Label returns a fresh pad label with the given prefix, e.g. v0, v1
func (g *FilterGraph) Label(prefix string) string {
	n := g.counter[prefix]
	g.counter[prefix] = n + 1
	return prefix + strconv.Itoa(n)
}

// Add appends a statement reading inputs and writing outputs
func (g *FilterGraph) Add(inputs []string, filters string, outputs ...string) {
	g.chains = append(g.chains, chain{inputs: inputs, filters: filters, outputs: outputs})
}

// Pipe runs filters on a single input into a fresh label and returns it.
// An empty chain returns the input unchanged.
func (g *FilterGraph) Pipe(input, prefix string, fc *FilterChain) string {
	if fc == nil || fc.Len() == 0 {
		return input
	}
	out := g.Label(prefix)
	g.Add([]string{input}, fc.String(), out)
	return out
}

// Len returns the number of statements
func (g *FilterGraph) Len() int {
	return len(g.chains)
}

// Count returns how many statements contain the named filter
func (g *FilterGraph) Count(filter string) int {
	n := 0
	for _, c := range g.chains {
		for _, f := range strings.Split(c.filters, ",") {
			if name, _, _ := strings.Cut(f, "="); name == filter {
				n++
			}
		}
	}
	return n
}

// String renders the graph in -filter_complex syntax
func (g *FilterGraph) String() string {
	parts := make([]string, 0, len(g.chains))
	for _, c := range g.chains {
		var b strings.Builder
		for _, in := range c.inputs {
			b.WriteString("[" + in + "]")
		}
		b.WriteString(c.filters)
		for _, out := range c.outputs {
			b.WriteString("[" + out + "]")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ";")
}

// escapeFilterValue escapes a literal option value for use inside a
// filtergraph: once for the option parser and once for the graph parser.
func escapeFilterValue(s string) string {
	return escapeChars(escapeChars(s, `\':`), `\'[],;`)
}

// escapeDrawtext escapes caption text, including drawtext's own % expansion
func escapeDrawtext(s string) string {
	return escapeFilterValue(escapeChars(s, `\%`))
}

func escapeChars(s, chars string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(chars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// num formats a float for filter arguments without trailing zeros
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ts formats a time in seconds with millisecond precision
func ts(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
