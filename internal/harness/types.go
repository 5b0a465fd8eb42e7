package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one domain event observed while the steps ran.
type TraceEvent struct {
	Event  string `json:"event"`
	Detail string `json:"detail"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when no step or assertion failed.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Snapshot renders the trace for golden comparison.
func (r *Result) Snapshot(name string) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "# %s\n", name)
	for _, ev := range r.Trace {
		fmt.Fprintf(&buf, "%s %s\n", ev.Event, ev.Detail)
	}
	return []byte(buf.String())
}
