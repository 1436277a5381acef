package harness

import "github.com/roach88/hashcons/internal/store"

// Trace event types.
const (
	EventTree    = "tree"
	EventSession = "session"
)

// TraceEvent records one resolved tree or one finished session.
// Counter fields are deltas for tree events and session totals for
// session events.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Session   string `json:"session"`
	SessionID string `json:"session_id,omitempty"`
	Tree      string `json:"tree,omitempty"`
	ID        int64  `json:"id,omitempty"`
	Created   int64  `json:"created,omitempty"`
	Hits      int64  `json:"hits,omitempty"`
	Edges     int64  `json:"edges,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists resolved trees and finished sessions in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Identities maps tree names to the identities they resolved to.
	// Trees that failed are absent.
	Identities map[string]int64 `json:"identities"`

	// Stats summarizes the store after the last session.
	Stats store.Stats `json:"stats"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Identities: map[string]int64{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends e with the next sequence number.
func (r *Result) addEvent(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
}
