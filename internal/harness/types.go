package harness

// Trace event types.
const (
	TraceCall     = "call"
	TraceDelivery = "delivery"
)

// TraceEvent is one JSON-RPC call or one delivered event.
type TraceEvent struct {
	Type string `json:"type"` // "call" or "delivery"
	Seq  int64  `json:"seq"`  // position in the trace, starting at 1

	// Call fields.
	Method string `json:"method,omitempty"`
	Params any    `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"` // error code of a failed call

	// Message is the error message of a failed call. It is not part of
	// snapshots.
	Message string `json:"-"`

	// Delivery fields.
	EventID string `json:"event_id,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every call and delivery in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Calls returns the call events of the trace.
func (r *Result) Calls() []TraceEvent {
	calls := make([]TraceEvent, 0, len(r.Trace))
	for _, ev := range r.Trace {
		if ev.Type == TraceCall {
			calls = append(calls, ev)
		}
	}
	return calls
}

// Deliveries returns the delivery events of the trace.
func (r *Result) Deliveries() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == TraceDelivery {
			out = append(out, ev)
		}
	}
	return out
}
