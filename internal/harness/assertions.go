package harness

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionContext gives assertions access to the final state.
type AssertionContext struct {
	DB  *sql.DB
	Ctx context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case TraceCall:
			outcome := "ok"
			if event.Error != "" {
				outcome = event.Error
			}
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Method, event.Params, outcome)
		case TraceDelivery:
			fmt.Fprintf(&buf, "  [%d] delivered %s\n", event.Seq, event.EventID)
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Calls(), a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Calls(), a)
		case AssertTraceCount:
			err = assertTraceCount(result.Calls(), a)
		case AssertDeliveredCount:
			err = assertDeliveredCount(result, a)
		case AssertRowCount:
			err = assertRowCount(actx, result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertTraceContains checks if the trace contains a call to the method
// with matching params (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Method != assertion.Method {
			continue
		}
		if len(assertion.Params) == 0 || matchValue(normalize(assertion.Params), event.Params) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("call %s with params %v", assertion.Method, assertion.Params),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if methods were first called in the specified
// order. Calls don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Method]; !seen {
			positions[event.Method] = i + 1 // 1-indexed for readability
		}
	}

	for _, method := range assertion.Methods {
		if positions[method] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all methods called: %v", assertion.Methods),
				Actual:   fmt.Sprintf("missing method: %s", method),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Methods); i++ {
		prev := assertion.Methods[i-1]
		curr := assertion.Methods[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("methods in order: %v", assertion.Methods),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the method was called exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Method == assertion.Method {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s called %d times", assertion.Method, assertion.Count),
			Actual:   fmt.Sprintf("called %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertDeliveredCount checks the number of delivered events.
func assertDeliveredCount(result *Result, assertion Assertion) error {
	if n := len(result.Deliveries()); n != assertion.Count {
		return &AssertionError{
			Type:     AssertDeliveredCount,
			Expected: fmt.Sprintf("%d events delivered", assertion.Count),
			Actual:   fmt.Sprintf("%d events delivered", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertRowCount counts rows of a store table matching every where clause.
func assertRowCount(actx *AssertionContext, trace []TraceEvent, assertion Assertion) error {
	if actx == nil || actx.DB == nil {
		return fmt.Errorf("row_count requires a database")
	}
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q", assertion.Table)
	}

	// Sorted for a stable query text.
	columns := make([]string, 0, len(assertion.Where))
	for col := range assertion.Where {
		if !validIdentifier.MatchString(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	query := "SELECT COUNT(*) FROM " + assertion.Table
	args := make([]any, 0, len(columns))
	for i, col := range columns {
		if i == 0 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += col + " = ?"
		args = append(args, assertion.Where[col])
	}

	var count int
	if err := actx.DB.QueryRowContext(actx.Ctx, query, args...).Scan(&count); err != nil {
		return fmt.Errorf("count rows of %s: %w", assertion.Table, err)
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %v", assertion.Count, assertion.Table, assertion.Where),
			Actual:   fmt.Sprintf("%d rows", count),
			Trace:    trace,
		}
	}
	return nil
}

// checkExpect validates a call against its expect clause.
// Returns an empty string when the call matches.
func checkExpect(expect *ExpectClause, ev TraceEvent) string {
	wantErr := ""
	if expect != nil {
		wantErr = expect.Error
	}

	if ev.Error != wantErr {
		if wantErr == "" {
			return fmt.Sprintf("expected success, got %s: %s", ev.Error, ev.Message)
		}
		if ev.Error == "" {
			return fmt.Sprintf("expected error %s, got success", wantErr)
		}
		return fmt.Sprintf("expected error %s, got %s: %s", wantErr, ev.Error, ev.Message)
	}

	if expect != nil && expect.Result != nil && !matchValue(normalize(expect.Result), ev.Result) {
		return fmt.Sprintf("result mismatch: expected %v, got %v", expect.Result, ev.Result)
	}
	return ""
}

// normalize converts a YAML-decoded value to the shape encoding/json
// produces, so that numbers compare as float64.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return decodeJSON(data)
}

// matchValue reports whether actual matches expected. Objects match as a
// subset, arrays element-wise with equal length, scalars by equality.
func matchValue(expected, actual any) bool {
	switch want := expected.(type) {
	case map[string]any:
		got, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range want {
			gv, exists := got[k]
			if !exists || !matchValue(v, gv) {
				return false
			}
		}
		return true
	case []any:
		got, ok := actual.([]any)
		if !ok || len(got) != len(want) {
			return false
		}
		for i := range want {
			if !matchValue(want[i], got[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(expected, actual)
	}
}
