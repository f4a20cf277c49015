package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios execute a flow of JSON-RPC calls and assert on the resulting
// trace and the final store state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// PropagateWrites publishes an entity.saved event for every saved entity.
	PropagateWrites bool `yaml:"propagate_writes,omitempty"`

	// Deliver drains the event queue after the flow and records every
	// delivered event in the trace.
	Deliver bool `yaml:"deliver,omitempty"`

	// Setup contains calls made before the main flow.
	// Setup calls must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the main test flow - calls with expected outcomes.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is a single JSON-RPC call.
type Step struct {
	// Method is the JSON-RPC method (e.g., "saveEntity").
	Method string `yaml:"method"`

	// Params is the params object of the call.
	Params map[string]any `yaml:"params,omitempty"`
}

// FlowStep is a call in the main flow with an optional expectation.
type FlowStep struct {
	Method string         `yaml:"method"`
	Params map[string]any `yaml:"params,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the call must succeed and its result is not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a call.
type ExpectClause struct {
	// Error is the expected error code (e.g., "NOT_FOUND").
	// Empty means the call must succeed.
	Error string `yaml:"error,omitempty"`

	// Result is matched against the call result. Objects match as a
	// subset; arrays must have the same length and match element-wise.
	// If nil, the result is not checked.
	Result any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Method is the JSON-RPC method (trace_contains, trace_count).
	Method string `yaml:"method,omitempty"`

	// Params are the expected call params (trace_contains).
	// Subset match - only specified fields are validated.
	Params map[string]any `yaml:"params,omitempty"`

	// Methods is the expected call order (trace_order).
	Methods []string `yaml:"methods,omitempty"`

	// Count is the expected number of calls, deliveries or rows.
	Count int `yaml:"count,omitempty"`

	// Table is the store table (row_count).
	Table string `yaml:"table,omitempty"`

	// Where filters rows by column equality (row_count).
	Where map[string]any `yaml:"where,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertDeliveredCount = "delivered_count"
	AssertRowCount       = "row_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if step.Method == "" {
			return fmt.Errorf("setup[%d]: method is required", i)
		}
	}

	for i, step := range s.Flow {
		if step.Method == "" {
			return fmt.Errorf("flow[%d]: method is required", i)
		}
		if step.Expect != nil && step.Expect.Error != "" && step.Expect.Result != nil {
			return fmt.Errorf("flow[%d].expect: error and result are mutually exclusive", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("assertions[%d]: methods list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertDeliveredCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for delivered_count", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
