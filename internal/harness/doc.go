// Package harness provides conformance testing for the wapplibre server.
//
// The harness runs YAML scenarios against a fresh write pipeline, issuing
// every step as a JSON-RPC call, and validates the outcome with expect
// clauses, assertions and golden trace snapshots.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	propagate_writes: true   # publish entity.saved events
//	deliver: true            # drain the event queue after the flow
//	setup:
//	  - method: saveEntitySchema
//	    params: { name: person, model: { type: object } }
//	flow:
//	  - method: saveEntity
//	    params: { name: person, id: "...", data: { name: Ada } }
//	  - method: getEntity
//	    params: { name: person, id: "..." }
//	    expect:
//	      result: { name: Ada }
//	  - method: getEntity
//	    params: { name: person, id: "not-a-uuid" }
//	    expect:
//	      error: VALIDATION_ERROR
//	assertions:
//	  - type: trace_count
//	    method: saveEntity
//	    count: 1
//	  - type: row_count
//	    table: entity
//	    where: { type: person }
//	    count: 1
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: Verifies a call appears in the trace with matching params
//   - trace_order: Verifies methods were called in the specified order
//   - trace_count: Verifies a method was called exactly N times
//   - delivered_count: Verifies exactly N events were delivered
//   - row_count: Counts rows of an entity store table matching where
//
// # Deterministic Testing
//
// Event ids come from testutil.SequenceGenerator and every scenario runs
// in its own temporary directory, so the same scenario always produces
// the same trace. Error messages are kept out of the trace; only error
// codes are compared.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/entity_lifecycle.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
