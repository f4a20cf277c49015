package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/apruden/wapplibre-server/internal/engine"
	"github.com/apruden/wapplibre-server/internal/ir"
	"github.com/apruden/wapplibre-server/internal/rpc"
	"github.com/apruden/wapplibre-server/internal/testutil"
)

// Harness is the test execution engine.
// It issues scenario steps against one JSON-RPC server.
type Harness struct {
	stack  *testutil.Stack
	server *echo.Echo
	seq    int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against fresh SQLite files in a temporary directory.
//
// Execution flow:
// 1. Open a fresh store, index and registry
// 2. Execute setup steps (all must succeed)
// 3. Execute flow steps and check their expect clauses
// 4. Drain the event queue when the scenario asks for deliveries
// 5. Evaluate assertions and return the result
//
// An error is returned only when the scenario could not be executed;
// failed expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "wapplibre-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	stack, err := testutil.OpenStack(dir,
		testutil.WithWritePropagation(scenario.PropagateWrites),
		testutil.WithIDGenerator(testutil.NewSequenceGenerator()),
	)
	if err != nil {
		return nil, err
	}
	defer stack.Close()

	h := &Harness{
		stack:  stack,
		server: rpc.NewEcho(stack.Service, rpc.DefaultConfig()),
	}

	result := NewResult()

	for i, step := range scenario.Setup {
		ev, err := h.call(ctx, step.Method, step.Params)
		if err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
		if ev.Error != "" {
			return nil, fmt.Errorf("setup step %d: %s failed: %s: %s", i, step.Method, ev.Error, ev.Message)
		}
		result.AddTrace(ev)
	}

	for i, step := range scenario.Flow {
		ev, err := h.call(ctx, step.Method, step.Params)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		result.AddTrace(ev)
		if msg := checkExpect(step.Expect, ev); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Method, msg))
		}
	}

	if scenario.Deliver {
		if err := h.drain(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to drain events: %w", err)
		}
	}

	actx := &AssertionContext{
		DB:  stack.Store.DB(),
		Ctx: ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) next() int64 {
	h.seq++
	return h.seq
}

// call issues one JSON-RPC request and records its outcome.
func (h *Harness) call(ctx context.Context, method string, params map[string]any) (TraceEvent, error) {
	seq := h.next()

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return TraceEvent{}, fmt.Errorf("encode params: %w", err)
		}
		rawParams = data
	}

	body, err := json.Marshal(rpc.Request{
		JSONRPC: rpc.Version,
		ID:      json.RawMessage(strconv.FormatInt(seq, 10)),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return TraceEvent{}, fmt.Errorf("encode request: %w", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		return TraceEvent{}, fmt.Errorf("%s: unexpected HTTP status %d", method, rec.Code)
	}
	var resp rpc.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		return TraceEvent{}, fmt.Errorf("%s: decode response: %w", method, err)
	}

	ev := TraceEvent{
		Type:   TraceCall,
		Seq:    seq,
		Method: method,
	}
	if rawParams != nil {
		ev.Params = decodeJSON(rawParams)
	}
	if resp.Error != nil {
		ev.Error = errorCode(resp.Error)
		ev.Message = resp.Error.Message
		return ev, nil
	}
	ev.Result = decodeJSON(resp.Result)
	return ev, nil
}

// drain delivers every pending event and records the deliveries.
func (h *Harness) drain(ctx context.Context, result *Result) error {
	sink := engine.SinkFunc(func(_ context.Context, e ir.Event) error {
		result.AddTrace(TraceEvent{
			Type:    TraceDelivery,
			Seq:     h.next(),
			EventID: e.ID.String(),
			Data:    decodeJSON(e.Data),
		})
		return nil
	})
	worker := engine.NewWorker(h.stack.Store, sink, h.stack.Signal)

	for {
		n, err := worker.ProcessBatch(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// errorCode is the error code recorded for a failed call.
func errorCode(e *rpc.Error) string {
	if e.Data != nil {
		return string(e.Data.Code)
	}
	return "RPC_" + strconv.Itoa(e.Code)
}

// decodeJSON decodes data into plain Go values; null and invalid input
// decode to nil.
func decodeJSON(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
