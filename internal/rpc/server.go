package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/ir"
)

// Service is the set of operations served over JSON-RPC.
type Service interface {
	SaveEntitySchema(ctx context.Context, name string, model ir.Value) error
	GetEntitySchema(ctx context.Context, name string) (*ir.ResolvedSchema, error)
	SaveEntity(ctx context.Context, typ, id string, data json.RawMessage) error
	GetEntity(ctx context.Context, typ, id string) (json.RawMessage, error)
	GetEntities(ctx context.Context, typ, query string) ([]json.RawMessage, error)
	PublishEvent(ctx context.Context, data json.RawMessage) (uuid.UUID, error)
}

// Config configures the HTTP surface.
type Config struct {
	// AllowOrigins lists the origins allowed by CORS.
	AllowOrigins []string

	// BodyLimit caps request bodies, e.g. "4M".
	BodyLimit string
}

// DefaultConfig returns the settings used by the development frontend.
func DefaultConfig() Config {
	return Config{
		AllowOrigins: []string{"http://localhost:5173"},
		BodyLimit:    "4M",
	}
}

// Server dispatches JSON-RPC calls to a Service.
type Server struct {
	svc Service
}

// NewServer creates a Server for svc.
func NewServer(svc Service) *Server {
	return &Server{svc: svc}
}

// NewEcho returns an echo instance serving svc:
//
//	GET  /     banner
//	POST /api  JSON-RPC endpoint
func NewEcho(svc Service, cfg Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"*"},
		AllowHeaders:     []string{"content-type", "authorization"},
		AllowCredentials: true,
	}))
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	NewServer(svc).Register(e)
	return e
}

// Register mounts the routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "wapplibre")
	})
	e.POST("/api", s.handleRPC)
}

func (s *Server) handleRPC(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusOK, newErrorResponse(nil, &Error{Code: CodeParseError, Message: "failed to read request body"}))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return c.JSON(http.StatusOK, newErrorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "empty request"}))
	}

	ctx := c.Request().Context()

	// Batch requests start with '['.
	if body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			return c.JSON(http.StatusOK, newErrorResponse(nil, &Error{Code: CodeParseError, Message: "parse error"}))
		}
		if len(batch) == 0 {
			return c.JSON(http.StatusOK, newErrorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "empty batch"}))
		}

		responses := make([]Response, 0, len(batch))
		for _, raw := range batch {
			var req Request
			if err := json.Unmarshal(raw, &req); err != nil {
				responses = append(responses, newErrorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "invalid request"}))
				continue
			}
			resp := s.handle(ctx, &req)
			if !req.IsNotification() {
				responses = append(responses, resp)
			}
		}

		if len(responses) == 0 {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, responses)
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return c.JSON(http.StatusOK, newErrorResponse(nil, &Error{Code: CodeParseError, Message: "parse error"}))
		}
		return c.JSON(http.StatusOK, newErrorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "invalid request"}))
	}

	resp := s.handle(ctx, &req)
	if req.IsNotification() {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, resp)
}

// handle runs one request and builds its response.
func (s *Server) handle(ctx context.Context, req *Request) Response {
	if req.JSONRPC != Version || req.Method == "" {
		return newErrorResponse(req.ID, &Error{Code: CodeInvalidRequest, Message: "invalid request"})
	}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return newErrorResponse(req.ID, rpcErr)
		}
		if errs.CodeOf(err) == errs.CodeTransient {
			slog.Error("rpc call failed", "method", req.Method, "error", err)
		} else {
			slog.Debug("rpc call rejected", "method", req.Method, "error", err)
		}
		return newErrorResponse(req.ID, toRPCError(err))
	}
	return newResult(req.ID, result)
}

// schemaParams accepts the model either directly under "model" or as a
// stored document under "data", where it sits under data.model.
type schemaParams struct {
	Name  string          `json:"name"`
	Model json.RawMessage `json:"model"`
	Data  json.RawMessage `json:"data"`
}

// model decodes the schema model carried by p.
func (p schemaParams) model() (ir.Value, error) {
	raw := p.Model
	if len(raw) == 0 {
		raw = p.Data
	}
	if len(raw) == 0 {
		return nil, errs.Validation("model is required")
	}
	v, err := ir.Unmarshal(raw)
	if err != nil {
		return nil, errs.Validation("model: %v", err)
	}
	if len(p.Model) == 0 {
		if obj, ok := v.(ir.Object); ok {
			if model, ok := obj["model"]; ok {
				return model, nil
			}
		}
	}
	return v, nil
}

type entityParams struct {
	Name  string          `json:"name"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
	Query string          `json:"query"`
}

type eventParams struct {
	Data json.RawMessage `json:"data"`
}

func (s *Server) dispatch(ctx context.Context, req *Request) (json.RawMessage, error) {
	switch req.Method {
	case "saveEntitySchema":
		var p schemaParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		model, err := p.model()
		if err != nil {
			return nil, err
		}
		return nil, s.svc.SaveEntitySchema(ctx, p.Name, model)

	case "getEntitySchema":
		var p schemaParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		resolved, err := s.svc.GetEntitySchema(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		return resolved.MarshalJSON()

	case "saveEntity":
		var p entityParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.svc.SaveEntity(ctx, p.Name, p.ID, p.Data)

	case "getEntity":
		var p entityParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.svc.GetEntity(ctx, p.Name, p.ID)

	case "getEntities":
		var p entityParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		results, err := s.svc.GetEntities(ctx, p.Name, p.Query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(results)

	case "publishEvent":
		var p eventParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := s.svc.PublishEvent(ctx, p.Data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"id": id.String()})
	}

	return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
}

// decodeParams unmarshals a params object. Absent params decode as {}.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}
