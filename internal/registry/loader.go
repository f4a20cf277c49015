package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/apruden/wapplibre-server/internal/ir"
)

// modelKey is the top-level key of a schema file that wraps its model.
// Files without it are taken to be the model itself.
const modelKey = "model"

// IsSchemaFile reports whether path has a supported schema extension.
func IsSchemaFile(path string) bool {
	switch filepath.Ext(path) {
	case ".json", ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

// SchemaName returns the name a schema file is stored under: its base
// name without extension.
func SchemaName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseFile reads a schema file and returns its model.
//
// JSON files are decoded as-is, YAML files with gopkg.in/yaml.v3, and CUE
// files are evaluated and exported to JSON, so they must be concrete.
func ParseFile(path string) (ir.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var doc ir.Value
	switch filepath.Ext(path) {
	case ".json":
		doc, err = ir.Unmarshal(data)
	case ".yaml", ".yml":
		doc, err = parseYAML(data)
	case ".cue":
		doc, err = parseCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	if obj, ok := doc.(ir.Object); ok {
		if model, ok := obj[modelKey]; ok {
			return model, nil
		}
	}
	return doc, nil
}

func parseYAML(data []byte) (ir.Value, error) {
	var raw any
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty document")
		}
		return nil, err
	}
	return ir.FromAny(raw)
}

func parseCUE(path string, data []byte) (ir.Value, error) {
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, err
	}
	exported, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return ir.Unmarshal(exported)
}

// LoadFile parses one schema file and saves it under its file name.
func (r *Registry) LoadFile(ctx context.Context, path string) (string, error) {
	model, err := ParseFile(path)
	if err != nil {
		return "", err
	}
	name := SchemaName(path)
	if err := r.SaveSchema(ctx, name, model); err != nil {
		return "", err
	}
	return name, nil
}

// LoadDir saves every schema file directly inside dir, overwriting stored
// documents of the same name, and returns how many were saved.
//
// A missing directory is not an error. Files that cannot be parsed are
// logged and skipped; a failure to store a parsed schema aborts the load.
func (r *Registry) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("schema directory not found, skipping bootstrap", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsSchemaFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		model, err := ParseFile(path)
		if err != nil {
			slog.Warn("skipping schema file", "path", path, "error", err)
			continue
		}
		name := SchemaName(path)
		if err := r.SaveSchema(ctx, name, model); err != nil {
			return loaded, err
		}
		slog.Debug("loaded schema", "name", name, "path", path)
		loaded++
	}

	slog.Info("schemas loaded", "dir", dir, "count", loaded)
	return loaded, nil
}
