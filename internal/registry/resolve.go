package registry

import (
	"context"
	"fmt"

	"github.com/apruden/wapplibre-server/internal/ir"
)

// resolver holds the state of one ResolveSchema call. The visited set is
// shared by the whole walk, so each schema is fetched at most once no
// matter how many paths reach it.
type resolver struct {
	ctx     context.Context
	reg     *Registry
	root    string
	visited map[string]bool
	defs    map[string]ir.Value
}

func newResolver(ctx context.Context, reg *Registry, root string) *resolver {
	return &resolver{
		ctx:     ctx,
		reg:     reg,
		root:    root,
		visited: map[string]bool{root: true},
		defs:    make(map[string]ir.Value),
	}
}

func (rs *resolver) resolve() (*ir.ResolvedSchema, error) {
	model, err := rs.reg.load(rs.ctx, rs.root)
	if err != nil {
		return nil, err
	}

	walked, err := rs.walk(model)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", rs.root, err)
	}

	return &ir.ResolvedSchema{
		Name:        rs.root,
		Model:       walked,
		Definitions: rs.defs,
	}, nil
}

// pointer returns the local pointer that replaces a reference to target.
// The root is not placed in definitions, so references to it point at
// the document itself.
func (rs *resolver) pointer(target string) string {
	if target == rs.root {
		return "#"
	}
	return "#/definitions/" + target
}

func (rs *resolver) walk(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case ir.Object:
		out := make(ir.Object, len(val))
		for k, child := range val {
			walked, err := rs.walk(child)
			if err != nil {
				return nil, err
			}
			out[k] = walked
		}
		return out, nil

	case ir.Array:
		out := make(ir.Array, len(val))
		for i, child := range val {
			walked, err := rs.walk(child)
			if err != nil {
				return nil, err
			}
			out[i] = walked
		}
		return out, nil

	case ir.Ref:
		if !rs.visited[val.Target] {
			rs.visited[val.Target] = true
			body, err := rs.reg.load(rs.ctx, val.Target)
			if err != nil {
				return nil, err
			}
			walked, err := rs.walk(body)
			if err != nil {
				return nil, err
			}
			rs.defs[val.Target] = walked
		}

		siblings, err := rs.walk(val.Siblings)
		if err != nil {
			return nil, err
		}
		ref := val
		ref.Siblings = siblings.(ir.Object)
		return ref.Object(rs.pointer(val.Target)), nil

	default:
		return v, nil
	}
}
