package ir

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Entity is a stored record of a given schema type.
// Identity is (Type, ID); Data is an arbitrary JSON document.
type Entity struct {
	ID   uuid.UUID       `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EntityRelation is a named, directed edge between two entities.
// Primary key is (FromEntity, ToEntity, Name).
type EntityRelation struct {
	FromEntity uuid.UUID       `json:"from_entity"`
	ToEntity   uuid.UUID       `json:"to_entity"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Event is a durable fact waiting in the propagation queue.
// Seq is the queue's insertion order; events are delivered by ascending Seq.
type Event struct {
	ID   uuid.UUID       `json:"id"`
	Seq  int64           `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// SchemaDocument is a named schema as stored in the registry.
type SchemaDocument struct {
	Name  string `json:"name"`
	Model Value  `json:"model"`
}

// MarshalJSON implements json.Marshaler for SchemaDocument.
func (d SchemaDocument) MarshalJSON() ([]byte, error) {
	model, err := MarshalCanonical(d.Model)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Name  string          `json:"name"`
		Model json.RawMessage `json:"model"`
	}{d.Name, model})
}

// ResolvedSchema is a self-contained view of a schema: every Ref in Model
// is replaced by a pointer token, and Definitions holds the resolved body
// of every schema transitively referenced from the root.
type ResolvedSchema struct {
	Name        string
	Model       Value
	Definitions map[string]Value
}

// Document returns the JSON form of the resolution.
//
// When Model is an object, the definitions are attached to it under
// "definitions" so that "#/definitions/<name>" pointers resolve against
// the model itself. Otherwise they are returned next to the model.
func (r *ResolvedSchema) Document() Object {
	defs := make(Object, len(r.Definitions))
	for name, body := range r.Definitions {
		defs[name] = body
	}

	if obj, ok := r.Model.(Object); ok {
		// Local definitions written by the schema author are kept;
		// resolved schemas win on name clashes.
		if own, ok := obj["definitions"].(Object); ok {
			for name, body := range own {
				if _, taken := defs[name]; !taken {
					defs[name] = body
				}
			}
		}
		model := make(Object, len(obj)+1)
		for k, v := range obj {
			model[k] = v
		}
		model["definitions"] = defs
		return Object{"name": String(r.Name), "model": model}
	}
	return Object{"name": String(r.Name), "model": r.Model, "definitions": defs}
}

// MarshalJSON implements json.Marshaler for ResolvedSchema.
func (r *ResolvedSchema) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(r.Document())
}
