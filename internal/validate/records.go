// Package validate compiles per-collection JSON Schemas and validates
// decoded federation records against them before they are projected into
// the analytical tier.
package validate

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds one compiled schema per collection.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles the built-in collection schemas (spec §6 collections
// consumed by the core). An unknown collection simply has no schema and is
// not validated — unknown collections are ignored upstream of this package.
func NewRegistry() (*Registry, error) {
	r := &Registry{schemas: map[string]*jsonschema.Schema{}}
	compiler := jsonschema.NewCompiler()
	for name, raw := range builtinSchemas {
		url := "weaver:///" + name
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			return nil, fmt.Errorf("validate: decode schema %s: %w", name, err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("validate: add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("validate: compile schema %s: %w", name, err)
		}
		r.schemas[name] = schema
	}
	return r, nil
}

// Validate checks a decoded record (as produced by jsonschema.UnmarshalJSON,
// or any JSON-shaped any) against the schema for collection. A collection
// with no registered schema always passes.
func (r *Registry) Validate(collection string, instance any) error {
	r.mu.RLock()
	schema, ok := r.schemas[collection]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return schema.Validate(instance)
}

// ValidateJSON is a convenience wrapper that decodes raw JSON bytes before
// validating, for callers holding json.RawMessage straight off the wire.
func (r *Registry) ValidateJSON(collection string, raw []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[collection]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("validate: decode instance: %w", err)
	}
	return schema.Validate(instance)
}

var builtinSchemas = map[string]string{
	"weaver.actor.profile": `{
		"type": "object",
		"required": ["displayName", "createdAt"],
		"properties": {
			"displayName": {"type": "string", "maxLength": 640},
			"description": {"type": "string", "maxLength": 2560},
			"createdAt": {"type": "string"}
		}
	}`,
	"weaver.notebook.book": `{
		"type": "object",
		"required": ["title", "createdAt"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 640},
			"path": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"publishGlobal": {"type": "boolean"},
			"authorDids": {"type": "array", "items": {"type": "string"}},
			"entryUris": {"type": "array", "items": {"type": "string"}},
			"createdAt": {"type": "string"},
			"updatedAt": {"type": "string"}
		}
	}`,
	"weaver.notebook.entry": `{
		"type": "object",
		"required": ["title", "createdAt"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 640},
			"path": {"type": "string"},
			"content": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"authorDids": {"type": "array", "items": {"type": "string"}},
			"embeds": {"type": "array", "items": {"type": "string"}},
			"createdAt": {"type": "string"},
			"updatedAt": {"type": "string"}
		}
	}`,
	"weaver.edit.root": `{
		"type": "object",
		"required": ["doc", "createdAt"],
		"properties": {
			"doc": {"type": "object", "required": ["value"]},
			"snapshot": {"type": "object"},
			"createdAt": {"type": "string"}
		}
	}`,
	"weaver.edit.diff": `{
		"type": "object",
		"required": ["root", "doc", "createdAt"],
		"properties": {
			"root": {"type": "object", "required": ["uri", "cid"]},
			"prev": {"type": "object", "required": ["uri", "cid"]},
			"inlineDiff": {},
			"snapshot": {"type": "object"},
			"doc": {"type": "object", "required": ["value"]},
			"createdAt": {"type": "string"}
		}
	}`,
	"weaver.collab.invite": `{
		"type": "object",
		"required": ["resource", "invitee", "scope", "expiresAt", "createdAt"],
		"properties": {
			"resource": {"type": "object", "required": ["uri", "cid"]},
			"invitee": {"type": "string"},
			"scope": {"type": "string", "enum": ["edit", "comment", "view"]},
			"message": {"type": "string"},
			"expiresAt": {"type": "string"},
			"createdAt": {"type": "string"}
		}
	}`,
	"weaver.collab.accept": `{
		"type": "object",
		"required": ["invite", "resource", "createdAt"],
		"properties": {
			"invite": {"type": "object", "required": ["uri", "cid"]},
			"resource": {"type": "string"},
			"createdAt": {"type": "string"}
		}
	}`,
	"weaver.collab.session": `{
		"type": "object",
		"required": ["resource", "nodeId", "createdAt"],
		"properties": {
			"resource": {"type": "object", "required": ["uri", "cid"]},
			"nodeId": {"type": "string"},
			"relayUrl": {"type": "string"},
			"createdAt": {"type": "string"},
			"expiresAt": {"type": "string"}
		}
	}`,
}
