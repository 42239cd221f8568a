package toolexec

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bvandewe/agent-gateway/internal/catalog"
	"github.com/bvandewe/agent-gateway/internal/errkind"
)

// SchemaValidator compiles and caches JSON schemas per tool id, grounded on
// the teacher's validatePayloadJSONAgainstSchema (registry/service.go):
// decode schema and payload as any, compile with jsonschema.NewCompiler,
// validate.
type SchemaValidator struct {
	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

// NewSchemaValidator constructs an empty, concurrency-safe validator cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cached: make(map[string]*jsonschema.Schema)}
}

// Validate checks arguments against toolID's input schema, reporting the
// failing JSON-pointer path on mismatch (§4.2 step 2).
func (v *SchemaValidator) Validate(toolID string, schema catalog.InputSchema, arguments map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := v.compile(toolID, schema)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "compile input schema")
	}

	// Round-trip through JSON so map[string]any carries the same
	// representation (numbers, nested types) the compiler expects.
	raw, err := json.Marshal(arguments)
	if err != nil {
		return errkind.Wrap(errkind.ValidationError, err, "encode arguments")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errkind.Wrap(errkind.ValidationError, err, "decode arguments")
	}

	if err := compiled.Validate(doc); err != nil {
		return validationErrkind(err)
	}
	return nil
}

func (v *SchemaValidator) compile(toolID string, schema catalog.InputSchema) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.cached[toolID]; ok {
		return c, nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	resource := toolID + ".schema.json"
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cached[toolID] = compiled
	return compiled, nil
}

// validationErrkind converts a jsonschema.ValidationError into a
// errkind.ValidationError carrying the failing instance's JSON pointer.
func validationErrkind(err error) error {
	path := ""
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		path = "/" + strings.Join(ve.InstanceLocation, "/")
	}
	return errkind.New(errkind.ValidationError, err.Error()).WithPath(path)
}
