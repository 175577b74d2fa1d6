package capability

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator validates execution params against a manifest's
// input_schema. Compiled schemas are cached per capability+version so the
// hot path never recompiles.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// ValidateParams checks params against the manifest input_schema.
// An empty schema imposes no constraint. Returns a descriptive error on
// violation; the gateway maps it to 422.
func (v *SchemaValidator) ValidateParams(m *Manifest, params map[string]any) error {
	if len(m.InputSchema) == 0 {
		return nil
	}

	schema, err := v.schemaFor(m)
	if err != nil {
		return err
	}

	// jsonschema validates decoded JSON values; round-trip params so
	// numbers and nested types match what the compiler expects.
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("capability: params not JSON-encodable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("capability: params decode failed: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("capability: input schema violation: %w", err)
	}
	return nil
}

func (v *SchemaValidator) schemaFor(m *Manifest) (*jsonschema.Schema, error) {
	cacheKey := m.ID + "@" + m.Version

	v.mu.RLock()
	schema, ok := v.compiled[cacheKey]
	v.mu.RUnlock()
	if ok {
		return schema, nil
	}

	raw, err := json.Marshal(m.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("capability: input_schema not JSON-encodable: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://moat.schemas.local/capabilities/%s.schema.json", m.ID)
	if err := c.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("capability: schema load failed: %w", err)
	}
	schema, err = c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("capability: schema compile failed: %w", err)
	}

	v.mu.Lock()
	v.compiled[cacheKey] = schema
	v.mu.Unlock()
	return schema, nil
}
