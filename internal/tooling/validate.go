package tooling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache compiles each tool's InputSchema once and reuses it.
type schemaCache struct {
	mu     sync.Mutex
	byName map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{byName: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(toolName string, schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.byName[toolName]; ok {
		return s, nil
	}

	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", toolName, err)
	}

	resourceURL := "lace://tool/" + toolName
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", toolName, err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	c.byName[toolName] = schema
	return schema, nil
}

// ValidationError reports every field path that failed schema
// validation.
type ValidationError struct {
	ToolName string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.ToolName, e.Message)
}

func (c *schemaCache) validate(toolName string, schemaJSON json.RawMessage, args json.RawMessage) error {
	schema, err := c.compile(toolName, schemaJSON)
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return &ValidationError{ToolName: toolName, Message: "arguments are not valid JSON: " + err.Error()}
	}

	if err := schema.Validate(instance); err != nil {
		return &ValidationError{ToolName: toolName, Message: err.Error()}
	}
	return nil
}
