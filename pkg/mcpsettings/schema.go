package mcpsettings

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// settingsSchema describes the settings document: a required servers object
// whose entries carry either a process payload (command) or a network payload
// (url), never both. Timeout clamping is handled in Go, not here.
var settingsSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"servers"},
	Properties: map[string]*jsonschema.Schema{
		"servers": {
			Type:                 "object",
			AdditionalProperties: serverEntrySchema,
		},
	},
}

var serverEntrySchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"command":        {Type: "string"},
		"args":           {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"env":            {Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}},
		"url":            {Type: "string"},
		"disabled":       {Type: "boolean"},
		"autoApprove":    {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"timeoutSeconds": {Type: "integer"},
	},
	AnyOf: []*jsonschema.Schema{
		{Required: []string{"command"}},
		{Required: []string{"url"}},
	},
	Not: &jsonschema.Schema{Required: []string{"command", "url"}},
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	return settingsSchema.Resolve(nil)
})

// ValidationError reports a malformed or schema-violating settings document.
// Callers keep serving their last-known-good configuration when they see one.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("mcpsettings: invalid settings: %v", e.Err)
	}
	return fmt.Sprintf("mcpsettings: invalid settings at %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ParseDocument validates data against the settings schema and decodes it
// into an order-preserving Document. path is only used in error reports.
func ParseDocument(data []byte, path string) (*Document, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}
	resolved, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("mcpsettings: resolve settings schema: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}
	for _, name := range doc.Names() {
		cfg, ok := doc.Get(name)
		if !ok {
			return nil, &ValidationError{Path: path, Err: fmt.Errorf("server %q: malformed entry", name)}
		}
		if err := cfg.validate(name); err != nil {
			return nil, &ValidationError{Path: path, Err: err}
		}
	}
	return &doc, nil
}
