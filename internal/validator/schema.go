package validator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/flowchat/pkg/domain"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/flow.schema.json
var flowSchemaJSON []byte

const flowSchemaURL = "https://flowchat.dev/schemas/flow.json"

// FlowSchema returns the embedded JSON Schema of flow documents.
func FlowSchema() []byte {
	return bytes.Clone(flowSchemaJSON)
}

// SchemaValidator validates flow documents against the flow JSON Schema.
// It is safe for concurrent use.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded flow schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(flowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource(flowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}
	schema, err := c.Compile(flowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// ValidateDocument validates a decoded document (JSON or YAML) against the schema.
func (v *SchemaValidator) ValidateDocument(doc any) error {
	value, err := toJSONValue(doc)
	if err != nil {
		return &domain.ValidationError{Reason: fmt.Sprintf("flow document is not JSON-compatible: %v", err)}
	}
	if err := v.schema.Validate(value); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidateJSON validates raw JSON bytes against the schema.
func (v *SchemaValidator) ValidateJSON(data []byte) error {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &domain.ValidationError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := v.schema.Validate(value); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func toValidationError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &domain.ValidationError{Reason: err.Error()}
	}
	violations := collectViolations(verr)
	if len(violations) == 0 {
		return &domain.ValidationError{Reason: verr.Error()}
	}
	return &domain.ValidationError{Reason: "schema violation: " + strings.Join(violations, "; ")}
}

// collectViolations walks a ValidationError tree and returns its leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
