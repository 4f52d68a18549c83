package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const caseSchemaID = "https://github.com/marcohefti/skilleval/schemas/test-case.json"

// GenerateCaseSchema produces the JSON Schema (Draft 2020-12) for one
// dataset record, derived from TestCase.
func GenerateCaseSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&TestCase{})
	s.ID = caseSchemaID
	s.Title = "skilleval test case"
	s.Description = "One line of a skilleval dataset (JSONL)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

var (
	compiledOnce sync.Once
	compiled     *sjsonschema.Schema
	compiledErr  error
)

func caseSchema() (*sjsonschema.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := GenerateCaseSchema()
		if err != nil {
			compiledErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			compiledErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("test-case.json", doc); err != nil {
			compiledErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compiledErr = c.Compile("test-case.json")
		if compiledErr != nil {
			compiledErr = fmt.Errorf("compile schema: %w", compiledErr)
		}
	})
	return compiled, compiledErr
}

// SchemaIssue is one leaf validation failure inside a record.
type SchemaIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i SchemaIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return "/" + i.Path + ": " + i.Message
}

// ValidateRecord checks one raw JSON record against the case schema.
func ValidateRecord(raw []byte) ([]SchemaIssue, error) {
	sch, err := caseSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []SchemaIssue{{Message: "invalid json: " + err.Error()}}, nil
	}
	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []SchemaIssue{{Message: err.Error()}}, nil
		}
		var issues []SchemaIssue
		for _, cause := range flattenValidationErrors(ve) {
			issues = append(issues, SchemaIssue{
				Path:    strings.Join(cause.InstanceLocation, "/"),
				Message: fmt.Sprintf("%v", cause.ErrorKind),
			})
		}
		return issues, nil
	}
	return nil, nil
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
