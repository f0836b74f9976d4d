package record

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed insights.schema.json
var schemaJSON []byte

type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Keyword string `json:"keyword"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

type Validator struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("insights.schema.json", doc); err != nil {
		return nil, fmt.Errorf("register schema: %w", err)
	}
	schema, err := compiler.Compile("insights.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema, printer: message.NewPrinter(language.English)}, nil
}

// Validate checks one record against the insights schema and returns the
// flattened list of violations, nil when the record is valid.
func (v *Validator) Validate(r Record) []Issue {
	err := v.schema.Validate(map[string]any(r))
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Message: err.Error()}}
	}
	var issues []Issue
	v.collect(verr, &issues)
	return issues
}

func (v *Validator) collect(e *jsonschema.ValidationError, out *[]Issue) {
	if len(e.Causes) == 0 {
		path := e.ErrorKind.KeywordPath()
		keyword := ""
		if len(path) > 0 {
			keyword = path[len(path)-1]
		}
		*out = append(*out, Issue{
			Field:   "/" + strings.Join(e.InstanceLocation, "/"),
			Message: e.ErrorKind.LocalizedString(v.printer),
			Keyword: keyword,
		})
		return
	}
	for _, cause := range e.Causes {
		v.collect(cause, out)
	}
}
