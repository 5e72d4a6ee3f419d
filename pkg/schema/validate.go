package schema

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/covenant-data/covenant/pkg/errs"
)

// Validate checks that raw is a structurally valid JSON Schema document by
// compiling it. Compilation enforces the metaschema (keyword types, pattern
// syntax, $ref shape) without evaluating any instance data.
func Validate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return errs.New(errs.KindValidation, "schema document is empty")
	}

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return errs.Wrap(errs.KindValidation, err, "schema is not valid JSON")
	}
	if _, ok := probe.(map[string]any); !ok {
		return errs.New(errs.KindValidation, "schema must be a JSON object")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("contract.json", bytes.NewReader(raw)); err != nil {
		return errs.Wrap(errs.KindValidation, err, "schema resource rejected")
	}
	if _, err := compiler.Compile("contract.json"); err != nil {
		return errs.Wrap(errs.KindValidation, err, "schema does not compile")
	}
	return nil
}
