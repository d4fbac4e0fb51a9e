package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateArguments checks tool-call arguments against the tool's JSON
// Schema. A nil or empty schema accepts anything. A schema that fails to
// compile fails closed: the call is rejected rather than executed
// unvalidated. Validation failures aggregate every failing instance path
// plus the received arguments, pretty-printed.
func ValidateArguments(def Definition, args map[string]any) error {
	if len(def.Parameters) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(def.Parameters)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		// Fail closed on schema compile errors.
		return fmt.Errorf("internal error: schema compilation failed for tool %q: %w", def.Name, err)
	}
	if result.Valid() {
		return nil
	}

	var lines []string
	for _, verr := range result.Errors() {
		field := verr.Field()
		if field == "" {
			field = "root"
		}
		lines = append(lines, fmt.Sprintf("  - %s: %s", field, verr.Description()))
	}
	received, merr := json.MarshalIndent(args, "", "  ")
	if merr != nil {
		received = []byte("(unprintable)")
	}
	return fmt.Errorf("Validation failed for tool %q:\n%s\n\nReceived arguments:\n%s",
		def.Name, strings.Join(lines, "\n"), received)
}
