package extraction

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// detailsSchema accepts the loose types models produce; normalisation
// narrows them afterwards.
var detailsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"agreement_value":      map[string]any{"type": []string{"number", "string", "null"}},
		"agreement_start_date": map[string]any{"type": []string{"string", "null"}},
		"agreement_end_date":   map[string]any{"type": []string{"string", "null"}},
		"renewal_notice_days":  map[string]any{"type": []string{"number", "string", "null"}},
		"party_one":            map[string]any{"type": []string{"string", "null"}},
		"party_two":            map[string]any{"type": []string{"string", "null"}},
	},
}

var schemaLoader = gojsonschema.NewGoLoader(detailsSchema)

// validateObject checks a decoded reply against detailsSchema.
func validateObject(obj map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(obj))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(problems, ", "))
}
