package agent

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// reflectSchema derives a tool's JSON schema from its argument struct so
// the wire schema can never drift from the Go type that decodes it.
func reflectSchema(target any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		ExpandedStruct:             true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: false,
	}
	schema := reflector.Reflect(target)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode reflected schema: %w", err)
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

func mustSchema(target any) map[string]any {
	schema, err := reflectSchema(target)
	if err != nil {
		panic(err)
	}
	return schema
}
