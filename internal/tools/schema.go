package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives the input schema of a tool from its argument
// struct. Fields without omitempty are required.
func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		panic("tools: marshal schema: " + err.Error())
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic("tools: unmarshal schema: " + err.Error())
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
