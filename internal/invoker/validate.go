package invoker

import (
	"fmt"

	"github.com/taskbeat/taskbeat/internal/registry"
)

// validateParameters checks supplied against the manifest's declared
// parameter schema (spec.md §4.6 step 3): every required parameter must be
// present, every present parameter's Go-decoded JSON type must match its
// declared type, and missing optional parameters are filled from their
// declared default. Parameters not named in the schema pass through
// unchanged — manifests are not required to be exhaustive.
func validateParameters(schema map[string]registry.ParameterSpec, supplied map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(supplied))
	for k, v := range supplied {
		out[k] = v
	}

	for name, spec := range schema {
		value, present := supplied[name]
		if !present {
			if spec.Required {
				return nil, fmt.Errorf("missing required parameter %q", name)
			}
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			return nil, fmt.Errorf("parameter %q: expected %s, got %T", name, spec.Type, value)
		}
	}
	return out, nil
}

func typeMatches(t registry.ParameterType, value any) bool {
	switch t {
	case registry.TypeString:
		_, ok := value.(string)
		return ok
	case registry.TypeInteger:
		switch value.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case registry.TypeNumber:
		switch value.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case registry.TypeBoolean:
		_, ok := value.(bool)
		return ok
	case registry.TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case registry.TypeArray:
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}
