package completion

import "os"

// ModelEnvVar is the environment variable consulted when no model is given explicitly.
const ModelEnvVar = "LLM_MODEL"

// ResolveModel picks the model for a run.
//
// Priority: explicit value, then $LLM_MODEL, then fallback.
func ResolveModel(explicit, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(ModelEnvVar); env != "" {
		return env
	}
	return fallback
}
