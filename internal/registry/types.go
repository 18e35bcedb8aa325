// Package registry implements the Plugin Registry (C3): discovery of
// plugin directories, manifest parsing, and per-plugin dependency
// environment / env-file management.
package registry

// ParameterType enumerates the option types a manifest parameter may
// declare (spec.md §4.4).
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeInteger ParameterType = "integer"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
	TypeObject  ParameterType = "object"
	TypeArray   ParameterType = "array"
)

// ParameterSpec describes one manifest-declared parameter (spec.md §3
// "parameters (schema: per-name {type, required, default, description})").
type ParameterSpec struct {
	Type        ParameterType `json:"type"`
	Required    bool          `json:"required"`
	Default     any           `json:"default,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Manifest is the on-disk plugin manifest (spec.md §3, §6).
type Manifest struct {
	Name          string                   `json:"name"`
	Version       string                   `json:"version"`
	EntryPoint    string                   `json:"entry_point"`
	Parameters    map[string]ParameterSpec `json:"parameters"`
	Dependencies  []string                 `json:"dependencies"`
	PythonVersion string                   `json:"python_version,omitempty"`
	Enabled       bool                     `json:"enabled"`
	Tags          []string                 `json:"tags,omitempty"`
}

const ManifestFilename = "manifest.json"
