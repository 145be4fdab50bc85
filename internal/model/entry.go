package model

// A Source identifies the upstream hosting a model file.
type Source string

const (
	// SourceCivitai designates the Civitai REST API.
	SourceCivitai Source = "civitai"
	// SourceHuggingFace designates the HuggingFace Hub API.
	SourceHuggingFace Source = "huggingface"
)

// Valid returns true if the source belongs to the recognized set.
func (s Source) Valid() bool {
	return s == SourceCivitai || s == SourceHuggingFace
}

func (s Source) String() string {
	return string(s)
}

// An Entry describes one model file to download. It is immutable once
// loaded from a manifest.
type Entry struct {
	// Name is the entry's unique key within a manifest.
	Name string `yaml:"name"`
	// Source selects the resolver strategy.
	Source Source `yaml:"source"`
	// SourceID identifies the model upstream.
	// Civitai: "<model_id>" or "<model_id>@<version_id>".
	// HuggingFace: "<owner>/<repo>".
	SourceID string `yaml:"id"`
	// Path is the destination subpath under the model root (e.g. "loras").
	Path string `yaml:"path"`
	// Prefix is prepended to the downloaded filename. Optional.
	Prefix string `yaml:"prefix,omitempty"`
	// Filename restricts the upstream file selection. For HuggingFace it
	// is matched as a glob against the repository files. Optional.
	Filename string `yaml:"filename,omitempty"`
}
