package resolver

import (
	"context"
	"strings"

	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/syncerror"
)

// A Resolver translates a manifest entry into a fetchable asset with
// integrity metadata.
type Resolver interface {
	// Resolve produces the asset for the given entry.
	Resolve(ctx context.Context, entry model.Entry) (model.Asset, error)
}

// A Registry holds the closed set of resolver strategies keyed by source.
type Registry map[model.Source]Resolver

// For returns the resolver registered for the given source.
func (r Registry) For(source model.Source) (Resolver, error) {
	resolver, ok := r[source]
	if !ok {
		return nil, syncerror.Newf(syncerror.Validation, "no resolver for source %q", source)
	}
	return resolver, nil
}

// weightsExtensions is the set of filename extensions recognized as model
// weights when no better selection criterion applies.
var weightsExtensions = []string{
	".safetensors",
	".sft",
	".ckpt",
	".pt",
	".pth",
	".bin",
	".onnx",
	".gguf",
}

func isWeightsFile(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range weightsExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
