package collection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/modelsync/internal/manifest"
	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/resolver"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/pkg/errors"
)

// typeDirs maps a Civitai model type to its destination subpath.
var typeDirs = map[string]string{
	"LORA":              "loras",
	"LoCon":             "loras",
	"DoRA":              "loras",
	"Checkpoint":        "checkpoints",
	"TextualInversion":  "embeddings",
	"VAE":               "vae",
	"ControlNet":        "controlnet",
	"Upscaler":          "upscale_models",
	"Poses":             "poses",
	"Wildcards":         "wildcards",
	"MotionModule":      "animatediff_models",
	"AestheticGradient": "aesthetic_embeddings",
}

type (
	collectionPage struct {
		Result struct {
			Data struct {
				JSON struct {
					CollectionItems []collectionItem `json:"collectionItems"`
					NextCursor      *string          `json:"nextCursor"`
				} `json:"json"`
			} `json:"data"`
		} `json:"result"`
	}

	collectionItem struct {
		ID   int    `json:"id"`
		Type string `json:"type"`
		Data struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"data"`
	}
)

// An Exporter turns a Civitai collection listing into a manifest the
// loader consumes, one entry per model of the collection.
type Exporter struct {
	Logger  logger.Logger
	BaseURL string
	Token   string

	client *resolver.APIClient
}

// NewExporter returns an Exporter against the production Civitai API.
func NewExporter(l logger.Logger, token string, attempts uint64) *Exporter {
	return &Exporter{
		Logger:  l,
		BaseURL: resolver.CivitaiBaseURL,
		Token:   token,
		client:  resolver.NewAPIClient(attempts),
	}
}

// Export pages through the collection and builds the manifest.
func (e *Exporter) Export(ctx context.Context, collectionID int) (*manifest.Manifest, error) {
	m := &manifest.Manifest{
		Name: "collection_" + strconv.Itoa(collectionID),
	}

	seen := map[string]int{}

	var cursor *string
	for {
		page, err := e.page(ctx, collectionID, cursor)
		if err != nil {
			return nil, errors.Wrapf(err, "collection %d", collectionID)
		}

		items := page.Result.Data.JSON.CollectionItems
		if len(items) == 0 && len(m.Entries) == 0 {
			return nil, syncerror.Newf(syncerror.Resolution, "collection %d is empty or inaccessible", collectionID)
		}

		for _, item := range items {
			if item.Type != "model" {
				continue
			}

			dir, ok := typeDirs[item.Data.Type]
			if !ok {
				dir = "checkpoints"
			}

			name := slug(item.Data.Name)
			seen[name]++
			// The loader rejects duplicate names.
			if seen[name] > 1 {
				name += "_" + strconv.Itoa(seen[name])
			}

			e.Logger.Infof("[%s] %s", strings.ToUpper(item.Type), item.Data.Name)
			m.Entries = append(m.Entries, model.Entry{
				Name:     name,
				Source:   model.SourceCivitai,
				SourceID: strconv.Itoa(item.Data.ID),
				Path:     dir,
			})
		}

		// An empty page ends the listing even when the server still hands
		// out a cursor.
		cursor = page.Result.Data.JSON.NextCursor
		if cursor == nil || len(items) == 0 {
			break
		}
	}

	if len(m.Entries) == 0 {
		return nil, syncerror.Newf(syncerror.Resolution, "collection %d holds no models", collectionID)
	}
	return m, nil
}

func (e *Exporter) page(ctx context.Context, collectionID int, cursor *string) (*collectionPage, error) {
	input := map[string]interface{}{"collectionId": collectionID}
	if cursor != nil {
		input["cursor"] = *cursor
	}

	payload, err := json.Marshal(map[string]interface{}{"json": input})
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize the query")
	}

	endpoint := e.BaseURL + "/api/trpc/collection.getAllCollectionItems?input=" + url.QueryEscape(string(payload))

	var page collectionPage
	err = e.client.GetJSON(ctx, endpoint, e.header(), &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (e *Exporter) header() http.Header {
	header := http.Header{}
	header.Set("User-Agent", "modelsync")
	header.Set("Content-Type", "application/json")
	if e.Token != "" {
		header.Set("Authorization", "Bearer "+e.Token)
	}
	return header
}

// slug normalizes a model name into a manifest entry name.
func slug(name string) string {
	var sb strings.Builder
	var last rune

	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			last = r
		default:
			if last != '_' && sb.Len() > 0 {
				sb.WriteRune('_')
				last = '_'
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}
