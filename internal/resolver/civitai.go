package resolver

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/pkg/errors"
)

// CivitaiBaseURL is the production endpoint of the Civitai API.
const CivitaiBaseURL = "https://civitai.com"

type (
	civitaiVersion struct {
		ID    int           `json:"id"`
		Name  string        `json:"name"`
		Files []civitaiFile `json:"files"`
	}

	civitaiModel struct {
		ID            int              `json:"id"`
		Name          string           `json:"name"`
		Type          string           `json:"type"`
		ModelVersions []civitaiVersion `json:"modelVersions"`
	}

	civitaiFile struct {
		Name        string            `json:"name"`
		SizeKB      float64           `json:"sizeKB"`
		Type        string            `json:"type"`
		Primary     bool              `json:"primary"`
		DownloadURL string            `json:"downloadUrl"`
		Hashes      map[string]string `json:"hashes"`
		Metadata    struct {
			Format string `json:"format"`
			Size   string `json:"size"`
		} `json:"metadata"`
	}
)

// A CivitaiFilePolicy picks one file within a model version.
// It returns nil when no file is acceptable.
type CivitaiFilePolicy func(entry model.Entry, files []civitaiFile) *civitaiFile

// Civitai resolves entries against the Civitai REST API.
// SourceID forms: "<model_id>" (latest version) or "<model_id>@<version_id>".
type Civitai struct {
	BaseURL string
	Token   string
	Policy  CivitaiFilePolicy

	client *APIClient
}

// NewCivitai returns a Civitai resolver using the default file policy.
func NewCivitai(token string, attempts uint64) *Civitai {
	return &Civitai{
		BaseURL: CivitaiBaseURL,
		Token:   token,
		Policy:  DefaultCivitaiFilePolicy,
		client:  NewAPIClient(attempts),
	}
}

// Resolve implements Resolver.
func (r *Civitai) Resolve(ctx context.Context, entry model.Entry) (model.Asset, error) {
	version, err := r.version(ctx, entry)
	if err != nil {
		return model.Asset{}, errors.Wrapf(err, "civitai %s", entry.SourceID)
	}

	file := r.Policy(entry, version.Files)
	if file == nil {
		return model.Asset{}, syncerror.Newf(syncerror.Resolution, "civitai %s: no usable file in version %d", entry.SourceID, version.ID)
	}

	url := file.DownloadURL
	if url == "" {
		url = r.BaseURL + "/api/download/models/" + strconv.Itoa(version.ID)
	}
	// The download endpoint authenticates through a query parameter, not
	// a Bearer header.
	if r.Token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + r.Token
	}

	return model.Asset{
		DownloadURL: url,
		Filename:    entry.Prefix + file.Name,
		Size:        int64(file.SizeKB * 1024),
		SHA256:      strings.ToLower(file.Hashes["SHA256"]),
		Header:      http.Header{},
	}, nil
}

func (r *Civitai) version(ctx context.Context, entry model.Entry) (*civitaiVersion, error) {
	modelID, versionID := splitSourceID(entry.SourceID)

	if versionID != "" {
		var version civitaiVersion
		err := r.client.GetJSON(ctx, r.BaseURL+"/api/v1/model-versions/"+versionID, r.header(), &version)
		if err != nil {
			return nil, err
		}
		return &version, nil
	}

	var m civitaiModel
	err := r.client.GetJSON(ctx, r.BaseURL+"/api/v1/models/"+modelID, r.header(), &m)
	if err != nil {
		return nil, err
	}
	if len(m.ModelVersions) == 0 {
		return nil, syncerror.New(syncerror.Resolution, "model has no versions")
	}
	return &m.ModelVersions[0], nil
}

func (r *Civitai) header() http.Header {
	header := http.Header{}
	header.Set("User-Agent", "modelsync")
	if r.Token != "" {
		header.Set("Authorization", "Bearer "+r.Token)
	}
	return header
}

// DefaultCivitaiFilePolicy is the deterministic file tie-break:
//  1. the file named by the entry's expected filename,
//  2. the file flagged primary,
//  3. the file tagged as the pruned variant,
//  4. the first file with a recognized weights extension.
func DefaultCivitaiFilePolicy(entry model.Entry, files []civitaiFile) *civitaiFile {
	if entry.Filename != "" {
		for i := range files {
			if files[i].Name == entry.Filename {
				return &files[i]
			}
		}
		return nil
	}

	for i := range files {
		if files[i].Primary {
			return &files[i]
		}
	}

	for i := range files {
		if strings.EqualFold(files[i].Metadata.Size, "pruned") {
			return &files[i]
		}
	}

	for i := range files {
		if isWeightsFile(files[i].Name) {
			return &files[i]
		}
	}
	return nil
}

func splitSourceID(id string) (modelID, versionID string) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
