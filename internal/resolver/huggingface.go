package resolver

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/pkg/errors"
)

// HuggingFaceBaseURL is the production endpoint of the HuggingFace Hub.
const HuggingFaceBaseURL = "https://huggingface.co"

type (
	hfModel struct {
		ID       string      `json:"id"`
		Siblings []hfSibling `json:"siblings"`
	}

	hfSibling struct {
		Rfilename string `json:"rfilename"`
		Size      int64  `json:"size"`
		Lfs       *struct {
			Oid  string `json:"oid"`
			Size int64  `json:"size"`
		} `json:"lfs,omitempty"`
	}
)

// HuggingFace resolves entries against the HuggingFace Hub API.
// SourceID is the repository path, e.g. "stabilityai/sdxl-vae".
type HuggingFace struct {
	BaseURL  string
	Token    string
	Revision string

	client *APIClient
}

// NewHuggingFace returns a HuggingFace resolver pinned on the main revision.
func NewHuggingFace(token string, attempts uint64) *HuggingFace {
	return &HuggingFace{
		BaseURL:  HuggingFaceBaseURL,
		Token:    token,
		Revision: "main",
		client:   NewAPIClient(attempts),
	}
}

// Resolve implements Resolver.
func (r *HuggingFace) Resolve(ctx context.Context, entry model.Entry) (model.Asset, error) {
	var m hfModel
	// blobs=true exposes the LFS metadata holding sizes and sha256 digests.
	err := r.client.GetJSON(ctx, r.BaseURL+"/api/models/"+entry.SourceID+"?blobs=true", r.header(), &m)
	if err != nil {
		return model.Asset{}, errors.Wrapf(err, "huggingface %s", entry.SourceID)
	}

	sibling, err := r.pick(entry, m.Siblings)
	if err != nil {
		return model.Asset{}, errors.Wrapf(err, "huggingface %s", entry.SourceID)
	}

	asset := model.Asset{
		DownloadURL: r.BaseURL + "/" + entry.SourceID + "/resolve/" + r.Revision + "/" + sibling.Rfilename,
		Filename:    entry.Prefix + path.Base(sibling.Rfilename),
		Size:        sibling.Size,
		Header:      r.header(),
	}
	if sibling.Lfs != nil {
		asset.SHA256 = strings.ToLower(sibling.Lfs.Oid)
		if sibling.Lfs.Size > 0 {
			asset.Size = sibling.Lfs.Size
		}
	}
	return asset, nil
}

// pick selects the repository file matching the entry's filename glob or,
// when unspecified, the first weights file at the repository root.
func (r *HuggingFace) pick(entry model.Entry, siblings []hfSibling) (*hfSibling, error) {
	if entry.Filename != "" {
		for i := range siblings {
			ok, err := path.Match(entry.Filename, siblings[i].Rfilename)
			if err != nil {
				return nil, syncerror.Wrap(syncerror.Validation, err, "bad filename pattern")
			}
			if ok || siblings[i].Rfilename == entry.Filename {
				return &siblings[i], nil
			}
		}
		return nil, syncerror.Newf(syncerror.Resolution, "no file matching %q", entry.Filename)
	}

	for i := range siblings {
		if strings.Contains(siblings[i].Rfilename, "/") {
			continue
		}
		if isWeightsFile(siblings[i].Rfilename) {
			return &siblings[i], nil
		}
	}
	return nil, syncerror.New(syncerror.Resolution, "no weights file at the repository root")
}

func (r *HuggingFace) header() http.Header {
	header := http.Header{}
	header.Set("User-Agent", "modelsync")
	if r.Token != "" {
		header.Set("Authorization", "Bearer "+r.Token)
	}
	return header
}
