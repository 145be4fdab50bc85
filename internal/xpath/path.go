package xpath

import (
	"net/url"
	"path"
	"strings"

	"github.com/mdouchement/modelsync/internal/syncerror"
)

// Sanitize normalizes a manifest destination subpath. It rejects absolute
// paths and any path escaping the model root.
func Sanitize(p string) (string, error) {
	cp, err := url.PathUnescape(p)
	if err == nil {
		p = cp
	}
	p = strings.ReplaceAll(p, "\\", "/")

	if strings.HasPrefix(p, "/") {
		return "", syncerror.Newf(syncerror.Validation, "absolute destination path: %s", p)
	}

	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", syncerror.Newf(syncerror.Validation, "destination path escapes the model root: %s", p)
	}
	if p == "." {
		p = ""
	}
	return p, nil
}

// Filename takes the path p and extracts its last element, URL-unescaped.
func Filename(p string) string {
	cp, err := url.PathUnescape(p)
	if err == nil {
		p = cp
	}

	artifacts := strings.Split(p, "/")
	return artifacts[len(artifacts)-1]
}
