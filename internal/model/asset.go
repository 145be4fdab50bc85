package model

import "net/http"

// An Asset is the concrete, fetchable form of an Entry produced by a
// resolver. When SHA256 is known, the transfer is only valid once the
// downloaded bytes match it.
type Asset struct {
	// DownloadURL is the direct fetch URL.
	DownloadURL string
	// Filename is the final name of the file on disk.
	Filename string
	// Size is the expected byte count. Zero means unknown.
	Size int64
	// SHA256 is the expected checksum, lowercase hex. Empty means unknown.
	SHA256 string
	// Header carries the authentication headers required by the fetch.
	Header http.Header
}
