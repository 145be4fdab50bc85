package model

// A Record is the ledger row kept for every verified download. Repeat runs
// use it to skip files without re-hashing multiple gigabytes.
type Record struct {
	Base `json:",inline" storm:"inline"`

	Manifest string `json:"manifest" storm:"index"`
	Entry    string `json:"entry"    storm:"index"`

	// RelPath is the file location relative to the model root.
	RelPath  string `json:"rel_path" storm:"index"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
}
