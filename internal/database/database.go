package database

import (
	"github.com/mdouchement/modelsync/internal/model"
)

type (
	// A Client can interacts with the database.
	Client interface {
		// Save inserts or updates the entry in database with the given model.
		Save(m model.Model) error
		// Delete deletes the entry in database with the given model.
		Delete(m model.Model) error
		// Close the database.
		Close() error
		// IsNotFound returns true if err is a not found error.
		IsNotFound(err error) bool

		RecordInteraction
	}

	// A RecordInteraction defines all the methods used to interact with a ledger record.
	RecordInteraction interface {
		AllRecords() ([]*model.Record, error)
		FindRecordsByManifest(name string) ([]*model.Record, error)
		FindRecordByEntry(manifest, entry string) (*model.Record, error)
		FindRecordByRelPath(relpath string) (*model.Record, error)
		DeleteRecord(id string) error
	}
)
