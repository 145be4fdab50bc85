package database

import (
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/json"
	"github.com/asdine/storm/v3/q"
	"github.com/gofrs/uuid"
	"github.com/mdouchement/modelsync/internal/model"
	"github.com/pkg/errors"
)

type strm struct {
	db *storm.DB
}

// StormCodec is the format used to store data in the database.
var StormCodec = storm.Codec(json.Codec)

// StormInit initializes Storm database.
func StormInit(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	err = db.Init(&model.Record{})
	return errors.Wrap(err, "could not init record index")
}

// StormReIndex rebuilds the indexes of the Storm database.
func StormReIndex(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	err = db.ReIndex(&model.Record{})
	return errors.Wrap(err, "could not ReIndex records")
}

// StormOpen opens the Storm database and returns a Client.
func StormOpen(database string) (Client, error) {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return nil, errors.Wrap(err, "could not get database connection")
	}

	return &strm{
		db: db,
	}, nil
}

func (c *strm) Save(m model.Model) error {
	t := time.Now().UTC()
	m.SetUpdatedAt(t)

	if m.GetID() == "" {
		m.SetID(uuid.Must(uuid.NewV4()).String())
		m.SetCreatedAt(t)
	}

	return errors.Wrap(c.db.Save(m), "could not save the model")
}

func (c *strm) Delete(m model.Model) error {
	return errors.Wrap(c.db.DeleteStruct(m), "could not delete the model")
}

func (c *strm) Close() error {
	return c.db.Close()
}

func (c *strm) IsNotFound(err error) bool {
	return errors.Cause(err) == storm.ErrNotFound
}

//
// Record
//

func (c *strm) AllRecords() ([]*model.Record, error) {
	records := make([]*model.Record, 0)
	err := c.db.All(&records)
	return records, errors.Wrap(err, "could not get all records")
}

func (c *strm) FindRecordsByManifest(name string) ([]*model.Record, error) {
	records := make([]*model.Record, 0)
	err := c.db.Select(q.Eq("Manifest", name)).OrderBy("CreatedAt").Find(&records)
	if c.IsNotFound(err) {
		return records, nil
	}
	return records, errors.Wrap(err, "could not get records by manifest")
}

func (c *strm) FindRecordByEntry(manifest, entry string) (*model.Record, error) {
	var record model.Record
	err := c.db.Select(q.Eq("Manifest", manifest), q.Eq("Entry", entry)).First(&record)
	return &record, errors.Wrap(err, "could not find record")
}

func (c *strm) FindRecordByRelPath(relpath string) (*model.Record, error) {
	var record model.Record
	err := c.db.Select(q.Eq("RelPath", relpath)).First(&record)
	return &record, errors.Wrap(err, "could not find record")
}

func (c *strm) DeleteRecord(id string) error {
	err := c.db.Select(q.Eq("ID", id)).Delete(&model.Record{})
	return errors.Wrap(err, "could not delete record")
}
