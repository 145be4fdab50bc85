package sync

import (
	"context"
	"path"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/modelsync/internal/database"
	"github.com/mdouchement/modelsync/internal/manifest"
	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/resolver"
	"github.com/mdouchement/modelsync/internal/storage"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/mdouchement/modelsync/internal/transfer"
	"github.com/mdouchement/modelsync/internal/xpath"
	"github.com/pkg/errors"
)

// A Controller is an Inversion Of Control pattern used to init the sync package.
type Controller struct {
	Logger    logger.Logger
	Database  database.Client
	Storage   storage.Backend
	Resolvers resolver.Registry
	Engine    *transfer.Engine
}

// A Runner processes a manifest sequentially, one entry at a time in
// manifest order. A failing entry never blocks the following ones; only
// filesystem failures abort the run.
type Runner struct {
	c Controller
}

// NewRunner returns a Runner.
func NewRunner(c Controller) *Runner {
	return &Runner{c: c}
}

// Run resolves and transfers every entry of the manifest. The returned
// report is always usable, even when the run aborted early.
func (r *Runner) Run(ctx context.Context, m *manifest.Manifest) (*Report, error) {
	report := &Report{}
	log := r.c.Logger.WithPrefix("[" + m.Name + "]")

	for i, entry := range m.Entries {
		log.Infof("(%d/%d) %s", i+1, len(m.Entries), entry.Name)

		err := r.process(ctx, log, m.Name, entry, report)
		if err == nil {
			continue
		}

		if syncerror.Fatal(err) {
			report.Add(model.Result{Entry: entry, Outcome: model.OutcomeFailed, Err: err})
			return report, errors.Wrapf(err, "entry %s", entry.Name)
		}

		log.Errorf("%s: %s", entry.Name, err)
		report.Add(model.Result{Entry: entry, Outcome: model.OutcomeFailed, Err: err})
	}

	return report, nil
}

func (r *Runner) process(ctx context.Context, log logger.Logger, name string, entry model.Entry, report *Report) error {
	strategy, err := r.c.Resolvers.For(entry.Source)
	if err != nil {
		return err
	}

	asset, err := strategy.Resolve(ctx, entry)
	if err != nil {
		return err
	}

	subpath, err := xpath.Sanitize(entry.Path)
	if err != nil {
		return err
	}
	relpath := path.Join(subpath, asset.Filename)

	skip, err := r.skippable(log, relpath, asset)
	if err != nil {
		return err
	}
	if skip {
		log.Infof("%s already in place", relpath)
		r.record(log, name, entry, asset, relpath)
		report.Add(model.Result{Entry: entry, Outcome: model.OutcomeSkipped})
		return nil
	}

	if err := r.c.Engine.Fetch(ctx, asset, relpath); err != nil {
		return err
	}

	log.Infof("%s downloaded", relpath)
	r.record(log, name, entry, asset, relpath)
	report.Add(model.Result{Entry: entry, Outcome: model.OutcomeDownloaded})
	return nil
}

// skippable returns true when a verified copy of the asset is already at
// its final location. The ledger avoids re-hashing files already verified
// by a previous run.
func (r *Runner) skippable(log logger.Logger, relpath string, asset model.Asset) (bool, error) {
	if !r.c.Storage.Exist(relpath) {
		return false, nil
	}

	if r.c.Database != nil {
		record, err := r.c.Database.FindRecordByRelPath(relpath)
		if err == nil && r.matches(record, relpath, asset) {
			return true, nil
		}
		if err != nil && !r.c.Database.IsNotFound(err) {
			return false, err
		}
	}

	err := r.c.Engine.Verify(relpath, asset)
	switch syncerror.KindOf(err) {
	case syncerror.Unknown:
		if err != nil {
			return false, err
		}
		return true, nil
	case syncerror.Integrity:
		log.Warnf("%s does not match upstream, downloading it again", relpath)
		return false, nil
	default:
		return false, err
	}
}

// matches returns true when the ledger record vouches for the file
// currently on disk.
func (r *Runner) matches(record *model.Record, relpath string, asset model.Asset) bool {
	size, err := r.c.Storage.Size(relpath)
	if err != nil || size != record.Size {
		return false
	}

	if asset.SHA256 != "" && record.Checksum != asset.SHA256 {
		return false
	}
	if asset.Size > 0 && record.Size != asset.Size {
		return false
	}
	return true
}

func (r *Runner) record(log logger.Logger, name string, entry model.Entry, asset model.Asset, relpath string) {
	if r.c.Database == nil {
		return
	}

	record, err := r.c.Database.FindRecordByRelPath(relpath)
	if err != nil {
		record = &model.Record{}
	}

	record.Manifest = name
	record.Entry = entry.Name
	record.RelPath = relpath
	record.Filename = asset.Filename
	record.Source = entry.Source.String()
	record.SourceID = entry.SourceID
	record.Checksum = asset.SHA256

	size, err := r.c.Storage.Size(relpath)
	if err == nil {
		record.Size = size
	}

	if err := r.c.Database.Save(record); err != nil {
		// The ledger is an optimization, a failed write must not fail the entry.
		log.Warnf("could not update the ledger: %s", err)
	}
}
