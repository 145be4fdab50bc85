package scheduler

import (
	"context"
	"time"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/modelsync/internal/manifest"
	"github.com/mdouchement/modelsync/internal/storage"
	"github.com/mdouchement/modelsync/internal/sync"
	"github.com/robfig/cron/v3"
)

// StalledPartialAge is how long a partial file may sit untouched before
// the cleanup task reclaims it.
const StalledPartialAge = 24 * time.Hour

// A Controller is an Inversion Of Control pattern used to init the scheduler package.
type Controller struct {
	Logger        logger.Logger
	Runner        *sync.Runner
	Storage       storage.Backend
	Manifest      *manifest.Manifest
	Specification string
}

// Start launches the scheduler asynchronously. Every tick re-runs the
// manifest (new entries get downloaded, verified ones are skipped) and
// reclaims stalled partial files.
func Start(ctx context.Context, c Controller) *cron.Cron {
	crontab := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	log := c.Logger.WithPrefix("[scheduler]")

	_, err := crontab.AddFunc(c.Specification, func() {
		report, err := c.Runner.Run(ctx, c.Manifest)
		if err != nil {
			log.Error(err)
		}
		if report != nil {
			log.Info(report.Summary())
		}

		log.Info("Storage cleanup")
		err = c.Storage.Cleanup(StalledPartialAge)
		if err != nil {
			log.Error(err)
			return
		}
	})
	if err != nil {
		panic(err)
	}
	log.Info("Manifest sync task registred")

	crontab.Start()
	log.Info("Scheduler is running")
	return crontab
}
