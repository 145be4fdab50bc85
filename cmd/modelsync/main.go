package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"syscall"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/modelsync/internal/collection"
	"github.com/mdouchement/modelsync/internal/database"
	"github.com/mdouchement/modelsync/internal/manifest"
	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/resolver"
	"github.com/mdouchement/modelsync/internal/scheduler"
	"github.com/mdouchement/modelsync/internal/storage"
	"github.com/mdouchement/modelsync/internal/sync"
	"github.com/mdouchement/modelsync/internal/transfer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	dbname   = "modelsync.db"
	attempts = 3
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	root    string
	every   string
	outpath string
)

func main() {
	c := &cobra.Command{
		Use:     "modelsync",
		Short:   "Manifest-driven model downloader for image-generation boxes",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.ExactArgs(0),
	}
	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for modelsync",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(c.Version)
		},
	})
	c.AddCommand(initCmd)
	c.AddCommand(reindexCmd)
	c.AddCommand(lsCmd)

	downloadCmd.Flags().StringVarP(&root, "root", "r", "", "Model root directory (default $MODELSYNC_ROOT or ./models)")
	c.AddCommand(downloadCmd)

	watchCmd.Flags().StringVarP(&root, "root", "r", "", "Model root directory (default $MODELSYNC_ROOT or ./models)")
	watchCmd.Flags().StringVar(&every, "every", "@every 1h", "Sync specification")
	c.AddCommand(watchCmd)

	cleanCmd.Flags().StringVarP(&root, "root", "r", "", "Model root directory (default $MODELSYNC_ROOT or ./models)")
	c.AddCommand(cleanCmd)

	exportCmd.Flags().StringVarP(&outpath, "out", "o", "collection.yml", "Manifest destination path")
	c.AddCommand(exportCmd)

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Init the ledger database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			return database.StormInit(nameWithEnv("MODELSYNC_LEDGER_PATH", dbname))
		},
	}

	//

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Reindex the ledger database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			return database.StormReIndex(nameWithEnv("MODELSYNC_LEDGER_PATH", dbname))
		},
	}

	//

	lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List the downloads known to the ledger",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := database.StormOpen(nameWithEnv("MODELSYNC_LEDGER_PATH", dbname))
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			records, err := db.AllRecords()
			if err != nil {
				return err
			}

			for _, record := range records {
				fmt.Printf("%s  %12d  %s\n", record.CreatedAt.Format("2006-01-02 15:04:05"), record.Size, record.RelPath)
			}
			return nil
		},
	}

	//

	downloadCmd = &cobra.Command{
		Use:   "download MANIFEST",
		Short: "Download the models listed in the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctrl, teardown, err := setup()
			if err != nil {
				return err
			}
			defer teardown()

			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			report, err := sync.NewRunner(ctrl).Run(ctx, m)
			if report != nil {
				ctrl.Logger.Info(report.Summary())
			}
			if err != nil {
				return err
			}
			if report.HasFailure() {
				return errors.Errorf("%d entries failed", report.Count(model.OutcomeFailed))
			}
			return nil
		},
	}

	//

	watchCmd = &cobra.Command{
		Use:   "watch MANIFEST",
		Short: "Periodically re-sync the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctrl, teardown, err := setup()
			if err != nil {
				return err
			}
			defer teardown()

			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			crontab := scheduler.Start(ctx, scheduler.Controller{
				Logger:        ctrl.Logger,
				Runner:        sync.NewRunner(ctrl),
				Storage:       ctrl.Storage,
				Manifest:      m,
				Specification: every,
			})

			<-ctx.Done()
			<-crontab.Stop().Done()
			return nil
		},
	}

	//

	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove stalled partial files and empty directories",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			if root == "" {
				root = envORdefault("MODELSYNC_ROOT", "models")
			}
			backend := storage.NewFileSystem(root)
			return backend.Cleanup(scheduler.StalledPartialAge)
		},
	}

	//

	exportCmd = &cobra.Command{
		Use:   "export COLLECTION_ID",
		Short: "Turn a Civitai collection into a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrap(err, "COLLECTION_ID must be a number")
			}

			exporter := collection.NewExporter(newLogger(), os.Getenv("CIVITAI_API_TOKEN"), attempts)

			m, err := exporter.Export(context.Background(), id)
			if err != nil {
				return err
			}

			return manifest.Write(outpath, m)
		},
	}
)

// setup wires the dependencies shared by the download and watch commands.
func setup() (sync.Controller, func(), error) {
	ctrl := sync.Controller{
		Logger: newLogger(),
	}

	if root == "" {
		root = envORdefault("MODELSYNC_ROOT", "models")
	}
	ctrl.Storage = storage.NewFileSystem(root)

	db, err := database.StormOpen(nameWithEnv("MODELSYNC_LEDGER_PATH", dbname))
	if err != nil {
		return ctrl, nil, errors.Wrap(err, "could not open database")
	}
	ctrl.Database = db

	ctrl.Resolvers = resolver.Registry{
		model.SourceCivitai:     resolver.NewCivitai(os.Getenv("CIVITAI_API_TOKEN"), attempts),
		model.SourceHuggingFace: resolver.NewHuggingFace(envORdefault("HF_API_TOKEN", os.Getenv("HF_TOKEN")), attempts),
	}

	ctrl.Engine = transfer.NewEngine(ctrl.Logger.WithPrefix("[transfer]"), ctrl.Storage, attempts)

	return ctrl, func() { db.Close() }, nil
}

func newLogger() logger.Logger {
	log := logrus.New()
	log.SetFormatter(&logger.LogrusTextFormatter{
		DisableColors:   false,
		ForceColors:     true,
		ForceFormatting: true,
		PrefixRE:        regexp.MustCompile(`^(\[.*?\])\s`),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return logger.WrapLogrus(log)
}

func nameWithEnv(env, name string) string {
	p := os.Getenv(env)
	if len(p) == 0 {
		return name
	}
	return filepath.Join(p, name)
}

func envORdefault(name, fallback string) string {
	p := os.Getenv(name)
	if len(p) == 0 {
		return fallback
	}
	return p
}
