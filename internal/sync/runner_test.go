package sync_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/modelsync/internal/database"
	"github.com/mdouchement/modelsync/internal/manifest"
	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/resolver"
	"github.com/mdouchement/modelsync/internal/storage"
	"github.com/mdouchement/modelsync/internal/sync"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/mdouchement/modelsync/internal/transfer"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	checkpoint = bytes.Repeat([]byte("checkpoint"), 100)
	vae        = bytes.Repeat([]byte("vae"), 100)
)

func digest(p []byte) string {
	sum := sha256.Sum256(p)
	return hex.EncodeToString(sum[:])
}

// setup spins a mock upstream serving both metadata APIs and the files
// themselves, and wires a full Controller around a temporary model root.
func setup(t *testing.T) (sync.Controller, *httptest.Server) {
	engine := echo.New()

	engine.GET("/api/v1/model-versions/1240288", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"id": 1240288,
			"files": []echo.Map{{
				"name":        "hassaku.safetensors",
				"sizeKB":      float64(len(checkpoint)) / 1024,
				"primary":     true,
				"downloadUrl": serverURL(c) + "/files/hassaku.safetensors",
				"hashes":      echo.Map{"SHA256": digest(checkpoint)},
			}},
		})
	})
	engine.GET("/api/v1/model-versions/666", func(c echo.Context) error {
		// A version with nothing downloadable.
		return c.JSON(http.StatusOK, echo.Map{"id": 666, "files": []echo.Map{}})
	})
	engine.GET("/api/models/:owner/:repo", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"siblings": []echo.Map{{
				"rfilename": "wan_vae.safetensors",
				"lfs":       echo.Map{"oid": digest(vae), "size": len(vae)},
			}},
		})
	})
	engine.GET("/files/hassaku.safetensors", func(c echo.Context) error {
		http.ServeContent(c.Response(), c.Request(), "hassaku.safetensors", time.Unix(0, 0), bytes.NewReader(checkpoint))
		return nil
	})
	engine.GET("/:owner/:repo/resolve/main/wan_vae.safetensors", func(c echo.Context) error {
		http.ServeContent(c.Response(), c.Request(), "wan_vae.safetensors", time.Unix(0, 0), bytes.NewReader(vae))
		return nil
	})

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	civitai := resolver.NewCivitai("", 1)
	civitai.BaseURL = server.URL
	huggingface := resolver.NewHuggingFace("", 1)
	huggingface.BaseURL = server.URL

	log := logger.WrapLogrus(logrus.New())
	backend := storage.NewFileSystem(t.TempDir())

	db, err := database.StormOpen(filepath.Join(t.TempDir(), "modelsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sync.Controller{
		Logger:   log,
		Database: db,
		Storage:  backend,
		Resolvers: resolver.Registry{
			model.SourceCivitai:     civitai,
			model.SourceHuggingFace: huggingface,
		},
		Engine: transfer.NewEngine(log, backend, 1),
	}, server
}

func serverURL(c echo.Context) string {
	return "http://" + c.Request().Host
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name: "anime_pack",
		Entries: []model.Entry{
			{Name: "hassaku", Source: model.SourceCivitai, SourceID: "140272@1240288", Path: "checkpoints"},
			{Name: "broken", Source: model.SourceCivitai, SourceID: "1@666", Path: "loras"},
			{Name: "wan_vae", Source: model.SourceHuggingFace, SourceID: "Wan-AI/Wan2.2-VAE", Path: "vae"},
		},
	}
}

func TestRunnerRun(t *testing.T) {
	ctrl, _ := setup(t)
	runner := sync.NewRunner(ctrl)

	report, err := runner.Run(context.Background(), testManifest())
	require.NoError(t, err)

	// One bad entry never blocks the rest of the manifest.
	results := report.Results()
	require.Len(t, results, 3)
	assert.Equal(t, model.OutcomeDownloaded, results[0].Outcome)
	assert.Equal(t, model.OutcomeFailed, results[1].Outcome)
	assert.Equal(t, model.OutcomeDownloaded, results[2].Outcome)

	assert.Equal(t, syncerror.Resolution, syncerror.KindOf(results[1].Err))
	assert.True(t, report.HasFailure())

	assert.True(t, ctrl.Storage.Exist("checkpoints/hassaku.safetensors"))
	assert.True(t, ctrl.Storage.Exist("vae/wan_vae.safetensors"))
	assert.False(t, ctrl.Storage.Exist("checkpoints/hassaku.safetensors.part"))
}

func TestRunnerRunIdempotence(t *testing.T) {
	ctrl, _ := setup(t)
	runner := sync.NewRunner(ctrl)

	m := testManifest()
	m.Entries = m.Entries[:1]

	report, err := runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(model.OutcomeDownloaded))

	before, err := os.ReadFile(filepath.Join(ctrl.Storage.Root(), "checkpoints", "hassaku.safetensors"))
	require.NoError(t, err)

	// The second run downloads nothing and leaves the file untouched.
	report, err = runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(model.OutcomeSkipped))
	assert.Equal(t, 0, report.Count(model.OutcomeDownloaded))

	after, err := os.ReadFile(filepath.Join(ctrl.Storage.Root(), "checkpoints", "hassaku.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunnerRunLedger(t *testing.T) {
	ctrl, _ := setup(t)
	runner := sync.NewRunner(ctrl)

	_, err := runner.Run(context.Background(), testManifest())
	require.NoError(t, err)

	records, err := ctrl.Database.FindRecordsByManifest("anime_pack")
	require.NoError(t, err)
	require.Len(t, records, 2)

	record, err := ctrl.Database.FindRecordByRelPath("checkpoints/hassaku.safetensors")
	require.NoError(t, err)
	assert.Equal(t, "hassaku", record.Entry)
	assert.Equal(t, digest(checkpoint), record.Checksum)
	assert.Equal(t, int64(len(checkpoint)), record.Size)
	assert.Equal(t, "civitai", record.Source)

	// No ledger row for the failed entry.
	_, err = ctrl.Database.FindRecordByEntry("anime_pack", "broken")
	assert.True(t, ctrl.Database.IsNotFound(err))
}

func TestRunnerRunCorruptedFile(t *testing.T) {
	ctrl, _ := setup(t)
	runner := sync.NewRunner(ctrl)

	m := testManifest()
	m.Entries = m.Entries[:1]

	// Someone truncated the file behind our back.
	w, err := ctrl.Storage.Writer("checkpoints/hassaku.safetensors", false)
	require.NoError(t, err)
	w.Write(checkpoint[:10])
	w.Close()

	report, err := runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(model.OutcomeDownloaded))

	payload, err := os.ReadFile(filepath.Join(ctrl.Storage.Root(), "checkpoints", "hassaku.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, checkpoint, payload)
}

func TestRunnerRunWithoutLedger(t *testing.T) {
	ctrl, _ := setup(t)
	ctrl.Database = nil
	runner := sync.NewRunner(ctrl)

	m := testManifest()
	m.Entries = m.Entries[:1]

	report, err := runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(model.OutcomeDownloaded))

	// Skip still works, through hashing instead of the ledger.
	report, err = runner.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(model.OutcomeSkipped))
}

func TestReportSummary(t *testing.T) {
	report := &sync.Report{}
	report.Add(model.Result{Entry: model.Entry{Name: "a"}, Outcome: model.OutcomeDownloaded})
	report.Add(model.Result{Entry: model.Entry{Name: "b"}, Outcome: model.OutcomeSkipped})
	report.Add(model.Result{Entry: model.Entry{Name: "c"}, Outcome: model.OutcomeFailed, Err: syncerror.New(syncerror.Resolution, "no usable file")})

	summary := report.Summary()
	assert.Contains(t, summary, "1 downloaded, 1 skipped, 1 failed")
	assert.Contains(t, summary, "c: [resolution] no usable file")
}
