package resolver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/resolver"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func civitaiVersionPayload() echo.Map {
	return echo.Map{
		"id": 1240288,
		"files": []echo.Map{
			{
				"name":        "config.yaml",
				"sizeKB":      2,
				"downloadUrl": "https://civitai.example/api/download/models/1240288?type=Config",
			},
			{
				"name":        "hassakuXL_v21.safetensors",
				"sizeKB":      6775.5,
				"primary":     true,
				"downloadUrl": "https://civitai.example/api/download/models/1240288",
				"hashes":      echo.Map{"SHA256": "ABCDEF0123456789"},
				"metadata":    echo.Map{"format": "SafeTensor", "size": "pruned"},
			},
		},
	}
}

func newCivitai(t *testing.T, engine *echo.Echo, token string) (*resolver.Civitai, func()) {
	server := httptest.NewServer(engine)

	r := resolver.NewCivitai(token, 2)
	r.BaseURL = server.URL
	return r, server.Close
}

func TestCivitaiResolveVersion(t *testing.T) {
	engine := echo.New()
	engine.GET("/api/v1/model-versions/:id", func(c echo.Context) error {
		assert.Equal(t, "1240288", c.Param("id"))
		return c.JSON(http.StatusOK, civitaiVersionPayload())
	})

	r, teardown := newCivitai(t, engine, "")
	defer teardown()

	asset, err := r.Resolve(context.Background(), model.Entry{
		Name:     "hassaku",
		Source:   model.SourceCivitai,
		SourceID: "140272@1240288",
		Path:     "checkpoints",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://civitai.example/api/download/models/1240288", asset.DownloadURL)
	assert.Equal(t, "hassakuXL_v21.safetensors", asset.Filename)
	assert.Equal(t, int64(6775.5*1024), asset.Size)
	assert.Equal(t, "abcdef0123456789", asset.SHA256)
}

func TestCivitaiResolveModel(t *testing.T) {
	engine := echo.New()
	engine.GET("/api/v1/models/:id", func(c echo.Context) error {
		assert.Equal(t, "140272", c.Param("id"))
		return c.JSON(http.StatusOK, echo.Map{
			"id":            140272,
			"type":          "Checkpoint",
			"modelVersions": []interface{}{civitaiVersionPayload()},
		})
	})

	r, teardown := newCivitai(t, engine, "")
	defer teardown()

	asset, err := r.Resolve(context.Background(), model.Entry{
		Name:     "hassaku",
		Source:   model.SourceCivitai,
		SourceID: "140272",
		Path:     "checkpoints",
	})
	require.NoError(t, err)
	assert.Equal(t, "hassakuXL_v21.safetensors", asset.Filename)
}

func TestCivitaiResolveToken(t *testing.T) {
	engine := echo.New()
	engine.GET("/api/v1/model-versions/:id", func(c echo.Context) error {
		assert.Equal(t, "Bearer s3cr3t", c.Request().Header.Get("Authorization"))
		return c.JSON(http.StatusOK, civitaiVersionPayload())
	})

	r, teardown := newCivitai(t, engine, "s3cr3t")
	defer teardown()

	asset, err := r.Resolve(context.Background(), model.Entry{SourceID: "140272@1240288"})
	require.NoError(t, err)

	// The download endpoint authenticates through a query parameter.
	assert.Equal(t, "https://civitai.example/api/download/models/1240288?token=s3cr3t", asset.DownloadURL)

	// The token joins an existing query string instead of starting one.
	asset, err = r.Resolve(context.Background(), model.Entry{SourceID: "140272@1240288", Filename: "config.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "https://civitai.example/api/download/models/1240288?type=Config&token=s3cr3t", asset.DownloadURL)
}

func TestCivitaiResolvePrefix(t *testing.T) {
	engine := echo.New()
	engine.GET("/api/v1/model-versions/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, civitaiVersionPayload())
	})

	r, teardown := newCivitai(t, engine, "")
	defer teardown()

	asset, err := r.Resolve(context.Background(), model.Entry{SourceID: "140272@1240288", Prefix: "anime_"})
	require.NoError(t, err)
	assert.Equal(t, "anime_hassakuXL_v21.safetensors", asset.Filename)
}

func TestCivitaiResolveNoUsableFile(t *testing.T) {
	engine := echo.New()
	engine.GET("/api/v1/model-versions/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"id": 12,
			"files": []echo.Map{
				{"name": "notes.txt"},
			},
		})
	})

	r, teardown := newCivitai(t, engine, "")
	defer teardown()

	_, err := r.Resolve(context.Background(), model.Entry{SourceID: "1@12"})
	require.Error(t, err)
	assert.Equal(t, syncerror.Resolution, syncerror.KindOf(err))
}

func TestCivitaiResolveRetryOn429(t *testing.T) {
	var calls int
	engine := echo.New()
	engine.GET("/api/v1/model-versions/:id", func(c echo.Context) error {
		calls++
		if calls == 1 {
			return c.NoContent(http.StatusTooManyRequests)
		}
		return c.JSON(http.StatusOK, civitaiVersionPayload())
	})

	r, teardown := newCivitai(t, engine, "")
	defer teardown()

	_, err := r.Resolve(context.Background(), model.Entry{SourceID: "140272@1240288"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCivitaiResolveNotFound(t *testing.T) {
	engine := echo.New()

	r, teardown := newCivitai(t, engine, "")
	defer teardown()

	_, err := r.Resolve(context.Background(), model.Entry{SourceID: "404"})
	require.Error(t, err)
	assert.Equal(t, syncerror.Resolution, syncerror.KindOf(err))
}

func TestDefaultCivitaiFilePolicy(t *testing.T) {
	engine := echo.New()
	engine.GET("/api/v1/model-versions/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"id": 77,
			"files": []echo.Map{
				{"name": "full.safetensors", "metadata": echo.Map{"size": "full"}},
				{"name": "pruned.safetensors", "metadata": echo.Map{"size": "pruned"}},
			},
		})
	})

	r, teardown := newCivitai(t, engine, "")
	defer teardown()

	// No primary flag: the pruned variant wins.
	asset, err := r.Resolve(context.Background(), model.Entry{SourceID: "1@77"})
	require.NoError(t, err)
	assert.Equal(t, "pruned.safetensors", asset.Filename)

	// An explicit expected filename short-circuits the tie-break.
	asset, err = r.Resolve(context.Background(), model.Entry{SourceID: "1@77", Filename: "full.safetensors"})
	require.NoError(t, err)
	assert.Equal(t, "full.safetensors", asset.Filename)
}
