package syncerror_test

import (
	"testing"

	"github.com/mdouchement/modelsync/internal/syncerror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := syncerror.New(syncerror.Network, "timeout")
	assert.Equal(t, syncerror.Network, syncerror.KindOf(err))

	// The kind survives pkg/errors wrapping.
	wrapped := errors.Wrap(err, "entry lora42")
	assert.Equal(t, syncerror.Network, syncerror.KindOf(wrapped))

	wrapped = errors.Wrap(syncerror.Wrap(syncerror.Integrity, errors.New("boom"), "checksum"), "entry")
	assert.Equal(t, syncerror.Integrity, syncerror.KindOf(wrapped))

	assert.Equal(t, syncerror.Unknown, syncerror.KindOf(errors.New("anonymous")))
	assert.Equal(t, syncerror.Unknown, syncerror.KindOf(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, syncerror.Retryable(syncerror.New(syncerror.Network, "HTTP 503")))
	assert.False(t, syncerror.Retryable(syncerror.New(syncerror.Integrity, "bad checksum")))
	assert.False(t, syncerror.Retryable(syncerror.New(syncerror.Resolution, "no file")))
	assert.False(t, syncerror.Retryable(errors.New("anonymous")))
}

func TestFatal(t *testing.T) {
	assert.True(t, syncerror.Fatal(syncerror.New(syncerror.Filesystem, "disk full")))
	assert.False(t, syncerror.Fatal(syncerror.New(syncerror.Network, "HTTP 503")))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, syncerror.Wrap(syncerror.Network, nil, "whatever"))
}

func TestFromStatusCode(t *testing.T) {
	assert.NoError(t, syncerror.FromStatusCode(200))
	assert.NoError(t, syncerror.FromStatusCode(206))

	assert.Equal(t, syncerror.Network, syncerror.KindOf(syncerror.FromStatusCode(429)))
	assert.Equal(t, syncerror.Network, syncerror.KindOf(syncerror.FromStatusCode(500)))
	assert.Equal(t, syncerror.Network, syncerror.KindOf(syncerror.FromStatusCode(503)))

	assert.Equal(t, syncerror.Resolution, syncerror.KindOf(syncerror.FromStatusCode(401)))
	assert.Equal(t, syncerror.Resolution, syncerror.KindOf(syncerror.FromStatusCode(403)))
	assert.Equal(t, syncerror.Resolution, syncerror.KindOf(syncerror.FromStatusCode(404)))
}
