package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/modelsync/internal/model"
	"github.com/mdouchement/modelsync/internal/storage"
	"github.com/mdouchement/modelsync/internal/syncerror"
)

const (
	fetchTimeout     = 0 // no client timeout, large files take hours
	progressInterval = 5 * time.Second
	copyChunkSize    = 128 * 1024
)

// An Engine downloads an asset with resume support, verifies it and
// atomically places it at its final location under the model root.
type Engine struct {
	Logger   logger.Logger
	Storage  storage.Backend
	Client   *http.Client
	Attempts uint64
}

// NewEngine returns an Engine performing up to attempts transfers per asset.
func NewEngine(l logger.Logger, backend storage.Backend, attempts uint64) *Engine {
	return &Engine{
		Logger:  l,
		Storage: backend,
		Client: &http.Client{
			Timeout: fetchTimeout,
		},
		Attempts: attempts,
	}
}

// Fetch downloads the asset to relpath. A partial file left by a previous
// attempt or a previous run is resumed with a byte-range request. The
// asset only becomes visible at relpath once verified.
func (e *Engine) Fetch(ctx context.Context, asset model.Asset, relpath string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), e.Attempts), ctx)

	return backoff.Retry(func() error {
		err := e.attempt(ctx, asset, relpath)
		if err != nil && !syncerror.Retryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			e.Logger.Warnf("transfer interrupted, retrying: %s", err)
		}
		return err
	}, policy)
}

// Verify checks the file at relpath against the asset's expected size and
// checksum. A mismatch is an integrity failure.
func (e *Engine) Verify(relpath string, asset model.Asset) error {
	if asset.Size > 0 {
		size, err := e.Storage.Size(relpath)
		if err != nil {
			return err
		}
		if size != asset.Size {
			return syncerror.Newf(syncerror.Integrity, "size mismatch: got %d, want %d", size, asset.Size)
		}
	}

	if asset.SHA256 == "" {
		return nil
	}

	r, err := e.Storage.Reader(relpath)
	if err != nil {
		return err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return syncerror.Wrap(syncerror.Filesystem, err, "could not hash file")
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if sum != asset.SHA256 {
		return syncerror.Newf(syncerror.Integrity, "checksum mismatch: got %s, want %s", sum, asset.SHA256)
	}
	return nil
}

func (e *Engine) attempt(ctx context.Context, asset model.Asset, relpath string) error {
	temp := e.Storage.TempPath(relpath)

	offset, err := e.resumeOffset(temp)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, nil)
	if err != nil {
		return syncerror.Wrap(syncerror.Resolution, err, "could not build request")
	}
	for k, vs := range asset.Header {
		for _, value := range vs {
			req.Header.Add(k, value)
		}
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	res, err := e.Client.Do(req)
	if err != nil {
		return syncerror.Wrap(syncerror.Network, err, "could not reach the file server")
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// The partial file already holds the whole payload.
	case res.StatusCode == http.StatusPartialContent:
		if err := e.stream(ctx, res.Body, temp, offset, asset.Size, true); err != nil {
			return err
		}
	case res.StatusCode == http.StatusOK:
		// The server ignored the range request, restart from zero.
		if err := e.stream(ctx, res.Body, temp, 0, asset.Size, false); err != nil {
			return err
		}
	default:
		io.Copy(io.Discard, res.Body)
		return syncerror.FromStatusCode(res.StatusCode)
	}

	return e.finalize(temp, relpath, asset)
}

// resumeOffset returns the byte count already present in the partial file.
// A partial file holding HTML is a failed auth redirect and is discarded.
func (e *Engine) resumeOffset(temp string) (int64, error) {
	if !e.Storage.Exist(temp) {
		return 0, nil
	}

	if e.looksLikeHTML(temp) {
		e.Logger.Warn("partial file holds HTML, discarding it")
		if err := e.Storage.Remove(temp); err != nil {
			return 0, err
		}
		return 0, nil
	}

	size, err := e.Storage.Size(temp)
	if err != nil {
		return 0, err
	}
	if size > 0 {
		e.Logger.Infof("resuming from %s", humanSize(size))
	}
	return size, nil
}

func (e *Engine) stream(ctx context.Context, body io.Reader, temp string, offset, total int64, resume bool) error {
	w, err := e.Storage.Writer(temp, resume)
	if err != nil {
		return err
	}

	written := offset
	last := time.Now()
	buf := make([]byte, copyChunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				w.Close()
				return syncerror.Wrap(syncerror.Filesystem, werr, "could not write file")
			}
			written += int64(n)
		}

		if time.Since(last) >= progressInterval {
			e.progress(written, total)
			last = time.Now()
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			w.Close()
			return syncerror.Wrap(syncerror.Network, rerr, "transfer aborted")
		}

		select {
		case <-ctx.Done():
			w.Close()
			return syncerror.Wrap(syncerror.Network, ctx.Err(), "transfer aborted")
		default:
		}
	}

	if s, ok := w.(interface{ Sync() error }); ok {
		s.Sync()
	}

	err = w.Close()
	return syncerror.Wrap(syncerror.Filesystem, err, "could not close file")
}

// finalize verifies the partial file and moves it to its final location.
// A corrupt file never reaches relpath.
func (e *Engine) finalize(temp, relpath string, asset model.Asset) error {
	if err := e.Verify(temp, asset); err != nil {
		if syncerror.KindOf(err) == syncerror.Integrity {
			e.Storage.Remove(temp)
		}
		return err
	}

	return e.Storage.Rename(temp, relpath)
}

func (e *Engine) progress(written, total int64) {
	if total > 0 {
		e.Logger.Infof("downloaded %s / %s (%d%%)", humanSize(written), humanSize(total), written*100/total)
		return
	}
	e.Logger.Infof("downloaded %s", humanSize(written))
}

func (e *Engine) looksLikeHTML(relpath string) bool {
	r, err := e.Storage.Reader(relpath)
	if err != nil {
		return false
	}
	defer r.Close()

	header := make([]byte, 50)
	n, _ := io.ReadFull(r, header)
	header = header[:n]

	return bytes.HasPrefix(header, []byte("<!DOCTYPE")) || bytes.HasPrefix(header, []byte("<html"))
}

func humanSize(size int64) string {
	s := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if s < 1024 {
			return fmt.Sprintf("%.2f %s", s, unit)
		}
		s /= 1024
	}
	return fmt.Sprintf("%.2f PB", s)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}
