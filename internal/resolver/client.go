package resolver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mdouchement/modelsync/internal/syncerror"
	"golang.org/x/time/rate"
)

const requestTimeout = 30 * time.Second

// An APIClient performs metadata API calls with rate limiting and bounded
// retries. Only transient failures (transport errors, 5xx, 429) are
// retried.
type APIClient struct {
	http     *http.Client
	limiter  *rate.Limiter
	attempts uint64
}

func NewAPIClient(attempts uint64) *APIClient {
	return &APIClient{
		http: &http.Client{
			Timeout: requestTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(2), 1),
		attempts: attempts,
	}
}

// GetJSON fetches the given URL and decodes the JSON payload into v.
func (c *APIClient) GetJSON(ctx context.Context, url string, header http.Header, v interface{}) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), c.attempts), ctx)

	return backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		err := c.fetch(ctx, url, header, v)
		if err != nil && !syncerror.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *APIClient) fetch(ctx context.Context, url string, header http.Header, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return syncerror.Wrap(syncerror.Resolution, err, "could not build request")
	}
	for k, vs := range header {
		for _, value := range vs {
			req.Header.Add(k, value)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return syncerror.Wrap(syncerror.Network, err, "could not reach the API")
	}
	defer res.Body.Close()

	if err := syncerror.FromStatusCode(res.StatusCode); err != nil {
		io.Copy(io.Discard, res.Body)
		return err
	}

	err = json.NewDecoder(res.Body).Decode(v)
	return syncerror.Wrap(syncerror.Resolution, err, "could not decode the API response")
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}
