// Package fetcher issues HTTP GETs with bounded retries on connection-level failures.
//
// Non-2xx statuses are not failures at this level: they are handed back to the caller,
// which decides what a 404 or 503 means for its unit of work.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
)

// ErrExhausted marks a Result whose retries ran out on connection errors.
var ErrExhausted = errors.New("fetch retries exhausted")

// Doer is the subset of *http.Client used by Fetcher.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 200.
func (r *Response) OK() bool { return r != nil && r.StatusCode == http.StatusOK }

// Result is either a Response or a failure reason, never both.
type Result struct {
	Response *Response
	Err      error
	Attempts int
}

// Failed reports whether no response was obtained.
func (r Result) Failed() bool { return r.Err != nil || r.Response == nil }

// Options are the per-Fetcher defaults used by Fetch.
type Options struct {
	MaxRetries int           // attempts, values below 1 mean 1
	Backoff    time.Duration // sleep between attempts, 0 disables sleeping
	Headers    http.Header   // sent on every request
}

// Fetcher performs GET requests through a shared concurrency limiter.
type Fetcher struct {
	client  Doer
	limiter *semaphore.Weighted
	opts    Options
}

// New builds a Fetcher. limiter may be nil for unbounded use.
func New(client Doer, limiter *semaphore.Weighted, opts Options) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, limiter: limiter, opts: opts}
}

// NewHTTPClient returns a client whose dial, TLS and header phases are all bounded,
// with timeout as the overall per-request ceiling.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Fetch issues a GET with the Fetcher's default headers, retries and backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) Result {
	return f.FetchWith(ctx, url, f.opts.Headers, f.opts.MaxRetries, f.opts.Backoff)
}

// FetchWith issues a GET, retrying up to maxRetries attempts on connection-level
// failures and sleeping delay between attempts. It never returns a nil Response
// without a reason in Err.
func (f *Fetcher) FetchWith(ctx context.Context, url string, headers http.Header, maxRetries int, delay time.Duration) Result {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var (
		resp     *Response
		attempts int
	)

	op := func() error {
		attempts++
		r, err := f.attempt(ctx, url, headers)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				return backoff.Permanent(err)
			}
			metrics.ObserveFetchAttempt("retry")
			return err
		}
		metrics.ObserveFetchAttempt("ok")
		resp = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxRetries-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logger.L().Warn().Str("url", url).Int("attempt", attempts).Int("max_attempts", maxRetries).
			Dur("backoff", wait).Err(err).Msg("fetch failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		metrics.ObserveFetchAttempt("exhausted")
		if ctx.Err() != nil {
			return Result{Err: err, Attempts: attempts}
		}
		return Result{Err: fmt.Errorf("%w for %s after %d attempt(s): %v", ErrExhausted, url, attempts, err), Attempts: attempts}
	}
	return Result{Response: resp, Attempts: attempts}
}

// requestError marks failures that retrying cannot fix (malformed URL).
type requestError struct{ err error }

func (e *requestError) Error() string { return "build request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// attempt performs one GET while holding a limiter slot, reading the body fully.
func (f *Fetcher) attempt(ctx context.Context, url string, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &requestError{err: err}
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		metrics.IncInFlight()
		defer func() {
			metrics.DecInFlight()
			f.limiter.Release(1)
		}()
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{URL: url, StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
}
