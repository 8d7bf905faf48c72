// Package fetch downloads snapshot export files over HTTP.
//
// Wahapedia throttles aggressive clients with HTTP 429, so the client spaces
// consecutive requests by a fixed minimum delay and retries transient
// failures with exponential backoff plus jitter. The spacing is a politeness
// policy, not a correctness requirement; the importer processes entities
// sequentially regardless.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Oliver-Sheaky/wahapedia-sql-import/internal/metrics"
)

// Logger is the minimal logging interface used by the client.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Options configures a Client. Zero values select conservative defaults.
type Options struct {
	// Timeout bounds one HTTP request. Default 30s.
	Timeout time.Duration

	// Delay is the minimum spacing between consecutive requests.
	// Default 500ms, matching the source's request-rate tolerance.
	Delay time.Duration

	// MaxAttempts per file, including the first attempt. Default 5.
	MaxAttempts int

	// BaseBackoff and MaxBackoff bound the exponential retry backoff.
	// Defaults 2s and 60s.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// JitterMax is added to every backoff sleep. Default 350ms.
	JitterMax time.Duration

	Logger Logger

	// Unexported test seams.
	httpClient *http.Client
	sleep      func(d time.Duration)
	rng        *rand.Rand
}

// Client fetches export files from a base URL.
//
// Client is not safe for concurrent use: the inter-request spacing state is
// deliberately unguarded because the importer fetches strictly sequentially.
type Client struct {
	baseURL string

	http        *http.Client
	delay       time.Duration
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	jitterMax   time.Duration

	logf  func(format string, v ...any)
	sleep func(d time.Duration)
	rng   *rand.Rand

	lastRequest time.Time
	now         func() time.Time
}

// StatusError reports a non-retryable HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// New creates a Client for the given base URL (e.g.
// "http://wahapedia.ru/wh40k10ed/"). A trailing slash is added when missing.
func New(baseURL string, opts Options) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	} else if delay == 0 {
		delay = 500 * time.Millisecond
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseBackoff := opts.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}
	jitterMax := opts.JitterMax
	if jitterMax < 0 {
		jitterMax = 0
	} else if jitterMax == 0 {
		jitterMax = 350 * time.Millisecond
	}

	hc := opts.httpClient
	if hc == nil {
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     4,
				MaxIdleConnsPerHost: 4,
			},
		}
	}

	logf := func(string, ...any) {}
	if opts.Logger != nil {
		logf = opts.Logger.Printf
	}

	sleep := opts.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	rng := opts.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Client{
		baseURL:     baseURL,
		http:        hc,
		delay:       delay,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		jitterMax:   jitterMax,
		logf:        logf,
		sleep:       sleep,
		rng:         rng,
		now:         time.Now,
	}
}

// BaseURL returns the resolved base URL (always slash-terminated).
func (c *Client) BaseURL() string { return c.baseURL }

// URLFor returns the full URL of one export file.
func (c *Client) URLFor(file string) string {
	return c.baseURL + url.PathEscape(file)
}

// Fetch downloads one export file and returns its body.
//
// Retry policy:
//   - transport errors and 5xx: exponential backoff, up to MaxAttempts
//   - 429: honors Retry-After when present, otherwise backoff
//   - other 4xx: fail immediately (*StatusError)
//
// Errors:
//   - ctx errors are returned as-is.
//   - exhausted retries return the last attempt's error.
func (c *Client) Fetch(ctx context.Context, file string) ([]byte, error) {
	u := c.URLFor(file)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		body, retryAfter, err := c.attempt(ctx, u)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var se *StatusError
		if errors.As(err, &se) && se.StatusCode != http.StatusTooManyRequests && se.StatusCode < 500 {
			return nil, err
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoff(attempt)
		if retryAfter > 0 {
			wait = retryAfter + c.jitter()
		}
		c.logf("fetch retry url=%s attempt=%d wait=%s err=%v", u, attempt, wait.Truncate(time.Millisecond), err)
		if err := sleepCtx(ctx, wait, c.sleep); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("fetch %s: attempts exhausted: %w", u, lastErr)
}

// attempt performs one GET. On 429 it extracts Retry-After when present.
func (c *Client) attempt(ctx context.Context, u string) (body []byte, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "text/csv, text/plain, */*")

	start := c.now()
	resp, err := c.http.Do(req)
	dur := c.now().Sub(start)

	if err != nil {
		metrics.IncCounter(metrics.HTTPErrorsTotal, 1, metrics.Labels{"status": "transport"})
		return nil, 0, fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	metrics.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"status": status})
	metrics.ObserveHistogram(metrics.HTTPRequestDurationSeconds, dur.Seconds(), metrics.Labels{"status": status})

	if resp.StatusCode != http.StatusOK {
		metrics.IncCounter(metrics.HTTPErrorsTotal, 1, metrics.Labels{"status": status})
		ra := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, ra, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncCounter(metrics.HTTPErrorsTotal, 1, metrics.Labels{"status": "body"})
		return nil, 0, fmt.Errorf("read %s: %w", u, err)
	}
	metrics.ObserveHistogram(metrics.HTTPDownloadBytes, float64(len(b)), metrics.Labels{"status": status})
	return b, 0, nil
}

// pace enforces the minimum spacing since the previous request.
func (c *Client) pace(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	if !c.lastRequest.IsZero() {
		if wait := c.delay - c.now().Sub(c.lastRequest); wait > 0 {
			if err := sleepCtx(ctx, wait, c.sleep); err != nil {
				return err
			}
		}
	}
	c.lastRequest = c.now()
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseBackoff << (attempt - 1)
	if d > c.maxBackoff || d <= 0 {
		d = c.maxBackoff
	}
	return d + c.jitter()
}

func (c *Client) jitter() time.Duration {
	if c.jitterMax <= 0 {
		return 0
	}
	return time.Duration(c.rng.Int63n(int64(c.jitterMax)))
}

func sleepCtx(ctx context.Context, d time.Duration, sleep func(time.Duration)) error {
	if d > 0 {
		sleep(d)
	}
	return ctx.Err()
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
// Returns 0 when the header is absent or unparseable.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
