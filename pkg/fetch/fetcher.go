package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/atomicdiff/prsplit/pkg/log"
)

// ErrNotFound marks a diff whose remote no longer exists (repo deleted or
// made private). Callers skip the record rather than failing the run.
var ErrNotFound = errors.New("diff no longer available")

// defaultRetryWait is used when a quota response carries no Retry-After hint.
const defaultRetryWait = 60 * time.Second

// HTTPClient interface for mocking http.Client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache stores fetched diff text keyed by URL.
type Cache interface {
	Get(url string) (string, bool)
	Put(url, content string) error
}

// Limiter paces outgoing requests and tracks remote quota.
type Limiter interface {
	Wait(ctx context.Context, host string) error
	Update(remaining int, reset time.Time)
}

// Options configures a Fetcher. Cache and Limiter may be nil to disable
// caching and pacing.
type Options struct {
	Token      string
	Cache      Cache
	Limiter    Limiter
	HTTPClient HTTPClient // overrides the default client, used in tests
}

// Fetcher retrieves diff text for a URL. GitHub pull-request URLs go through
// the API in diff representation; anything else is a plain GET.
type Fetcher struct {
	logger  *log.Logger
	http    HTTPClient
	gh      *github.Client
	cache   Cache
	limiter Limiter
}

// New creates a fetcher. A token, when present, authenticates both the API
// client and plain requests.
func New(logger *log.Logger, opts Options) *Fetcher {
	httpClient := http.DefaultClient
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	var doer HTTPClient = httpClient
	if opts.HTTPClient != nil {
		doer = opts.HTTPClient
		if hc, ok := opts.HTTPClient.(*http.Client); ok {
			httpClient = hc
		}
	}

	return &Fetcher{
		logger:  logger,
		http:    doer,
		gh:      github.NewClient(httpClient),
		cache:   opts.Cache,
		limiter: opts.Limiter,
	}
}

// rateLimitedError carries the provider's wait hint for a quota response.
type rateLimitedError struct {
	wait time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.wait)
}

// Fetch returns the diff text for rawURL. Cache hits return immediately.
// A quota response is retried once after the provider's wait hint; the hint
// sleep honors ctx. 404 maps to ErrNotFound; every other failure is returned
// as a transient error for the caller to skip on.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if f.cache != nil {
		if text, ok := f.cache.Get(rawURL); ok {
			f.logger.Cache("Cache hit for %s", rawURL)
			return text, nil
		}
	}

	host := hostOf(rawURL)
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, host); err != nil {
			return "", err
		}
	}

	text, err := f.fetchOnce(ctx, rawURL)
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		f.logger.Warning("Quota exceeded on %s - retrying in %s", host, rl.wait)
		timer := time.NewTimer(rl.wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		text, err = f.fetchOnce(ctx, rawURL)
		if errors.As(err, &rl) {
			err = fmt.Errorf("still rate limited after retry: %w", err)
		}
	}
	if err != nil {
		return "", err
	}

	if f.cache != nil {
		if err := f.cache.Put(rawURL, text); err != nil {
			f.logger.Warning("Failed to cache diff for %s: %v", rawURL, err)
		}
	}
	return text, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (string, error) {
	if owner, repo, number, ok := PullRequestRef(rawURL); ok {
		return f.fetchFromAPI(ctx, owner, repo, number)
	}
	return f.fetchRaw(ctx, rawURL)
}

// fetchFromAPI retrieves a pull request in diff representation through the
// GitHub API, which honors authentication and reports quota state.
func (f *Fetcher) fetchFromAPI(ctx context.Context, owner, repo string, number int) (string, error) {
	f.logger.Fetch("Fetching %s/%s#%d via API", owner, repo, number)
	raw, resp, err := f.gh.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if resp != nil && f.limiter != nil {
		f.limiter.Update(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
	if err != nil {
		var rle *github.RateLimitError
		if errors.As(err, &rle) {
			return "", &rateLimitedError{wait: waitUntil(rle.Rate.Reset.Time)}
		}
		var abuse *github.AbuseRateLimitError
		if errors.As(err, &abuse) {
			wait := defaultRetryWait
			if abuse.RetryAfter != nil {
				wait = *abuse.RetryAfter
			}
			return "", &rateLimitedError{wait: wait}
		}
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			switch ghErr.Response.StatusCode {
			case http.StatusNotFound, http.StatusGone:
				return "", fmt.Errorf("%s/%s#%d: %w", owner, repo, number, ErrNotFound)
			case http.StatusTooManyRequests:
				return "", &rateLimitedError{wait: retryAfter(ghErr.Response)}
			}
		}
		return "", fmt.Errorf("failed to fetch %s/%s#%d: %w", owner, repo, number, err)
	}
	return raw, nil
}

// fetchRaw issues a plain GET requesting diff representation.
func (f *Fetcher) fetchRaw(ctx context.Context, rawURL string) (string, error) {
	f.logger.Fetch("Fetching %s", rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid diff URL %q: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3.diff")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if f.limiter != nil {
		if remaining, reset, ok := quotaHeaders(resp); ok {
			f.limiter.Update(remaining, reset)
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &rateLimitedError{wait: retryAfter(resp)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read diff from %s: %w", rawURL, err)
	}
	return string(body), nil
}

// PullRequestRef extracts owner, repo and PR number from a GitHub web diff
// URL of the form https://github.com/<owner>/<repo>/pull/<n>.diff.
func PullRequestRef(rawURL string) (owner, repo string, number int, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() != "github.com" {
		return "", "", 0, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[2] != "pull" || !strings.HasSuffix(parts[3], ".diff") {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(parts[3], ".diff"))
	if err != nil {
		return "", "", 0, false
	}
	return parts[0], parts[1], n, true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if _, _, _, ok := PullRequestRef(rawURL); ok {
		// The web URL is fetched through the API host.
		return "api.github.com"
	}
	return u.Hostname()
}

func quotaHeaders(resp *http.Response) (remaining int, reset time.Time, ok bool) {
	rem := resp.Header.Get("X-RateLimit-Remaining")
	if rem == "" {
		return 0, time.Time{}, false
	}
	remaining, err := strconv.Atoi(rem)
	if err != nil {
		return 0, time.Time{}, false
	}
	if sec, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		reset = time.Unix(sec, 0)
	}
	return remaining, reset, true
}

func retryAfter(resp *http.Response) time.Duration {
	if sec, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && sec >= 0 {
		return time.Duration(sec) * time.Second
	}
	return defaultRetryWait
}

func waitUntil(t time.Time) time.Duration {
	wait := time.Until(t)
	if wait <= 0 || wait > time.Hour {
		return defaultRetryWait
	}
	return wait
}
