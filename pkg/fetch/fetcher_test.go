package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/atomicdiff/prsplit/pkg/cache"
	"github.com/atomicdiff/prsplit/pkg/log"
)

// countingServer wraps httptest.Server with a request counter.
type countingServer struct {
	*httptest.Server
	mu    sync.Mutex
	count int
}

func newCountingServer(handler func(w http.ResponseWriter, r *http.Request)) *countingServer {
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.count++
		cs.mu.Unlock()
		handler(w, r)
	}))
	return cs
}

func (cs *countingServer) requests() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.count
}

// recordingLimiter captures Wait and Update calls.
type recordingLimiter struct {
	mu        sync.Mutex
	hosts     []string
	remaining int
	updated   bool
}

func (l *recordingLimiter) Wait(_ context.Context, host string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts = append(l.hosts, host)
	return nil
}

func (l *recordingLimiter) Update(remaining int, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = remaining
	l.updated = true
}

func TestFetchSuccess(t *testing.T) {
	srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/vnd.github.v3.diff" {
			t.Errorf("Accept header = %q, want diff representation", got)
		}
		w.Write([]byte("diff --git a/a/x b/a/x\n+1\n"))
	})
	defer srv.Close()

	f := New(log.New(false), Options{})
	text, err := f.Fetch(context.Background(), srv.URL+"/some.diff")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if text != "diff --git a/a/x b/a/x\n+1\n" {
		t.Errorf("Fetch() = %q", text)
	}
	if srv.requests() != 1 {
		t.Errorf("server saw %d requests, want 1", srv.requests())
	}
}

func TestFetchUsesCache(t *testing.T) {
	srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cached body"))
	})
	defer srv.Close()

	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	f := New(log.New(false), Options{Cache: c})

	url := srv.URL + "/pr.diff"
	for i := 0; i < 2; i++ {
		text, err := f.Fetch(context.Background(), url)
		if err != nil {
			t.Fatalf("Fetch() #%d error = %v", i+1, err)
		}
		if text != "cached body" {
			t.Errorf("Fetch() #%d = %q, want %q", i+1, text, "cached body")
		}
	}

	if srv.requests() != 1 {
		t.Errorf("server saw %d requests, want 1 (second fetch should hit the cache)", srv.requests())
	}
}

func TestFetchNotFound(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})

		f := New(log.New(false), Options{})
		_, err := f.Fetch(context.Background(), srv.URL+"/gone.diff")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("status %d: Fetch() error = %v, want ErrNotFound", code, err)
		}
		srv.Close()
	}
}

func TestFetchRetriesOnceOnQuota(t *testing.T) {
	srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	f := New(log.New(false), Options{})
	_, err := f.Fetch(context.Background(), srv.URL+"/busy.diff")
	if err == nil {
		t.Fatal("Fetch() = nil error, want escalated rate-limit failure")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch() error = %v, want transient, not ErrNotFound", err)
	}
	if srv.requests() != 2 {
		t.Errorf("server saw %d requests, want exactly 2 (one retry)", srv.requests())
	}
}

func TestFetchRecoversAfterQuotaRetry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("second try"))
	})
	defer srv.Close()

	f := New(log.New(false), Options{})
	text, err := f.Fetch(context.Background(), srv.URL+"/flaky.diff")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if text != "second try" {
		t.Errorf("Fetch() = %q, want %q", text, "second try")
	}
	if srv.requests() != 2 {
		t.Errorf("server saw %d attempts, want 2", srv.requests())
	}
}

func TestFetchTransientNotRetried(t *testing.T) {
	srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	f := New(log.New(false), Options{})
	_, err := f.Fetch(context.Background(), srv.URL+"/broken.diff")
	if err == nil {
		t.Fatal("Fetch() = nil error, want transient failure")
	}
	if srv.requests() != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on generic failure)", srv.requests())
	}
}

func TestFetchConsultsAndUpdatesLimiter(t *testing.T) {
	srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.Header().Set("X-RateLimit-Reset", "4102444800")
		w.Write([]byte("ok"))
	})
	defer srv.Close()

	lim := &recordingLimiter{}
	f := New(log.New(false), Options{Limiter: lim})

	if _, err := f.Fetch(context.Background(), srv.URL+"/pr.diff"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(lim.hosts) != 1 {
		t.Fatalf("limiter waited %d times, want 1", len(lim.hosts))
	}
	if lim.hosts[0] == "" {
		t.Error("limiter Wait() received an empty host")
	}
	if !lim.updated || lim.remaining != 42 {
		t.Errorf("limiter ledger = (%d, updated=%v), want remaining 42", lim.remaining, lim.updated)
	}
}

func TestFetchCacheHitSkipsLimiter(t *testing.T) {
	srv := newCountingServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	defer srv.Close()

	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	lim := &recordingLimiter{}
	f := New(log.New(false), Options{Cache: c, Limiter: lim})

	url := srv.URL + "/pr.diff"
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), url); err != nil {
			t.Fatalf("Fetch() #%d error = %v", i+1, err)
		}
	}

	if len(lim.hosts) != 1 {
		t.Errorf("limiter waited %d times, want 1 (cache hit bypasses pacing)", len(lim.hosts))
	}
}

func TestPullRequestRef(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantOwner  string
		wantRepo   string
		wantNumber int
		wantOK     bool
	}{
		{
			name:       "web diff URL",
			url:        "https://github.com/octo/widgets/pull/1234.diff",
			wantOwner:  "octo",
			wantRepo:   "widgets",
			wantNumber: 1234,
			wantOK:     true,
		},
		{
			name:   "not github",
			url:    "https://patch-diff.githubusercontent.com/raw/octo/widgets/pull/1234.diff",
			wantOK: false,
		},
		{
			name:   "missing diff suffix",
			url:    "https://github.com/octo/widgets/pull/1234",
			wantOK: false,
		},
		{
			name:   "not a pull path",
			url:    "https://github.com/octo/widgets/issues/1234.diff",
			wantOK: false,
		},
		{
			name:   "non-numeric number",
			url:    "https://github.com/octo/widgets/pull/abc.diff",
			wantOK: false,
		},
		{
			name:   "not a URL",
			url:    "::::",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, number, ok := PullRequestRef(tt.url)
			if ok != tt.wantOK {
				t.Fatalf("PullRequestRef() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if owner != tt.wantOwner || repo != tt.wantRepo || number != tt.wantNumber {
				t.Errorf("PullRequestRef() = (%s, %s, %d), want (%s, %s, %d)",
					owner, repo, number, tt.wantOwner, tt.wantRepo, tt.wantNumber)
			}
		})
	}
}
