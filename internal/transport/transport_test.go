// ABOUTME: Tests for the authenticated transport covering single-flight refresh,
// ABOUTME: retry limits, refresh-endpoint exemption, and session expiry handling.

package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refreshPath = "/api/v1/auth/refresh"

// fakeStore is a minimal in-memory session store with call counters.
type fakeStore struct {
	mu      sync.Mutex
	token   string
	logouts int
}

func (f *fakeStore) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeStore) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeStore) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	f.logouts++
}

func (f *fakeStore) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

// testBackend simulates the API server: every endpoint 401s unless the
// request carries the current good token, and the refresh endpoint rotates it.
type testBackend struct {
	mu           sync.Mutex
	goodToken    string
	refreshToken string // token handed out by the refresh endpoint; "" disables refresh
	refreshDelay time.Duration
	refreshCalls atomic.Int64
	hits         map[string]int
	authSeen     map[string][]string
}

func newTestBackend(goodToken, refreshToken string) *testBackend {
	return &testBackend{
		goodToken:    goodToken,
		refreshToken: refreshToken,
		hits:         make(map[string]int),
		authSeen:     make(map[string][]string),
	}
}

func (b *testBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[r.URL.Path]++
		b.authSeen[r.URL.Path] = append(b.authSeen[r.URL.Path], r.Header.Get("Authorization"))
		b.mu.Unlock()

		if r.URL.Path == refreshPath {
			b.refreshCalls.Add(1)
			time.Sleep(b.refreshDelay)
			if b.refreshToken == "" {
				http.Error(w, `{"error":"refresh denied"}`, http.StatusUnauthorized)
				return
			}
			b.mu.Lock()
			b.goodToken = b.refreshToken
			b.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"accessToken":"` + b.refreshToken + `"}`))
			return
		}

		b.mu.Lock()
		good := "Bearer " + b.goodToken
		b.mu.Unlock()
		if r.Header.Get("Authorization") != good {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})
}

func (b *testBackend) hitCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *testBackend) lastAuth(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := b.authSeen[path]
	if len(seen) == 0 {
		return ""
	}
	return seen[len(seen)-1]
}

func newTestTransport(t *testing.T, srv *httptest.Server, store SessionStore) *Transport {
	t.Helper()
	tr, err := New(store, srv.URL+refreshPath)
	require.NoError(t, err)
	return tr
}

func TestRoundTrip_AttachesBearerToken(t *testing.T) {
	backend := newTestBackend("T1", "T2")
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	client := &http.Client{Transport: newTestTransport(t, srv, store)}

	resp, err := client.Get(srv.URL + "/a")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer T1", backend.lastAuth("/a"))
}

func TestRoundTrip_SingleFlightRefresh(t *testing.T) {
	backend := newTestBackend("T2", "T2") // stale client token forces a 401 first
	backend.refreshDelay = 30 * time.Millisecond
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	client := &http.Client{Transport: newTestTransport(t, srv, store)}

	// Fire concurrent requests against distinct URLs; each gets a 401 with
	// the stale token and must attach to the one in-flight refresh.
	paths := []string{"/a", "/b", "/a", "/b", "/c"}
	var wg sync.WaitGroup
	errs := make([]error, len(paths))
	codes := make([]int, len(paths))
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + p)
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i, p)
	}
	wg.Wait()

	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, codes[i])
	}
	assert.Equal(t, int64(1), backend.refreshCalls.Load(), "refresh endpoint must be invoked exactly once")
	assert.Equal(t, "T2", store.Token())
	assert.Equal(t, "Bearer T2", backend.lastAuth("/a"))
	assert.Equal(t, "Bearer T2", backend.lastAuth("/b"))
}

func TestRoundTrip_NoDoubleRetry(t *testing.T) {
	// The refresh succeeds but the new token is still rejected: the retried
	// request 401s again and must not trigger a second recovery.
	var endpointHits, refreshHits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshHits.Add(1)
		w.Write([]byte(`{"accessToken":"T2"}`))
	})
	mux.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		endpointHits.Add(1)
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	client := &http.Client{Transport: newTestTransport(t, srv, store)}

	resp, err := client.Get(srv.URL + "/x")
	require.NoError(t, err)
	defer resp.Body.Close()

	// The second 401 is surfaced unchanged; no second refresh, no third send.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int64(2), endpointHits.Load())
	assert.Equal(t, int64(1), refreshHits.Load())
}

func TestRoundTrip_RefreshEndpointExemption(t *testing.T) {
	backend := newTestBackend("T1", "") // refresh endpoint 401s
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	var expired atomic.Int64
	tr := newTestTransport(t, srv, store)
	tr.OnSessionExpired = func() { expired.Add(1) }
	client := &http.Client{Transport: tr}

	resp, err := client.Post(srv.URL+refreshPath, "application/json", nil)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The 401 from the refresh endpoint itself never starts a nested refresh.
	assert.Equal(t, 1, backend.hitCount(refreshPath))
	// The outgoing hook never attaches a bearer header to the refresh target.
	assert.Empty(t, backend.lastAuth(refreshPath))
	assert.Equal(t, 1, store.logoutCount())
	assert.Equal(t, int64(1), expired.Load())
}

func TestRoundTrip_RefreshFailureLogsOutOnce(t *testing.T) {
	backend := newTestBackend("good", "") // normal 401s, refresh denied
	backend.refreshDelay = 20 * time.Millisecond
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := &fakeStore{token: "stale"}
	var expired atomic.Int64
	tr := newTestTransport(t, srv, store)
	tr.OnSessionExpired = func() { expired.Add(1) }
	client := &http.Client{Transport: tr}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/a")
			if resp != nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.Equal(t, int64(1), backend.refreshCalls.Load())
	assert.Equal(t, 1, store.logoutCount())
	assert.Equal(t, int64(1), expired.Load())
	assert.Empty(t, store.Token())
}

func TestRoundTrip_EmptyRefreshTokenIsFailure(t *testing.T) {
	mux := http.NewServeMux()
	hits := atomic.Int64{}
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accessToken":""}`))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	client := &http.Client{Transport: newTestTransport(t, srv, store)}

	resp, err := client.Get(srv.URL + "/a")
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, 1, store.logoutCount())
}

func TestRoundTrip_NonAuthFailurePassesThrough(t *testing.T) {
	mux := http.NewServeMux()
	refreshed := atomic.Int64{}
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshed.Add(1)
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"teapot"}`, http.StatusTeapot)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	client := &http.Client{Transport: newTestTransport(t, srv, store)}

	resp, err := client.Get(srv.URL + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, int64(0), refreshed.Load())
}

func TestRoundTrip_InitializesNilHeaders(t *testing.T) {
	backend := newTestBackend("T1", "T2")
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	tr := newTestTransport(t, srv, store)

	u, err := url.Parse(srv.URL + "/a")
	require.NoError(t, err)

	// A bare request descriptor with no header container at all.
	resp, err := tr.RoundTrip(&http.Request{Method: http.MethodGet, URL: u})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer T1", backend.lastAuth("/a"))
}

func TestRoundTrip_ReplaysBodyOnRetry(t *testing.T) {
	var gotBodies []string
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accessToken":"T2"}`))
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBodies = append(gotBodies, string(body))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer T2" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	client := &http.Client{Transport: newTestTransport(t, srv, store)}

	resp, err := client.Post(srv.URL+"/submit", "application/json", strings.NewReader(`{"name":"job"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotBodies, 2)
	assert.Equal(t, `{"name":"job"}`, gotBodies[0])
	assert.Equal(t, `{"name":"job"}`, gotBodies[1], "retry must resend the full body")
}

func TestRoundTrip_RequestIDAttached(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-Id")
	}))
	defer srv.Close()

	store := &fakeStore{token: "T1"}
	client := &http.Client{Transport: newTestTransport(t, srv, store)}

	resp, err := client.Get(srv.URL + "/a")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, gotID)
}

func TestNew_RejectsRelativeRefreshURL(t *testing.T) {
	_, err := New(&fakeStore{}, "/api/v1/auth/refresh")
	require.Error(t, err)
}
