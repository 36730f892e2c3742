// ABOUTME: Authenticated http.RoundTripper that attaches the session bearer token
// ABOUTME: and recovers from 401s via a single-flight token refresh with one retry.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired indicates the session could not be restored: the refresh
// call failed, returned no token, or the refresh endpoint itself rejected the
// request. Callers distinguish it from ordinary request failures with
// errors.Is.
var ErrSessionExpired = errors.New("session expired")

// requestIDHeader carries a per-request correlation id.
const requestIDHeader = "X-Request-Id"

// refreshKey is the singleflight key for the one allowed in-flight refresh.
const refreshKey = "refresh"

// SessionStore is the slice of the session store the transport needs.
type SessionStore interface {
	Token() string
	SetToken(token string)
	Logout()
}

// retriedKey marks a request that has already been through recovery once.
type retriedKey struct{}

// Transport is an http.RoundTripper that attaches "Authorization: Bearer"
// headers to outgoing requests and, on a 401, refreshes the token through a
// single-flight coordinator before retrying the original request exactly once.
//
// Concurrent 401s share one refresh call: the singleflight group guarantees
// that while a refresh is in flight every other failure attaches to it, and
// the group forgets the key as soon as the call settles so the next failure
// starts fresh. A hung refresh call therefore blocks every queued request;
// no timeout is applied beyond the base transport's own.
type Transport struct {
	// Base is the underlying RoundTripper. nil means http.DefaultTransport.
	Base http.RoundTripper

	// Store supplies and receives the bearer token. Required.
	Store SessionStore

	// RefreshURL is the absolute URL of the token refresh endpoint. The
	// refresh request carries no Authorization header; it authenticates via
	// the cookie jar. Required.
	RefreshURL *url.URL

	// Jar holds the out-of-band refresh credential cookie. Optional, but
	// without it the refresh endpoint has nothing to authenticate.
	Jar http.CookieJar

	// OnSessionExpired is invoked once per failed refresh outcome, after the
	// store has been logged out. The owner typically returns the user to the
	// login surface. Optional.
	OnSessionExpired func()

	// Logger is used for protocol decisions. nil means slog.Default().
	Logger *slog.Logger

	group singleflight.Group
}

// New creates a Transport for the given session store and refresh endpoint.
func New(store SessionStore, refreshURL string) (*Transport, error) {
	u, err := url.Parse(refreshURL)
	if err != nil {
		return nil, fmt.Errorf("parsing refresh URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("refresh URL %q is not absolute", refreshURL)
	}
	return &Transport{Store: store, RefreshURL: u}, nil
}

// RoundTrip sends the request with the session's bearer token attached and
// applies the 401 recovery protocol. The caller's request is never mutated.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := t.outgoing(req)

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		// Transport-level failure: there is no response to recover from.
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		// Only authorization failures trigger recovery.
		return resp, nil
	}

	if t.isRefreshTarget(out.URL) {
		// A 401 from the refresh endpoint never triggers a nested refresh.
		drain(resp)
		t.expire(errors.New("refresh endpoint rejected credentials"))
		return nil, fmt.Errorf("%w: refresh endpoint rejected credentials", ErrSessionExpired)
	}

	if retried(req.Context()) {
		// Already been through recovery once; surface the 401 unchanged.
		return resp, nil
	}

	if req.Body != nil && req.GetBody == nil {
		// The body was consumed and cannot be replayed, so a retry would
		// send a truncated request. Surface the 401 unchanged.
		t.logger().Debug("401 on request with non-replayable body, skipping retry",
			"method", req.Method, "url", req.URL.String())
		return resp, nil
	}

	if _, err := t.refresh(req.Context()); err != nil {
		drain(resp)
		return nil, err
	}
	drain(resp)

	t.logger().Debug("retrying request with refreshed token",
		"method", req.Method, "url", req.URL.String())

	// The retry re-enters RoundTrip so the outgoing hook attaches the new
	// token from the store; the context marker stops a second recovery.
	retry := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replaying request body: %w", err)
		}
		retry.Body = body
	}

	return t.RoundTrip(retry)
}

// outgoing clones the request and applies the outgoing hook: bearer header
// (unless the target is the refresh endpoint) and a request id. Requests that
// arrive with no header map at all get one.
func (t *Transport) outgoing(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if token := t.Store.Token(); token != "" && !t.isRefreshTarget(out.URL) {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	if out.Header.Get(requestIDHeader) == "" {
		out.Header.Set(requestIDHeader, uuid.NewString())
	}
	return out
}

// refresh obtains a new access token, coordinating concurrent callers through
// the singleflight group so at most one refresh call is ever in flight. The
// group drops the key once the call settles, success or failure.
func (t *Transport) refresh(ctx context.Context) (string, error) {
	v, err, shared := t.group.Do(refreshKey, func() (any, error) {
		// The refresh outlives any single triggering request: every queued
		// 401 depends on its outcome.
		token, err := t.callRefreshEndpoint(context.WithoutCancel(ctx))
		if err == nil && token == "" {
			err = errors.New("refresh returned no access token")
		}
		if err != nil {
			t.expire(err)
			return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		t.Store.SetToken(token)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		t.logger().Debug("attached to in-flight token refresh")
	}
	return v.(string), nil
}

// callRefreshEndpoint POSTs the refresh endpoint with no Authorization header,
// authenticated only by the cookie jar, and returns the new access token.
func (t *Transport) callRefreshEndpoint(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.RefreshURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building refresh request: %w", err)
	}

	// Goes through the base transport directly: the refresh call must never
	// re-enter this RoundTripper.
	client := &http.Client{Transport: t.base(), Jar: t.Jar}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling refresh endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh endpoint returned %s", resp.Status)
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}
	return body.AccessToken, nil
}

// expire logs the session out and notifies the owner. Runs at most once per
// refresh outcome because it is only reached inside the singleflight call or
// on a direct refresh-endpoint 401.
func (t *Transport) expire(cause error) {
	t.logger().Warn("session could not be restored, logging out", "cause", cause)
	t.Store.Logout()
	if t.OnSessionExpired != nil {
		t.OnSessionExpired()
	}
}

// isRefreshTarget reports whether the URL targets the refresh endpoint.
func (t *Transport) isRefreshTarget(u *url.URL) bool {
	return u.Path == t.RefreshURL.Path
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// retried reports whether the request context carries the retry marker.
func retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}
