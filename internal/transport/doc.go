// Package transport provides the authenticated HTTP transport for the
// opsdeck API client.
//
// # Outgoing hook
//
// Every request is cloned and sent with "Authorization: Bearer <token>" when
// the session holds a token, unless the request targets the refresh endpoint
// itself, which must stay credential-free by construction.
//
// # 401 recovery
//
// On an authorization failure the transport refreshes the token and retries
// the original request exactly once. Concurrent failures share a single
// refresh call via singleflight: N requests failing at once produce one call
// to the refresh endpoint, and all N resume (or all N fail) from its outcome.
//
// An unrecoverable refresh (call fails, returns no token, or the failing
// request was the refresh endpoint) logs the session out, fires the
// OnSessionExpired hook, and surfaces ErrSessionExpired.
package transport
