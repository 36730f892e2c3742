// Package session holds the process-wide session state: the current bearer
// token, the authenticated flag, and the user profile. The profile persists
// across restarts; the token is kept in memory only and must be re-derived
// via refresh after a restart.
package session
