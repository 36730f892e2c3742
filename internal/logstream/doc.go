// Package logstream synchronizes live job log output for the console.
//
// # Overview
//
// Given a job id, a Synchronizer maintains exactly one live or cached view
// of that job's log entries and status. The id is the only input: changing
// it tears down the previous channel (flushing its entries to a per-job
// cache), then either settles idle, restores instantly from cache, or
// connects fresh with an optional one-time historical backfill for jobs
// that already finished.
//
// # Structure
//
//   - tracker: the pure state machine (entries, status, dedup) with no I/O
//   - Cache: per-job snapshots surviving channel teardown
//   - Channel / ChannelFactory: the event stream abstraction; the production
//     implementation reads JSON frames over WebSocket
//   - Synchronizer: ties the above together and gates every event on the
//     observation generation so slow events for a stale job id are discarded
//
// # Failure model
//
// Disruption never surfaces as an error to the consumer. A lost channel
// becomes the DISCONNECTED status, a channel-level fault becomes ERROR, and
// the accumulated entries stay intact either way. Re-observing the same id
// reconnects; duplicate suppression by (message, timestamp) absorbs any
// events replayed by the server after a reconnect.
package logstream
