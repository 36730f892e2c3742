// ABOUTME: Pure per-job state machine turning channel events into an ordered,
// ABOUTME: deduplicated entry list and a status value. No I/O lives here.

package logstream

// tracker accumulates one job's log entries and status. It is deliberately
// free of I/O and locking so the event rules can be tested without a live
// connection; the Synchronizer owns synchronization around it.
type tracker struct {
	jobID   string
	entries []Entry
	seen    map[string]struct{}
	status  string

	// lastTerminal remembers the most recent terminal job status seen in a
	// status event, so a normal channel close can settle on it.
	lastTerminal string
}

func newTracker(jobID string) *tracker {
	return &tracker{
		jobID:  jobID,
		seen:   make(map[string]struct{}),
		status: StatusIdle,
	}
}

// restore replaces the tracker's state wholesale from a cached or backfilled
// snapshot, rebuilding the dedup index so replayed events are still rejected.
func (t *tracker) restore(entries []Entry, status string) {
	t.entries = make([]Entry, len(entries))
	copy(t.entries, entries)
	t.seen = make(map[string]struct{}, len(entries))
	for _, e := range entries {
		t.seen[e.dedupKey()] = struct{}{}
	}
	t.setStatus(status)
}

// apply feeds one channel event through the state machine. It returns true
// when the event changed observable state (a new entry or a status change).
func (t *tracker) apply(e Entry) bool {
	if e.Kind == KindSystem {
		// Transport housekeeping, not log content.
		return false
	}

	changed := false
	key := e.dedupKey()
	if _, dup := t.seen[key]; !dup {
		t.seen[key] = struct{}{}
		t.entries = append(t.entries, e)
		changed = true
	}

	if e.Kind == KindStatus && e.Status != "" && e.Status != t.status {
		t.setStatus(e.Status)
		changed = true
	}
	return changed
}

// closeChannel records the channel closing with the given WebSocket close
// code. A normal closure settles on the last seen terminal status (or the
// generic completed value); anything else means the stream was cut while the
// job may still be running.
func (t *tracker) closeChannel(code int) {
	if IsTerminal(t.status) {
		return
	}
	if code == 1000 {
		if t.lastTerminal != "" {
			t.setStatus(t.lastTerminal)
		} else {
			t.setStatus(StatusCompleted)
		}
		return
	}
	t.setStatus(StatusDisconnected)
}

// fail records a channel-level error. Already-received entries are kept.
func (t *tracker) fail() {
	if IsTerminal(t.status) {
		return
	}
	t.setStatus(StatusError)
}

func (t *tracker) setStatus(status string) {
	t.status = status
	if IsTerminal(status) {
		t.lastTerminal = status
	}
}

// snapshot returns a copy of the entries and the current status.
func (t *tracker) snapshot() ([]Entry, string) {
	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	return entries, t.status
}
