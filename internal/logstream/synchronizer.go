// ABOUTME: Synchronizer owning one live or cached log view per observed job id,
// ABOUTME: with cache restore, historical backfill, reconnection, and dedup.

package logstream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck/internal/api"
)

// JobFetcher is the read-only slice of the jobs resource client used to
// synthesize a historical backfill for an already-completed job.
type JobFetcher interface {
	FetchJob(ctx context.Context, jobID string) (*api.Job, error)
}

// TokenSource supplies the current bearer credential for channel dials.
// The session store satisfies it.
type TokenSource interface {
	Token() string
}

// Synchronizer maintains exactly one live or cached view of a job's log
// output and terminal status. The observed job id is its only input: change
// it (including to "") and the synchronizer tears down, caches, and restores
// as needed. It never reports failure as an error; disruption is expressed
// purely through the status value, with accumulated entries left intact.
type Synchronizer struct {
	factory ChannelFactory
	jobs    JobFetcher
	tokens  TokenSource
	cache   *Cache
	logger  *slog.Logger

	mu      sync.Mutex
	jobID   string
	gen     int // observation generation; events from older generations are stale
	tr      *tracker
	ch      Channel
	cancel  context.CancelFunc
	updates chan struct{}
}

// New creates a Synchronizer. jobs may be nil to disable the historical
// fast path; cache may be nil to use a fresh private cache.
func New(factory ChannelFactory, jobs JobFetcher, tokens TokenSource, cache *Cache, logger *slog.Logger) *Synchronizer {
	if cache == nil {
		cache = NewCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		factory: factory,
		jobs:    jobs,
		tokens:  tokens,
		cache:   cache,
		logger:  logger,
		updates: make(chan struct{}, 1),
	}
}

// Observe switches the synchronizer to the given job id.
//
// On a change of id the previous channel is torn down and its accumulated
// entries flushed to the cache, then the new id either settles idle (empty
// id or no credential), restores instantly from cache, or connects fresh
// with an optional one-time historical fetch.
//
// Re-observing the current id is a no-op unless the channel was lost
// (DISCONNECTED or ERROR), in which case it reconnects; entries are kept and
// duplicate suppression absorbs any replayed events. A job in a terminal
// status is never reconnected.
func (s *Synchronizer) Observe(ctx context.Context, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID == s.jobID {
		s.reobserveLocked(ctx, jobID)
		return
	}

	prev := s.jobID
	s.teardownLocked()
	if s.tr != nil && prev != "" {
		if entries, status := s.tr.snapshot(); len(entries) > 0 {
			s.cache.Put(prev, entries, status)
		}
	}

	// Bump the generation before anything asynchronous starts: a slow event
	// from the old channel compares against this and is discarded.
	s.gen++
	s.jobID = jobID
	s.tr = newTracker(jobID)

	if jobID == "" || s.tokens.Token() == "" {
		s.tr.setStatus(StatusIdle)
		s.notifyLocked()
		return
	}

	if entries, status, ok := s.cache.Get(jobID); ok {
		s.tr.restore(entries, status)
		s.notifyLocked()
		if IsTerminal(status) {
			// Nothing more will ever arrive; no channel is opened.
			return
		}
		// Cached entries already satisfy the historical requirement; the
		// channel only needs to deliver new events.
		s.startLocked(ctx, jobID, false)
		return
	}

	s.tr.setStatus(StatusConnecting)
	s.notifyLocked()
	s.startLocked(ctx, jobID, true)
}

// reobserveLocked handles Observe with an unchanged id: reconnect after a
// lost channel, otherwise nothing to do.
func (s *Synchronizer) reobserveLocked(ctx context.Context, jobID string) {
	if jobID == "" || s.tr == nil {
		return
	}
	if s.tr.status != StatusDisconnected && s.tr.status != StatusError {
		return
	}
	if s.tokens.Token() == "" {
		return
	}

	s.teardownLocked()
	s.gen++
	s.tr.setStatus(StatusConnecting)
	s.notifyLocked()
	s.startLocked(ctx, jobID, false)
}

// startLocked launches the connection goroutine for the current generation.
func (s *Synchronizer) startLocked(ctx context.Context, jobID string, backfill bool) {
	obsCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(obsCtx, s.gen, jobID, backfill)
}

// run performs the optional historical fetch and then attaches a channel,
// pumping its events back through the state machine. Everything it reports
// is gated on the generation it was started with.
func (s *Synchronizer) run(ctx context.Context, gen int, jobID string, backfill bool) {
	if backfill && s.jobs != nil {
		job, err := s.jobs.FetchJob(ctx, jobID)
		switch {
		case err != nil:
			// The fetch is a fast-path optimization, not a requirement:
			// the channel delivers historical events itself.
			s.logger.Debug("historical job fetch failed, relying on channel",
				"job_id", jobID, "error", err)
		case job != nil && IsTerminal(job.Status):
			// The job already finished; synthesize its backfill and skip
			// opening a channel that would produce no further events.
			s.deliverBackfill(gen, job)
			return
		}
	}

	ch, err := s.factory.Open(ctx, jobID, s.tokens.Token())
	if err != nil {
		s.mu.Lock()
		if gen == s.gen {
			s.logger.Warn("log channel failed to open", "job_id", jobID, "error", err)
			s.tr.fail()
			s.cachePutLocked()
			s.notifyLocked()
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		ch.Close()
		return
	}
	s.ch = ch
	s.tr.setStatus(StatusConnected)
	s.cachePutLocked()
	s.notifyLocked()
	s.mu.Unlock()

	for ev := range ch.Events() {
		s.handle(gen, ev)
	}
}

// handle feeds a channel event through the state machine. Events from a
// generation other than the current one belong to a job id no longer being
// observed and are silently discarded, checked per event.
func (s *Synchronizer) handle(gen int, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}

	switch {
	case ev.Err != nil:
		s.logger.Warn("log channel error", "job_id", s.jobID, "error", ev.Err)
		s.tr.fail()
		s.ch = nil
		s.cachePutLocked()
		s.notifyLocked()

	case ev.Closed:
		s.tr.closeChannel(ev.CloseCode)
		s.ch = nil
		s.cachePutLocked()
		s.notifyLocked()

	case ev.Entry != nil:
		if s.tr.apply(*ev.Entry) {
			s.cachePutLocked()
			s.notifyLocked()
		}
	}
}

// deliverBackfill installs entries synthesized from a completed job's record.
func (s *Synchronizer) deliverBackfill(gen int, job *api.Job) {
	entries := backfillEntries(job)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.tr.restore(entries, job.Status)
	s.cachePutLocked()
	s.notifyLocked()
}

// Snapshot returns the consumer-visible state: a copy of the accumulated
// entries and the current status value.
func (s *Synchronizer) Snapshot() ([]Entry, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return nil, StatusIdle
	}
	return s.tr.snapshot()
}

// Updates returns a coalesced notification channel: a receive means the
// snapshot may have changed since the last look.
func (s *Synchronizer) Updates() <-chan struct{} {
	return s.updates
}

// Close tears down any open channel and flushes the current view to the
// cache, so a later Observe of the same job resumes instantly.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	if s.tr != nil && s.jobID != "" {
		if entries, status := s.tr.snapshot(); len(entries) > 0 {
			s.cache.Put(s.jobID, entries, status)
		}
	}
	s.gen++
	s.jobID = ""
	s.tr = nil
}

func (s *Synchronizer) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
}

func (s *Synchronizer) cachePutLocked() {
	entries, status := s.tr.snapshot()
	s.cache.Put(s.jobID, entries, status)
}

func (s *Synchronizer) notifyLocked() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// backfillEntries synthesizes the historical log view for a job discovered
// to be already complete: snippet lines, the result message, and a final
// status entry carrying the exit code.
func backfillEntries(job *api.Job) []Entry {
	ts := ""
	if job.CompletedAt != nil {
		ts = job.CompletedAt.Format(time.RFC3339)
	} else if job.StartedAt != nil {
		ts = job.StartedAt.Format(time.RFC3339)
	}

	var entries []Entry
	for _, line := range strings.Split(job.LogSnippet, "\n") {
		if line == "" {
			continue
		}
		entries = append(entries, Entry{Kind: KindLog, Timestamp: ts, Message: line})
	}
	if job.ResultMessage != "" {
		entries = append(entries, Entry{Kind: KindInfo, Timestamp: ts, Message: job.ResultMessage})
	}
	entries = append(entries, Entry{
		Kind:      KindStatus,
		Timestamp: ts,
		Message:   "job " + strings.ToLower(job.Status),
		Status:    job.Status,
		ExitCode:  job.ExitCode,
	})
	return entries
}
