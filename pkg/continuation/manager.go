// Package continuation mints and resolves opaque tokens that let a
// truncated query response be resumed from where it left off. Tokens
// are process-local: the cursor they refer to lives only in this
// package's in-memory map and does not survive a process restart.
package continuation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

// DefaultIdleTimeout matches the default idle expiry.
const DefaultIdleTimeout = 30 * time.Minute

// Slice is one (object, byte-range) read the planner still owes the
// caller. StartOffset/EndOffset are uncompressed byte offsets, half-open.
type Slice struct {
	Object      string
	StartOffset int64
	EndOffset   int64
}

// Predicate is the query filter a resumed cursor must keep applying:
// one value per KeyPart (in schema order) and, for locus indexes, the
// query locus bound.
type Predicate struct {
	KeyValues  []string
	HasLocus   bool
	LocusChrom string
	LocusStart int64
	LocusEnd   int64
}

// Cursor is the full state needed to resume a partial query response.
type Cursor struct {
	IndexName string
	Slices    []Slice
	// OffsetInFirstSlice is how far into Slices[0] the caller already
	// consumed, so resuming narrows the first slice instead of re-reading it.
	OffsetInFirstSlice int64
	Filter             Predicate
	ByteBudget         int64
	Page               int
	// BytesTotal is the byte span of every slice the original query
	// selected; BytesRead accumulates across pages so resumed responses
	// can keep reporting progress.
	BytesTotal int64
	BytesRead  int64
}

type entry struct {
	cursor    Cursor
	expiresAt time.Time
}

// Manager is a mutex-protected, token-id-keyed map of in-flight cursors.
type Manager struct {
	mu          sync.Mutex
	entries     map[string]*entry
	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewManager starts a manager with the given idle timeout (zero uses
// DefaultIdleTimeout) and a background sweep goroutine that runs every
// idleTimeout/2 (see sweep).
func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	m := &Manager{
		entries:     make(map[string]*entry),
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the background sweep goroutine. It does not invalidate
// any outstanding tokens.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) sweepLoop() {
	interval := m.idleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep releases the cursor of each expired token but keeps the entry,
// so Resume still reports ExpiredToken rather than InvalidToken; the
// entry is deleted once it has been expired for a further
// DefaultIdleTimeout.
func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, e := range m.entries {
		switch {
		case now.After(e.expiresAt.Add(DefaultIdleTimeout)):
			delete(m.entries, token)
		case now.After(e.expiresAt):
			e.cursor = Cursor{}
		}
	}
}

// Mint stores cursor under a fresh random token id and returns it.
func (m *Manager) Mint(cursor Cursor) string {
	token := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = &entry{cursor: cursor, expiresAt: time.Now().Add(m.idleTimeout)}
	return token
}

// Resume looks up token and returns its cursor, touching its idle
// timeout. A token used twice is not forbidden and returns the same
// cursor both times; the planner re-mints a fresh token if the
// resumed response is again truncated.
func (m *Manager) Resume(token string) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return Cursor{}, bioerr.New(bioerr.InvalidToken, "Resume", "unknown continuation token")
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, token)
		return Cursor{}, bioerr.New(bioerr.ExpiredToken, "Resume", "continuation token expired")
	}
	e.expiresAt = time.Now().Add(m.idleTimeout)
	return e.cursor, nil
}

// Len reports the number of tokens held, including expired ones not yet
// deleted by sweep. Exposed for tests and metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
