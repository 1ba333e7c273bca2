package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager runs independent trackers for many jobs at once.
type Manager struct {
	backend       Backend
	cfg           Config
	maxConcurrent int
	logger        *slog.Logger
	listeners     []Listener

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewManager creates a manager. maxConcurrent <= 0 means unlimited.
func NewManager(backend Backend, cfg Config, maxConcurrent int, logger *slog.Logger, listeners ...Listener) *Manager {
	return &Manager{
		backend:       backend,
		cfg:           cfg,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		listeners:     listeners,
		trackers:      make(map[string]*Tracker),
	}
}

// Track starts tracking jobID, or returns the running tracker if one exists.
func (m *Manager) Track(ctx context.Context, jobID string, extra ...Listener) (*Tracker, error) {
	if err := ValidateJobID(jobID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.trackers[jobID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if m.maxConcurrent > 0 && len(m.trackers) >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, m.maxConcurrent)
	}

	listeners := append(append([]Listener{}, m.listeners...), extra...)
	tr := New(m.backend, m.cfg, m.logger.With(slog.String("job_id", jobID)), listeners...)
	m.trackers[jobID] = tr
	m.mu.Unlock()

	if err := tr.Start(ctx, jobID); err != nil {
		m.remove(jobID, tr)
		return nil, err
	}

	go func() {
		<-tr.Done()
		m.remove(jobID, tr)
	}()

	return tr, nil
}

// Untrack stops the session for jobID.
func (m *Manager) Untrack(jobID string) error {
	m.mu.Lock()
	tr, ok := m.trackers[jobID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, jobID)
	}

	tr.Stop()
	m.remove(jobID, tr)
	return nil
}

// Snapshot returns the live state of a tracked job.
func (m *Manager) Snapshot(jobID string) (Snapshot, bool) {
	m.mu.Lock()
	tr, ok := m.trackers[jobID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return tr.Snapshot(), true
}

// Active lists snapshots of all running sessions ordered by job id.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, tr := range m.trackers {
		trackers = append(trackers, tr)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(trackers))
	for _, tr := range trackers {
		snaps = append(snaps, tr.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].JobID < snaps[j].JobID })
	return snaps
}

// StopAll stops every running session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	trackers := make(map[string]*Tracker, len(m.trackers))
	for id, tr := range m.trackers {
		trackers[id] = tr
	}
	m.mu.Unlock()

	for id, tr := range trackers {
		tr.Stop()
		m.remove(id, tr)
	}
}

func (m *Manager) remove(jobID string, tr *Tracker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trackers[jobID] == tr {
		delete(m.trackers, jobID)
	}
}
