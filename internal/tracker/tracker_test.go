package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	report *ProgressReport
	err    error
}

// scriptedBackend replays steps in order and repeats the last one.
type scriptedBackend struct {
	mu            sync.Mutex
	steps         []step
	progressCalls int
	resultCalls   int
	result        *AnalysisResult
	resultErr     error
	beforeResult  func()
}

func (b *scriptedBackend) GetProgress(ctx context.Context, jobID string) (*ProgressReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.progressCalls
	if i >= len(b.steps) {
		i = len(b.steps) - 1
	}
	b.progressCalls++
	st := b.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	r := *st.report
	return &r, nil
}

func (b *scriptedBackend) GetResult(ctx context.Context, jobID string) (*AnalysisResult, error) {
	if b.beforeResult != nil {
		b.beforeResult()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resultCalls++
	return b.result, b.resultErr
}

func (b *scriptedBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progressCalls, b.resultCalls
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) kinds() []EventKind {
	var kinds []EventKind
	for _, ev := range r.all() {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.SettleDelay = time.Millisecond
	return cfg
}

func waitDone(t *testing.T, tr *Tracker) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("tracking session did not finish")
	}
}

var errUnavailable = &TransportError{Op: "get progress", StatusCode: 503, Err: errors.New("service unavailable")}

func TestTracker_CompletionScenario(t *testing.T) {
	backend := &scriptedBackend{
		steps: []step{
			{report: &ProgressReport{Progress: 0, Status: "pending"}},
			{report: &ProgressReport{Progress: 35, Status: "processing"}},
			{report: &ProgressReport{Progress: 100, Status: "done", IsCompleted: true}},
		},
		result: &AnalysisResult{Events: []DetectedEvent{{Type: "person"}, {Type: "vehicle"}}},
	}
	rec := &recorder{}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "42"))
	waitDone(t, tr)

	progressCalls, resultCalls := backend.calls()
	assert.Equal(t, 3, progressCalls)
	assert.Equal(t, 1, resultCalls)

	assert.Equal(t, []EventKind{EventStarted, EventProgress, EventCompleted}, rec.kinds())

	events := rec.all()
	assert.Equal(t, 35, events[0].Snapshot.Progress)
	assert.True(t, events[0].Snapshot.HasStarted)
	assert.Equal(t, 100, events[1].Snapshot.Progress)

	done := events[2]
	require.NotNil(t, done.Result)
	require.NotNil(t, done.Message)
	assert.NoError(t, done.Err)
	assert.Equal(t, "Analysis complete. 2 events found.", done.Message.Body)
	assert.Equal(t, StateCompleted, done.Snapshot.State)
	assert.Equal(t, 2, done.Snapshot.EventCount)

	snap := tr.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, StatusUnknown, snap.Status)
	assert.Equal(t, "done", snap.RawStatus)
}

func TestTracker_ProgressIsFullBeforeResultFetch(t *testing.T) {
	rec := &recorder{}
	var sawFull bool
	backend := &scriptedBackend{
		steps:  []step{{report: &ProgressReport{Progress: 90, Status: "completed", IsCompleted: true}}},
		result: &AnalysisResult{},
	}
	backend.beforeResult = func() {
		for _, ev := range rec.all() {
			if ev.Kind == EventProgress && ev.Snapshot.Progress == 100 {
				sawFull = true
			}
		}
	}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "job-1"))
	waitDone(t, tr)

	assert.True(t, sawFull, "full progress must be published before results are fetched")
	_, resultCalls := backend.calls()
	assert.Equal(t, 1, resultCalls)

	last := rec.all()[len(rec.all())-1]
	assert.Equal(t, msgNoEvents, last.Message.Body)
}

func TestTracker_ResultFetchFailureIsDegraded(t *testing.T) {
	backend := &scriptedBackend{
		steps:     []step{{report: &ProgressReport{Progress: 100, Status: "completed", IsCompleted: true}}},
		resultErr: errors.New("connection reset"),
	}
	rec := &recorder{}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "job-2"))
	waitDone(t, tr)

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, EventCompleted, last.Kind)
	assert.ErrorIs(t, last.Err, ErrResultUnavailable)
	assert.Nil(t, last.Result)
	assert.Equal(t, MessageWarning, last.Message.Kind)
	assert.Equal(t, StateCompleted, tr.Snapshot().State)
	assert.Equal(t, 100, tr.Snapshot().Progress)
}

func TestTracker_RetryCeiling(t *testing.T) {
	backend := &scriptedBackend{steps: []step{{err: errUnavailable}}}
	rec := &recorder{}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "job-3"))
	waitDone(t, tr)

	time.Sleep(20 * time.Millisecond)
	progressCalls, resultCalls := backend.calls()
	assert.Equal(t, DefaultMaxRetries, progressCalls, "no request after the ceiling")
	assert.Equal(t, 0, resultCalls)

	assert.Equal(t, 1, rec.count(EventFailed))
	assert.Equal(t, DefaultMaxRetries-1, rec.count(EventRetrying))

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Kind)
	assert.ErrorIs(t, last.Err, ErrRetriesExhausted)
	assert.Equal(t, msgUnreachable, last.Message.Body)
	assert.Equal(t, 0, last.Snapshot.Progress)
	assert.Equal(t, StateFailed, tr.Snapshot().State)
}

func TestTracker_SuccessResetsRetryCount(t *testing.T) {
	var steps []step
	for i := 0; i < DefaultMaxRetries-1; i++ {
		steps = append(steps, step{err: errUnavailable})
	}
	steps = append(steps, step{report: &ProgressReport{Progress: 20, Status: "processing"}})
	for i := 0; i < DefaultMaxRetries-1; i++ {
		steps = append(steps, step{err: errUnavailable})
	}
	steps = append(steps, step{report: &ProgressReport{Progress: 100, Status: "completed", IsCompleted: true}})

	backend := &scriptedBackend{steps: steps, result: &AnalysisResult{}}
	rec := &recorder{}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "job-4"))
	waitDone(t, tr)

	assert.Equal(t, 0, rec.count(EventFailed))
	assert.Equal(t, 1, rec.count(EventCompleted))
	assert.Equal(t, 0, tr.Snapshot().RetryCount)
}

func TestTracker_ReportedFailureStopsPolling(t *testing.T) {
	backend := &scriptedBackend{
		steps: []step{
			{report: &ProgressReport{Progress: 60, Status: "processing"}},
			{report: &ProgressReport{Progress: 60, Status: "failed", IsFailed: true}},
			{report: &ProgressReport{Progress: 70, Status: "processing"}},
		},
	}
	rec := &recorder{}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "job-5"))
	waitDone(t, tr)
	time.Sleep(20 * time.Millisecond)

	progressCalls, resultCalls := backend.calls()
	assert.Equal(t, 2, progressCalls)
	assert.Equal(t, 0, resultCalls)

	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Kind)
	assert.ErrorIs(t, last.Err, ErrAnalysisFailed)
	assert.Equal(t, 0, last.Snapshot.Progress)
	assert.Equal(t, 1, rec.count(EventFailed))
}

func TestTracker_FailFastOnNotFound(t *testing.T) {
	notFound := &TransportError{Op: "get progress", StatusCode: 404, Err: errors.New("not found")}
	backend := &scriptedBackend{steps: []step{{err: notFound}}}

	cfg := fastConfig()
	cfg.FailFastOnNotFound = true
	rec := &recorder{}
	tr := New(backend, cfg, testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "missing"))
	waitDone(t, tr)

	progressCalls, _ := backend.calls()
	assert.Equal(t, 1, progressCalls)
	assert.Equal(t, []EventKind{EventFailed}, rec.kinds())
	assert.True(t, IsNotFound(rec.all()[0].Err))
}

// blockingBackend holds the first progress request until released.
type blockingBackend struct {
	entered chan struct{}
	release chan struct{}

	mu          sync.Mutex
	ctx         context.Context
	resultCalls int
}

func (b *blockingBackend) GetProgress(ctx context.Context, jobID string) (*ProgressReport, error) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
	close(b.entered)
	<-b.release
	return &ProgressReport{Progress: 100, Status: "completed", IsCompleted: true}, nil
}

func (b *blockingBackend) GetResult(ctx context.Context, jobID string) (*AnalysisResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resultCalls++
	return &AnalysisResult{}, nil
}

func (b *blockingBackend) requestCanceled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx != nil && b.ctx.Err() != nil
}

func TestTracker_StaleResponseAfterStop(t *testing.T) {
	backend := &blockingBackend{entered: make(chan struct{}), release: make(chan struct{})}
	rec := &recorder{}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "job-6"))
	<-backend.entered
	before := tr.Snapshot()

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()

	require.Eventually(t, backend.requestCanceled, time.Second, time.Millisecond)
	close(backend.release)
	<-stopped

	assert.Equal(t, []EventKind{EventCanceled}, rec.kinds())
	assert.Equal(t, 0, backend.resultCalls)

	snap := tr.Snapshot()
	assert.Equal(t, StateCanceled, snap.State)
	assert.Equal(t, before.Progress, snap.Progress)
	assert.False(t, snap.HasStarted)
}

func TestTracker_UnchangedPollsStillEmitProgress(t *testing.T) {
	backend := &scriptedBackend{steps: []step{{report: pending()}}}
	rec := &recorder{}
	cfg := fastConfig()
	cfg.KeepAliveTicks = 3
	cfg.StartCheckLimit = 10000
	tr := New(backend, cfg, testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "job-quiet"))
	require.Eventually(t, func() bool {
		return rec.count(EventProgress) >= 2
	}, 5*time.Second, time.Millisecond)
	tr.Stop()

	var checks []int
	for _, ev := range rec.all() {
		if ev.Kind != EventProgress {
			continue
		}
		assert.Equal(t, 0, ev.Snapshot.Progress)
		assert.False(t, ev.Snapshot.HasStarted)
		checks = append(checks, ev.Snapshot.InitialCheckCount)
	}
	require.GreaterOrEqual(t, len(checks), 2)
	for i := 1; i < len(checks); i++ {
		assert.Greater(t, checks[i], checks[i-1])
	}
	assert.GreaterOrEqual(t, checks[0], cfg.KeepAliveTicks)
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	tr := New(&scriptedBackend{steps: []step{{report: pending()}}}, fastConfig(), testLogger())
	tr.Stop()

	require.NoError(t, tr.Start(context.Background(), "job-7"))
	tr.Stop()
	tr.Stop()

	select {
	case <-tr.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}
}

func TestTracker_StartReplacesPreviousSession(t *testing.T) {
	backend := &scriptedBackend{steps: []step{{report: pending()}}}
	rec := &recorder{}
	tr := New(backend, fastConfig(), testLogger(), rec.listen)

	require.NoError(t, tr.Start(context.Background(), "first"))
	require.NoError(t, tr.Start(context.Background(), "second"))

	assert.Equal(t, "second", tr.Snapshot().JobID)
	assert.Equal(t, StateTracking, tr.Snapshot().State)

	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, EventCanceled, events[0].Kind)
	assert.Equal(t, "first", events[0].Snapshot.JobID)
	assert.Equal(t, 1, rec.count(EventCanceled))

	tr.Stop()
}

func TestTracker_StartRejectsInvalidJobID(t *testing.T) {
	tr := New(&scriptedBackend{}, fastConfig(), testLogger())

	for _, id := range []string{"", "   ", "a/b", ".."} {
		assert.ErrorIs(t, tr.Start(context.Background(), id), ErrInvalidJobID, "job id %q", id)
	}
}

func TestTracker_IndependentTrackersCoexist(t *testing.T) {
	a := &scriptedBackend{
		steps:  []step{{report: &ProgressReport{Progress: 100, Status: "completed", IsCompleted: true}}},
		result: &AnalysisResult{},
	}
	b := &scriptedBackend{steps: []step{{report: &ProgressReport{Progress: 10, Status: "processing"}}}}

	ta := New(a, fastConfig(), testLogger())
	tb := New(b, fastConfig(), testLogger())

	require.NoError(t, ta.Start(context.Background(), "a"))
	require.NoError(t, tb.Start(context.Background(), "b"))

	waitDone(t, ta)
	assert.Equal(t, StateCompleted, ta.Snapshot().State)

	require.Eventually(t, func() bool { return tb.Snapshot().Progress == 10 }, time.Second, time.Millisecond)
	assert.Equal(t, StateTracking, tb.Snapshot().State)
	tb.Stop()
}
