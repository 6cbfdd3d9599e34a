package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/metrics"
	"topup-reconciler/internal/model"
	"topup-reconciler/internal/store"
)

// One shared instance; promauto registers on the process-wide registry.
var testMetrics = metrics.NewMetrics()

type fakeFetcher struct {
	emails []model.EmailMessage
	err    error
	calls  int
}

func (f *fakeFetcher) FetchRecent(_ context.Context, _ int) ([]model.EmailMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.emails, nil
}

func (f *fakeFetcher) Close() error { return nil }

type fakeProcessor struct {
	created   map[string]bool
	processed []string
}

func (f *fakeProcessor) ProcessEmail(_ context.Context, email model.EmailMessage) (bool, error) {
	f.processed = append(f.processed, email.ID)
	return f.created[email.ID], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.PollerSettings{}))
	return store.New(db)
}

func newTestPoller(t *testing.T, f *fakeFetcher, proc *fakeProcessor) (*Poller, *store.Store) {
	t.Helper()

	st := newTestStore(t)
	cfg := config.PollerConfig{CycleTimeout: time.Minute, MaxBackoffTicks: 6}
	return New(cfg, 20, st, f, proc, testMetrics), st
}

func enablePolling(t *testing.T, st *store.Store, intervalMinutes int) {
	t.Helper()

	ps, err := st.GetPollerSettings()
	require.NoError(t, err)
	ps.Enabled = true
	ps.PollingMode = model.PollingModeRealtime
	ps.PollingIntervalMinutes = intervalMinutes
	require.NoError(t, st.UpdatePollerSettings(ps))
}

func TestPollerStartStop(t *testing.T) {
	p, _ := newTestPoller(t, &fakeFetcher{}, &fakeProcessor{})

	assert.False(t, p.IsRunning())

	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())

	// Starting twice is an error.
	assert.Error(t, p.Start())

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())

	// Stopping again is a no-op.
	assert.NoError(t, p.Stop())
}

// ctxFetcher fails when the scan context is already cancelled, so a
// restarted poller running on a dead context would be caught here.
type ctxFetcher struct {
	calls int
}

func (f *ctxFetcher) FetchRecent(ctx context.Context, _ int) ([]model.EmailMessage, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *ctxFetcher) Close() error { return nil }

func TestPollerRestart(t *testing.T) {
	st := newTestStore(t)
	fetcher := &ctxFetcher{}
	cfg := config.PollerConfig{CycleTimeout: time.Minute, MaxBackoffTicks: 6}
	p := New(cfg, 20, st, fetcher, &fakeProcessor{}, testMetrics)

	enablePolling(t, st, 1)

	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Start())
	defer p.Stop()

	// Exactly one schedule entry survives the restart.
	assert.Len(t, p.cron.Entries(), 1)

	// A scan on the restarted poller runs with a live context.
	p.tick()
	assert.Equal(t, 1, fetcher.calls)
}

func TestRunOnceProcessesBatch(t *testing.T) {
	fetcher := &fakeFetcher{emails: []model.EmailMessage{
		{ID: "email-1"},
		{ID: "email-2"},
		{ID: "email-3"},
	}}
	proc := &fakeProcessor{created: map[string]bool{"email-1": true, "email-3": true}}
	p, st := newTestPoller(t, fetcher, proc)

	require.NoError(t, p.RunOnce())

	assert.Equal(t, []string{"email-1", "email-2", "email-3"}, proc.processed)
	assert.False(t, p.LastRun().IsZero())

	// Scan bookkeeping lands in the settings row.
	ps, err := st.GetPollerSettings()
	require.NoError(t, err)
	require.NotNil(t, ps.LastAutoScan)
	assert.Equal(t, 2, ps.LastScanCreated)
}

func TestRunOnceFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("imap connection reset")}
	p, _ := newTestPoller(t, fetcher, &fakeProcessor{})

	err := p.RunOnce()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap connection reset")
}

func TestTickSkipsWhenDisabled(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, st := newTestPoller(t, fetcher, &fakeProcessor{})

	// Settings row exists but polling stays disabled.
	_, err := st.GetPollerSettings()
	require.NoError(t, err)

	p.isRunning = true
	p.tick()

	assert.Zero(t, fetcher.calls)
}

func TestTickScansWhenDue(t *testing.T) {
	fetcher := &fakeFetcher{emails: []model.EmailMessage{{ID: "email-1"}}}
	proc := &fakeProcessor{}
	p, st := newTestPoller(t, fetcher, proc)
	enablePolling(t, st, 5)

	p.isRunning = true
	p.tick()

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, []string{"email-1"}, proc.processed)
}

func TestTickHonorsInterval(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, st := newTestPoller(t, fetcher, &fakeProcessor{})
	enablePolling(t, st, 5)

	// A scan two minutes ago is inside the five-minute interval.
	recent := time.Now().Add(-2 * time.Minute)
	require.NoError(t, st.RecordScan(recent, 0))

	p.isRunning = true
	p.tick()
	assert.Zero(t, fetcher.calls)

	// Push the last scan past the interval and the next tick fires.
	stale := time.Now().Add(-6 * time.Minute)
	require.NoError(t, st.RecordScan(stale, 0))

	p.tick()
	assert.Equal(t, 1, fetcher.calls)
}

func TestTickBacksOffAfterFailures(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("imap down")}
	p, st := newTestPoller(t, fetcher, &fakeProcessor{})
	enablePolling(t, st, 5)

	p.isRunning = true
	p.tick()
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, p.consecutiveFailures)
	assert.True(t, p.backoffUntil.After(time.Now()))

	// The next tick lands inside the backoff window and never fetches.
	p.tick()
	assert.Equal(t, 1, fetcher.calls)
}

func TestBackoffCap(t *testing.T) {
	p, _ := newTestPoller(t, &fakeFetcher{}, &fakeProcessor{})

	now := time.Now()
	for i := 0; i < 10; i++ {
		p.recordFailure(now, time.Minute)
	}

	assert.Equal(t, 10, p.consecutiveFailures)
	// Capped at max_backoff_ticks intervals from now.
	assert.WithinDuration(t, now.Add(6*time.Minute), p.backoffUntil, time.Second)
}

func TestBackoffClearsOnSuccess(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("imap down")}
	p, st := newTestPoller(t, fetcher, &fakeProcessor{})
	enablePolling(t, st, 5)

	p.isRunning = true
	p.tick()
	require.Equal(t, 1, p.consecutiveFailures)

	// The fetcher recovers and a manual run clears the backoff state.
	fetcher.err = nil
	require.NoError(t, p.RunOnce())
	assert.Zero(t, p.consecutiveFailures)
	assert.True(t, p.backoffUntil.IsZero())
}
