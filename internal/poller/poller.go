package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/fetcher"
	"topup-reconciler/internal/metrics"
	"topup-reconciler/internal/model"
	"topup-reconciler/internal/store"
)

// EmailProcessor runs one email through the staging pipeline.
type EmailProcessor interface {
	ProcessEmail(ctx context.Context, email model.EmailMessage) (bool, error)
}

// Poller drives the periodic inbox scans. The cron entry fires every minute
// and each firing decides whether a scan is due: the operator-editable
// settings (enabled flag, interval) are re-read from the store at the top of
// every cycle, so a flag flip takes effect without a restart.
type Poller struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	cfg        config.PollerConfig
	fetchCount int
	store      *store.Store
	fetcher    fetcher.EmailFetcher
	processor  EmailProcessor
	metrics    *metrics.Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	consecutiveFailures int
	backoffUntil        time.Time
	lastRun             time.Time
}

// New creates a new poller
func New(cfg config.PollerConfig, fetchCount int, st *store.Store, f fetcher.EmailFetcher, processor EmailProcessor, m *metrics.Metrics) *Poller {
	ctx, cancel := context.WithCancel(context.Background())

	return &Poller{
		cron:       cron.New(cron.WithSeconds()),
		cfg:        cfg,
		fetchCount: fetchCount,
		store:      st,
		fetcher:    f,
		processor:  processor,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the poller. A stopped poller can be started again: the
// scan context is recreated because Stop cancelled the previous one.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("poller is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	entryID, err := p.cron.AddFunc("0 * * * * *", p.tick)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	p.entryID = entryID
	p.cron.Start()
	p.isRunning = true

	logrus.Info("Poller started")
	return nil
}

// Stop stops the poller. Cancellation is cooperative: an in-flight scan
// finishes or hits its cycle timeout, so shutdown latency is bounded.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return nil
	}

	p.cancel()

	// Drop the entry so a later Start does not stack a second tick.
	p.cron.Remove(p.entryID)
	ctx := p.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Poller stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Poller stop timeout, forcing shutdown")
	}

	p.isRunning = false
	return nil
}

// IsRunning returns whether the poller is running
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// Wait waits for any in-flight scan to finish
func (p *Poller) Wait() {
	p.wg.Wait()
}

// LastRun returns the start time of the most recent scan cycle.
func (p *Poller) LastRun() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRun
}

// RunOnce runs one scan cycle immediately, bypassing the enabled flag and
// interval gating. Used by the manual trigger endpoint.
func (p *Poller) RunOnce() error {
	return p.scan()
}

// tick fires every minute and runs a scan when one is due.
func (p *Poller) tick() {
	p.wg.Add(1)
	defer p.wg.Done()

	p.mu.RLock()
	running := p.isRunning
	backoffUntil := p.backoffUntil
	p.mu.RUnlock()

	if !running {
		return
	}

	now := time.Now()
	if now.Before(backoffUntil) {
		logrus.Debugf("Poller backing off until %s", backoffUntil.Format(time.RFC3339))
		return
	}

	settings, err := p.store.GetPollerSettings()
	if err != nil {
		logrus.Errorf("Failed to load poller settings: %v", err)
		p.recordFailure(now, time.Minute)
		return
	}

	if !settings.Enabled || settings.PollingMode != model.PollingModeRealtime {
		logrus.Debug("Automated polling disabled, skipping cycle")
		return
	}

	interval := time.Duration(settings.PollingIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}
	if settings.LastAutoScan != nil && now.Sub(*settings.LastAutoScan) < interval {
		return
	}

	if err := p.scanLocked(now, interval); err != nil {
		logrus.Errorf("Scan cycle failed: %v", err)
	}
}

// scan runs one cycle without interval gating.
func (p *Poller) scan() error {
	return p.scanLocked(time.Now(), time.Minute)
}

// scanLocked performs one scan cycle under the per-cycle timeout. A failed
// fetch counts toward a growing backoff; the loop itself never dies from a
// single cycle's failure.
func (p *Poller) scanLocked(now time.Time, interval time.Duration) error {
	ctx := p.ctx
	if p.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CycleTimeout)
		defer cancel()
	}

	startTime := time.Now()
	p.metrics.ScanCount.Inc()

	p.mu.Lock()
	p.lastRun = startTime
	p.mu.Unlock()

	logrus.Info("Starting inbox scan cycle")

	emails, err := p.fetcher.FetchRecent(ctx, p.fetchCount)
	if err != nil {
		p.metrics.ScanFailures.Inc()
		p.recordFailure(now, interval)
		return fmt.Errorf("failed to fetch emails: %w", err)
	}

	p.clearFailures()

	logrus.Infof("Fetched %d recent emails", len(emails))

	created := 0
	for _, email := range emails {
		if ctx.Err() != nil {
			logrus.Warn("Scan cycle cancelled mid-batch")
			break
		}

		ok, err := p.processor.ProcessEmail(ctx, email)
		if err != nil {
			logrus.Errorf("Failed to process email %s: %v", email.ID, err)
			continue
		}
		if ok {
			created++
		}
	}

	if err := p.store.RecordScan(now, created); err != nil {
		logrus.Errorf("Failed to record scan bookkeeping: %v", err)
	}

	duration := time.Since(startTime)
	p.metrics.ScanDuration.Observe(duration.Seconds())
	logrus.Infof("Scan cycle completed in %v, %d topups created", duration, created)
	return nil
}

// recordFailure extends the backoff window by one interval per consecutive
// failure, capped at max_backoff_ticks intervals.
func (p *Poller) recordFailure(now time.Time, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFailures++
	ticks := p.consecutiveFailures
	if p.cfg.MaxBackoffTicks > 0 && ticks > p.cfg.MaxBackoffTicks {
		ticks = p.cfg.MaxBackoffTicks
	}
	p.backoffUntil = now.Add(time.Duration(ticks) * interval)
	logrus.Warnf("Scan failure %d, backing off until %s", p.consecutiveFailures, p.backoffUntil.Format(time.RFC3339))
}

func (p *Poller) clearFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures = 0
	p.backoffUntil = time.Time{}
}
