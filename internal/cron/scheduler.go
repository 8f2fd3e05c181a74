package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval applies to jobs that do not declare an interval
	DefaultInterval = time.Hour
	// MinInterval is the floor of every interval and the retry delay after a failure
	MinInterval = 4 * time.Minute
	// MaxJobDuration is how long a job may hold the queue
	MaxJobDuration = 2 * time.Minute

	queueSize = 32
)

type entry struct {
	job     Job
	running bool
	timer   *time.Timer
	gen     uint64
	nextRun time.Time
}

type task struct {
	name   string
	siteID string
	force  bool
	done   chan error
}

// JobStatus describes a registered job
type JobStatus struct {
	Name        string
	Running     bool
	Scheduled   bool
	NextRun     time.Time
	UsesNetwork bool
	IsSync      bool
}

// Scheduler runs registered jobs on their intervals. A single worker drains
// a FIFO queue so two jobs never run at the same time.
type Scheduler struct {
	defaultInterval time.Duration
	minInterval     time.Duration
	maxJobDuration  time.Duration
	onlyUnmetered   bool

	repo   Repository
	probe  Probe
	logger *loggy.Logger
	now    func() time.Time

	mu          sync.Mutex
	entries     map[string]*entry
	started     bool
	ctx         context.Context
	cancel      context.CancelFunc
	queue       chan *task
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero durations in cfg take the package defaults.
func NewScheduler(cfg config.CronConfig, syncCfg config.SyncConfig, repo Repository, probe Probe, logger *loggy.Logger) *Scheduler {
	s := &Scheduler{
		defaultInterval: cfg.DefaultInterval,
		minInterval:     cfg.MinInterval,
		maxJobDuration:  cfg.MaxJobDuration,
		onlyUnmetered:   syncCfg.OnlyOnUnmeteredNetwork,
		repo:            repo,
		probe:           probe,
		logger:          logger,
		now:             time.Now,
		entries:         make(map[string]*entry),
	}
	if s.defaultInterval <= 0 {
		s.defaultInterval = DefaultInterval
	}
	if s.minInterval <= 0 {
		s.minInterval = MinInterval
	}
	if s.maxJobDuration <= 0 {
		s.maxJobDuration = MaxJobDuration
	}
	return s
}

// Register adds a job. Jobs registered after Start are scheduled at once.
func (s *Scheduler) Register(job Job) error {
	name := job.Name()

	s.mu.Lock()
	if _, ok := s.entries[name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	s.entries[name] = &entry{job: job}
	started := s.started
	s.mu.Unlock()

	s.logger.Debug("Registered cron job", "job", name)
	if started {
		s.startJob(name)
	}
	return nil
}

// Start launches the worker and schedules every registered job. When the
// probe can announce reconnections, network jobs restart on each one.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan *task, queueSize)
	workerCtx, queue := s.ctx, s.queue
	names := s.namesLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.worker(workerCtx, queue)

	if rn, ok := s.probe.(reconnectNotifier); ok {
		unsubscribe := rn.OnReconnect(s.StartNetworkJobs)
		s.mu.Lock()
		s.unsubscribe = unsubscribe
		s.mu.Unlock()
	}

	for _, name := range names {
		s.startJob(name)
	}

	s.logger.Info("Cron scheduler started", "jobs", len(names))
}

// Stop cancels pending runs and waits for the worker. A job still executing
// past MaxJobDuration is not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, e := range s.entries {
		e.running = false
		stopTimerLocked(e)
	}
	s.cancel()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()

	s.logger.Info("Cron scheduler stopped")
}

// StartNetworkJobs schedules every job that uses the network and is not running
func (s *Scheduler) StartNetworkJobs() {
	s.mu.Lock()
	var names []string
	for _, name := range s.namesLocked() {
		if s.entries[name].job.UsesNetwork() {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	for _, name := range names {
		s.startJob(name)
	}
}

// ForceJob runs a job now, bypassing its schedule and the unmetered-only setting.
// Connectivity is still required for network jobs.
func (s *Scheduler) ForceJob(ctx context.Context, name, siteID string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.started {
		s.mu.Unlock()
		return ErrNotRunning
	}
	e.running = true
	stopTimerLocked(e)
	s.mu.Unlock()

	return s.run(ctx, name, siteID, true)
}

// ForceSyncExecution forces every job that takes part in manual syncs and
// waits for all of them. The first failure is returned.
func (s *Scheduler) ForceSyncExecution(ctx context.Context, siteID string) error {
	s.mu.Lock()
	var names []string
	for _, name := range s.namesLocked() {
		if canManualSync(s.entries[name].job) {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			return s.ForceJob(ctx, name, siteID)
		})
	}
	return g.Wait()
}

// Status returns the state of every job, sorted by name
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for _, name := range s.namesLocked() {
		e := s.entries[name]
		statuses = append(statuses, JobStatus{
			Name:        name,
			Running:     e.running,
			Scheduled:   e.timer != nil,
			NextRun:     e.nextRun,
			UsesNetwork: e.job.UsesNetwork(),
			IsSync:      e.job.IsSync(),
		})
	}
	return statuses
}

// run checks the preconditions of a job, queues it and waits for the outcome
func (s *Scheduler) run(ctx context.Context, name, siteID string, force bool) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.started {
		s.mu.Unlock()
		return ErrNotRunning
	}
	job, queue, schedCtx := e.job, s.queue, s.ctx
	s.mu.Unlock()

	if job.UsesNetwork() && !s.probe.IsOnline() {
		s.logger.Debug("Cron job stopped, device is offline", "job", name)
		s.stopJob(name)
		return ErrOffline
	}

	if !force && job.IsSync() && s.onlyUnmetered && s.probe.IsMetered() {
		s.logger.Debug("Cron job postponed, network is metered", "job", name)
		s.schedule(name, s.minInterval)
		return ErrMeteredNetwork
	}

	t := &task{name: name, siteID: siteID, force: force, done: make(chan error, 1)}
	select {
	case queue <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-schedCtx.Done():
		return ErrNotRunning
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-schedCtx.Done():
		return ErrNotRunning
	}
}

func (s *Scheduler) worker(ctx context.Context, queue <-chan *task) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-queue:
			t.done <- s.process(ctx, t)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, t *task) error {
	s.mu.Lock()
	e, ok := s.entries[t.name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, t.name)
	}

	s.logger.Debug("Executing cron job", "job", t.name, "site_id", t.siteID, "force", t.force)

	if err := s.execute(ctx, e.job, t.siteID, t.force); err != nil {
		s.logger.Error("Cron job failed", "job", t.name, "error", err)
		s.schedule(t.name, s.minInterval)
		return err
	}

	if err := s.repo.SetLastExecution(ctx, t.name, s.now()); err != nil {
		s.logger.Warn("Failed to record cron execution", "job", t.name, "error", err)
	}
	s.logger.Debug("Cron job executed", "job", t.name)
	s.scheduleNext(ctx, t.name)
	return nil
}

// execute runs job and waits at most maxJobDuration. A job that takes
// longer keeps running in the background and counts as done.
func (s *Scheduler) execute(ctx context.Context, job Job, siteID string, force bool) error {
	result := make(chan error, 1)
	go func() {
		result <- job.Execute(ctx, siteID, force)
	}()

	timer := time.NewTimer(s.maxJobDuration)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		s.logger.Debug("Stopped waiting for cron job, it took too long", "job", job.Name(), "max_duration", s.maxJobDuration)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) startJob(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || !s.started || e.running {
		s.mu.Unlock()
		return
	}
	e.running = true
	ctx := s.ctx
	s.mu.Unlock()

	s.scheduleNext(ctx, name)
}

func (s *Scheduler) stopJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[name]; ok {
		e.running = false
		stopTimerLocked(e)
	}
}

// nextDelay is lastExecution + interval - now, never negative
func (s *Scheduler) nextDelay(ctx context.Context, name string) time.Duration {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	last, err := s.repo.GetLastExecution(ctx, name)
	if err != nil {
		s.logger.Warn("Failed to read last cron execution", "job", name, "error", err)
	}

	delay := last.Add(s.interval(e.job)).Sub(s.now())
	if delay < 0 {
		return 0
	}
	return delay
}

func (s *Scheduler) scheduleNext(ctx context.Context, name string) {
	s.schedule(name, s.nextDelay(ctx, name))
}

// schedule arms the timer of a job unless one is already pending
func (s *Scheduler) schedule(name string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok || !s.started || e.timer != nil {
		return
	}

	e.gen++
	gen := e.gen
	e.nextRun = s.now().Add(delay)
	e.timer = time.AfterFunc(delay, func() { s.fire(name, gen) })

	s.logger.Debug("Scheduled cron job", "job", name, "in", delay)
}

func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.gen != gen || e.timer == nil {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	_ = s.run(ctx, name, "", false)
}

func (s *Scheduler) interval(job Job) time.Duration {
	interval := job.Interval()
	if interval <= 0 {
		interval = s.defaultInterval
	}
	return max(interval, s.minInterval)
}

func (s *Scheduler) namesLocked() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
