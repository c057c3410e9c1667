package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/puzpuzpuz/xsync/v3"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPollInterval sets how often the scheduler scans for due reminders.
// Default is 10ms.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerMetrics records reminder deliveries.
func WithSchedulerMetrics(m *observability.Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// Scheduler delivers due reminders to their entities. Each delivery runs as
// a turn on the target; a reminder is never delivered twice concurrently.
// Periodic reminders are rescheduled before delivery and one-shot reminders
// are removed after it, so a crash mid-delivery repeats rather than loses a
// wake-up.
type Scheduler struct {
	host     *Host
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics

	inflight *xsync.MapOf[string, struct{}]
	fires    sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler for host's reminders.
func NewScheduler(host *Host, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		host:     host,
		interval: 10 * time.Millisecond,
		logger:   slog.Default(),
		inflight: xsync.NewMapOf[string, struct{}](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements runner.Service.
func (s *Scheduler) Name() string {
	return "reminder-scheduler"
}

// Start launches the polling loop. The loop outlives ctx; call Stop to end it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)
	s.logger.InfoContext(ctx, "reminder scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop ends the polling loop and waits for in-flight deliveries.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	fired := make(chan struct{})
	go func() {
		s.fires.Wait()
		close(fired)
	}()
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "reminder scan failed", slog.Any("error", err))
			}
		}
	}
}

// Tick scans once and starts delivering every due reminder that is not
// already being delivered. It returns the number of deliveries started.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	due, err := s.host.reminders.Due(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	started := 0
	for _, rem := range due {
		if _, busy := s.inflight.LoadOrStore(rem.Key(), struct{}{}); busy {
			continue
		}
		started++
		s.fires.Add(1)
		go func(rem Reminder) {
			defer s.fires.Done()
			defer s.inflight.Delete(rem.Key())
			s.fire(ctx, rem)
		}(rem)
	}
	return started, nil
}

func (s *Scheduler) fire(ctx context.Context, rem Reminder) {
	log := s.logger.With(
		slog.String("address", rem.Address.String()),
		slog.String("reminder", rem.Name),
	)

	claimed, err := s.host.reminders.claim(ctx, rem)
	if err != nil {
		log.ErrorContext(ctx, "failed to claim reminder", slog.Any("error", err))
		return
	}
	if !claimed {
		return
	}

	err = s.host.Invoke(ctx, rem.Address, func(ctx context.Context, entity any) error {
		r, ok := entity.(Remindable)
		if !ok {
			return fmt.Errorf("%w: %s does not receive reminders", ErrWrongType, rem.Address)
		}
		return r.ReceiveReminder(ctx, rem.Name)
	})
	s.metrics.RecordReminder(ctx, rem.Address.Service, rem.Name, err)
	if err != nil {
		if errors.Is(err, ErrHostClosed) || ctx.Err() != nil {
			return
		}
		log.ErrorContext(ctx, "reminder delivery failed", slog.Any("error", err))
	}

	if !rem.Periodic() {
		if err := s.host.reminders.complete(ctx, rem); err != nil {
			log.ErrorContext(ctx, "failed to remove one-shot reminder", slog.Any("error", err))
		}
	}
}
