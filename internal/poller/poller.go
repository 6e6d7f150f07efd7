package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainSync/internal/chainerr"
	"chainSync/internal/metrics"
)

// DefaultInterval is used when a caller has no interval of its own.
const DefaultInterval = 37777 * time.Millisecond

// Probe reads one piece of remote state. It must honor ctx cancellation.
type Probe func(ctx context.Context) error

type options struct {
	name    string
	guard   func() bool
	timeout time.Duration
	onError func(error)
	logger  *zap.Logger
}

// Option configures a Subscription.
type Option func(*options)

// WithName labels the subscription in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithGuard gates every tick. A tick whose guard is false makes no probe call.
func WithGuard(guard func() bool) Option {
	return func(o *options) { o.guard = guard }
}

// WithTimeout bounds a single probe execution. Expiry counts as a failed tick.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithErrorHandler receives every probe failure.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Subscription is a probe bound to a recurring schedule.
//
// The first probe runs immediately. The timer for the next tick is armed only once
// the previous probe has returned, so a subscription never has more than one probe
// in flight.
type Subscription struct {
	id       uuid.UUID
	probe    Probe
	interval time.Duration
	opts     options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// Schedule starts running probe every interval until Stop is called or ctx ends.
// A zero or negative interval yields a subscription that never runs.
func Schedule(ctx context.Context, probe Probe, interval time.Duration, opts ...Option) *Subscription {
	o := options{name: "probe"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	s := &Subscription{
		id:       uuid.New(),
		probe:    probe,
		interval: interval,
		opts:     o,
		done:     make(chan struct{}),
	}
	s.logger = o.logger.With(zap.String("subscription", o.name), zap.String("subscription_id", s.id.String()))

	if probe == nil || interval <= 0 {
		s.stopped = true
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.cancel()
		close(s.done)
		s.logger.Debug("polling disabled", zap.Duration("interval", interval))
		return s
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.loop()
	return s
}

// ID returns the subscription identifier used in logs.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Interval returns the configured interval.
func (s *Subscription) Interval() time.Duration {
	return s.interval
}

// Stop cancels the subscription. It is safe to call more than once; once it returns
// no further probe will start.
func (s *Subscription) Stop() {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	if !already {
		s.logger.Debug("subscription stopped")
	}
}

// Done is closed once the scheduling loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stopped reports whether Stop was called or the subscription never started.
func (s *Subscription) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Subscription) loop() {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			return
		case <-timer.C:
		}

		if !s.tick() {
			return
		}
		timer.Reset(s.interval)
	}
}

// tick runs one guarded probe. It returns false once the subscription is stopped.
func (s *Subscription) tick() bool {
	if s.opts.guard != nil && !s.guardOpen() {
		metrics.ProbeRuns.WithLabelValues(s.opts.name, metrics.OutcomeSkipped).Inc()
		return !s.Stopped()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	// The probe is launched while the gate is held so Stop cannot interleave
	// between the check above and the start.
	start := time.Now()
	result := make(chan error, 1)
	go func() { result <- s.run() }()
	s.mu.Unlock()

	err := <-result
	metrics.ProbeDuration.WithLabelValues(s.opts.name).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.ProbeRuns.WithLabelValues(s.opts.name, metrics.OutcomeSuccess).Inc()
		return true
	}

	if s.ctx.Err() != nil {
		// Stopped while the probe was in flight.
		return false
	}

	metrics.ProbeRuns.WithLabelValues(s.opts.name, metrics.OutcomeFailure).Inc()
	kind := chainerr.KindOf(err)
	s.logger.Warn("probe failed",
		zap.String("kind", kind.String()),
		zap.Duration("retry_in", s.interval),
		zap.Error(err),
	)
	if s.opts.onError != nil {
		s.opts.onError(err)
	}
	return true
}

// guardOpen evaluates the guard outside mu, so a guard may call Stop. A panicking
// guard counts as closed.
func (s *Subscription) guardOpen() (open bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("guard panicked", zap.Any("panic", r))
			open = false
		}
	}()
	return s.opts.guard()
}

func (s *Subscription) run() (err error) {
	ctx := s.ctx
	if s.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	return s.probe(ctx)
}
