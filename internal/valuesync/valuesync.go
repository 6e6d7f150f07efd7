package valuesync

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"chainSync/internal/metrics"
	"chainSync/internal/poller"
)

var (
	// ErrNoData tells the sync that nothing is available yet. The previous value
	// is kept and nothing is published.
	ErrNoData = errors.New("no data")
	// ErrReset clears the value. Observers receive one absent value if a value
	// was present.
	ErrReset = errors.New("value reset")
)

// Probe reads the current remote value.
type Probe[T any] func(ctx context.Context) (T, error)

// ObservedValue is the last published value. Present is false until the first
// successful probe and after a reset.
type ObservedValue[T any] struct {
	Value     T
	Present   bool
	UpdatedAt time.Time
}

type config struct {
	name    string
	guard   func() bool
	timeout time.Duration
	onError func(error)
	equal   any
	logger  *zap.Logger
}

// Option configures a Sync.
type Option func(*config)

func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithGuard skips probing while guard returns false.
func WithGuard(guard func() bool) Option {
	return func(c *config) { c.guard = guard }
}

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithErrorHandler receives probe failures.
func WithErrorHandler(fn func(error)) Option {
	return func(c *config) { c.onError = fn }
}

// WithEqual replaces the change detection used before publishing. The function
// type must match the Sync value type.
func WithEqual[T any](equal func(a, b T) bool) Option {
	return func(c *config) { c.equal = equal }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Sync keeps the latest value of a remote probe and republishes it on change.
type Sync[T any] struct {
	name   string
	equal  func(a, b T) bool
	logger *zap.Logger

	feed event.FeedOf[ObservedValue[T]]
	sub  *poller.Subscription

	mu      sync.RWMutex
	latest  ObservedValue[T]
	stopped bool
}

// Observe starts polling probe every interval.
func Observe[T any](ctx context.Context, probe Probe[T], interval time.Duration, opts ...Option) *Sync[T] {
	cfg := config{name: "value"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	equal, ok := cfg.equal.(func(a, b T) bool)
	if !ok || equal == nil {
		equal = Equal[T]
	}

	s := &Sync[T]{
		name:   cfg.name,
		equal:  equal,
		logger: cfg.logger.With(zap.String("value", cfg.name)),
	}

	pollerOpts := []poller.Option{
		poller.WithName(cfg.name),
		poller.WithLogger(cfg.logger),
	}
	if cfg.guard != nil {
		pollerOpts = append(pollerOpts, poller.WithGuard(cfg.guard))
	}
	if cfg.timeout > 0 {
		pollerOpts = append(pollerOpts, poller.WithTimeout(cfg.timeout))
	}
	if cfg.onError != nil {
		pollerOpts = append(pollerOpts, poller.WithErrorHandler(cfg.onError))
	}

	s.sub = poller.Schedule(ctx, func(ctx context.Context) error {
		if probe == nil {
			return nil
		}
		v, err := probe(ctx)
		if ctx.Err() != nil {
			// Stopped or timed out while the probe was in flight.
			return ctx.Err()
		}
		switch {
		case errors.Is(err, ErrNoData):
			return nil
		case errors.Is(err, ErrReset):
			s.reset()
			return nil
		case err != nil:
			return err
		}
		s.offer(v)
		return nil
	}, interval, pollerOpts...)

	return s
}

func (s *Sync[T]) offer(v T) {
	out, changed := s.accept(v)
	if !changed {
		return
	}
	metrics.ValuePublications.WithLabelValues(s.name).Inc()
	s.logger.Debug("value changed")
	s.feed.Send(out)
}

// accept stores v when it differs from the latest value. mu is released even if
// a custom equality panics.
func (s *Sync[T]) accept(v T) (ObservedValue[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || (s.latest.Present && s.equal(s.latest.Value, v)) {
		return ObservedValue[T]{}, false
	}
	s.latest = ObservedValue[T]{Value: clone(v), Present: true, UpdatedAt: time.Now()}
	return s.snapshot(), true
}

func (s *Sync[T]) reset() {
	s.mu.Lock()
	if s.stopped || !s.latest.Present {
		s.mu.Unlock()
		return
	}
	s.latest = ObservedValue[T]{UpdatedAt: time.Now()}
	out := s.latest
	s.mu.Unlock()

	metrics.ValuePublications.WithLabelValues(s.name).Inc()
	s.logger.Debug("value reset")
	s.feed.Send(out)
}

// snapshot must be called with mu held.
func (s *Sync[T]) snapshot() ObservedValue[T] {
	out := s.latest
	out.Value = clone(out.Value)
	return out
}

// Latest returns the last published value and whether one is present.
func (s *Sync[T]) Latest() (ObservedValue[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), s.latest.Present
}

// Subscribe delivers every publication to ch. Delivery blocks the sync until ch
// accepts the value, so ch should be buffered or drained promptly.
func (s *Sync[T]) Subscribe(ch chan<- ObservedValue[T]) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Stop cancels polling. Once it returns no further value is accepted, including
// the result of a probe that was in flight. It is safe to call more than once.
func (s *Sync[T]) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.sub.Stop()
}

// Done is closed once polling has ended.
func (s *Sync[T]) Done() <-chan struct{} {
	return s.sub.Done()
}

// Equal is the default change detection: numeric comparison for big integers,
// deep equality otherwise.
func Equal[T any](a, b T) bool {
	switch x := any(a).(type) {
	case *big.Int:
		y, ok := any(b).(*big.Int)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == y
		}
		return x.Cmp(y) == 0
	case big.Int:
		y, ok := any(b).(big.Int)
		if !ok {
			return false
		}
		return x.Cmp(&y) == 0
	}
	return reflect.DeepEqual(a, b)
}

func clone[T any](v T) T {
	if x, ok := any(v).(*big.Int); ok && x != nil {
		return any(new(big.Int).Set(x)).(T)
	}
	return v
}
