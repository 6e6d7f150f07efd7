package eventlog

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"chainSync/internal/chainerr"
	"chainSync/internal/metrics"
	"chainSync/internal/model"
	"chainSync/internal/poller"
	"chainSync/internal/registry"
)

// DefaultMaxRange bounds a single log query.
const DefaultMaxRange uint64 = 2000

// Querier answers historical log queries.
type Querier interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Subscriber streams new logs as they are mined.
type Subscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Sink receives records the first time they enter a log.
type Sink interface {
	PutEvents(ctx context.Context, records []model.EventRecord) error
}

// DecodeErrorSink is implemented by sinks that also keep undecodable logs.
type DecodeErrorSink interface {
	PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error
}

// Config controls how a log is queried.
type Config struct {
	// Interval between polls. Zero uses poller.DefaultInterval.
	Interval time.Duration
	// FromBlock is the first block searched, usually the deployment block.
	FromBlock uint64
	// Overlap re-queries this many blocks behind the cursor on every poll.
	Overlap uint64
	// MaxRange is the largest block span per query. Zero uses DefaultMaxRange.
	MaxRange uint64
	// Subscribe additionally streams logs when the querier supports it.
	Subscribe bool
}

type options struct {
	logger  *zap.Logger
	sink    Sink
	onError func(error)
}

// Option configures a Log.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSink exports newly merged records.
func WithSink(sink Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithErrorHandler receives query failures and skipped logs.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// Log is a de-duplicated, ordered view of one contract event.
type Log struct {
	contract string
	address  common.Address
	event    abi.Event
	chainID  uint64
	q        Querier
	cfg      Config
	logger   *zap.Logger
	sink     Sink
	onError  func(error)

	feed   event.FeedOf[[]model.EventRecord]
	sub    *poller.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	// ingestMu serializes merges so snapshots are published in order.
	ingestMu sync.Mutex

	mu      sync.RWMutex
	records []model.EventRecord
	seen    map[model.Key]struct{}
	skipped map[model.Key]model.DecodeError
	cursor  uint64
}

// Observe starts tracking eventName on contract.
func Observe(ctx context.Context, contract *registry.Contract, eventName string, q Querier, cfg Config, opts ...Option) (*Log, error) {
	if contract == nil {
		return nil, chainerr.Resolution("eventlog.observe", "contract is nil")
	}
	if q == nil {
		return nil, chainerr.Resolution("eventlog.observe", "querier is nil")
	}
	ev, err := contract.Event(eventName)
	if err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.Interval == 0 {
		cfg.Interval = poller.DefaultInterval
	}
	if cfg.MaxRange == 0 {
		cfg.MaxRange = DefaultMaxRange
	}

	name := contract.Name() + "." + ev.Name
	l := &Log{
		contract: contract.Name(),
		address:  contract.Address(),
		event:    ev,
		chainID:  contract.ChainID().Uint64(),
		q:        q,
		cfg:      cfg,
		logger:   o.logger.With(zap.String("event_log", name)),
		sink:     o.sink,
		onError:  o.onError,
		seen:     make(map[model.Key]struct{}),
		skipped:  make(map[model.Key]model.DecodeError),
		cursor:   cfg.FromBlock,
		done:     make(chan struct{}),
	}

	ctx, l.cancel = context.WithCancel(ctx)

	pollerOpts := []poller.Option{poller.WithName(name), poller.WithLogger(o.logger)}
	if o.onError != nil {
		pollerOpts = append(pollerOpts, poller.WithErrorHandler(o.onError))
	}
	l.sub = poller.Schedule(ctx, l.poll, cfg.Interval, pollerOpts...)

	watchDone := make(chan struct{})
	if s, ok := q.(Subscriber); ok && cfg.Subscribe {
		go func() {
			defer close(watchDone)
			l.watch(ctx, s)
		}()
	} else {
		if cfg.Subscribe {
			l.logger.Info("querier cannot stream logs, polling only")
		}
		close(watchDone)
	}
	go func() {
		<-l.sub.Done()
		<-watchDone
		close(l.done)
	}()

	return l, nil
}

func (l *Log) filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{l.address},
		Topics:    [][]common.Hash{{l.event.ID}},
	}
}

func (l *Log) poll(ctx context.Context) error {
	head, err := l.q.BlockNumber(ctx)
	if err != nil {
		return queryError("eventlog.head", err)
	}

	l.mu.RLock()
	cursor := l.cursor
	l.mu.RUnlock()

	from := cursor
	if l.cfg.Overlap > 0 {
		if from >= l.cfg.FromBlock+l.cfg.Overlap {
			from -= l.cfg.Overlap
		} else {
			from = l.cfg.FromBlock
		}
	}
	if from > head {
		return nil
	}

	ranges, err := SplitRange(from, head, l.cfg.MaxRange)
	if err != nil {
		return err
	}

	var logs []types.Log
	for _, r := range ranges {
		q := l.filter()
		q.FromBlock = new(big.Int).SetUint64(r.From)
		q.ToBlock = new(big.Int).SetUint64(r.To)
		batch, err := l.q.FilterLogs(ctx, q)
		if err != nil {
			return queryError("eventlog.query", fmt.Errorf("blocks %d-%d: %w", r.From, r.To, err))
		}
		logs = append(logs, batch...)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	l.ingest(ctx, logs, head+1)
	return nil
}

func queryError(op string, err error) error {
	kind := chainerr.KindOf(err)
	if kind == chainerr.KindUnknown {
		kind = chainerr.KindTransientNetwork
	}
	return chainerr.New(kind, op, err)
}

// ingest decodes and merges logs. A non-zero cursor moves the poll cursor forward.
// Nothing is merged once ctx is done.
func (l *Log) ingest(ctx context.Context, logs []types.Log, cursor uint64) {
	l.ingestMu.Lock()
	defer l.ingestMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	records := make([]model.EventRecord, 0, len(logs))
	var failed []model.DecodeError
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		record, err := decodeLog(l.event, l.chainID, lg)
		if err != nil {
			failed = append(failed, decodeError(l.event, l.chainID, lg, err))
			continue
		}
		records = append(records, record)
	}

	added, snapshot := l.merge(records, cursor)
	newFailures := l.recordSkipped(failed)

	for _, de := range newFailures {
		metrics.DecodeFailures.WithLabelValues(l.contract, l.event.Name).Inc()
		l.logger.Warn("skipping undecodable log",
			zap.String("tx_hash", de.TxHash),
			zap.Uint64("log_index", de.LogIndex),
			zap.String("error", de.Error),
		)
		if l.onError != nil {
			l.onError(chainerr.New(chainerr.KindMalformedResponse, "eventlog.decode",
				fmt.Errorf("%s: %w: %s", de.Key(), chainerr.ErrMalformed, de.Error)))
		}
	}
	if len(newFailures) > 0 {
		if ds, ok := l.sink.(DecodeErrorSink); ok {
			if err := ds.PutDecodeErrors(ctx, newFailures); err != nil {
				l.logger.Warn("decode error export failed", zap.Error(err))
			}
		}
	}

	if len(added) == 0 {
		return
	}
	l.publish(ctx, added, snapshot)
}

func (l *Log) recordSkipped(failed []model.DecodeError) []model.DecodeError {
	if len(failed) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var fresh []model.DecodeError
	for _, de := range failed {
		if _, ok := l.skipped[de.Key()]; ok {
			continue
		}
		l.skipped[de.Key()] = de
		fresh = append(fresh, de)
	}
	return fresh
}

// merge adds records not yet seen and keeps the view ordered. It returns the
// added records and, when any were added, a snapshot of the full view.
func (l *Log) merge(records []model.EventRecord, cursor uint64) ([]model.EventRecord, []model.EventRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cursor > l.cursor {
		l.cursor = cursor
	}

	var added []model.EventRecord
	for _, r := range records {
		key := r.Key()
		if _, ok := l.seen[key]; ok {
			continue
		}
		l.seen[key] = struct{}{}
		l.records = append(l.records, r)
		added = append(added, r)
	}
	if len(added) == 0 {
		return nil, nil
	}

	sort.SliceStable(l.records, func(i, j int) bool {
		return l.records[i].Before(l.records[j])
	})
	return added, l.copyRecords()
}

func (l *Log) remove(key model.Key) []model.EventRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[key]; !ok {
		return nil
	}
	delete(l.seen, key)
	kept := l.records[:0]
	for _, r := range l.records {
		if r.Key() != key {
			kept = append(kept, r)
		}
	}
	l.records = kept
	return l.copyRecords()
}

func (l *Log) publish(ctx context.Context, added, snapshot []model.EventRecord) {
	metrics.EventLogSize.WithLabelValues(l.contract, l.event.Name).Set(float64(len(snapshot)))
	l.logger.Debug("event log updated", zap.Int("added", len(added)), zap.Int("total", len(snapshot)))

	if l.sink != nil && len(added) > 0 {
		if err := l.sink.PutEvents(ctx, added); err != nil {
			l.logger.Warn("event export failed", zap.Int("records", len(added)), zap.Error(err))
		}
	}
	l.feed.Send(snapshot)
}

func (l *Log) drop(ctx context.Context, key model.Key) {
	l.ingestMu.Lock()
	defer l.ingestMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	if snapshot := l.remove(key); snapshot != nil {
		l.logger.Info("removed reorged event", zap.String("key", key.String()))
		l.publish(ctx, nil, snapshot)
	}
}

// watch merges streamed logs until ctx ends or the stream fails.
func (l *Log) watch(ctx context.Context, s Subscriber) {
	ch := make(chan types.Log, 64)
	stream, err := s.SubscribeFilterLogs(ctx, l.filter(), ch)
	if err != nil {
		l.logger.Info("log streaming unavailable, polling only", zap.Error(err))
		return
	}
	defer stream.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-stream.Err():
			if err != nil {
				l.logger.Warn("log stream ended, polling only", zap.Error(err))
			}
			return
		case lg := <-ch:
			if !lg.Removed {
				l.ingest(ctx, []types.Log{lg}, 0)
				continue
			}
			l.drop(ctx, logKey(lg))
		}
	}
}

// copyRecords must be called with mu held.
func (l *Log) copyRecords() []model.EventRecord {
	out := make([]model.EventRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Records returns the current view ordered by block and log index.
func (l *Log) Records() []model.EventRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyRecords()
}

// Len returns the number of records in the view.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Skipped returns logs that matched but could not be decoded.
func (l *Log) Skipped() []model.DecodeError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.DecodeError, 0, len(l.skipped))
	for _, de := range l.skipped {
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// Cursor returns the next block a poll starts from, before overlap.
func (l *Log) Cursor() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cursor
}

// Subscribe delivers a full snapshot after every change.
func (l *Log) Subscribe(ch chan<- []model.EventRecord) event.Subscription {
	return l.feed.Subscribe(ch)
}

// Stop ends polling and streaming. It is safe to call more than once. Once it
// returns, logs from a query or stream still in flight are discarded.
func (l *Log) Stop() {
	l.cancel()
	l.sub.Stop()
}

// Done is closed once polling and streaming have ended.
func (l *Log) Done() <-chan struct{} {
	return l.done
}
