package transactor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chainSync/internal/chainerr"
	"chainSync/internal/metrics"
)

const (
	DefaultReceiptInterval = time.Second
	DefaultConfirmations   = 1
)

// Backend is what the transactor needs to follow a submitted transaction.
// Backends that also implement ethereum.ContractCaller get revert reasons.
type Backend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// GasPolicy supplies a cached gas price.
type GasPolicy interface {
	GasPrice() (*big.Int, bool)
}

// Notifier observes lifecycle events of every operation.
type Notifier interface {
	Notify(op *Operation, ev Event)
}

type options struct {
	receiptInterval time.Duration
	confirmations   uint64
	confirmTimeout  time.Duration
	notifiers       []Notifier
	logger          *zap.Logger
}

// Option configures a Transactor.
type Option func(*options)

// WithReceiptInterval sets how often receipts are polled.
func WithReceiptInterval(d time.Duration) Option {
	return func(o *options) { o.receiptInterval = d }
}

// WithConfirmations waits until the receipt block is n-1 blocks deep.
func WithConfirmations(n uint64) Option {
	return func(o *options) { o.confirmations = n }
}

// WithConfirmTimeout bounds the wait between submission and confirmation.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *options) { o.confirmTimeout = d }
}

// WithNotifier adds an observer.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifiers = append(o.notifiers, n) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Transactor turns requests into observable operations.
type Transactor struct {
	backend Backend
	gas     GasPolicy
	opts    options
	logger  *zap.Logger
}

// New builds a transactor. gas may be nil, in which case the signer's backend
// estimates prices.
func New(backend Backend, gas GasPolicy, opts ...Option) *Transactor {
	o := options{
		receiptInterval: DefaultReceiptInterval,
		confirmations:   DefaultConfirmations,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.receiptInterval <= 0 {
		o.receiptInterval = DefaultReceiptInterval
	}
	if o.confirmations == 0 {
		o.confirmations = DefaultConfirmations
	}
	return &Transactor{backend: backend, gas: gas, opts: o, logger: o.logger}
}

// Submit starts the lifecycle of req and returns immediately. Every call creates
// a new operation; identical requests are not merged.
func (t *Transactor) Submit(ctx context.Context, req Request) *Operation {
	op := newOperation(req.Label)
	go t.run(ctx, op, req)
	return op
}

func (t *Transactor) run(ctx context.Context, op *Operation, req Request) {
	logger := t.logger.With(zap.String("operation_id", op.ID().String()), zap.String("label", req.Label))
	defer func() {
		if r := recover(); r != nil {
			hash, _ := op.Hash()
			t.fail(op, logger, hash, nil, chainerr.New(chainerr.KindUnknown, "transactor.submit", fmt.Errorf("send panicked: %v", r)))
		}
	}()

	if req.Send == nil || req.Opts == nil {
		t.fail(op, logger, common.Hash{}, nil, chainerr.New(chainerr.KindRejected, "transactor.submit", errors.New("no signer available")))
		return
	}

	opts := t.prepare(ctx, req)
	tx, err := req.Send(opts)
	if err != nil {
		t.fail(op, logger, common.Hash{}, nil, chainerr.Wrap("transactor.submit", err))
		return
	}

	ev := op.submitted(tx)
	logger.Info("transaction submitted", zap.String("tx_hash", tx.Hash().Hex()))
	t.notify(op, ev)

	receipt, err := t.confirm(ctx, tx.Hash())
	if err != nil {
		t.fail(op, logger, tx.Hash(), nil, err)
		return
	}

	if receipt.Status == types.ReceiptStatusFailed {
		reason := t.revertReason(ctx, opts.From, tx, receipt)
		t.fail(op, logger, tx.Hash(), receipt, chainerr.Reverted("transactor.confirm", receipt, reason))
		return
	}

	confirmed := Confirmed{ID: op.ID(), Hash: tx.Hash(), Receipt: receipt}
	logger.Info("transaction confirmed",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	if !op.finish(confirmed) {
		return
	}
	metrics.TxOutcomes.WithLabelValues(StateConfirmed.String(), "").Inc()
	t.notify(op, confirmed)
}

// prepare copies the caller's options and fills in value and gas price.
func (t *Transactor) prepare(ctx context.Context, req Request) *bind.TransactOpts {
	opts := *req.Opts
	opts.Context = ctx
	if req.Value != nil {
		opts.Value = new(big.Int).Set(req.Value)
	}
	if opts.GasPrice == nil && opts.GasFeeCap == nil && opts.GasTipCap == nil && t.gas != nil {
		if price, ok := t.gas.GasPrice(); ok {
			opts.GasPrice = price
		}
	}
	return &opts
}

func (t *Transactor) confirm(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if t.opts.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.confirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(t.opts.receiptInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil && r != nil {
			receipt = r
			break
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			t.logger.Debug("receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, chainerr.New(chainerr.KindTransientNetwork, "transactor.confirm",
				fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}

	if t.opts.confirmations <= 1 {
		return receipt, nil
	}
	target := receipt.BlockNumber.Uint64() + t.opts.confirmations - 1
	for {
		head, err := t.backend.BlockNumber(ctx)
		if err == nil && head >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, chainerr.New(chainerr.KindTransientNetwork, "transactor.confirm",
				fmt.Errorf("waiting for %d confirmations of %s: %w", t.opts.confirmations, hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (t *Transactor) fail(op *Operation, logger *zap.Logger, hash common.Hash, receipt *types.Receipt, err error) {
	kind := chainerr.KindOf(err)
	failed := Failed{
		ID:      op.ID(),
		Hash:    hash,
		Kind:    kind,
		Message: err.Error(),
		Receipt: receipt,
		Err:     err,
	}
	if !op.finish(failed) {
		logger.Warn("failure after terminal state ignored", zap.Error(err))
		return
	}
	logger.Warn("transaction failed", zap.String("kind", kind.String()), zap.Error(err))
	metrics.TxOutcomes.WithLabelValues(StateFailed.String(), kind.String()).Inc()
	t.notify(op, failed)
}

func (t *Transactor) notify(op *Operation, ev Event) {
	for _, n := range t.opts.notifiers {
		t.notifyOne(n, op, ev)
	}
}

// notifyOne isolates a panicking notifier from the rest.
func (t *Transactor) notifyOne(n Notifier, op *Operation, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("notifier panicked",
				zap.String("operation_id", op.ID().String()),
				zap.Any("panic", r),
			)
		}
	}()
	n.Notify(op, ev)
}
