package transactor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chainSync/internal/chainerr"
	"chainSync/internal/chaintest"
)

// fakeBackend mines whatever it is told to.
type fakeBackend struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
	head     uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: make(map[common.Hash]*types.Receipt)}
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeBackend) mine(hash common.Hash, block uint64, status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receipts[hash] = &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(block), TxHash: hash}
	if block > b.head {
		b.head = block
	}
}

func (b *fakeBackend) setHead(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = n
}

// recordingSend captures the options it was called with and mines the
// transaction immediately when backend is set.
type recordingSend struct {
	mu      sync.Mutex
	opts    []bind.TransactOpts
	backend *fakeBackend
	nonce   uint64
}

func (r *recordingSend) send(opts *bind.TransactOpts) (*types.Transaction, error) {
	r.mu.Lock()
	r.opts = append(r.opts, *opts)
	r.nonce++
	nonce := r.nonce
	r.mu.Unlock()

	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, GasPrice: opts.GasPrice, Gas: 21000, Value: opts.Value})
	if r.backend != nil {
		r.backend.mine(tx.Hash(), 10, types.ReceiptStatusSuccessful)
	}
	return tx, nil
}

func (r *recordingSend) last() bind.TransactOpts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts[len(r.opts)-1]
}

type staticGas struct{ price *big.Int }

func (s staticGas) GasPrice() (*big.Int, bool) {
	if s.price == nil {
		return nil, false
	}
	return new(big.Int).Set(s.price), true
}

func drain(t *testing.T, op *Operation) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-op.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("operation %s did not finish", op.ID())
			return nil
		}
	}
}

func TestGasPriceAppliedOnlyWhenUnset(t *testing.T) {
	backend := newFakeBackend()
	send := &recordingSend{backend: backend}
	tr := New(backend, staticGas{price: big.NewInt(50)}, WithReceiptInterval(time.Millisecond))

	signer := &bind.TransactOpts{From: common.HexToAddress("0x01")}
	req := Request{Label: "plain", Opts: signer, Send: send.send}.WithValue(big.NewInt(3))
	drain(t, tr.Submit(context.Background(), req))

	used := send.last()
	assert.Equal(t, int64(50), used.GasPrice.Int64())
	assert.Equal(t, int64(3), used.Value.Int64())
	assert.Nil(t, signer.GasPrice, "caller options must not be modified")
	assert.Nil(t, signer.Value)

	explicit := &bind.TransactOpts{From: common.HexToAddress("0x01"), GasPrice: big.NewInt(7)}
	drain(t, tr.Submit(context.Background(), Request{Opts: explicit, Send: send.send}))
	assert.Equal(t, int64(7), send.last().GasPrice.Int64())

	dynamic := &bind.TransactOpts{From: common.HexToAddress("0x01"), GasTipCap: big.NewInt(2)}
	drain(t, tr.Submit(context.Background(), Request{Opts: dynamic, Send: send.send}))
	assert.Nil(t, send.last().GasPrice)
	assert.Equal(t, int64(2), send.last().GasTipCap.Int64())
}

func TestNoPolicyLeavesPriceToBackend(t *testing.T) {
	backend := newFakeBackend()
	send := &recordingSend{backend: backend}
	tr := New(backend, staticGas{}, WithReceiptInterval(time.Millisecond))

	drain(t, tr.Submit(context.Background(), Request{Opts: &bind.TransactOpts{}, Send: send.send}))
	assert.Nil(t, send.last().GasPrice)
}

func TestLifecycleSubmittedThenConfirmed(t *testing.T) {
	backend := newFakeBackend()
	send := &recordingSend{backend: backend}
	tr := New(backend, nil, WithReceiptInterval(time.Millisecond))

	op := tr.Submit(context.Background(), Request{Label: "ok", Opts: &bind.TransactOpts{}, Send: send.send})
	events := drain(t, op)

	require.Len(t, events, 2)
	sub, ok := events[0].(Submitted)
	require.True(t, ok)
	conf, ok := events[1].(Confirmed)
	require.True(t, ok)
	assert.Equal(t, sub.Hash, conf.Hash)
	assert.Equal(t, op.ID(), conf.OperationID())

	assert.Equal(t, StateConfirmed, op.State())
	assert.True(t, op.State().Terminal())
	hash, ok := op.Hash()
	require.True(t, ok)
	assert.Equal(t, sub.Hash, hash)

	receipt, err := op.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), receipt.BlockNumber.Uint64())
	assert.Equal(t, "ok", op.Label())
}

func TestWaitsForConfirmations(t *testing.T) {
	backend := newFakeBackend()
	send := &recordingSend{backend: backend}
	tr := New(backend, nil, WithReceiptInterval(time.Millisecond), WithConfirmations(3))

	op := tr.Submit(context.Background(), Request{Opts: &bind.TransactOpts{}, Send: send.send})

	require.Eventually(t, func() bool { return op.State() == StateSubmitted }, time.Second, time.Millisecond)
	select {
	case <-op.Done():
		t.Fatal("confirmed before the receipt was deep enough")
	case <-time.After(20 * time.Millisecond):
	}

	backend.setHead(12)
	select {
	case <-op.Done():
	case <-time.After(time.Second):
		t.Fatal("not confirmed after enough blocks")
	}
	assert.Equal(t, StateConfirmed, op.State())
}

func TestConfirmTimeoutFails(t *testing.T) {
	backend := newFakeBackend()
	send := &recordingSend{}
	tr := New(backend, nil, WithReceiptInterval(time.Millisecond), WithConfirmTimeout(20*time.Millisecond))

	op := tr.Submit(context.Background(), Request{Opts: &bind.TransactOpts{}, Send: send.send})
	events := drain(t, op)

	require.Len(t, events, 2)
	failed, ok := events[1].(Failed)
	require.True(t, ok)
	assert.Equal(t, chainerr.KindTransientNetwork, failed.Kind)
	assert.Nil(t, failed.Receipt)
	assert.NotEqual(t, common.Hash{}, failed.Hash)
	assert.Equal(t, StateFailed, op.State())

	_, err := op.Wait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMissingSignerFails(t *testing.T) {
	tr := New(newFakeBackend(), nil)
	events := drain(t, tr.Submit(context.Background(), Request{Label: "nobody"}))

	require.Len(t, events, 1)
	failed, ok := events[0].(Failed)
	require.True(t, ok)
	assert.Equal(t, chainerr.KindRejected, failed.Kind)
}

func TestSendErrorIsClassified(t *testing.T) {
	tr := New(newFakeBackend(), nil)
	op := tr.Submit(context.Background(), Request{
		Opts: &bind.TransactOpts{},
		Send: func(*bind.TransactOpts) (*types.Transaction, error) {
			return nil, errors.New("insufficient funds for gas * price + value")
		},
	})
	events := drain(t, op)

	require.Len(t, events, 1)
	assert.Equal(t, chainerr.KindInsufficientFunds, events[0].(Failed).Kind)
	_, ok := op.Hash()
	assert.False(t, ok)
}

func TestEverySubmitIsSeparate(t *testing.T) {
	backend := newFakeBackend()
	send := &recordingSend{backend: backend}
	tr := New(backend, nil, WithReceiptInterval(time.Millisecond))

	req := Request{Opts: &bind.TransactOpts{}, Send: send.send}
	a := tr.Submit(context.Background(), req)
	b := tr.Submit(context.Background(), req)
	drain(t, a)
	drain(t, b)

	assert.NotEqual(t, a.ID(), b.ID())
	send.mu.Lock()
	assert.Len(t, send.opts, 2)
	send.mu.Unlock()
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	backend := newFakeBackend()
	send := &recordingSend{backend: backend}
	tr := New(backend, nil,
		WithReceiptInterval(time.Millisecond),
		WithNotifier(LogNotifier{Logger: zap.New(core), ExplorerURL: "https://explorer.example/"}),
	)

	op := tr.Submit(context.Background(), Request{Label: "notify", Opts: &bind.TransactOpts{}, Send: send.send})
	drain(t, op)

	require.Eventually(t, func() bool { return logs.Len() == 2 }, time.Second, time.Millisecond)
	entries := logs.All()
	assert.Equal(t, "transaction sent", entries[0].Message)
	assert.Equal(t, "transaction confirmed", entries[1].Message)

	hash, _ := op.Hash()
	assert.Equal(t, "https://explorer.example/tx/"+hash.Hex(), entries[1].ContextMap()["explorer"])
}

func TestSimulatedTransferConfirms(t *testing.T) {
	env := chaintest.NewEnv(t)
	env.AutoMine(t, 10*time.Millisecond)

	recipient := common.HexToAddress("0x000000000000000000000000000000000000fa11")
	tr := New(env.Client, nil, WithReceiptInterval(5*time.Millisecond))

	op := tr.Submit(context.Background(), Transfer(env.Client, env.Deployer, recipient, big.NewInt(1000)))
	events := drain(t, op)

	require.Len(t, events, 2)
	_, ok := events[1].(Confirmed)
	require.True(t, ok, "got %#v", events[1])

	balance, err := env.Client.BalanceAt(context.Background(), recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Int64())
}

func TestSimulatedRevertCarriesReceipt(t *testing.T) {
	env := chaintest.NewEnv(t)
	reverter := env.DeployReverter(t, "threshold not met")
	env.AutoMine(t, 10*time.Millisecond)

	tr := New(env.Client, nil, WithReceiptInterval(5*time.Millisecond))

	// A fixed gas limit skips estimation so the revert happens on chain.
	opts := *env.Deployer
	opts.GasLimit = 100_000
	bound := bind.NewBoundContract(reverter, abi.ABI{}, env.Client, env.Client, env.Client)
	op := tr.Submit(context.Background(), Request{
		Label: "revert",
		Opts:  &opts,
		Send: func(o *bind.TransactOpts) (*types.Transaction, error) {
			return bound.RawTransact(o, []byte{0x01})
		},
	})
	events := drain(t, op)

	require.Len(t, events, 2)
	_, ok := events[0].(Submitted)
	require.True(t, ok)
	failed, ok := events[1].(Failed)
	require.True(t, ok, "got %#v", events[1])
	assert.Equal(t, chainerr.KindReverted, failed.Kind)
	require.NotNil(t, failed.Receipt)
	assert.Equal(t, types.ReceiptStatusFailed, failed.Receipt.Status)
	assert.Contains(t, failed.Message, "threshold not met")

	var ce *chainerr.Error
	require.ErrorAs(t, op.Err(), &ce)
	assert.Same(t, failed.Receipt, ce.Receipt)
}

func TestSimulatedRevertBeforeSubmission(t *testing.T) {
	env := chaintest.NewEnv(t)
	reverter := env.DeployReverter(t, "closed")

	tr := New(env.Client, nil, WithReceiptInterval(5*time.Millisecond))
	bound := bind.NewBoundContract(reverter, abi.ABI{}, env.Client, env.Client, env.Client)
	events := drain(t, tr.Submit(context.Background(), Request{
		Opts: env.Deployer,
		Send: func(o *bind.TransactOpts) (*types.Transaction, error) {
			return bound.RawTransact(o, []byte{0x01})
		},
	}))

	require.Len(t, events, 1)
	failed := events[0].(Failed)
	assert.Equal(t, chainerr.KindReverted, failed.Kind)
	assert.Nil(t, failed.Receipt)
}

func TestSimulatedRejectedSigner(t *testing.T) {
	env := chaintest.NewEnv(t)

	opts := *env.Deployer
	opts.Signer = func(common.Address, *types.Transaction) (*types.Transaction, error) {
		return nil, chainerr.ErrRejected
	}

	tr := New(env.Client, nil)
	events := drain(t, tr.Submit(context.Background(),
		Transfer(env.Client, &opts, common.HexToAddress("0x01"), big.NewInt(1))))

	require.Len(t, events, 1)
	failed := events[0].(Failed)
	assert.Equal(t, chainerr.KindRejected, failed.Kind)
}

func TestPanickingSendFails(t *testing.T) {
	tr := New(newFakeBackend(), nil)
	op := tr.Submit(context.Background(), Request{
		Opts: &bind.TransactOpts{},
		Send: func(*bind.TransactOpts) (*types.Transaction, error) {
			panic("signer blew up")
		},
	})
	events := drain(t, op)

	require.Len(t, events, 1)
	failed, ok := events[0].(Failed)
	require.True(t, ok)
	assert.Equal(t, chainerr.KindUnknown, failed.Kind)
	assert.Contains(t, failed.Message, "signer blew up")
	assert.Equal(t, StateFailed, op.State())
	select {
	case <-op.Done():
	default:
		t.Fatal("operation not done")
	}
}

// panickingReceipts accepts the send and then fails every receipt lookup.
type panickingReceipts struct {
	*fakeBackend
}

func (panickingReceipts) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	panic("receipt decoder crashed")
}

func TestPanicAfterSubmissionKeepsHash(t *testing.T) {
	tr := New(panickingReceipts{newFakeBackend()}, nil, WithReceiptInterval(time.Millisecond))
	send := &recordingSend{}
	events := drain(t, tr.Submit(context.Background(), Request{Opts: &bind.TransactOpts{}, Send: send.send}))

	require.Len(t, events, 2)
	sub, ok := events[0].(Submitted)
	require.True(t, ok)
	failed, ok := events[1].(Failed)
	require.True(t, ok)
	assert.Equal(t, sub.Hash, failed.Hash)
	assert.Equal(t, chainerr.KindUnknown, failed.Kind)
}

type notifierFunc func(op *Operation, ev Event)

func (f notifierFunc) Notify(op *Operation, ev Event) { f(op, ev) }

func TestPanickingNotifierIsIsolated(t *testing.T) {
	backend := newFakeBackend()
	send := &recordingSend{backend: backend}

	var mu sync.Mutex
	var seen []Event
	tr := New(backend, nil,
		WithReceiptInterval(time.Millisecond),
		WithNotifier(notifierFunc(func(*Operation, Event) { panic("bad notifier") })),
		WithNotifier(notifierFunc(func(_ *Operation, ev Event) {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
		})),
	)

	op := tr.Submit(context.Background(), Request{Opts: &bind.TransactOpts{}, Send: send.send})
	events := drain(t, op)

	require.Len(t, events, 2)
	assert.IsType(t, Confirmed{}, events[1])
	assert.Equal(t, StateConfirmed, op.State())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, time.Millisecond)
}

func TestFinishIsRecordedOnce(t *testing.T) {
	op := newOperation("once")
	require.True(t, op.finish(Confirmed{ID: op.ID()}))
	assert.False(t, op.finish(Failed{ID: op.ID(), Err: errors.New("late")}))
	assert.Equal(t, StateConfirmed, op.State())
	assert.NoError(t, op.Err())
}
