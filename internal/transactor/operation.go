package transactor

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"chainSync/internal/chainerr"
)

// State is the lifecycle position of an operation.
type State int

const (
	StatePending State = iota
	StateSubmitted
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Event is one lifecycle notification: Submitted, Confirmed or Failed.
type Event interface {
	OperationID() uuid.UUID
	isEvent()
}

// Submitted is emitted once the transaction was accepted by the node.
type Submitted struct {
	ID   uuid.UUID
	Hash common.Hash
	Tx   *types.Transaction
}

// Confirmed is emitted when the transaction was mined successfully.
type Confirmed struct {
	ID      uuid.UUID
	Hash    common.Hash
	Receipt *types.Receipt
}

// Failed is emitted for every unsuccessful outcome. Receipt is set when the
// transaction was mined but reverted.
type Failed struct {
	ID      uuid.UUID
	Hash    common.Hash
	Kind    chainerr.Kind
	Message string
	Receipt *types.Receipt
	Err     error
}

func (e Submitted) OperationID() uuid.UUID { return e.ID }
func (e Confirmed) OperationID() uuid.UUID { return e.ID }
func (e Failed) OperationID() uuid.UUID    { return e.ID }

func (Submitted) isEvent() {}
func (Confirmed) isEvent() {}
func (Failed) isEvent()    {}

// Operation tracks one submitted request.
type Operation struct {
	id    uuid.UUID
	label string

	events chan Event
	done   chan struct{}

	mu      sync.RWMutex
	state   State
	hash    common.Hash
	receipt *types.Receipt
	err     error
}

func newOperation(label string) *Operation {
	return &Operation{
		id:    uuid.New(),
		label: label,
		// Room for Submitted and the terminal event, so the lifecycle never
		// blocks on a slow reader.
		events: make(chan Event, 2),
		done:   make(chan struct{}),
	}
}

func (o *Operation) ID() uuid.UUID { return o.id }
func (o *Operation) Label() string { return o.label }

func (o *Operation) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Hash returns the transaction hash once submitted.
func (o *Operation) Hash() (common.Hash, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.hash, o.hash != (common.Hash{})
}

// Receipt returns the mined receipt, if any.
func (o *Operation) Receipt() *types.Receipt {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.receipt
}

// Err returns the failure once the operation has failed.
func (o *Operation) Err() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.err
}

// Events yields Submitted (when the send succeeded) and then exactly one of
// Confirmed or Failed. The channel is closed after the terminal event.
func (o *Operation) Events() <-chan Event {
	return o.events
}

// Done is closed once the operation reached a terminal state.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation ends or ctx is done.
func (o *Operation) Wait(ctx context.Context) (*types.Receipt, error) {
	select {
	case <-o.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.receipt, o.err
}

func (o *Operation) submitted(tx *types.Transaction) Submitted {
	o.mu.Lock()
	o.state = StateSubmitted
	o.hash = tx.Hash()
	o.mu.Unlock()

	ev := Submitted{ID: o.id, Hash: tx.Hash(), Tx: tx}
	o.events <- ev
	return ev
}

// finish records the terminal state. It reports false, leaving the operation
// untouched, when a terminal state was already recorded.
func (o *Operation) finish(ev Event) bool {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return false
	}
	switch e := ev.(type) {
	case Confirmed:
		o.state = StateConfirmed
		o.receipt = e.Receipt
	case Failed:
		o.state = StateFailed
		o.receipt = e.Receipt
		o.err = e.Err
	}
	o.mu.Unlock()

	o.events <- ev
	close(o.events)
	close(o.done)
	return true
}
