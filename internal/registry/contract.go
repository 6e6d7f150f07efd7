package registry

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainSync/internal/chainerr"
	"chainSync/internal/transactor"
)

// Binding tells whether a handle can only read or may also submit transactions.
type Binding int

const (
	ReadOnly Binding = iota
	SignerBound
)

func (b Binding) String() string {
	if b == SignerBound {
		return "signer"
	}
	return "read-only"
}

// Contract is a read-only handle to a deployed contract.
type Contract struct {
	name    string
	address common.Address
	abi     abi.ABI
	chainID *big.Int
	binding Binding
	bound   *bind.BoundContract
}

func (c *Contract) Name() string            { return c.name }
func (c *Contract) Address() common.Address { return c.address }
func (c *Contract) ABI() abi.ABI            { return c.abi }
func (c *Contract) Binding() Binding        { return c.binding }

func (c *Contract) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Call performs a view call and returns the decoded outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if _, ok := c.abi.Methods[method]; !ok {
		return nil, chainerr.Resolution("contract.call", "%s has no method %s", c.name, method)
	}

	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		if errors.Is(err, bind.ErrNoCode) {
			return nil, chainerr.Resolution("contract.call", "%s.%s: no code at %s", c.name, method, c.address.Hex())
		}
		return nil, chainerr.Wrap("contract.call", err)
	}
	return out, nil
}

// Event returns the ABI definition of the named event.
func (c *Contract) Event(name string) (abi.Event, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return abi.Event{}, chainerr.Resolution("contract.event", "%s has no event %s", c.name, name)
	}
	return ev, nil
}

// SignerContract is a contract handle bound to a signer. It is the only handle
// type that can build state-mutating requests.
type SignerContract struct {
	*Contract
	signer *bind.TransactOpts
}

// From returns the signer address.
func (c *SignerContract) From() common.Address {
	return c.signer.From
}

// Request prepares a call of method for submission through a transactor.
// Unknown methods surface when the request is sent.
func (c *SignerContract) Request(method string, args ...any) transactor.Request {
	return transactor.Request{
		Label: c.name + "." + method,
		Opts:  c.signer,
		Send: func(opts *bind.TransactOpts) (*types.Transaction, error) {
			return c.bound.Transact(opts, method, args...)
		},
	}
}
