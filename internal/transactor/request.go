package transactor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// Request is a state-mutating call ready for submission.
//
// Send signs and broadcasts with the options it is given. The transactor hands it a
// copy of Opts with Value and a gas price applied; Opts itself is never modified.
type Request struct {
	Label string
	Opts  *bind.TransactOpts
	Value *big.Int
	Send  func(opts *bind.TransactOpts) (*types.Transaction, error)
}

// WithValue returns a copy of r that attaches value to the call.
func (r Request) WithValue(value *big.Int) Request {
	if value != nil {
		value = new(big.Int).Set(value)
	}
	r.Value = value
	return r
}

// Transfer builds a plain value transfer from opts.From to to. Accounts without
// code get the fixed transfer gas limit, since estimation only works for contracts.
func Transfer(backend bind.ContractBackend, opts *bind.TransactOpts, to common.Address, value *big.Int) Request {
	bound := bind.NewBoundContract(to, abi.ABI{}, backend, backend, backend)
	label := "transfer"
	if value != nil {
		label = fmt.Sprintf("transfer %s wei to %s", value, to.Hex())
	}
	return Request{
		Label: label,
		Opts:  opts,
		Send: func(o *bind.TransactOpts) (*types.Transaction, error) {
			if o.GasLimit == 0 {
				ctx := o.Context
				if ctx == nil {
					ctx = context.Background()
				}
				code, err := backend.PendingCodeAt(ctx, to)
				if err != nil {
					return nil, err
				}
				if len(code) == 0 {
					o.GasLimit = params.TxGas
				}
			}
			return bound.RawTransact(o, nil)
		},
	}.WithValue(value)
}
