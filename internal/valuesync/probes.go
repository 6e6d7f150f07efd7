package valuesync

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"chainSync/internal/chainerr"
)

// BalanceReader reads account balances.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Caller performs view calls against a bound contract.
type Caller interface {
	Call(ctx context.Context, method string, args ...any) ([]any, error)
}

// GasPricer suggests a legacy gas price.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// BalanceProbe reads the latest balance of address. It reports no data while the
// reader or the address is missing.
func BalanceProbe(reader BalanceReader, address common.Address) Probe[*big.Int] {
	return func(ctx context.Context) (*big.Int, error) {
		if reader == nil || address == (common.Address{}) {
			return nil, ErrNoData
		}
		balance, err := reader.BalanceAt(ctx, address, nil)
		if err != nil {
			return nil, chainerr.Wrap("balance", err)
		}
		return balance, nil
	}
}

// ReadProbe calls method on contract and returns its first output as T.
func ReadProbe[T any](contract Caller, method string, args ...any) Probe[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		if contract == nil {
			return zero, ErrNoData
		}
		out, err := contract.Call(ctx, method, args...)
		if err != nil {
			return zero, err
		}
		if len(out) == 0 {
			return zero, chainerr.New(chainerr.KindMalformedResponse, "read "+method, chainerr.ErrMalformed)
		}
		v, ok := out[0].(T)
		if !ok {
			return zero, chainerr.New(chainerr.KindMalformedResponse, "read "+method,
				fmt.Errorf("%w: got %T, want %T", chainerr.ErrMalformed, out[0], zero))
		}
		return v, nil
	}
}

// GasPriceProbe reads the suggested gas price.
func GasPriceProbe(pricer GasPricer) Probe[*big.Int] {
	return func(ctx context.Context) (*big.Int, error) {
		if pricer == nil {
			return nil, ErrNoData
		}
		price, err := pricer.SuggestGasPrice(ctx)
		if err != nil {
			return nil, chainerr.Wrap("gas price", err)
		}
		return price, nil
	}
}
