package registry

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseAddress converts a hex string into an address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ParseArgs converts command-line strings into values the ABI encoder accepts for
// args. Integers take decimal or 0x-prefixed hex, bytes take hex.
func ParseArgs(args abi.Arguments, values []string) ([]any, error) {
	if len(args) != len(values) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(args), len(values))
	}

	out := make([]any, 0, len(values))
	for i, arg := range args {
		v, err := parseArg(arg.Type, strings.TrimSpace(values[i]))
		if err != nil {
			name := arg.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, arg.Type.String(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseArg(t abi.Type, input string) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return ParseAddress(input)
	case abi.BoolTy:
		return strconv.ParseBool(input)
	case abi.StringTy:
		return input, nil
	case abi.BytesTy:
		return hexutil.Decode(input)
	case abi.FixedBytesTy:
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, err
		}
		if len(data) > t.Size {
			return nil, fmt.Errorf("value longer than %d bytes", t.Size)
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(common.RightPadBytes(data, t.Size)))
		return arr.Interface(), nil
	case abi.IntTy, abi.UintTy:
		return parseInteger(t, input)
	default:
		return nil, fmt.Errorf("unsupported argument type")
	}
}

func parseInteger(t abi.Type, input string) (any, error) {
	n, ok := new(big.Int).SetString(input, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", input)
	}
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value for unsigned type")
	}
	limit := t.Size
	if t.T == abi.IntTy {
		limit--
	}
	m := n
	if n.Sign() < 0 {
		// Two's complement reaches one further below zero.
		m = new(big.Int).Add(n, big.NewInt(1))
	}
	if m.BitLen() > limit {
		return nil, fmt.Errorf("value overflows %s", t.String())
	}

	rt := t.GetType()
	if rt == reflect.TypeOf(&big.Int{}) {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(rt).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(rt).Interface(), nil
}
