package model

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Key identifies an event occurrence across repeated queries.
type Key struct {
	TxHash   string
	LogIndex uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}

// EventRecord is a decoded contract event.
//
// Args holds the decoded arguments in ABI declaration order. ArgNames carries the
// matching argument names (empty for unnamed arguments).
type EventRecord struct {
	ChainID     uint64   `json:"chain_id"`
	Address     string   `json:"address"`
	Event       string   `json:"event"`
	ArgNames    []string `json:"arg_names"`
	Args        []any    `json:"args"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
}

// Key returns the identity key of the record.
func (r EventRecord) Key() Key {
	return Key{TxHash: r.TxHash, LogIndex: r.LogIndex}
}

// Before orders records by block number, then log index.
func (r EventRecord) Before(other EventRecord) bool {
	if r.BlockNumber != other.BlockNumber {
		return r.BlockNumber < other.BlockNumber
	}
	return r.LogIndex < other.LogIndex
}

// Arg returns the argument with the given ABI name.
func (r EventRecord) Arg(name string) (any, bool) {
	for i, n := range r.ArgNames {
		if n == name && i < len(r.Args) {
			return r.Args[i], true
		}
	}
	return nil, false
}

// MarshalJSON encodes integer and byte arguments as strings so large values survive
// JSON consumers.
func (r EventRecord) MarshalJSON() ([]byte, error) {
	type Alias EventRecord
	a := Alias(r)
	a.Args = make([]any, len(r.Args))
	for i, v := range r.Args {
		a.Args[i] = FormatArg(v)
	}
	return json.Marshal(a)
}

// FormatArg renders a decoded ABI value for storage.
func FormatArg(v any) any {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return "0"
		}
		return x.String()
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case []byte:
		return "0x" + common.Bytes2Hex(x)
	case [32]byte:
		return common.Hash(x).Hex()
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	default:
		return v
	}
}
