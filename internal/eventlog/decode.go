package eventlog

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"chainSync/internal/model"
)

func indexedInputs(ev abi.Event) abi.Arguments {
	var out abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}

// decodeLog converts a raw log into a record with arguments in declaration order.
func decodeLog(ev abi.Event, chainID uint64, lg types.Log) (model.EventRecord, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return model.EventRecord{}, fmt.Errorf("topic0 does not match %s", ev.Sig)
	}

	indexed := indexedInputs(ev)
	if len(lg.Topics)-1 != len(indexed) {
		return model.EventRecord{}, fmt.Errorf("expected %d indexed topics, got %d", len(indexed), len(lg.Topics)-1)
	}

	values := make(map[string]interface{}, len(ev.Inputs))
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, lg.Topics[1:]); err != nil {
			return model.EventRecord{}, fmt.Errorf("parse topics: %w", err)
		}
	}
	if nonIndexed := ev.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(values, lg.Data); err != nil {
			return model.EventRecord{}, fmt.Errorf("unpack data: %w", err)
		}
	}

	names := make([]string, len(ev.Inputs))
	args := make([]any, len(ev.Inputs))
	for i, input := range ev.Inputs {
		names[i] = input.Name
		args[i] = values[input.Name]
	}

	return model.EventRecord{
		ChainID:     chainID,
		Address:     lg.Address.Hex(),
		Event:       ev.Name,
		ArgNames:    names,
		Args:        args,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
	}, nil
}

func decodeError(ev abi.Event, chainID uint64, lg types.Log, err error) model.DecodeError {
	topic0 := ""
	if len(lg.Topics) > 0 {
		topic0 = lg.Topics[0].Hex()
	}
	return model.DecodeError{
		ChainID:     chainID,
		Address:     lg.Address.Hex(),
		Event:       ev.Name,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint64(lg.Index),
		Topic0:      topic0,
		Error:       err.Error(),
	}
}

func logKey(lg types.Log) model.Key {
	return model.Key{TxHash: lg.TxHash.Hex(), LogIndex: uint64(lg.Index)}
}
