package transactor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// revertReason replays a reverted transaction as a call at its block to recover
// the revert message. It returns "" when the backend cannot replay calls.
func (t *Transactor) revertReason(ctx context.Context, from common.Address, tx *types.Transaction, receipt *types.Receipt) string {
	caller, ok := t.backend.(ethereum.ContractCaller)
	if !ok {
		return ""
	}

	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Data:  tx.Data(),
		Value: tx.Value(),
		Gas:   tx.Gas(),
	}
	_, err := caller.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return ""
	}

	reason, perr := jsonErrorReason(err)
	if perr != nil {
		t.logger.Debug("revert reason unavailable", zap.String("tx_hash", tx.Hash().Hex()), zap.Error(perr))
		return err.Error()
	}
	return reason
}

// jsonErrorReason extracts the revert message carried in an RPC error.
func jsonErrorReason(err error) (string, error) {
	type jsonError interface {
		Error() string
		ErrorCode() int
		ErrorData() interface{}
	}

	var jerr jsonError
	if !errors.As(err, &jerr) {
		return "", fmt.Errorf("error must be of type jsonError: %w", err)
	}

	data := fmt.Sprintf("%v", jerr.ErrorData())
	if data == "" && strings.Contains(jerr.Error(), "missing trie node") {
		return "", errors.New("missing trie node, likely due to not using an archive node")
	}

	raw, derr := hexutil.Decode(data)
	if derr != nil {
		return data, nil
	}
	if reason, uerr := abi.UnpackRevert(raw); uerr == nil {
		return reason, nil
	}
	return data, nil
}
