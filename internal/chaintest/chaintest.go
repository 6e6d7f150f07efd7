// Package chaintest provides a funded simulated chain and a few tiny contracts for
// package tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

// ChainID is the chain id of the simulated backend.
var ChainID = big.NewInt(1337)

// PrefundWei is the genesis balance of every funded account.
var PrefundWei = new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.Ether))

// StakerABI describes the emitter and register contracts deployed by this package.
// Any call to the emitter logs Stake with the calldata as event data. The register
// stores the word passed to set and returns it from value.
const StakerABI = `[
  {"anonymous": false, "inputs": [
    {"indexed": false, "internalType": "address", "name": "staker", "type": "address"},
    {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
  ], "name": "Stake", "type": "event"},
  {"inputs": [], "name": "value", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "uint256", "name": "v", "type": "uint256"}], "name": "set", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [], "name": "stake", "outputs": [], "stateMutability": "payable", "type": "function"}
]`

// Env is a simulated chain with one funded deployer.
type Env struct {
	Backend  *simulated.Backend
	Client   simulated.Client
	Key      *ecdsa.PrivateKey
	Deployer *bind.TransactOpts
}

// NewEnv starts a simulated backend. The deployer and every address in funded
// receive PrefundWei at genesis. The backend is closed on test cleanup.
func NewEnv(t testing.TB, funded ...common.Address) *Env {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	deployer, err := bind.NewKeyedTransactorWithChainID(key, ChainID)
	require.NoError(t, err)

	genesis := types.GenesisAlloc{
		deployer.From: {Balance: PrefundWei},
	}
	for _, addr := range funded {
		genesis[addr] = types.Account{Balance: PrefundWei}
	}

	backend := simulated.NewBackend(genesis, simulated.WithBlockGasLimit(50_000_000))
	backend.Commit()
	t.Cleanup(func() { _ = backend.Close() })

	return &Env{
		Backend:  backend,
		Client:   backend.Client(),
		Key:      key,
		Deployer: deployer,
	}
}

// NewSigner returns a keyed transactor funded by the deployer.
func (e *Env) NewSigner(t testing.TB) (*bind.TransactOpts, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(key, ChainID)
	require.NoError(t, err)

	e.Fund(t, opts.From, new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether)))
	return opts, key
}

// Fund transfers value from the deployer to addr and mines it.
func (e *Env) Fund(t testing.TB, addr common.Address, value *big.Int) {
	t.Helper()

	opts := *e.Deployer
	opts.Value = value
	opts.GasLimit = params.TxGas
	bound := bind.NewBoundContract(addr, abi.ABI{}, e.Client, e.Client, e.Client)
	tx, err := bound.RawTransact(&opts, nil)
	require.NoError(t, err)
	e.Mine(t, tx)
}

// Mine commits a block and waits for the receipt of tx.
func (e *Env) Mine(t testing.TB, tx *types.Transaction) *types.Receipt {
	t.Helper()

	e.Backend.Commit()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	receipt, err := bind.WaitMined(ctx, e.Client, tx)
	require.NoError(t, err)
	return receipt
}

// AutoMine commits a block every blockTime until the test ends.
func (e *Env) AutoMine(t testing.TB, blockTime time.Duration) {
	t.Helper()

	ticker := time.NewTicker(blockTime)
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Backend.Commit()
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-stopped
	})
}

// ParsedStakerABI parses StakerABI.
func ParsedStakerABI(t testing.TB) abi.ABI {
	t.Helper()

	parsed, err := abi.JSON(strings.NewReader(StakerABI))
	require.NoError(t, err)
	return parsed
}

// DeployEmitter deploys a contract that logs Stake(calldata) on every call.
func (e *Env) DeployEmitter(t testing.TB) common.Address {
	t.Helper()
	topic := ParsedStakerABI(t).Events["Stake"].ID
	return e.deploy(t, emitterRuntime(topic))
}

// DeployRegister deploys a contract that stores set(uint256) and returns it from
// value().
func (e *Env) DeployRegister(t testing.TB) common.Address {
	t.Helper()
	return e.deploy(t, registerRuntime())
}

// DeployReverter deploys a contract that reverts every call with Error(reason).
func (e *Env) DeployReverter(t testing.TB, reason string) common.Address {
	t.Helper()
	return e.deploy(t, reverterRuntime(reason))
}

// Emit sends a Stake(staker, amount) log through the emitter and mines it.
func (e *Env) Emit(t testing.TB, emitter, staker common.Address, amount *big.Int) *types.Receipt {
	t.Helper()

	event := ParsedStakerABI(t).Events["Stake"]
	data, err := event.Inputs.NonIndexed().Pack(staker, amount)
	require.NoError(t, err)

	bound := bind.NewBoundContract(emitter, abi.ABI{}, e.Client, e.Client, e.Client)
	tx, err := bound.RawTransact(e.Deployer, data)
	require.NoError(t, err)
	return e.Mine(t, tx)
}

func (e *Env) deploy(t testing.TB, runtime []byte) common.Address {
	t.Helper()

	addr, tx, _, err := bind.DeployContract(e.Deployer, abi.ABI{}, initCode(runtime), e.Client)
	require.NoError(t, err)
	receipt := e.Mine(t, tx)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	return addr
}

// initCode prefixes runtime with a constructor that copies it into memory and
// returns it: PUSH1 n DUP1 PUSH1 11 PUSH1 0 CODECOPY PUSH1 0 RETURN.
func initCode(runtime []byte) []byte {
	return append(copyOut(len(runtime), 0xf3), runtime...)
}

func copyOut(n int, terminal byte) []byte {
	if n > 0xff {
		panic("chaintest: payload too large")
	}
	return []byte{0x60, byte(n), 0x80, 0x60, 0x0b, 0x60, 0x00, 0x39, 0x60, 0x00, terminal}
}

// CALLDATACOPY(0, 0, size) then LOG1(0, size, topic).
func emitterRuntime(topic common.Hash) []byte {
	code := []byte{0x36, 0x60, 0x00, 0x60, 0x00, 0x37, 0x7f}
	code = append(code, topic.Bytes()...)
	return append(code, 0x36, 0x60, 0x00, 0xa1, 0x00)
}

// Calldata longer than a selector stores word 0 of the arguments in slot 0;
// anything else returns slot 0.
func registerRuntime() []byte {
	return []byte{
		0x60, 0x04, 0x36, 0x11, // CALLDATASIZE > 4
		0x60, 0x12, 0x57, // JUMPI store
		0x60, 0x00, 0x54, // SLOAD 0
		0x60, 0x00, 0x52, // MSTORE 0
		0x60, 0x20, 0x60, 0x00, 0xf3, // RETURN 0 32
		0x5b,             // store:
		0x60, 0x04, 0x35, // CALLDATALOAD 4
		0x60, 0x00, 0x55, // SSTORE 0
		0x00,
	}
}

// Copies an Error(string) payload from code and reverts with it.
func reverterRuntime(reason string) []byte {
	payload := revertPayload(reason)
	return append(copyOut(len(payload), 0xfd), payload...)
}

func revertPayload(reason string) []byte {
	out := crypto.Keccak256([]byte("Error(string)"))[:4]
	out = append(out, common.LeftPadBytes([]byte{0x20}, 32)...)

	var length [32]byte
	binary.BigEndian.PutUint64(length[24:], uint64(len(reason)))
	out = append(out, length[:]...)

	padded := make([]byte, (len(reason)+31)/32*32)
	copy(padded, reason)
	return append(out, padded...)
}
