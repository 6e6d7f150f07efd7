package registry

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainSync/internal/chainerr"
	"chainSync/internal/chaintest"
)

// flakyBackend answers ChainID only once healthy is set. Other methods are never
// reached by these tests.
type flakyBackend struct {
	bind.ContractBackend
	healthy atomic.Bool
	calls   atomic.Int32
}

func (b *flakyBackend) ChainID(ctx context.Context) (*big.Int, error) {
	b.calls.Add(1)
	if !b.healthy.Load() {
		return nil, errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	}
	return big.NewInt(1337), nil
}

func stakerDescriptor(addr common.Address) Descriptor {
	return Descriptor{
		Name:      "Staker",
		ABI:       json.RawMessage(chaintest.StakerABI),
		Addresses: map[string]string{"1337": addr.Hex()},
	}
}

func TestParseDescriptorsListAndMap(t *testing.T) {
	list, err := ParseDescriptors([]byte(`[{"name":"A","abi":[],"address":"0x0000000000000000000000000000000000000001"}]`))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A", list[0].Name)

	byName, err := ParseDescriptors([]byte(`{"B":{"abi":"[]","addresses":{"1":"0x0000000000000000000000000000000000000002"}}}`))
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "B", byName[0].Name)
	assert.Equal(t, "0x0000000000000000000000000000000000000002", byName[0].Addresses["1"])

	_, err = ParseDescriptors([]byte("  "))
	require.Error(t, err)
}

func TestLoadDescriptorsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"Token","abi":[]}]`), 0o644))

	list, err := LoadDescriptors(path)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = LoadDescriptors(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedABI(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)

	_, err := Load(context.Background(), backend, []Descriptor{{Name: "Bad", ABI: json.RawMessage(`{"nope":`), Address: "0x0000000000000000000000000000000000000001"}})
	require.Error(t, err)
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))

	_, err = Load(context.Background(), backend, []Descriptor{{Name: "Empty"}})
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))
}

func TestLoadRejectsMissingAddress(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)

	d := stakerDescriptor(common.HexToAddress("0x01"))
	d.Addresses = map[string]string{"5": "0x0000000000000000000000000000000000000001"}

	_, err := Load(context.Background(), backend, []Descriptor{d})
	require.Error(t, err)
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))
	assert.Contains(t, err.Error(), "no address for chain 1337")
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)

	d := stakerDescriptor(common.HexToAddress("0x01"))
	_, err := Load(context.Background(), backend, []Descriptor{d, d})
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))
}

func TestUnresolvedRegistryRecovers(t *testing.T) {
	backend := &flakyBackend{}
	reg, err := Load(context.Background(), backend, []Descriptor{stakerDescriptor(common.HexToAddress("0x01"))})
	require.NoError(t, err)
	assert.False(t, reg.Resolved())

	_, err = reg.Contract("Staker")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))

	_, ok := reg.ChainID()
	assert.False(t, ok)

	backend.healthy.Store(true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Resolve(context.Background()))
		}()
	}
	wg.Wait()

	c, err := reg.Contract("Staker")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x01"), c.Address())
	assert.Equal(t, int64(1337), c.ChainID().Int64())
	assert.Equal(t, ReadOnly, c.Binding())

	calls := backend.calls.Load()
	require.NoError(t, reg.Resolve(context.Background()))
	assert.Equal(t, calls, backend.calls.Load())
}

func TestUnknownContract(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)
	reg, err := Load(context.Background(), backend, nil)
	require.NoError(t, err)

	_, err = reg.Contract("Nope")
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))
	assert.Empty(t, reg.Names())
}

func TestERC20DescriptorUsesFixedAddress(t *testing.T) {
	backend := &flakyBackend{}
	backend.healthy.Store(true)

	token := "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	reg, err := Load(context.Background(), backend, []Descriptor{ERC20("DAI", token)})
	require.NoError(t, err)

	c, err := reg.Contract("DAI")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(token), c.Address())

	_, err = c.Event("Transfer")
	require.NoError(t, err)
	_, err = c.Event("Stake")
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))

	parsed, err := ERC20ABI()
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, "balanceOf")
}

func TestReadAndSignerHandlesOnSimulatedChain(t *testing.T) {
	env := chaintest.NewEnv(t)
	register := env.DeployRegister(t)
	ctx := context.Background()

	reg, err := LoadWithSigner(ctx, env.Client, env.Deployer, []Descriptor{stakerDescriptor(register)})
	require.NoError(t, err)

	reader, err := reg.Contract("Staker")
	require.NoError(t, err)
	out, err := reader.Call(ctx, "value")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(0), out[0].(*big.Int).Int64())

	_, err = reader.Call(ctx, "missing")
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))

	writer, err := reg.Signer("Staker")
	require.NoError(t, err)
	assert.Equal(t, SignerBound, writer.Binding())
	assert.Equal(t, ReadOnly, reader.Binding())
	assert.Equal(t, env.Deployer.From, writer.From())

	req := writer.Request("set", big.NewInt(42))
	assert.Equal(t, "Staker.set", req.Label)
	tx, err := req.Send(req.Opts)
	require.NoError(t, err)
	env.Mine(t, tx)

	out, err = writer.Call(ctx, "value")
	require.NoError(t, err)
	assert.Equal(t, int64(42), out[0].(*big.Int).Int64())
}

func TestCallWithoutCode(t *testing.T) {
	env := chaintest.NewEnv(t)
	reg, err := Load(context.Background(), env.Client, []Descriptor{stakerDescriptor(common.HexToAddress("0xdead"))})
	require.NoError(t, err)

	c, err := reg.Contract("Staker")
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "value")
	assert.Equal(t, chainerr.KindResolution, chainerr.KindOf(err))
}
