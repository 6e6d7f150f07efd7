package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chainSync/internal/chainerr"
)

// ErrUnresolved is returned while the network identity of the provider is unknown.
var ErrUnresolved = errors.New("network not resolved")

// Backend is what a registry binds contracts against.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

type options struct {
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Registry binds a descriptor set to the network its backend is connected to.
//
// A registry whose network could not be determined at Load is unresolved: lookups
// fail with ErrUnresolved until Resolve succeeds.
type Registry struct {
	backend     Backend
	descriptors []Descriptor
	abis        map[string]abi.ABI
	logger      *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	chainID   *big.Int
	contracts map[string]*Contract
}

// Load parses every descriptor and binds it to the backend's network.
//
// Malformed ABIs, duplicate names and missing addresses fail with a resolution
// error. A network lookup failure does not: the registry is returned unresolved.
func Load(ctx context.Context, backend Backend, set []Descriptor, opts ...Option) (*Registry, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if backend == nil {
		return nil, chainerr.Resolution("registry.load", "backend is nil")
	}

	r := &Registry{
		backend: backend,
		abis:    make(map[string]abi.ABI, len(set)),
		logger:  o.logger,
	}
	for _, d := range set {
		if d.Name == "" {
			return nil, chainerr.Resolution("registry.load", "descriptor without name")
		}
		if _, dup := r.abis[d.Name]; dup {
			return nil, chainerr.Resolution("registry.load", "duplicate contract %s", d.Name)
		}
		parsed, err := d.parseABI()
		if err != nil {
			return nil, chainerr.Wrap("registry.load", err)
		}
		r.abis[d.Name] = parsed
		r.descriptors = append(r.descriptors, d)
	}

	if err := r.Resolve(ctx); err != nil {
		if chainerr.KindOf(err) == chainerr.KindResolution {
			return nil, err
		}
		r.logger.Warn("network unresolved, contracts unavailable until resolved", zap.Error(err))
	}
	return r, nil
}

// Resolve determines the network and binds every descriptor. It is a no-op once
// resolved; concurrent callers share one lookup.
func (r *Registry) Resolve(ctx context.Context) error {
	if r.Resolved() {
		return nil
	}
	_, err, _ := r.group.Do("resolve", func() (interface{}, error) {
		if r.Resolved() {
			return nil, nil
		}
		return nil, r.resolve(ctx)
	})
	return err
}

func (r *Registry) resolve(ctx context.Context) error {
	id, err := r.backend.ChainID(ctx)
	if err != nil {
		return chainerr.New(chainerr.Classify(err), "registry.resolve", fmt.Errorf("chain id: %w", err))
	}

	contracts := make(map[string]*Contract, len(r.descriptors))
	for _, d := range r.descriptors {
		addr, err := d.addressFor(id.Uint64())
		if err != nil {
			return chainerr.Wrap("registry.resolve", err)
		}
		parsed := r.abis[d.Name]
		contracts[d.Name] = &Contract{
			name:    d.Name,
			address: addr,
			abi:     parsed,
			chainID: new(big.Int).Set(id),
			binding: ReadOnly,
			bound:   bind.NewBoundContract(addr, parsed, r.backend, r.backend, r.backend),
		}
	}

	r.mu.Lock()
	r.chainID = new(big.Int).Set(id)
	r.contracts = contracts
	r.mu.Unlock()

	r.logger.Info("contracts resolved", zap.Uint64("chain_id", id.Uint64()), zap.Int("contracts", len(contracts)))
	return nil
}

// Resolved reports whether the network is known.
func (r *Registry) Resolved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contracts != nil
}

// ChainID returns the resolved network id.
func (r *Registry) ChainID() (*big.Int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.chainID == nil {
		return nil, false
	}
	return new(big.Int).Set(r.chainID), true
}

// Names lists the registered contract names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Contract returns the read-only handle for name.
func (r *Registry) Contract(name string) (*Contract, error) {
	r.mu.RLock()
	contracts := r.contracts
	r.mu.RUnlock()

	if contracts == nil {
		return nil, chainerr.New(chainerr.KindResolution, "registry.contract", fmt.Errorf("%s: %w", name, ErrUnresolved))
	}
	c, ok := contracts[name]
	if !ok {
		return nil, chainerr.Resolution("registry.contract", "unknown contract %s", name)
	}
	return c, nil
}

// SignerRegistry is a registry whose handles may submit transactions through one
// signer.
type SignerRegistry struct {
	*Registry
	signer *bind.TransactOpts
}

// LoadWithSigner loads set against the signer's provider.
func LoadWithSigner(ctx context.Context, backend Backend, signer *bind.TransactOpts, set []Descriptor, opts ...Option) (*SignerRegistry, error) {
	if signer == nil {
		return nil, chainerr.Resolution("registry.load", "signer is nil")
	}
	r, err := Load(ctx, backend, set, opts...)
	if err != nil {
		return nil, err
	}
	return &SignerRegistry{Registry: r, signer: signer}, nil
}

// Signer returns the signer-bound handle for name.
func (r *SignerRegistry) Signer(name string) (*SignerContract, error) {
	c, err := r.Contract(name)
	if err != nil {
		return nil, err
	}
	bound := *c
	bound.binding = SignerBound
	return &SignerContract{Contract: &bound, signer: r.signer}, nil
}
