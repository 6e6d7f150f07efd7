// Package session owns the connection state shared by the sync components: the
// read provider every poller uses, and the optional user provider and signer that
// mutating requests go through.
//
// A Session is created with New, connected with Connect or ConnectBurner, and torn
// down with Disconnect. Observers follow changes through Subscribe.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"chainSync/internal/chain"
	"chainSync/internal/chainerr"
)

// ErrNotConnected is returned when a signer is requested before Connect.
var ErrNotConnected = errors.New("session not connected")

// State is a snapshot of the session.
type State struct {
	Connected    bool
	Burner       bool
	Address      common.Address
	LocalChainID *big.Int
	UserChainID  *big.Int
	// WrongNetwork is set when the user provider is on a different chain than the
	// local provider.
	WrongNetwork bool
}

// Session holds the providers and signer. It is safe for concurrent use.
type Session struct {
	local  chain.Provider
	logger *zap.Logger
	feed   event.FeedOf[State]

	mu      sync.RWMutex
	user    chain.Provider
	signer  *bind.TransactOpts
	burner  bool
	localID *big.Int
	userID  *big.Int
}

// New returns a disconnected session reading through local.
func New(local chain.Provider, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{local: local, logger: logger}
}

// Connect attaches a user provider and its signer. Both chain ids are resolved
// before the state changes, so a failed Connect leaves the session untouched.
func (s *Session) Connect(ctx context.Context, user chain.Provider, signer *bind.TransactOpts) error {
	if user == nil || signer == nil {
		return chainerr.New(chainerr.KindRejected, "session.connect", errors.New("provider and signer are required"))
	}
	return s.connect(ctx, user, signer, false)
}

// ConnectBurner generates a throwaway key on the local provider. It is the
// fallback when no wallet is available.
func (s *Session) ConnectBurner(ctx context.Context) (common.Address, error) {
	localID, err := s.localChainID(ctx)
	if err != nil {
		return common.Address{}, err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate burner key: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, localID)
	if err != nil {
		return common.Address{}, fmt.Errorf("burner transactor: %w", err)
	}
	if err := s.connect(ctx, s.local, signer, true); err != nil {
		return common.Address{}, err
	}
	return signer.From, nil
}

func (s *Session) connect(ctx context.Context, user chain.Provider, signer *bind.TransactOpts, burner bool) error {
	localID, err := s.localChainID(ctx)
	if err != nil {
		return err
	}
	userID, err := user.ChainID(ctx)
	if err != nil {
		return chainerr.Wrap("session.connect", fmt.Errorf("user chain id: %w", err))
	}

	s.mu.Lock()
	s.user = user
	s.signer = signer
	s.burner = burner
	s.userID = new(big.Int).Set(userID)
	state := s.stateLocked()
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("address", state.Address.Hex()),
		zap.String("chain_id", userID.String()),
		zap.Bool("burner", burner),
	}
	if state.WrongNetwork {
		s.logger.Warn("connected to wrong network", append(fields, zap.String("expected_chain_id", localID.String()))...)
	} else {
		s.logger.Info("session connected", fields...)
	}
	s.feed.Send(state)
	return nil
}

// Disconnect drops the user provider and signer. It is a no-op when already
// disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.signer == nil {
		s.mu.Unlock()
		return
	}
	s.user = nil
	s.signer = nil
	s.burner = false
	s.userID = nil
	state := s.stateLocked()
	s.mu.Unlock()

	s.logger.Info("session disconnected")
	s.feed.Send(state)
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

// Subscribe delivers every state change to ch.
func (s *Session) Subscribe(ch chan<- State) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Local is the read provider.
func (s *Session) Local() chain.Provider {
	return s.local
}

// Provider returns the user provider when connected and the local one otherwise.
func (s *Session) Provider() chain.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil {
		return s.user
	}
	return s.local
}

// Signer returns a copy of the connected signer's options.
func (s *Session) Signer() (*bind.TransactOpts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.signer == nil {
		return nil, chainerr.New(chainerr.KindRejected, "session.signer", ErrNotConnected)
	}
	opts := *s.signer
	return &opts, nil
}

func (s *Session) localChainID(ctx context.Context) (*big.Int, error) {
	s.mu.RLock()
	id := s.localID
	s.mu.RUnlock()
	if id != nil {
		return new(big.Int).Set(id), nil
	}

	id, err := s.local.ChainID(ctx)
	if err != nil {
		return nil, chainerr.Wrap("session.local_chain_id", err)
	}
	s.mu.Lock()
	s.localID = new(big.Int).Set(id)
	s.mu.Unlock()
	return id, nil
}

func (s *Session) stateLocked() State {
	st := State{
		Connected: s.signer != nil,
		Burner:    s.burner,
	}
	if s.signer != nil {
		st.Address = s.signer.From
	}
	if s.localID != nil {
		st.LocalChainID = new(big.Int).Set(s.localID)
	}
	if s.userID != nil {
		st.UserChainID = new(big.Int).Set(s.userID)
	}
	st.WrongNetwork = st.Connected && st.LocalChainID != nil && st.UserChainID != nil &&
		st.LocalChainID.Cmp(st.UserChainID) != 0
	return st
}
