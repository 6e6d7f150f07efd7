package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chainSync/internal/chain"
	"chainSync/internal/config"
	"chainSync/internal/gas"
	"chainSync/internal/registry"
	"chainSync/internal/session"
	"chainSync/internal/transactor"
	"chainSync/internal/units"
	"chainSync/internal/valuesync"
)

// sender bundles what every submitting command needs.
type sender struct {
	cfg     config.SendConfig
	logger  *zap.Logger
	client  *chain.Client
	session *session.Session
	oracle  *gas.Oracle
	tx      *transactor.Transactor
	value   *big.Int
}

func newSender(ctx context.Context, cfg config.SendConfig, logger *zap.Logger) (*sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateSigner(); err != nil {
		return nil, err
	}
	strategy, err := gas.ParseStrategy(cfg.GasStrategy)
	if err != nil {
		return nil, err
	}
	value, err := units.ParseEther(cfg.Value)
	if err != nil {
		return nil, err
	}

	client, err := dialChain(ctx, cfg.Common, logger)
	if err != nil {
		return nil, err
	}

	sess := session.New(client, logger)
	if err := connect(ctx, sess, client, cfg); err != nil {
		client.Close()
		return nil, err
	}
	state := sess.State()
	if state.WrongNetwork {
		client.Close()
		return nil, fmt.Errorf("signer is on chain %s, expected %s", state.UserChainID, state.LocalChainID)
	}

	oracle := gas.NewOracle(ctx, client, strategy, cfg.GasInterval, logger)
	waitForPrice(ctx, oracle.Sync(), 10*time.Second)

	tx := transactor.New(client, oracle,
		transactor.WithConfirmations(cfg.Confirmations),
		transactor.WithConfirmTimeout(cfg.ConfirmTimeout),
		transactor.WithNotifier(transactor.LogNotifier{Logger: logger, ExplorerURL: cfg.ExplorerURL}),
		transactor.WithLogger(logger),
	)

	return &sender{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		session: sess,
		oracle:  oracle,
		tx:      tx,
		value:   value,
	}, nil
}

func connect(ctx context.Context, sess *session.Session, client *chain.Client, cfg config.SendConfig) error {
	if cfg.Burner {
		_, err := sess.ConnectBurner(ctx)
		return err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return err
	}
	return sess.Connect(ctx, client, signer)
}

// waitForPrice gives the oracle a moment to publish its first price. Without
// one the signer's backend picks the price.
func waitForPrice(ctx context.Context, s *valuesync.Sync[*big.Int], timeout time.Duration) {
	ch := make(chan valuesync.ObservedValue[*big.Int], 1)
	sub := s.Subscribe(ch)
	defer sub.Unsubscribe()
	if _, ok := s.Latest(); ok {
		return
	}
	select {
	case <-ch:
	case <-time.After(timeout):
	case <-ctx.Done():
	}
}

func (s *sender) close() {
	s.oracle.Stop()
	s.session.Disconnect()
	s.client.Close()
}

// submit follows req until it reaches a terminal state.
func (s *sender) submit(ctx context.Context, req transactor.Request) error {
	state := s.session.State()
	s.logger.Info("submitting",
		zap.String("label", req.Label),
		zap.String("from", state.Address.Hex()),
		zap.Bool("burner", state.Burner),
		zap.String("value", units.FormatEther(s.value)),
	)
	if price, ok := s.oracle.GasPrice(); ok {
		s.logger.Info("gas price", zap.String("strategy", string(s.oracle.Strategy())), zap.String("gwei", units.FormatGwei(price)))
	}

	op := s.tx.Submit(ctx, req.WithValue(s.value))
	receipt, err := op.Wait(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("done",
		zap.String("operation_id", op.ID().String()),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return nil
}

func runSend(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSend(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Contract == "" || cfg.Method == "" {
		return fmt.Errorf("contract and method are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	set, err := loadDescriptors(cfg.Common)
	if err != nil {
		return err
	}
	signer, err := s.session.Signer()
	if err != nil {
		return err
	}
	reg, err := registry.LoadWithSigner(ctx, s.session.Provider(), signer, set, registry.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := resolveRegistry(ctx, reg.Registry, cfg.Common, logger); err != nil {
		return err
	}
	contract, err := reg.Signer(cfg.Contract)
	if err != nil {
		return err
	}
	method, ok := contract.ABI().Methods[cfg.Method]
	if !ok {
		return fmt.Errorf("contract %s has no method %s", cfg.Contract, cfg.Method)
	}
	args, err := registry.ParseArgs(method.Inputs, cfg.Args)
	if err != nil {
		return err
	}

	return s.submit(ctx, contract.Request(cfg.Method, args...))
}

func runTransfer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSend(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	to, err := registry.ParseAddress(cfg.To)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	signer, err := s.session.Signer()
	if err != nil {
		return err
	}
	req := transactor.Transfer(s.session.Provider(), signer, to, s.value)
	return s.submit(ctx, req)
}
