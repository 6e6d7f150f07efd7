package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chainSync/internal/chain"
	"chainSync/internal/config"
	"chainSync/internal/registry"
)

func main() {
	root := &cobra.Command{
		Use:          "syncer",
		Short:        "Keep local views in sync with an EVM chain",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow balances and contract reads",
		RunE:  runWatch,
	}
	addCommonFlags(watchCmd)
	watchCmd.Flags().StringSlice("account", nil, "accounts whose balance is followed (comma-separated)")
	watchCmd.Flags().StringArray("read", nil, "contract read as Contract.method(arg,...) (repeatable)")
	root.AddCommand(watchCmd)

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Keep a merged log of one contract event and export it",
		RunE:  runEvents,
	}
	addCommonFlags(eventsCmd)
	eventsCmd.Flags().String("contract", "", "contract name from the descriptor set")
	eventsCmd.Flags().String("event", "", "event name")
	eventsCmd.Flags().Uint64("from", 0, "first block to query")
	eventsCmd.Flags().Uint64("overlap", 0, "blocks re-queried behind the cursor on every poll")
	eventsCmd.Flags().Uint64("max-range", 2000, "maximum blocks per log query")
	eventsCmd.Flags().Bool("subscribe", false, "also follow pushed logs (websocket RPC)")
	eventsCmd.Flags().String("out", "./data/events.jsonl", "output JSONL path")
	eventsCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL path")
	eventsCmd.Flags().String("pg-dsn", "", "Postgres DSN for event export")
	root.AddCommand(eventsCmd)

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Submit a contract call and follow it until confirmed",
		RunE:  runSend,
	}
	addCommonFlags(sendCmd)
	addSignerFlags(sendCmd)
	sendCmd.Flags().String("contract", "", "contract name from the descriptor set")
	sendCmd.Flags().String("method", "", "method name")
	sendCmd.Flags().StringArray("arg", nil, "method argument (repeatable)")
	root.AddCommand(sendCmd)

	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send ether to an address",
		RunE:  runTransfer,
	}
	addCommonFlags(transferCmd)
	addSignerFlags(transferCmd)
	transferCmd.Flags().String("to", "", "recipient address")
	root.AddCommand(transferCmd)

	gasCmd := &cobra.Command{
		Use:   "gas",
		Short: "Follow the gas price for a speed strategy",
		RunE:  runGas,
	}
	addCommonFlags(gasCmd)
	gasCmd.Flags().String("strategy", "standard", "speed strategy (safeLow, standard, fast, fastest)")
	root.AddCommand(gasCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "JSON-RPC URL (http or ws)")
	cmd.Flags().String("contracts", "", "contract descriptor file (JSON)")
	cmd.Flags().StringSlice("erc20", nil, "extra ERC20 contracts as name=address (comma-separated)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().Uint("dial-attempts", 5, "connection attempts")
	cmd.Flags().Duration("dial-delay", 500*time.Millisecond, "initial delay between connection attempts")
	cmd.Flags().Duration("poll-interval", config.DefaultPollInterval, "refresh interval")
	cmd.Flags().Duration("probe-timeout", 0, "timeout of a single refresh, 0 means none")
}

func addSignerFlags(cmd *cobra.Command) {
	cmd.Flags().String("private-key", "", "hex private key of the sender")
	cmd.Flags().Bool("burner", false, "sign with a throwaway key")
	cmd.Flags().String("value", "0", "ether sent with the transaction")
	cmd.Flags().String("gas-strategy", "fast", "speed strategy (safeLow, standard, fast, fastest)")
	cmd.Flags().Duration("gas-interval", 15*time.Second, "gas price refresh interval")
	cmd.Flags().Uint64("confirmations", 1, "blocks to wait for")
	cmd.Flags().Duration("confirm-timeout", 5*time.Minute, "maximum wait for confirmation")
	cmd.Flags().String("explorer-url", "", "block explorer base URL for transaction links")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func dialChain(ctx context.Context, cfg config.Common, logger *zap.Logger) (*chain.Client, error) {
	client, err := chain.Dial(ctx, cfg.RPCURL, chain.DialConfig{
		Attempts: cfg.DialAttempts,
		Delay:    cfg.DialDelay,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	return client, nil
}

// serveMetrics exposes the prometheus registry until the returned function is
// called. It does nothing when addr is empty.
func serveMetrics(addr string, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func loadDescriptors(cfg config.Common) ([]registry.Descriptor, error) {
	var set []registry.Descriptor
	if cfg.Contracts != "" {
		loaded, err := registry.LoadDescriptors(cfg.Contracts)
		if err != nil {
			return nil, err
		}
		set = append(set, loaded...)
	}
	for _, item := range cfg.ERC20 {
		name, addr, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid erc20 entry %q, want name=address", item)
		}
		set = append(set, registry.ERC20(strings.TrimSpace(name), strings.TrimSpace(addr)))
	}
	return set, nil
}

// resolveRegistry retries network resolution when the first attempt in Load
// could not reach the node.
func resolveRegistry(ctx context.Context, reg *registry.Registry, cfg config.Common, logger *zap.Logger) error {
	if reg.Resolved() {
		return nil
	}
	return retry.Do(
		func() error { return reg.Resolve(ctx) },
		retry.Context(ctx),
		retry.Attempts(max(cfg.DialAttempts, 1)),
		retry.Delay(cfg.DialDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("resolve network retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func loadRegistry(ctx context.Context, client *chain.Client, cfg config.Common, logger *zap.Logger) (*registry.Registry, error) {
	set, err := loadDescriptors(cfg)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(ctx, client, set, registry.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := resolveRegistry(ctx, reg, cfg, logger); err != nil {
		return nil, err
	}
	return reg, nil
}
