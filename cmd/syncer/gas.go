package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chainSync/internal/config"
	"chainSync/internal/gas"
	"chainSync/internal/units"
)

func runGas(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadGas(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	strategy, err := gas.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dialChain(ctx, cfg.Common, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	shutdown := serveMetrics(cfg.MetricsAddr, logger)
	defer shutdown()

	oracle := gas.NewOracle(ctx, client, strategy, cfg.PollInterval, logger)
	defer oracle.Stop()

	var wg sync.WaitGroup
	follow(ctx, &wg, oracle.Sync(), logger.With(zap.String("strategy", string(strategy))), func(v *big.Int) string {
		return units.FormatGwei(v) + " gwei"
	})

	logger.Info("gas start", zap.String("strategy", string(strategy)), zap.Duration("interval", cfg.PollInterval))
	<-ctx.Done()
	wg.Wait()
	return nil
}
