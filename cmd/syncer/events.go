package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chainSync/internal/config"
	"chainSync/internal/eventlog"
	"chainSync/internal/model"
	"chainSync/internal/storage"
	"chainSync/internal/storage/postgres"
)

func runEvents(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadEvents(cfgFile, cmd.Flags())
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dialChain(ctx, cfg.Common, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	shutdown := serveMetrics(cfg.MetricsAddr, logger)
	defer shutdown()

	reg, err := loadRegistry(ctx, client, cfg.Common, logger)
	if err != nil {
		return err
	}
	contract, err := reg.Contract(cfg.Contract)
	if err != nil {
		return err
	}

	var sinks multiSink
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out, cfg.Errors))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store)
	}

	evlog, err := eventlog.Observe(ctx, contract, cfg.Event, client, eventlog.Config{
		Interval:  cfg.PollInterval,
		FromBlock: cfg.FromBlock,
		Overlap:   cfg.Overlap,
		MaxRange:  cfg.MaxRange,
		Subscribe: cfg.Subscribe,
	},
		eventlog.WithSink(sinks),
		eventlog.WithLogger(logger),
		eventlog.WithErrorHandler(func(err error) {
			logger.Debug("event query failed", zap.Error(err))
		}),
	)
	if err != nil {
		return err
	}

	logger.Info("events start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", cfg.Contract),
		zap.String("address", contract.Address().Hex()),
		zap.String("event", cfg.Event),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("overlap", cfg.Overlap),
		zap.Bool("subscribe", cfg.Subscribe),
		zap.String("out", cfg.Out),
	)

	snapshots := make(chan []model.EventRecord, 4)
	sub := evlog.Subscribe(snapshots)
	defer sub.Unsubscribe()

	for {
		select {
		case records := <-snapshots:
			fields := []zap.Field{zap.Int("records", len(records)), zap.Uint64("cursor", evlog.Cursor())}
			if n := len(records); n > 0 {
				fields = append(fields, zap.Uint64("last_block", records[n-1].BlockNumber))
			}
			logger.Info("event log updated", fields...)
		case <-ctx.Done():
			sub.Unsubscribe()
			evlog.Stop()
			<-evlog.Done()
			logger.Info("events stopped",
				zap.Int("records", evlog.Len()),
				zap.Int("skipped", len(evlog.Skipped())),
			)
			return nil
		}
	}
}

// multiSink fans records out to every configured export.
type multiSink []storage.Storage

func (m multiSink) PutEvents(ctx context.Context, records []model.EventRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PutEvents(ctx, records))
	}
	return errors.Join(errs...)
}

func (m multiSink) PutDecodeErrors(ctx context.Context, decodeErrs []model.DecodeError) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PutDecodeErrors(ctx, decodeErrs))
	}
	return errors.Join(errs...)
}
