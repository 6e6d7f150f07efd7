package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chainSync/internal/config"
	"chainSync/internal/model"
	"chainSync/internal/registry"
	"chainSync/internal/units"
	"chainSync/internal/valuesync"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
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
	if len(cfg.Accounts) == 0 && len(cfg.Reads) == 0 {
		return fmt.Errorf("nothing to watch, pass --account or --read")
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

	var wg sync.WaitGroup
	onError := func(name string) func(error) {
		return func(err error) {
			logger.Debug("refresh failed", zap.String("value", name), zap.Error(err))
		}
	}

	for _, account := range cfg.Accounts {
		addr, err := registry.ParseAddress(account)
		if err != nil {
			return err
		}
		name := "balance:" + addr.Hex()
		s := valuesync.Observe(ctx, valuesync.BalanceProbe(client, addr), cfg.PollInterval,
			valuesync.WithName(name),
			valuesync.WithTimeout(cfg.ProbeTimeout),
			valuesync.WithErrorHandler(onError(name)),
			valuesync.WithLogger(logger),
		)
		defer s.Stop()
		follow(ctx, &wg, s, logger.With(zap.String("value", name)), func(v *big.Int) string {
			return units.FormatEther(v) + " ETH"
		})
	}

	if len(cfg.Reads) > 0 {
		reg, err := loadRegistry(ctx, client, cfg.Common, logger)
		if err != nil {
			return err
		}
		for _, spec := range cfg.Reads {
			probe, err := readProbe(reg, spec)
			if err != nil {
				return err
			}
			s := valuesync.Observe(ctx, probe, cfg.PollInterval,
				valuesync.WithName(spec),
				valuesync.WithTimeout(cfg.ProbeTimeout),
				valuesync.WithErrorHandler(onError(spec)),
				valuesync.WithLogger(logger),
			)
			defer s.Stop()
			follow(ctx, &wg, s, logger.With(zap.String("value", spec)), func(v any) string {
				return fmt.Sprint(model.FormatArg(v))
			})
		}
	}

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Int("accounts", len(cfg.Accounts)),
		zap.Int("reads", len(cfg.Reads)),
		zap.Duration("interval", cfg.PollInterval),
	)

	<-ctx.Done()
	wg.Wait()
	return nil
}

// follow logs every published value of s until ctx ends.
func follow[T any](ctx context.Context, wg *sync.WaitGroup, s *valuesync.Sync[T], logger *zap.Logger, render func(T) string) {
	ch := make(chan valuesync.ObservedValue[T], 16)
	sub := s.Subscribe(ch)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sub.Unsubscribe()
		for {
			select {
			case v := <-ch:
				if !v.Present {
					logger.Info("value cleared")
					continue
				}
				logger.Info("value updated", zap.String("display", render(v.Value)), zap.Time("updated_at", v.UpdatedAt))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// readProbe builds a probe from Contract.method(arg,...).
func readProbe(reg *registry.Registry, spec string) (valuesync.Probe[any], error) {
	name, method, rawArgs, err := parseRead(spec)
	if err != nil {
		return nil, err
	}
	contract, err := reg.Contract(name)
	if err != nil {
		return nil, err
	}
	m, ok := contract.ABI().Methods[method]
	if !ok {
		return nil, fmt.Errorf("contract %s has no method %s", name, method)
	}
	args, err := registry.ParseArgs(m.Inputs, rawArgs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", spec, err)
	}
	return valuesync.ReadProbe[any](contract, method, args...), nil
}

func parseRead(spec string) (contract, method string, args []string, err error) {
	spec = strings.TrimSpace(spec)
	call := spec
	if open := strings.IndexByte(spec, '('); open >= 0 {
		if !strings.HasSuffix(spec, ")") {
			return "", "", nil, fmt.Errorf("invalid read %q: missing )", spec)
		}
		call = spec[:open]
		inner := strings.TrimSpace(spec[open+1 : len(spec)-1])
		if inner != "" {
			for _, a := range strings.Split(inner, ",") {
				args = append(args, strings.TrimSpace(a))
			}
		}
	}
	contract, method, ok := strings.Cut(call, ".")
	if !ok || contract == "" || method == "" {
		return "", "", nil, fmt.Errorf("invalid read %q, want Contract.method(args)", spec)
	}
	return contract, method, args, nil
}
