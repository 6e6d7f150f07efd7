package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadWatchDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.StringSlice("account", nil, "")
	if err := flags.Parse([]string{"--rpc", "http://localhost:8545", "--account", "0x01, 0x02,,"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadWatch("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Fatalf("rpc = %q", cfg.RPCURL)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.DialAttempts != 5 || cfg.DialDelay != 500*time.Millisecond {
		t.Fatalf("dial settings = %d %s", cfg.DialAttempts, cfg.DialDelay)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[0] != "0x01" || cfg.Accounts[1] != "0x02" {
		t.Fatalf("accounts = %v", cfg.Accounts)
	}
	if cfg.Reads != nil {
		t.Fatalf("reads = %v", cfg.Reads)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SYNCER_RPC", "ws://node:8546")
	t.Setenv("SYNCER_POLL_INTERVAL", "5s")
	t.Setenv("SYNCER_MAX_RANGE", "100")

	cfg, err := LoadEvents("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "ws://node:8546" {
		t.Fatalf("rpc = %q", cfg.RPCURL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.MaxRange != 100 {
		t.Fatalf("max range = %d", cfg.MaxRange)
	}
	if cfg.Out != "./data/events.jsonl" {
		t.Fatalf("out = %q", cfg.Out)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing contract error")
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncer.yaml")
	content := "rpc: http://file:8545\ncontract: Staker\nevent: Stake\narg:\n  - \"1\"\n  - \"0x02\"\ngas-strategy: fastest\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flags := pflag.NewFlagSet("send", pflag.ContinueOnError)
	flags.String("gas-strategy", "fast", "")
	flags.Bool("burner", false, "")
	if err := flags.Parse([]string{"--burner"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadSend(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://file:8545" || cfg.Contract != "Staker" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.GasStrategy != "fastest" {
		t.Fatalf("gas strategy = %q", cfg.GasStrategy)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != "0x02" {
		t.Fatalf("args = %v", cfg.Args)
	}
	if cfg.Confirmations != 1 || cfg.ConfirmTimeout != 5*time.Minute {
		t.Fatalf("confirmation settings = %d %s", cfg.Confirmations, cfg.ConfirmTimeout)
	}
	if err := cfg.ValidateSigner(); err != nil {
		t.Fatalf("validate signer: %v", err)
	}

	cfg.PrivateKey = "abc"
	if err := cfg.ValidateSigner(); err == nil {
		t.Fatalf("expected conflict between key and burner")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := LoadGas(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestSplitAndClean(t *testing.T) {
	got := splitAndClean(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitAndClean = %v", got)
	}
	if splitAndClean("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
