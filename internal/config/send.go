package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SendConfig holds configuration for the send and transfer commands.
type SendConfig struct {
	Common
	PrivateKey     string
	Burner         bool
	Contract       string
	Method         string
	Args           []string
	To             string
	Value          string
	GasStrategy    string
	GasInterval    time.Duration
	Confirmations  uint64
	ConfirmTimeout time.Duration
	ExplorerURL    string
}

// LoadSend merges config file, environment variables, and flags into SendConfig.
func LoadSend(cfgFile string, flags *pflag.FlagSet) (SendConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("value", "0")
		v.SetDefault("gas-strategy", "fast")
		v.SetDefault("gas-interval", 15*time.Second)
		v.SetDefault("confirmations", uint64(1))
		v.SetDefault("confirm-timeout", 5*time.Minute)
	})
	if err != nil {
		return SendConfig{}, err
	}
	return SendConfig{
		Common:         loadCommon(v),
		PrivateKey:     v.GetString("private-key"),
		Burner:         v.GetBool("burner"),
		Contract:       v.GetString("contract"),
		Method:         v.GetString("method"),
		Args:           getStringSlice(v, "arg"),
		To:             v.GetString("to"),
		Value:          v.GetString("value"),
		GasStrategy:    v.GetString("gas-strategy"),
		GasInterval:    v.GetDuration("gas-interval"),
		Confirmations:  v.GetUint64("confirmations"),
		ConfirmTimeout: v.GetDuration("confirm-timeout"),
		ExplorerURL:    v.GetString("explorer-url"),
	}, nil
}

// ValidateSigner checks that exactly one signing source is configured.
func (c SendConfig) ValidateSigner() error {
	if c.PrivateKey == "" && !c.Burner {
		return fmt.Errorf("private key is required (or use --burner)")
	}
	if c.PrivateKey != "" && c.Burner {
		return fmt.Errorf("private key and burner are mutually exclusive")
	}
	return nil
}

// GasConfig holds configuration for the gas command.
type GasConfig struct {
	Common
	Strategy string
}

// LoadGas merges config file, environment variables, and flags into GasConfig.
func LoadGas(cfgFile string, flags *pflag.FlagSet) (GasConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("strategy", "standard")
	})
	if err != nil {
		return GasConfig{}, err
	}
	return GasConfig{
		Common:   loadCommon(v),
		Strategy: v.GetString("strategy"),
	}, nil
}
