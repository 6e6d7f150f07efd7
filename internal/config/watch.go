package config

import (
	"github.com/spf13/pflag"
)

// WatchConfig holds configuration for the watch command.
type WatchConfig struct {
	Common
	// Accounts whose balances are followed.
	Accounts []string
	// Reads are contract reads in the form Contract.method(arg,...).
	Reads []string
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := newViper(cfgFile, flags, nil)
	if err != nil {
		return WatchConfig{}, err
	}
	return WatchConfig{
		Common:   loadCommon(v),
		Accounts: getStringSlice(v, "account"),
		Reads:    getStringSlice(v, "read"),
	}, nil
}
