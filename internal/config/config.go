package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultPollInterval is the refresh period of balance and contract reads.
const DefaultPollInterval = 37777 * time.Millisecond

// Common holds settings shared by every command.
type Common struct {
	RPCURL       string
	Contracts    string
	// ERC20 lists extra token contracts as name=address.
	ERC20        []string
	LogLevel     string
	MetricsAddr  string
	DialAttempts uint
	DialDelay    time.Duration
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// newViper merges config file, environment variables, and flags. defaults may
// register command-specific defaults before flags are bound.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNCER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("dial-attempts", uint(5))
	v.SetDefault("dial-delay", 500*time.Millisecond)
	v.SetDefault("poll-interval", DefaultPollInterval)
	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func loadCommon(v *viper.Viper) Common {
	return Common{
		RPCURL:       v.GetString("rpc"),
		Contracts:    v.GetString("contracts"),
		ERC20:        getStringSlice(v, "erc20"),
		LogLevel:     v.GetString("log-level"),
		MetricsAddr:  v.GetString("metrics-addr"),
		DialAttempts: v.GetUint("dial-attempts"),
		DialDelay:    v.GetDuration("dial-delay"),
		PollInterval: v.GetDuration("poll-interval"),
		ProbeTimeout: v.GetDuration("probe-timeout"),
	}
}

// Validate checks the settings every command needs.
func (c Common) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
