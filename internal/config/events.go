package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EventsConfig holds configuration for the events command.
type EventsConfig struct {
	Common
	Contract  string
	Event     string
	FromBlock uint64
	Overlap   uint64
	MaxRange  uint64
	Subscribe bool
	Out       string
	Errors    string
	PGDSN     string
}

// LoadEvents merges config file, environment variables, and flags into EventsConfig.
func LoadEvents(cfgFile string, flags *pflag.FlagSet) (EventsConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("overlap", uint64(0))
		v.SetDefault("max-range", uint64(2000))
		v.SetDefault("out", "./data/events.jsonl")
		v.SetDefault("errors", "./data/decode_errors.jsonl")
	})
	if err != nil {
		return EventsConfig{}, err
	}
	return EventsConfig{
		Common:    loadCommon(v),
		Contract:  v.GetString("contract"),
		Event:     v.GetString("event"),
		FromBlock: v.GetUint64("from"),
		Overlap:   v.GetUint64("overlap"),
		MaxRange:  v.GetUint64("max-range"),
		Subscribe: v.GetBool("subscribe"),
		Out:       v.GetString("out"),
		Errors:    v.GetString("errors"),
		PGDSN:     v.GetString("pg-dsn"),
	}, nil
}

// Validate checks the events-specific settings.
func (c EventsConfig) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if c.Event == "" {
		return fmt.Errorf("event is required")
	}
	if c.Out == "" && c.PGDSN == "" {
		return fmt.Errorf("an output path or pg dsn is required")
	}
	return nil
}
