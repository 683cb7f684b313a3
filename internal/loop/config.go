package loop

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/tether/pkg/types"
)

// Config keys recognized in a loop config file.
const (
	cfgKeyLocator      = "locator"
	cfgKeyTickInterval = "tick_interval"
)

// LoadConfig reads a loop configuration from a YAML file using Viper and
// validates it. Missing tick_interval falls back to the default; a missing
// or empty locator is an error.
func LoadConfig(path string) (types.Config, error) {
	v := viper.New()
	v.SetDefault(cfgKeyTickInterval, types.DefaultTickInterval)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return types.Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := types.Config{
		Locator:      v.GetString(cfgKeyLocator),
		TickInterval: v.GetDuration(cfgKeyTickInterval),
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
