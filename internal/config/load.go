package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix read by Load.
const EnvPrefix = "EDGED_"

// Load overlays an optional config file and then prefixed environment
// variables onto target, which should already hold defaults.
//
// EDGED_POOL_TXNTIMEOUT=250ms -> pool.txntimeout
func Load(path, prefix string, target *Config) error {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// AutomaticEnv doesn't work with Unmarshal for keys viper has never
	// seen, so walk the environment and set dotted keys explicitly.
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		propKey = strings.TrimPrefix(propKey, ".")
		if propKey == "" {
			continue
		}
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return target.Validate()
}
