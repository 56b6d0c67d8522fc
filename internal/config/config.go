// Package config loads the UnifiedConfig the way the teacher loads its
// settings: viper reads a YAML file, environment variables override it
// (ATLAS_ prefix, nested keys joined with underscores), and defaults are
// seeded before either source is applied so a bare `go run` against an
// empty config file still starts with a runnable, conservative setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Load reads configPath (if non-empty and present) into a UnifiedConfig,
// seeded with conservative defaults and overridable via ATLAS_* env vars.
func Load(configPath string) (types.UnifiedConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	seedDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return types.UnifiedConfig{}, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	var cfg types.UnifiedConfig
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToDecimalHookFunc,
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return types.UnifiedConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Engines) == 0 {
		cfg.Engines = []types.EngineConfig{
			defaultEngine("momentum", 60.0),
			defaultEngine("trend", 40.0),
		}
	}
	return cfg, nil
}

func defaultEngine(name string, capitalPct float64) types.EngineConfig {
	e := types.DefaultEngineConfig(name)
	e.CapitalPct = decimal.NewFromFloat(capitalPct)
	return e
}

func seedDefaults(v *viper.Viper) {
	v.SetDefault("dataDir", "./data")
	v.SetDefault("server", types.DefaultServerConfig())
	v.SetDefault("global", types.DefaultGlobalConfig())
	v.SetDefault("credentials.testnet", true)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc lets viper populate shopspring/decimal.Decimal
// fields from the plain numeric or string values a YAML file or ATLAS_*
// env var supplies.
func stringToDecimalHookFunc(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case decimal.Decimal:
		return v, nil
	default:
		return data, nil
	}
}
