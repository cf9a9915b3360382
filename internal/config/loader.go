package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".appaudit"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for appaudit settings.
const envPrefix = "APPAUDIT"

// envKeySeparator is the nested key separator in environment variable
// names.
const envKeySeparator = "_"

// Load loads configuration from file, env vars, and defaults. If
// configPath is non-empty, it is used as the explicit config file path;
// otherwise the config file is searched in CWD and $HOME. A missing
// config file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("results_root", DefaultResultsRoot)
	viperCfg.SetDefault("apps_root", DefaultAppsRoot)
	viperCfg.SetDefault("ports_file", DefaultPortsFile)
	viperCfg.SetDefault("store_path", DefaultStorePath)

	viperCfg.SetDefault("dispatcher.parallelism", DefaultDispatcherParallelism)
	viperCfg.SetDefault("dispatcher.poll_interval", DefaultPollInterval)
	viperCfg.SetDefault("dispatcher.lease_ttl", DefaultLeaseTTL)
	viperCfg.SetDefault("dispatcher.lease_grace", DefaultLeaseGrace)
	viperCfg.SetDefault("dispatcher.sweep_interval", DefaultSweepInterval)
	viperCfg.SetDefault("dispatcher.aggregation_budget", DefaultAggregationBudget)

	for service, endpoint := range defaultEndpoints {
		viperCfg.SetDefault("analyzers."+service+".endpoint", endpoint)
	}

	viperCfg.SetDefault("breaker.failure_threshold", DefaultBreakerThreshold)
	viperCfg.SetDefault("breaker.cooldown", DefaultBreakerCooldown)
	viperCfg.SetDefault("breaker.max_cooldown", DefaultBreakerMaxCooldown)

	viperCfg.SetDefault("artifacts.inline_threshold", DefaultArtifactInlineThreshold)
	viperCfg.SetDefault("artifacts.retention_days", DefaultRetentionDays)

	viperCfg.SetDefault("telemetry.diagnostics_addr", DefaultDiagnosticsAddr)
	viperCfg.SetDefault("telemetry.log_level", DefaultLogLevel)
}
