package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/hearthhq/hearth/pkg/telemetry"
)

// ConfigFileName is the file Initialize reads from the config directory.
const ConfigFileName = "hearth.yaml"

// HearthYAMLConfig represents the complete hearth.yaml file structure
type HearthYAMLConfig struct {
	System    *SystemYAMLConfig `yaml:"system"`
	Auth      *AuthConfig       `yaml:"auth"`
	Hub       *HubConfig        `yaml:"hub"`
	Scanner   *ScannerConfig    `yaml:"scanner"`
	Client    *ClientConfig     `yaml:"client"`
	Retention *RetentionConfig  `yaml:"retention"`
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// SystemYAMLConfig groups process-wide settings.
type SystemYAMLConfig struct {
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	Fanout           string   `yaml:"fanout"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load hearth.yaml from configDir
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"fanout", cfg.Fanout,
		"rules", stats.Rules,
		"enabled_rules", stats.EnabledRules)

	return cfg, nil
}

// Defaults returns a fully defaulted configuration without reading any file.
func Defaults() *Config {
	cfg, _ := resolve("", &HearthYAMLConfig{})
	return cfg
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	hearthConfig, err := loader.loadHearthYAML()
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	return resolve(configDir, hearthConfig)
}

func resolve(configDir string, y *HearthYAMLConfig) (*Config, error) {
	hubCfg := DefaultHubConfig()
	if y.Hub != nil {
		if err := mergo.Merge(hubCfg, y.Hub, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge hub config: %w", err)
		}
	}

	scannerCfg, err := resolveScannerConfig(y.Scanner)
	if err != nil {
		return nil, err
	}

	clientCfg := DefaultClientConfig()
	if y.Client != nil {
		if err := mergo.Merge(clientCfg, y.Client, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge client config: %w", err)
		}
	}

	retentionCfg := DefaultRetentionConfig()
	if y.Retention != nil {
		if err := mergo.Merge(retentionCfg, y.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	telemetryCfg := telemetry.DefaultConfig()
	if y.Telemetry != nil {
		if err := mergo.Merge(telemetryCfg, y.Telemetry, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge telemetry config: %w", err)
		}
	}

	authCfg := &AuthConfig{Issuer: "hearth"}
	if y.Auth != nil {
		if y.Auth.JWTSecret != "" {
			authCfg.JWTSecret = y.Auth.JWTSecret
		}
		if y.Auth.Issuer != "" {
			authCfg.Issuer = y.Auth.Issuer
		}
	}

	return &Config{
		configDir:        configDir,
		AllowedWSOrigins: resolveAllowedWSOrigins(y.System),
		Fanout:           resolveFanout(y.System),
		Auth:             authCfg,
		Hub:              hubCfg,
		Scanner:          scannerCfg,
		Client:           clientCfg,
		Retention:        retentionCfg,
		Telemetry:        telemetryCfg,
	}, nil
}

// resolveScannerConfig merges scalar settings with mergo and rule overrides
// field by field, so a user entry that only disables a rule keeps its default schedule.
func resolveScannerConfig(user *ScannerConfig) (*ScannerConfig, error) {
	cfg := DefaultScannerConfig()
	if user == nil {
		return cfg, nil
	}

	scalars := *user
	scalars.Rules = nil
	if err := mergo.Merge(cfg, &scalars, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge scanner config: %w", err)
	}
	if user.Enabled != nil {
		cfg.Enabled = user.Enabled
	}

	for name, override := range user.Rules {
		if override == nil {
			continue
		}
		existing, ok := cfg.Rules[name]
		if !ok {
			cfg.Rules[name] = &RuleConfig{Enabled: override.Enabled, Schedule: override.Schedule}
			continue
		}
		if override.Enabled != nil {
			existing.Enabled = override.Enabled
		}
		if override.Schedule != "" {
			existing.Schedule = override.Schedule
		}
	}
	return cfg, nil
}

func resolveFanout(sys *SystemYAMLConfig) string {
	if sys != nil && sys.Fanout != "" {
		return sys.Fanout
	}
	return FanoutLocal
}

// resolveAllowedWSOrigins returns WebSocket origin patterns from system YAML.
func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// ExpandEnv passes through original data on template errors so the YAML
	// parser reports the clearer message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadHearthYAML() (*HearthYAMLConfig, error) {
	var config HearthYAMLConfig
	if err := l.loadYAML(ConfigFileName, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
