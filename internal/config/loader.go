package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	// Apply environment variable interpolation before parsing.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Paths in the config resolve relative to the config file.
	baseDir := filepath.Dir(absPath)
	cfg.Engine.Manifest = resolvePath(baseDir, cfg.Engine.Manifest)
	cfg.Storage.Path = resolvePath(baseDir, cfg.Storage.Path)
	cfg.Service.PIDFile = resolvePath(baseDir, cfg.Service.PIDFile)

	return &cfg, nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validation if they
// end up in a secret-bearing field.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = defaults.Service.PIDFile
	}

	if cfg.Engine.Manifest == "" {
		cfg.Engine.Manifest = defaults.Engine.Manifest
	}
	if cfg.Engine.ExecTimeout == 0 {
		cfg.Engine.ExecTimeout = defaults.Engine.ExecTimeout
	}
	if cfg.Engine.GracePeriod == 0 {
		cfg.Engine.GracePeriod = defaults.Engine.GracePeriod
	}
	if cfg.Engine.MaxStderrBytes == 0 {
		cfg.Engine.MaxStderrBytes = defaults.Engine.MaxStderrBytes
	}
	if cfg.Engine.EventBuffer == 0 {
		cfg.Engine.EventBuffer = defaults.Engine.EventBuffer
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.Auth.JWTTTL == 0 {
		cfg.API.Auth.JWTTTL = defaults.API.Auth.JWTTTL
	}

	if cfg.Tasks.TickInterval == 0 {
		cfg.Tasks.TickInterval = defaults.Tasks.TickInterval
	}
	if cfg.Tasks.MaxAttempts == 0 {
		cfg.Tasks.MaxAttempts = defaults.Tasks.MaxAttempts
	}
	if cfg.Tasks.BackoffBase == 0 {
		cfg.Tasks.BackoffBase = defaults.Tasks.BackoffBase
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Engine.ExecTimeout <= 0 {
		return fmt.Errorf("engine.exec_timeout must be positive")
	}
	if cfg.Engine.GracePeriod <= 0 {
		return fmt.Errorf("engine.grace_period must be positive")
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if cfg.Tasks.TickInterval <= 0 {
		return fmt.Errorf("tasks.tick_interval must be positive")
	}
	if cfg.Tasks.MaxAttempts <= 0 {
		return fmt.Errorf("tasks.max_attempts must be positive")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when API is enabled")
		}
		if len(cfg.API.Auth.Keys) == 0 {
			return fmt.Errorf("api.auth.keys must be non-empty when API is enabled")
		}
		for i, key := range cfg.API.Auth.Keys {
			if key.Key == "" {
				return fmt.Errorf("api.auth.keys[%d].key is required", i)
			}
			if envVarPattern.MatchString(key.Key) {
				matches := envVarPattern.FindStringSubmatch(key.Key)
				return fmt.Errorf("api.auth.keys[%d].key: environment variable ${%s} is not set", i, matches[1])
			}
			if len(key.Scopes) == 0 {
				return fmt.Errorf("api.auth.keys[%d].scopes must be non-empty", i)
			}
		}
		if cfg.API.Auth.JWTSecret != "" && envVarPattern.MatchString(cfg.API.Auth.JWTSecret) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.JWTSecret)
			return fmt.Errorf("api.auth.jwt_secret: environment variable ${%s} is not set", matches[1])
		}
	}

	return nil
}
