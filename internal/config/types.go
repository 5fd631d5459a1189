package config

import "time"

// Config represents the complete piston configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api,omitempty"`
	Tasks   TasksConfig   `yaml:"tasks,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	PIDFile  string `yaml:"pid_file,omitempty"`
}

// EngineConfig defines plugin engine settings.
type EngineConfig struct {
	// Manifest is the path to the external plugin manifest (plugins.json).
	Manifest       string        `yaml:"manifest"`
	ExecTimeout    time.Duration `yaml:"exec_timeout"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	MaxStderrBytes int           `yaml:"max_stderr_bytes"`
	EventBuffer    int           `yaml:"event_buffer"`
}

// StorageConfig defines task persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Keys      []APIKey      `yaml:"keys,omitempty"`
	JWTSecret string        `yaml:"jwt_secret,omitempty"`
	JWTTTL    time.Duration `yaml:"jwt_ttl,omitempty"`
}

// APIKey defines a static API key and its scopes.
type APIKey struct {
	Key    string   `yaml:"key"`
	Scopes []string `yaml:"scopes"`
}

// TasksConfig defines the task runner settings.
type TasksConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "piston",
			LogLevel: "info",
			PIDFile:  "./data/piston.pid",
		},
		Engine: EngineConfig{
			Manifest:       "./plugins.json",
			ExecTimeout:    60 * time.Second,
			GracePeriod:    5 * time.Second,
			MaxStderrBytes: 64 * 1024,
			EventBuffer:    256,
		},
		Storage: StorageConfig{
			Path: "./data/piston.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			Auth: APIAuthConfig{
				JWTTTL: time.Hour,
			},
		},
		Tasks: TasksConfig{
			TickInterval: time.Second,
			MaxAttempts:  4,
			BackoffBase:  5 * time.Second,
		},
	}
}
