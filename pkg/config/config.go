// Package config handles configuration loading from YAML files
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Auth     AuthConfig     `yaml:"auth"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ConsumerConfig holds consumer pool configuration
type ConsumerConfig struct {
	// DefaultBroker is used when a request names no broker
	DefaultBroker string `yaml:"default_broker"`
	// DefaultRegistry is used when a request names no schema registry
	DefaultRegistry string `yaml:"default_registry"`
	// DefaultBufferSize applies when the requested size is missing or out of range
	DefaultBufferSize int `yaml:"default_buffer_size"`
	// MaxRequestSize is the exclusive upper bound for a requested buffer size
	MaxRequestSize  int           `yaml:"max_request_size"`
	IdleThreshold   time.Duration `yaml:"idle_threshold"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SchemaCacheSize int           `yaml:"schema_cache_size"`
	RegistryTimeout time.Duration `yaml:"registry_timeout"`
}

// AuthConfig holds bearer token configuration; an empty secret disables auth
// PasswordHash is the bcrypt hash accepted by the login endpoint
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	Issuer       string        `yaml:"issuer"`
	PasswordHash string        `yaml:"password_hash"`
	TokenExpiry  time.Duration `yaml:"token_expiry"`
}

// Enabled reports whether destructive endpoints require a token
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// BreakerConfig holds the per-broker circuit breaker configuration
type BreakerConfig struct {
	MinRequests  int           `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

// RawConfig represents the raw YAML structure with environments
type RawConfig struct {
	Default     map[string]interface{} `yaml:"default"`
	Development map[string]interface{} `yaml:"development"`
	Production  map[string]interface{} `yaml:"production"`
}

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Load loads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	globalMu.Lock()
	globalConfig = cfg
	globalMu.Unlock()
	return cfg, nil
}

// Parse builds a Config from YAML bytes, merging the default section with the
// environment selected by GIN_MODE and applying environment variable overrides
func Parse(data []byte) (*Config, error) {
	var raw RawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var envConfig map[string]interface{}
	switch os.Getenv("GIN_MODE") {
	case "release", "production":
		envConfig = raw.Production
	default:
		envConfig = raw.Development
	}

	merged := mergeConfig(raw.Default, envConfig)

	return &Config{
		Server: ServerConfig{
			Host:            getString(merged, "server.host", "0.0.0.0"),
			Port:            getIntEnv("SERVER_PORT", getInt(merged, "server.port", 8080)),
			Debug:           getBool(merged, "server.debug", false),
			ShutdownTimeout: getDuration(merged, "server.shutdown_timeout", 15*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", getString(merged, "log.level", "info")),
			Format:     getString(merged, "log.format", "json"),
			Output:     getString(merged, "log.output", "stdout"),
			FilePath:   getString(merged, "log.file_path", "logs/kadmin.log"),
			MaxSize:    getInt(merged, "log.max_size", 100),
			MaxBackups: getInt(merged, "log.max_backups", 5),
			MaxAge:     getInt(merged, "log.max_age", 30),
			Compress:   getBool(merged, "log.compress", true),
		},
		Consumer: ConsumerConfig{
			DefaultBroker:     getEnv("KADMIN_BROKER", getString(merged, "consumer.default_broker", "localhost:9092")),
			DefaultRegistry:   getEnv("KADMIN_REGISTRY", getString(merged, "consumer.default_registry", "")),
			DefaultBufferSize: getInt(merged, "consumer.default_buffer_size", 50),
			MaxRequestSize:    getInt(merged, "consumer.max_request_size", 100),
			IdleThreshold:     getDuration(merged, "consumer.idle_threshold", 15*time.Minute),
			SweepInterval:     getDuration(merged, "consumer.sweep_interval", time.Hour),
			SchemaCacheSize:   getInt(merged, "consumer.schema_cache_size", 256),
			RegistryTimeout:   getDuration(merged, "consumer.registry_timeout", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("KADMIN_JWT_SECRET", getString(merged, "auth.jwt_secret", "")),
			Issuer:       getString(merged, "auth.issuer", "kadmin"),
			PasswordHash: getEnv("KADMIN_PASSWORD_HASH", getString(merged, "auth.password_hash", "")),
			TokenExpiry:  getDuration(merged, "auth.token_expiry", 12*time.Hour),
		},
		Breaker: BreakerConfig{
			MinRequests:  getInt(merged, "breaker.min_requests", 3),
			FailureRatio: getFloat(merged, "breaker.failure_ratio", 0.6),
			OpenTimeout:  getDuration(merged, "breaker.open_timeout", 30*time.Second),
		},
	}, nil
}

// Get returns the last loaded configuration
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// getEnv returns environment variable value or default
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getIntEnv returns environment variable as int or default
func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// Helper functions for nested map access
func mergeConfig(base, overlay map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		if baseMap, ok := result[k].(map[string]interface{}); ok {
			if overlayMap, ok := v.(map[string]interface{}); ok {
				result[k] = mergeConfig(baseMap, overlayMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func getNestedValue(m map[string]interface{}, path string) interface{} {
	keys := strings.Split(path, ".")
	current := m
	for i, key := range keys {
		if i == len(keys)-1 {
			return current[key]
		}
		next, ok := current[key].(map[string]interface{})
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

func getString(m map[string]interface{}, path, defaultVal string) string {
	if v := getNestedValue(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

func getInt(m map[string]interface{}, path string, defaultVal int) int {
	if v := getNestedValue(m, path); v != nil {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultVal
}

func getFloat(m map[string]interface{}, path string, defaultVal float64) float64 {
	if v := getNestedValue(m, path); v != nil {
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		}
	}
	return defaultVal
}

func getBool(m map[string]interface{}, path string, defaultVal bool) bool {
	if v := getNestedValue(m, path); v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// getDuration accepts "15m" style strings or a number of seconds
func getDuration(m map[string]interface{}, path string, defaultVal time.Duration) time.Duration {
	if v := getNestedValue(m, path); v != nil {
		switch val := v.(type) {
		case string:
			if d, err := time.ParseDuration(val); err == nil {
				return d
			}
		case int:
			return time.Duration(val) * time.Second
		case float64:
			return time.Duration(val * float64(time.Second))
		}
	}
	return defaultVal
}
