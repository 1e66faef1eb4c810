// Package config resolves engine settings from ~/.jem/config.toml, JEM_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".jem"
	envPrefix  = "JEM"
)

const (
	KeyServersPath           = "cache.servers_path"
	KeyKernelsPath           = "cache.kernels_path"
	KeyHeartbeatInterval     = "heartbeat.interval"
	KeyReconnectMaxAttempts  = "reconnect.max_attempts"
	KeyReconnectInitial      = "reconnect.initial_interval"
	KeyReconnectMaxInterval  = "reconnect.max_interval"
	KeyBinderName            = "binder.name"
	KeyBinderBaseURL         = "binder.base_url"
	KeyBinderProvider        = "binder.provider"
	KeyBinderSpec            = "binder.spec"
	KeyDirectURL             = "server.url"
	KeyHTTPTimeout           = "http.timeout"
	KeyHTTPRetryMax          = "http.retry_max"
	KeyInstallCondaAvailable = "install.conda_available"
	KeyHandshakeTimeout      = "connection.handshake_timeout"
	KeyLogLevel              = "log.level"
	KeyLogFormat             = "log.format"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultReconnectAttempts = 3
	defaultReconnectInitial  = time.Second
	defaultReconnectMax      = 30 * time.Second
	defaultHTTPTimeout       = 30 * time.Second
	defaultHTTPRetryMax      = 2
	defaultHandshakeTimeout  = 10 * time.Minute
	defaultEngineName        = "MyBinder Engine"
	defaultLogLevel          = "warn"
	defaultLogFormat         = "console"
)

type Config struct {
	ServersPath       string
	KernelsPath       string
	HeartbeatInterval time.Duration
	Reconnect         ReconnectConfig
	Server            domain.ServerConfig
	HTTPTimeout       time.Duration
	HTTPRetryMax      int
	CondaAvailable    bool
	HandshakeTimeout  time.Duration
	LogLevel          string
	LogFormat         string
}

type ReconnectConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// New prepares a viper instance with defaults, the config file search path
// and environment overrides. A missing config file is not an error.
func New(flags *pflag.FlagSet) (*viper.Viper, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg := viper.New()
	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, configDir))
	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	cfg.SetDefault(KeyServersPath, filepath.Join(homeDir, configDir, "servers.toml"))
	cfg.SetDefault(KeyKernelsPath, filepath.Join(homeDir, configDir, "kernels.toml"))
	cfg.SetDefault(KeyHeartbeatInterval, defaultHeartbeatInterval)
	cfg.SetDefault(KeyReconnectMaxAttempts, defaultReconnectAttempts)
	cfg.SetDefault(KeyReconnectInitial, defaultReconnectInitial)
	cfg.SetDefault(KeyReconnectMaxInterval, defaultReconnectMax)
	cfg.SetDefault(KeyBinderName, defaultEngineName)
	cfg.SetDefault(KeyBinderBaseURL, domain.DefaultBaseURL)
	cfg.SetDefault(KeyBinderProvider, domain.DefaultProvider)
	cfg.SetDefault(KeyBinderSpec, domain.DefaultSpec)
	cfg.SetDefault(KeyDirectURL, "")
	cfg.SetDefault(KeyHTTPTimeout, defaultHTTPTimeout)
	cfg.SetDefault(KeyHTTPRetryMax, defaultHTTPRetryMax)
	cfg.SetDefault(KeyInstallCondaAvailable, true)
	cfg.SetDefault(KeyHandshakeTimeout, defaultHandshakeTimeout)
	cfg.SetDefault(KeyLogLevel, defaultLogLevel)
	cfg.SetDefault(KeyLogFormat, defaultLogFormat)

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(cfg, flags); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

var flagKeys = map[string]string{
	"log-level":  KeyLogLevel,
	"log-format": KeyLogFormat,
	"server-url": KeyDirectURL,
	"binder-url": KeyBinderBaseURL,
	"spec":       KeyBinderSpec,
}

func bindFlags(cfg *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := cfg.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if flag := flags.Lookup("no-conda"); flag != nil && flag.Changed {
		cfg.Set(KeyInstallCondaAvailable, flag.Value.String() != "true")
	}

	return nil
}

// Resolve reads the typed configuration out of cfg.
func Resolve(cfg *viper.Viper) (Config, error) {
	resolved := Config{
		ServersPath:       cfg.GetString(KeyServersPath),
		KernelsPath:       cfg.GetString(KeyKernelsPath),
		HeartbeatInterval: cfg.GetDuration(KeyHeartbeatInterval),
		Reconnect: ReconnectConfig{
			MaxAttempts:     cfg.GetInt(KeyReconnectMaxAttempts),
			InitialInterval: cfg.GetDuration(KeyReconnectInitial),
			MaxInterval:     cfg.GetDuration(KeyReconnectMaxInterval),
		},
		Server: domain.ServerConfig{
			Name:      cfg.GetString(KeyBinderName),
			Spec:      cfg.GetString(KeyBinderSpec),
			BaseURL:   cfg.GetString(KeyBinderBaseURL),
			Provider:  cfg.GetString(KeyBinderProvider),
			DirectURL: cfg.GetString(KeyDirectURL),
		},
		HTTPTimeout:      cfg.GetDuration(KeyHTTPTimeout),
		HTTPRetryMax:     cfg.GetInt(KeyHTTPRetryMax),
		CondaAvailable:   cfg.GetBool(KeyInstallCondaAvailable),
		HandshakeTimeout: cfg.GetDuration(KeyHandshakeTimeout),
		LogLevel:         cfg.GetString(KeyLogLevel),
		LogFormat:        cfg.GetString(KeyLogFormat),
	}

	if resolved.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %s", KeyHeartbeatInterval, resolved.HeartbeatInterval)
	}
	if resolved.Reconnect.MaxAttempts < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", KeyReconnectMaxAttempts)
	}
	if resolved.ServersPath == "" || resolved.KernelsPath == "" {
		return Config{}, errors.New("cache paths must not be empty")
	}

	return resolved, nil
}
