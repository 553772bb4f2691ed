package app

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime configuration for the relay and client
// binaries, loaded from environment variables with an optional YAML
// overlay merged underneath (env always wins).
type Config struct {
	Port   int
	UseTLS bool

	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	SecurityEnabled bool
	SharedSecret    string

	LogLevel  string
	LogFormat string

	HTTPReadHeaderTimeout time.Duration
	HTTPReadTimeout       time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration

	ConnectTimeout         time.Duration
	PendingResponseTimeout time.Duration

	ReconnectInitial     time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int

	DatabaseURL string
}

// yamlOverlay mirrors the subset of Config fields a YAML file may set.
// Fields are pointers so an absent key leaves the env-derived default
// untouched.
type yamlOverlay struct {
	Port   *int  `yaml:"port"`
	UseTLS *bool `yaml:"use_tls"`

	TLSCertFile *string `yaml:"tls_cert_file"`
	TLSKeyFile  *string `yaml:"tls_key_file"`
	TLSCAFile   *string `yaml:"tls_ca_file"`

	SecurityEnabled *bool   `yaml:"security_enabled"`
	SharedSecret    *string `yaml:"shared_secret"`

	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	DatabaseURL *string `yaml:"database_url"`
}

// LoadConfig loads Config from environment variables with defaults, then
// merges a YAML file at configPath underneath if one is given. Env vars
// always win over the YAML overlay; the overlay only fills in fields the
// corresponding env var left at its default.
func LoadConfig(configPath string) (Config, error) {
	cfg := Config{
		Port:   EnvInt("PORT", 8080),
		UseTLS: EnvBool("USE_TLS", false),

		TLSCertFile: EnvString("TLS_CERT_FILE", ""),
		TLSKeyFile:  EnvString("TLS_KEY_FILE", ""),
		TLSCAFile:   EnvString("TLS_CA_FILE", ""),

		SecurityEnabled: EnvBool("SWAP_SECURITY_ENABLED", false),
		SharedSecret:    EnvString("SWAP_SHARED_SECRET", ""),

		LogLevel:  EnvString("SWAP_LOG_LEVEL", "info"),
		LogFormat: EnvString("SWAP_LOG_FORMAT", "auto"),

		HTTPReadHeaderTimeout: EnvDuration("SWAP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		HTTPReadTimeout:       EnvDuration("SWAP_HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout:      EnvDuration("SWAP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout:       EnvDuration("SWAP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		ConnectTimeout:         EnvDuration("SWAP_CONNECT_TIMEOUT", 10*time.Second),
		PendingResponseTimeout: EnvDuration("SWAP_PENDING_RESPONSE_TIMEOUT", 5*time.Second),

		ReconnectInitial:     EnvDuration("SWAP_RECONNECT_INITIAL", time.Second),
		ReconnectMax:         EnvDuration("SWAP_RECONNECT_MAX", 30*time.Second),
		ReconnectMaxAttempts: EnvInt("SWAP_RECONNECT_MAX_ATTEMPTS", 0),

		DatabaseURL: EnvString("SWAP_DATABASE_URL", ""),
	}

	if configPath == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return Config{}, err
	}
	applyOverlay(&cfg, overlay)

	return cfg, nil
}

func applyOverlay(cfg *Config, o yamlOverlay) {
	if cfg.Port == 8080 && o.Port != nil {
		cfg.Port = *o.Port
	}
	if !cfg.UseTLS && o.UseTLS != nil {
		cfg.UseTLS = *o.UseTLS
	}
	if cfg.TLSCertFile == "" && o.TLSCertFile != nil {
		cfg.TLSCertFile = *o.TLSCertFile
	}
	if cfg.TLSKeyFile == "" && o.TLSKeyFile != nil {
		cfg.TLSKeyFile = *o.TLSKeyFile
	}
	if cfg.TLSCAFile == "" && o.TLSCAFile != nil {
		cfg.TLSCAFile = *o.TLSCAFile
	}
	if !cfg.SecurityEnabled && o.SecurityEnabled != nil {
		cfg.SecurityEnabled = *o.SecurityEnabled
	}
	if cfg.SharedSecret == "" && o.SharedSecret != nil {
		cfg.SharedSecret = *o.SharedSecret
	}
	if cfg.LogLevel == "info" && o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if cfg.LogFormat == "auto" && o.LogFormat != nil {
		cfg.LogFormat = *o.LogFormat
	}
	if cfg.DatabaseURL == "" && o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
}
