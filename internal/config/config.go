package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "DAILYDUST"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "dailydust.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "app_session"
	defaultSessionIssuer  = "dailydust-auth"
	defaultNamespace      = "dailydust"
	defaultNearbyInterval = 5 * time.Second
	defaultNearbyStep     = 8
	defaultNearbyRadius   = 32
	defaultNearbyTable    = "ForceField"
	maxNamespaceLength    = 14
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	IndexerURL           string
	WorldAddress         string
	Namespace            string
	RelayURL             string
	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string
	NearbyInterval       time.Duration
	NearbyStep           int64
	NearbyRadius         int64
	NearbyTableNamespace string
	NearbyTableName      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("indexer.namespace", defaultNamespace)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("nearby.interval", defaultNearbyInterval)
	configViper.SetDefault("nearby.step", defaultNearbyStep)
	configViper.SetDefault("nearby.radius", defaultNearbyRadius)
	configViper.SetDefault("nearby.table_name", defaultNearbyTable)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		IndexerURL:           strings.TrimSpace(configViper.GetString("indexer.url")),
		WorldAddress:         strings.TrimSpace(configViper.GetString("indexer.world_address")),
		Namespace:            strings.TrimSpace(configViper.GetString("indexer.namespace")),
		RelayURL:             strings.TrimSpace(configViper.GetString("chain.relay_url")),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		NearbyInterval:       configViper.GetDuration("nearby.interval"),
		NearbyStep:           configViper.GetInt64("nearby.step"),
		NearbyRadius:         configViper.GetInt64("nearby.radius"),
		NearbyTableNamespace: strings.TrimSpace(configViper.GetString("nearby.table_namespace")),
		NearbyTableName:      strings.TrimSpace(configViper.GetString("nearby.table_name")),
	}
	if cfg.NearbyTableNamespace == "" {
		cfg.NearbyTableNamespace = cfg.Namespace
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.IndexerURL == "" {
		return fmt.Errorf("indexer.url is required")
	}
	if c.WorldAddress == "" {
		return fmt.Errorf("indexer.world_address is required")
	}
	if c.Namespace == "" || len(c.Namespace) > maxNamespaceLength {
		return fmt.Errorf("indexer.namespace must be 1-%d characters", maxNamespaceLength)
	}
	if c.RelayURL == "" {
		return fmt.Errorf("chain.relay_url is required")
	}
	if c.NearbyInterval <= 0 {
		return fmt.Errorf("nearby.interval must be positive")
	}
	if c.NearbyStep <= 0 || c.NearbyRadius < 0 {
		return fmt.Errorf("nearby.step must be positive and nearby.radius non-negative")
	}
	return nil
}
