package util

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const Name = "stegofed"
const ConfigFileName = "config.yaml"

// EnvPrefix prefixes every environment override, e.g. STEGOFED_SSLDOMAIN.
const EnvPrefix = "STEGOFED"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host                   string `yaml:"host" envconfig:"HOST"`
		HttpPort               int    `yaml:"httpPort" envconfig:"HTTPPORT"`
		SslDomain              string `yaml:"sslDomain" envconfig:"SSLDOMAIN"`
		DbPath                 string `yaml:"dbPath" envconfig:"DBPATH"`
		LogLevel               string `yaml:"logLevel" envconfig:"LOGLEVEL"`
		DeliveryTimeoutSeconds int    `yaml:"deliveryTimeoutSeconds" envconfig:"DELIVERY_TIMEOUT_SECONDS"`
		FetchTimeoutSeconds    int    `yaml:"fetchTimeoutSeconds" envconfig:"FETCH_TIMEOUT_SECONDS"`
		RequireSignatures      bool   `yaml:"requireSignatures" envconfig:"REQUIRE_SIGNATURES"`
		MaxBodyBytes           int64  `yaml:"maxBodyBytes" envconfig:"MAX_BODY_BYTES"`
	}
}

// ReadConf loads the config file (working directory first, then the user
// config directory), falling back to the embedded defaults, and applies
// STEGOFED_* environment overrides.
func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Info().Str("path", configPath).Msg("Config file not found, using embedded defaults")
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := filepath.Join(configDir, ConfigFileName)
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn().Err(writeErr).Str("path", userConfigPath).Msg("Could not write default config")
			} else {
				log.Info().Str("path", userConfigPath).Msg("Created default config file")
			}
		}
	}

	return ParseConf(buf)
}

// ParseConf decodes YAML on top of the embedded defaults and applies
// environment overrides.
func ParseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		return nil, fmt.Errorf("in embedded config: %w", err)
	}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &c.Conf); err != nil {
		return nil, fmt.Errorf("in environment: %w", err)
	}
	if c.Conf.SslDomain == "" {
		return nil, fmt.Errorf("sslDomain must be set")
	}
	return c, nil
}

// BaseURL is the https origin all local IRIs hang off.
func (c *AppConfig) BaseURL() string {
	return fmt.Sprintf("https://%s", c.Conf.SslDomain)
}

func (c *AppConfig) DeliveryTimeout() time.Duration {
	return secondsOr(c.Conf.DeliveryTimeoutSeconds, 15)
}

func (c *AppConfig) FetchTimeout() time.Duration {
	return secondsOr(c.Conf.FetchTimeoutSeconds, 15)
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func (c *AppConfig) UserIRI(username string) string {
	return c.BaseURL() + "/users/" + username
}

func (c *AppConfig) GroupIRI(name string) string {
	return c.BaseURL() + "/groups/" + name
}

// ObjectIRI and ActivityIRI mint identifiers for content and activities
// created on this server.
func (c *AppConfig) ObjectIRI(id string) string {
	return c.BaseURL() + "/objects/" + id
}

func (c *AppConfig) ActivityIRI(id string) string {
	return c.BaseURL() + "/activities/" + id
}

// IsLocalIRI reports whether iri belongs to this server.
func (c *AppConfig) IsLocalIRI(iri string) bool {
	return strings.HasPrefix(iri, c.BaseURL()+"/")
}
