package tether

import (
	"fmt"
	"os"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/internal/codec"
	"github.com/WelcomerTeam/Tether/internal/gateway"
	"github.com/WelcomerTeam/Tether/internal/rest"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v3"
)

// TokenEnvironmentVariable overrides the configured token when set.
const TokenEnvironmentVariable = "TETHER_TOKEN"

const (
	DefaultMaxRateLimitTimeout = 30 * time.Second
	DefaultHTTPAddress         = ":10000"
	DefaultLogLevel            = "info"

	PermissionWrite = 0o600
)

// Configuration is the yaml document describing a client.
type Configuration struct {
	Token string `json:"token" yaml:"token"`

	// OAuth2 is used for REST requests instead of the token when set.
	OAuth2 *OAuth2Configuration `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`

	Intents         discord.GatewayIntent `json:"intents" yaml:"intents"`
	LargeThreshold  int32                 `json:"large_threshold" yaml:"large_threshold"`
	DefaultPresence *discord.UpdateStatus `json:"default_presence,omitempty" yaml:"default_presence,omitempty"`

	// Compress is the gateway transport compression. Only zlib-stream and
	// none are understood.
	Compress string `json:"compress" yaml:"compress"`

	// Reconnect defaults to true.
	Reconnect *bool `json:"reconnect,omitempty" yaml:"reconnect,omitempty"`

	MaxHeartbeatTimeout time.Duration `json:"max_heartbeat_timeout" yaml:"max_heartbeat_timeout"`

	// MaxRateLimitTimeout is the longest a REST request waits for a
	// ratelimit. 0 waits as long as needed.
	MaxRateLimitTimeout *time.Duration `json:"max_ratelimit_timeout,omitempty" yaml:"max_ratelimit_timeout,omitempty"`

	Gateway struct {
		URL string `json:"url" yaml:"url"`
	} `json:"gateway" yaml:"gateway"`

	REST struct {
		BaseURL        string `json:"base_url" yaml:"base_url"`
		Proxy          string `json:"proxy" yaml:"proxy"`
		MaxConcurrency int    `json:"max_concurrency" yaml:"max_concurrency"`
	} `json:"rest" yaml:"rest"`

	Logging struct {
		Level      string `json:"level" yaml:"level"`
		File       string `json:"file" yaml:"file"`
		MaxSize    int    `json:"max_size" yaml:"max_size"`
		MaxBackups int    `json:"max_backups" yaml:"max_backups"`
		MaxAge     int    `json:"max_age" yaml:"max_age"`
		Compress   bool   `json:"compress" yaml:"compress"`
	} `json:"logging" yaml:"logging"`

	Producer struct {
		Type          string         `json:"type" yaml:"type"`
		ClientName    string         `json:"client_name" yaml:"client_name"`
		Channel       string         `json:"channel" yaml:"channel"`
		Blacklist     []string       `json:"blacklist" yaml:"blacklist"`
		Configuration map[string]any `json:"configuration" yaml:"configuration"`
	} `json:"producer" yaml:"producer"`

	HTTP struct {
		Address string `json:"address" yaml:"address"`
	} `json:"http" yaml:"http"`
}

// OAuth2Configuration describes a client credentials grant.
type OAuth2Configuration struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	Scopes       []string `json:"scopes" yaml:"scopes"`
}

func (c *OAuth2Configuration) clientCredentials() *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
}

// LoadConfiguration reads the configuration at path and applies defaults.
func LoadConfiguration(path string) (*Configuration, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfigurationFailure, err)
	}

	return ParseConfiguration(file)
}

// ParseConfiguration parses a yaml configuration and applies defaults.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var configuration Configuration

	if err := yaml.Unmarshal(data, &configuration); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfigurationFailure, err)
	}

	if token := os.Getenv(TokenEnvironmentVariable); token != "" {
		configuration.Token = token
	}

	configuration.applyDefaults()

	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	return &configuration, nil
}

// SaveConfiguration writes the configuration to path.
func SaveConfiguration(configuration *Configuration, path string) error {
	data, err := yaml.Marshal(configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, PermissionWrite); err != nil {
		return fmt.Errorf("failed to write configuration to file: %w", err)
	}

	return nil
}

func (c *Configuration) applyDefaults() {
	if c.LargeThreshold == 0 {
		c.LargeThreshold = gateway.DefaultLargeThreshold
	}

	if c.Compress == "" {
		c.Compress = string(codec.CompressionZlibStream)
	}

	if c.Reconnect == nil {
		reconnect := true
		c.Reconnect = &reconnect
	}

	if c.MaxHeartbeatTimeout <= 0 {
		c.MaxHeartbeatTimeout = gateway.DefaultMaxHeartbeatTimeout
	}

	if c.MaxRateLimitTimeout == nil {
		timeout := DefaultMaxRateLimitTimeout
		c.MaxRateLimitTimeout = &timeout
	}

	if c.Gateway.URL == "" {
		c.Gateway.URL = gateway.DefaultGatewayURL
	}

	if c.REST.BaseURL == "" {
		c.REST.BaseURL = rest.DefaultBaseURL
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = DefaultHTTPAddress
	}
}

// Validate reports configuration that cannot be used to connect.
func (c *Configuration) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: %w", ErrLoadConfigurationFailure, ErrMissingToken)
	}

	if _, err := c.compression(); err != nil {
		return fmt.Errorf("%w: %w", ErrLoadConfigurationFailure, err)
	}

	return nil
}

func (c *Configuration) compression() (codec.Compression, error) {
	switch c.Compress {
	case "none":
		return codec.CompressionNone, nil
	case string(codec.CompressionZlibStream), "":
		return codec.CompressionZlibStream, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCompression, c.Compress)
	}
}

// ShouldReconnect reports whether dropped connections are retried.
func (c *Configuration) ShouldReconnect() bool {
	return c.Reconnect == nil || *c.Reconnect
}

// RateLimitTimeout returns the configured ratelimit ceiling.
func (c *Configuration) RateLimitTimeout() time.Duration {
	if c.MaxRateLimitTimeout == nil {
		return DefaultMaxRateLimitTimeout
	}

	return *c.MaxRateLimitTimeout
}
