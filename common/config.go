package common

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for the apicache command.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Cache   CacheConfig   `yaml:"cache"`
	Client  ClientConfig  `yaml:"client"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
	// Endpoints fetched by the command, in order.
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	MaxAge  time.Duration `yaml:"max_age"`
	MaxSize int           `yaml:"max_size"`
}

// ClientConfig configures the request client and its transport.
type ClientConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	BackoffStep   time.Duration `yaml:"backoff_step"`
	UserAgent     string        `yaml:"user_agent"`
}

// AuthConfig selects the credential provider: a static access token, or an
// OAuth2 client-credentials flow when TokenURL is set.
type AuthConfig struct {
	AccessToken  string   `yaml:"access_token"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// MetricsConfig controls Prometheus metric naming and the optional /metrics listener.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"`
}

// EndpointConfig is one request issued by the CLI.
type EndpointConfig struct {
	Method   string `yaml:"method"`
	Path     string `yaml:"path"`
	Body     any    `yaml:"body"`
	UseCache bool   `yaml:"use_cache"`
}

// Defaults
const (
	DefaultCacheMaxAge   = 5 * time.Minute
	DefaultCacheMaxSize  = 100
	DefaultTimeout       = 10 * time.Second
	DefaultRetryAttempts = 3
	DefaultBackoffStep   = 1 * time.Second
	DefaultUserAgent     = "apicache/1.0"
	DefaultNamespace     = "apicache"
)

// LoadConfig reads a YAML file, applies defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to read config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig without the file read.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse config")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = DefaultCacheMaxAge
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = DefaultTimeout
	}
	if c.Client.RetryAttempts == 0 {
		c.Client.RetryAttempts = DefaultRetryAttempts
	}
	if c.Client.BackoffStep == 0 {
		c.Client.BackoffStep = DefaultBackoffStep
	}
	if c.Client.UserAgent == "" {
		c.Client.UserAgent = DefaultUserAgent
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Method == "" {
			c.Endpoints[i].Method = "GET"
		}
	}
}

// Validate checks the constraints the cache and client constructors enforce,
// so a bad file is reported before anything is wired.
func (c *Config) Validate() error {
	if c.Cache.MaxAge <= 0 {
		return errors.Newf(errors.CodeInvalidConfig, "cache.max_age must be positive, got %s", c.Cache.MaxAge)
	}
	if c.Cache.MaxSize <= 0 {
		return errors.Newf(errors.CodeInvalidConfig, "cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Client.BaseURL == "" {
		return errors.New(errors.CodeInvalidConfig, "client.base_url is required")
	}
	if _, err := url.Parse(c.Client.BaseURL); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "client.base_url is invalid")
	}
	if c.Client.Timeout <= 0 {
		return errors.Newf(errors.CodeInvalidConfig, "client.timeout must be positive, got %s", c.Client.Timeout)
	}
	if c.Client.RetryAttempts < 1 {
		return errors.Newf(errors.CodeInvalidConfig, "client.retry_attempts must be at least 1, got %d", c.Client.RetryAttempts)
	}
	if c.Client.BackoffStep < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "client.backoff_step must not be negative, got %s", c.Client.BackoffStep)
	}
	if c.Auth.TokenURL != "" && c.Auth.ClientID == "" {
		return errors.New(errors.CodeInvalidConfig, "auth.client_id is required with auth.token_url")
	}
	for i, ep := range c.Endpoints {
		if ep.Path == "" {
			return errors.New(errors.CodeInvalidConfig, fmt.Sprintf("endpoints[%d].path is required", i))
		}
	}
	return nil
}
