package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dyluth/blur/internal/transport"
	"github.com/dyluth/blur/pkg/blur"
	"gopkg.in/yaml.v3"
)

// DefaultAppEnv is the environment variable that names the application
// environment of a host process.
const DefaultAppEnv = "BLUR_APP"

// FileNames are the config files Discover looks for, in order.
var FileNames = []string{"blur.yml", "blur.yaml", "blur.toml"}

// BlurConfig represents the top-level blur.yml (or blur.toml) configuration
type BlurConfig struct {
	Version  string          `yaml:"version" toml:"version"`
	AppEnv   string          `yaml:"app_env,omitempty" toml:"app_env"` // Environment variable holding the app name (default BLUR_APP)
	Server   ServerConfig    `yaml:"server,omitempty" toml:"server"`
	Client   ClientConfig    `yaml:"client,omitempty" toml:"client"`
	Update   UpdateConfig    `yaml:"update,omitempty" toml:"update"`
	Journal  *JournalConfig  `yaml:"journal,omitempty" toml:"journal"`
	Registry *RegistryConfig `yaml:"registry,omitempty" toml:"registry"`
}

// ServerConfig controls the transport server embedded in each host
type ServerConfig struct {
	Host        string        `yaml:"host,omitempty" toml:"host"`
	BasePort    int           `yaml:"base_port,omitempty" toml:"base_port"`
	PortCount   int           `yaml:"port_count,omitempty" toml:"port_count"`
	MaxPayload  int64         `yaml:"max_payload,omitempty" toml:"max_payload"`
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" toml:"read_timeout"`
}

// ClientConfig controls editor-side requests
type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty" toml:"timeout"`
}

// UpdateConfig controls how updates are applied
type UpdateConfig struct {
	Timeout              time.Duration `yaml:"timeout,omitempty" toml:"timeout"`
	ExcludeClassPrefixes []string      `yaml:"exclude_class_prefixes,omitempty" toml:"exclude_class_prefixes"` // Hidden from CLASS_FRAMEWORK (default: Q)
}

// JournalConfig enables the persistent update history
type JournalConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RegistryConfig enables announcing hosts in Redis
type RegistryConfig struct {
	URL       string        `yaml:"url" toml:"url"`
	Namespace string        `yaml:"namespace,omitempty" toml:"namespace"`
	TTL       time.Duration `yaml:"ttl,omitempty" toml:"ttl"`
	Heartbeat time.Duration `yaml:"heartbeat,omitempty" toml:"heartbeat"` // Default: TTL/3
}

// Default returns a validated configuration with every default applied.
func Default() *BlurConfig {
	c := &BlurConfig{}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return c
}

// Validate checks the configuration and fills in defaults
func (c *BlurConfig) Validate() error {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.AppEnv == "" {
		c.AppEnv = DefaultAppEnv
	}

	if err := c.Server.validate(); err != nil {
		return err
	}

	if c.Client.Timeout == 0 {
		c.Client.Timeout = transport.DefaultClientTimeout
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout)
	}

	if c.Update.Timeout == 0 {
		c.Update.Timeout = 10 * time.Second
	}
	if c.Update.Timeout < 0 {
		return fmt.Errorf("update.timeout must be positive, got %s", c.Update.Timeout)
	}
	if c.Update.ExcludeClassPrefixes == nil {
		c.Update.ExcludeClassPrefixes = append([]string(nil), blur.DefaultExcludedClassPrefixes...)
	}

	if c.Journal != nil && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal is configured")
	}

	if c.Registry != nil {
		if err := c.Registry.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if s.Host == "" {
		s.Host = transport.DefaultHost
	}
	if s.BasePort == 0 {
		s.BasePort = transport.DefaultBasePort
	}
	if s.PortCount == 0 {
		s.PortCount = transport.DefaultPortCount
	}
	if s.MaxPayload == 0 {
		s.MaxPayload = transport.DefaultMaxPayload
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = transport.DefaultReadTimeout
	}

	if s.BasePort < 1 || s.BasePort > 65535 {
		return fmt.Errorf("server.base_port must be between 1 and 65535, got %d", s.BasePort)
	}
	if s.PortCount < 1 {
		return fmt.Errorf("server.port_count must be >= 1, got %d", s.PortCount)
	}
	if s.BasePort+s.PortCount-1 > 65535 {
		return fmt.Errorf("server port range %d-%d exceeds 65535", s.BasePort, s.BasePort+s.PortCount-1)
	}
	if s.MaxPayload < 0 {
		return fmt.Errorf("server.max_payload must be positive, got %d", s.MaxPayload)
	}
	if s.ReadTimeout < 0 {
		return fmt.Errorf("server.read_timeout must be positive, got %s", s.ReadTimeout)
	}
	return nil
}

func (r *RegistryConfig) validate() error {
	if r.URL == "" {
		return fmt.Errorf("registry.url is required when registry is configured")
	}
	if r.Namespace == "" {
		r.Namespace = "default"
	}
	if r.TTL == 0 {
		r.TTL = 30 * time.Second
	}
	if r.Heartbeat == 0 {
		r.Heartbeat = r.TTL / 3
	}
	if r.TTL < 0 || r.Heartbeat < 0 {
		return fmt.Errorf("registry.ttl and registry.heartbeat must be positive")
	}
	if r.Heartbeat >= r.TTL {
		return fmt.Errorf("registry.heartbeat (%s) must be shorter than registry.ttl (%s)", r.Heartbeat, r.TTL)
	}
	return nil
}

// AppName returns the application environment name from the process
// environment, or "" when the variable is unset.
func (c *BlurConfig) AppName() string {
	return os.Getenv(c.AppEnv)
}

// ServerOptions returns the transport server options.
func (c *BlurConfig) ServerOptions() transport.Options {
	return transport.Options{
		Host:        c.Server.Host,
		BasePort:    c.Server.BasePort,
		PortCount:   c.Server.PortCount,
		MaxPayload:  c.Server.MaxPayload,
		ReadTimeout: c.Server.ReadTimeout,
	}
}

// ClientOptions returns the transport client options.
func (c *BlurConfig) ClientOptions() transport.ClientOptions {
	return transport.ClientOptions{
		Host:       c.Server.Host,
		Timeout:    c.Client.Timeout,
		MaxPayload: c.Server.MaxPayload,
	}
}

// NetworkOptions returns the options of a network for the environment env.
func (c *BlurConfig) NetworkOptions(env string) blur.Options {
	return blur.Options{
		Environment:          env,
		ExcludeClassPrefixes: c.Update.ExcludeClassPrefixes,
		UpdateTimeout:        c.Update.Timeout,
	}
}

// Load reads and validates a config file. Files ending in .toml are parsed
// as TOML, everything else as YAML.
func Load(path string) (*BlurConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config BlurConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Discover returns the first of FileNames present in dir.
func Discover(dir string) (string, bool) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// LoadOrDefault loads path, or the config discovered in the working
// directory when path is empty, or the defaults when there is none.
func LoadOrDefault(path string) (*BlurConfig, error) {
	if path == "" {
		found, ok := Discover(".")
		if !ok {
			return Default(), nil
		}
		path = found
	}
	return Load(path)
}
