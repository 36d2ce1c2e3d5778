package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidYAML(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "blur.yml")

	validConfig := `version: "1.0"
app_env: STUDIO_APP
server:
  base_port: 21000
  port_count: 4
  read_timeout: 2s
client:
  timeout: 750ms
update:
  timeout: 3s
  exclude_class_prefixes: ["Q", "Gtk"]
journal:
  path: /tmp/blur-journal.db
`
	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "STUDIO_APP", config.AppEnv)
	assert.Equal(t, 21000, config.Server.BasePort)
	assert.Equal(t, 4, config.Server.PortCount)
	assert.Equal(t, 2*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 750*time.Millisecond, config.Client.Timeout)
	assert.Equal(t, 3*time.Second, config.Update.Timeout)
	assert.Equal(t, []string{"Q", "Gtk"}, config.Update.ExcludeClassPrefixes)
	require.NotNil(t, config.Journal)
	assert.Equal(t, "/tmp/blur-journal.db", config.Journal.Path)

	// Defaults still apply to omitted fields
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Nil(t, config.Registry)
}

func TestLoad_ValidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "blur.toml")

	validConfig := `version = "1.0"

[server]
base_port = 22000

[client]
timeout = "2s"

[registry]
url = "redis://localhost:6379"
namespace = "studio"
ttl = "12s"
`
	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 22000, config.Server.BasePort)
	assert.Equal(t, 10, config.Server.PortCount)
	assert.Equal(t, 2*time.Second, config.Client.Timeout)
	require.NotNil(t, config.Registry)
	assert.Equal(t, "studio", config.Registry.Namespace)
	assert.Equal(t, 12*time.Second, config.Registry.TTL)
	assert.Equal(t, 4*time.Second, config.Registry.Heartbeat)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/blur.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "blur.yml")

	invalidYAML := `version: "1.0"
server:
  - this is invalid
    yaml syntax
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "blur.toml")

	err := os.WriteFile(configPath, []byte("[server\nbase_port = "), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse TOML")
}

func TestDefault(t *testing.T) {
	config := Default()

	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, "BLUR_APP", config.AppEnv)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 20000, config.Server.BasePort)
	assert.Equal(t, 10, config.Server.PortCount)
	assert.Equal(t, 5*time.Second, config.Client.Timeout)
	assert.Equal(t, 10*time.Second, config.Update.Timeout)
	assert.Equal(t, []string{"Q"}, config.Update.ExcludeClassPrefixes)
	assert.Nil(t, config.Journal)
	assert.Nil(t, config.Registry)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config BlurConfig
		errMsg string
	}{
		{
			name:   "unsupported version",
			config: BlurConfig{Version: "2.0"},
			errMsg: "unsupported version: 2.0",
		},
		{
			name:   "port out of range",
			config: BlurConfig{Server: ServerConfig{BasePort: 70000}},
			errMsg: "server.base_port must be between 1 and 65535",
		},
		{
			name:   "port range overflows",
			config: BlurConfig{Server: ServerConfig{BasePort: 65530, PortCount: 10}},
			errMsg: "exceeds 65535",
		},
		{
			name:   "negative port count",
			config: BlurConfig{Server: ServerConfig{PortCount: -1}},
			errMsg: "server.port_count must be >= 1",
		},
		{
			name:   "negative client timeout",
			config: BlurConfig{Client: ClientConfig{Timeout: -time.Second}},
			errMsg: "client.timeout must be positive",
		},
		{
			name:   "journal without path",
			config: BlurConfig{Journal: &JournalConfig{}},
			errMsg: "journal.path is required",
		},
		{
			name:   "registry without url",
			config: BlurConfig{Registry: &RegistryConfig{}},
			errMsg: "registry.url is required",
		},
		{
			name: "heartbeat not shorter than ttl",
			config: BlurConfig{Registry: &RegistryConfig{
				URL:       "redis://localhost:6379",
				TTL:       time.Second,
				Heartbeat: 2 * time.Second,
			}},
			errMsg: "must be shorter than registry.ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_EmptyExclusionListIsKept(t *testing.T) {
	config := &BlurConfig{Update: UpdateConfig{ExcludeClassPrefixes: []string{}}}
	require.NoError(t, config.Validate())
	assert.Empty(t, config.Update.ExcludeClassPrefixes)
	assert.NotNil(t, config.Update.ExcludeClassPrefixes)
}

func TestAppName(t *testing.T) {
	config := Default()
	config.AppEnv = "BLUR_TEST_APP"

	t.Setenv("BLUR_TEST_APP", "Alpha")
	assert.Equal(t, "Alpha", config.AppName())

	t.Setenv("BLUR_TEST_APP", "")
	assert.Empty(t, config.AppName())
}

func TestOptions(t *testing.T) {
	config := Default()
	config.Server.BasePort = 24000

	server := config.ServerOptions()
	assert.Equal(t, 24000, server.BasePort)
	assert.Equal(t, 10, server.PortCount)

	client := config.ClientOptions()
	assert.Equal(t, "localhost", client.Host)
	assert.Equal(t, 5*time.Second, client.Timeout)

	net := config.NetworkOptions("Alpha")
	assert.Equal(t, "Alpha", net.Environment)
	assert.Equal(t, 10*time.Second, net.UpdateTimeout)
}

func TestDiscover(t *testing.T) {
	tmpDir := t.TempDir()

	_, ok := Discover(tmpDir)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "blur.toml"), []byte(`version = "1.0"`), 0644))
	path, ok := Discover(tmpDir)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(tmpDir, "blur.toml"), path)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "blur.yml"), []byte(`version: "1.0"`), 0644))
	path, ok = Discover(tmpDir)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(tmpDir, "blur.yml"), path)
}
