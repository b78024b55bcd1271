package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/internal/listener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	v, err := Load(writeFile(t, "{}\n"))
	require.NoError(t, err)

	cfg := Listener(v)
	assert.Equal(t, 10005, cfg.Port)
	assert.Equal(t, listener.VariantNotify, cfg.Variant)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, v.GetInt("server.port"))
	assert.Equal(t, 24*time.Hour, v.GetDuration("auth.token_ttl"))
	assert.True(t, v.GetBool("plugins.recent.enabled"))
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
listener:
  port: 3000
  bind_address: 127.0.0.1
  variant: brm
plugins:
  webhook:
    url: http://hooks.local/tags
`)
	t.Setenv("TAGWATCH_LISTENER_KEEP_ALIVE", "true")

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, listener.Config{
		Port:        3000,
		BindAddress: "127.0.0.1",
		KeepAlive:   true,
		Variant:     listener.VariantBRM,
	}, Listener(v))

	sub := New(v).Sub("plugins.webhook")
	assert.Equal(t, "http://hooks.local/tags", sub.GetString("url"))
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeFile(t, "listener: [unclosed\n"))
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestViperConfig_SubMissing(t *testing.T) {
	c := New(nil)
	sub := c.Sub("plugins.nats")
	require.NotNil(t, sub)
	assert.False(t, sub.IsSet("url"))
	assert.Equal(t, "", sub.GetString("url"))
}
