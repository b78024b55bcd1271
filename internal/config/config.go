// Package config loads tagwatch.yaml and exposes it to plugins through the
// plugin.Config interface.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/tagwatch/internal/listener"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// EnvPrefix prefixes environment overrides: TAGWATCH_LISTENER_PORT=10006.
const EnvPrefix = "TAGWATCH"

// SetDefaults installs every default key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listener.port", 10005)
	v.SetDefault("listener.bind_address", "")
	v.SetDefault("listener.keep_alive", false)
	v.SetDefault("listener.variant", listener.VariantNotify)
	v.SetDefault("listener.reader_type", "")
	v.SetDefault("listener.max_drain", 0)
	v.SetDefault("listener.autostart", true)
	v.SetDefault("listener.max_pending", 4096)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.burst", 200)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("sink.console", true)
	v.SetDefault("sink.min_level", "info")
	v.SetDefault("sink.buffer", 1024)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("plugins.webhook.enabled", false)
	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.webhook.states", false)
	v.SetDefault("plugins.mqtt.enabled", false)
	v.SetDefault("plugins.mqtt.broker_url", "")
	v.SetDefault("plugins.mqtt.ha_discovery", false)
	v.SetDefault("plugins.nats.enabled", false)
	v.SetDefault("plugins.nats.url", "")
	v.SetDefault("plugins.recent.enabled", true)
	v.SetDefault("plugins.recent.size", 1000)
}

// Load reads configuration from path, or from tagwatch.yaml on the default
// search path when path is empty. A missing default file is not an error.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tagwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tagwatch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Listener reads the listener section key by key so that environment
// overrides apply. The result is not validated.
func Listener(v *viper.Viper) listener.Config {
	return listener.Config{
		Port:        v.GetInt("listener.port"),
		BindAddress: v.GetString("listener.bind_address"),
		KeepAlive:   v.GetBool("listener.keep_alive"),
		Variant:     v.GetString("listener.variant"),
		ReaderType:  v.GetString("listener.reader_type"),
		MaxDrain:    v.GetInt("listener.max_drain"),
	}
}

// ViperConfig wraps a Viper instance to implement plugin.Config.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error { return c.v.Unmarshal(target) }
func (c *ViperConfig) Get(key string) any         { return c.v.Get(key) }
func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}
func (c *ViperConfig) GetInt(key string) int   { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}
func (c *ViperConfig) IsSet(key string) bool { return c.v.IsSet(key) }

// Sub scopes the config to key. A missing section yields an empty config,
// so plugins fall back to their defaults.
func (c *ViperConfig) Sub(key string) plugin.Config {
	sub := c.v.Sub(key)
	if sub == nil {
		return New(nil)
	}
	return New(sub)
}

// Viper returns the underlying instance for top-level keys.
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}
