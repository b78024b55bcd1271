package server

import (
	"net"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds the HTTP server configuration.
type Config struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	Burst          int      `mapstructure:"burst"`
	TrustProxy     bool     `mapstructure:"trust_proxy"`
}

// ConfigFrom reads the server section of v.
func ConfigFrom(v *viper.Viper) Config {
	return Config{
		Enabled:        v.GetBool("server.enabled"),
		Host:           v.GetString("server.host"),
		Port:           v.GetInt("server.port"),
		AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		RateLimit:      v.GetFloat64("server.rate_limit"),
		Burst:          v.GetInt("server.burst"),
		TrustProxy:     v.GetBool("server.trust_proxy"),
	}
}

// Options returns the server options carried by the configuration.
func (c *Config) Options() Options {
	return Options{RateLimit: c.RateLimit, Burst: c.Burst, TrustProxy: c.TrustProxy}
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
