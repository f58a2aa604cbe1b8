// Package config holds the top-level CLI configuration for a hyparviewd
// process: the node's own bind address/identifier plus the membership and
// logging knobs cobra/viper populate it from. Grounded on
// src/config/config.go's mapstructure-tagged, default-valued Config
// struct and its Logger() lazy-singleton accessor.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/hyparview/membership"
	"github.com/mosaicnetworks/hyparview/peers"
)

// Default top-level values, grounded on src/config/config.go's Default*
// constants.
const (
	DefaultBindAddr    = "127.0.0.1:1337"
	DefaultServiceAddr = "127.0.0.1:8000"
	DefaultLogLevel    = "debug"
	DefaultLogFormat   = "text"
)

// Config is the full set of flags/settings a hyparviewd process accepts.
// Membership carries the protocol-tuning knobs from membership.Config,
// squashed into the same flat namespace the way babble squashes its
// node/config structs together for a single viper.Unmarshal call.
type Config struct {
	// BindAddr is this node's own identifier: the IP:port it listens on and
	// advertises to the cluster.
	BindAddr string `mapstructure:"listen"`

	// Join is an optional contact node's IP:port to join on startup.
	Join string `mapstructure:"join"`

	// ServiceAddr is the IP:port of the optional HTTP introspection API. If
	// empty, the service is not started.
	ServiceAddr string `mapstructure:"service-listen"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFormat selects between the plain terminal formatter ("text") and
	// structured JSON ("json").
	LogFormat string `mapstructure:"log-format"`

	Membership membership.Config `mapstructure:",squash"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a Config with every default value filled in.
func NewDefaultConfig() *Config {
	return &Config{
		BindAddr:    DefaultBindAddr,
		ServiceAddr: DefaultServiceAddr,
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		Membership:  *membership.DefaultConfig(),
	}
}

// SelfID parses BindAddr into the peers.ID this node will advertise.
func (c *Config) SelfID() (peers.ID, error) {
	host, portStr, err := splitHostPort(c.BindAddr)
	if err != nil {
		return peers.ID{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return peers.ID{}, fmt.Errorf("config: invalid port in %q: %v", c.BindAddr, err)
	}
	return peers.NewID(host, uint16(port))
}

// ContactID parses Join, if set, into a peers.ID.
func (c *Config) ContactID() (peers.ID, bool, error) {
	if strings.TrimSpace(c.Join) == "" {
		return peers.ID{}, false, nil
	}
	host, portStr, err := splitHostPort(c.Join)
	if err != nil {
		return peers.ID{}, false, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return peers.ID{}, false, fmt.Errorf("config: invalid port in %q: %v", c.Join, err)
	}
	id, err := peers.NewID(host, uint16(port))
	return id, true, err
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("config: %q is not host:port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// Logger returns a formatted logrus Entry, building the underlying
// *logrus.Logger (and its formatter) lazily on first use, exactly
// src/config/config.go's Logger() pattern.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = parseLogLevel(c.LogLevel)
		if c.LogFormat == "json" {
			c.logger.Formatter = new(logrus.JSONFormatter)
		} else {
			c.logger.Formatter = new(prefixed.TextFormatter)
		}
	}
	return c.logger.WithField("prefix", "hyparviewd")
}

func parseLogLevel(l string) logrus.Level {
	level, err := logrus.ParseLevel(l)
	if err != nil {
		return logrus.DebugLevel
	}
	return level
}
