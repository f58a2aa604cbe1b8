package membership

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Default configuration values, grounded on src/config/config.go's
// Default* constants (same names, same reasoning: small active view,
// a larger passive view, short walk lengths suitable for test clusters).
const (
	DefaultActiveSize    = 4
	DefaultPassiveSize   = 24
	DefaultARWL          = 5
	DefaultPRWL          = 2
	DefaultKActive       = 3
	DefaultKPassive      = 4
	DefaultShufflePeriod = 10 * time.Second
	DefaultTimeout       = 2 * time.Second
	DefaultSendTimeout   = 2 * time.Second
	DefaultConnTimeout   = 2 * time.Second
)

// Config holds every tunable the node recognises, per §4.4.1. Fields carry
// mapstructure tags, the same convention as src/config/config.go, so a CLI
// can populate a Config straight out of viper.
type Config struct {
	// ActiveSize bounds the active view.
	ActiveSize int `mapstructure:"active_size"`

	// PassiveSize bounds the passive view.
	PassiveSize int `mapstructure:"passive_size"`

	// ARWL is the active random walk length: the initial TTL carried by
	// FORWARDJOIN; the requester's own SHUFFLE starts at ARWL-1.
	ARWL uint8 `mapstructure:"arwl"`

	// PRWL is the passive random walk length: the TTL at which a
	// FORWARDJOIN target is added to the passive view.
	PRWL uint8 `mapstructure:"prwl"`

	// KActive is the number of active-view samples drawn into a shuffle xlist.
	KActive int `mapstructure:"k_active"`

	// KPassive is the number of passive-view samples drawn into a shuffle xlist.
	KPassive int `mapstructure:"k_passive"`

	// ShufflePeriod is the interval between shuffle ticks. Zero disables
	// periodic shuffling (shuffle can still be forced via Node.Shuffle).
	ShufflePeriod time.Duration `mapstructure:"shuffle_period"`

	// Timeout is the generic receive timeout applied to connection reads
	// and to the wait for an outgoing neighbour request's ACCEPT/DECLINE.
	Timeout time.Duration `mapstructure:"timeout"`

	// SendTimeout bounds socket writes.
	SendTimeout time.Duration `mapstructure:"send_timeout"`

	// ConnTimeout bounds outgoing TCP dials.
	ConnTimeout time.Duration `mapstructure:"conn_timeout"`

	Logger *logrus.Logger
}

// DefaultConfig returns a Config with the package defaults, grounded on
// src/config/config.go's NewDefaultConfig.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.InfoLevel

	return &Config{
		ActiveSize:    DefaultActiveSize,
		PassiveSize:   DefaultPassiveSize,
		ARWL:          DefaultARWL,
		PRWL:          DefaultPRWL,
		KActive:       DefaultKActive,
		KPassive:      DefaultKPassive,
		ShufflePeriod: DefaultShufflePeriod,
		Timeout:       DefaultTimeout,
		SendTimeout:   DefaultSendTimeout,
		ConnTimeout:   DefaultConnTimeout,
		Logger:        logger,
	}
}
