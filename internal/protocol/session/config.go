package session

import "time"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// TLSConfig describes client-side TLS material.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Config defines channel dial and write behavior.
type Config struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	SecurityMode       SecurityMode
	TLS                TLSConfig
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 3,
		SecurityMode:       SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
