package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/goes/internal/client"
	"github.com/danmuck/goes/internal/logging"
	"github.com/danmuck/goes/internal/protocol/session"
	"github.com/danmuck/goes/internal/storage"
	"github.com/rs/zerolog"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved goesctl configuration.
type Config struct {
	Client   client.Config
	Reader   ReaderConfig
	Server   ServerConfig
	LogLevel zerolog.Level
	// LogLevelSet is false when the file leaves the level to the environment.
	LogLevelSet bool
}

type ReaderConfig struct {
	Path              string
	Layout            storage.Layout
	Location          *time.Location
	FilteredBatchSize int
	ScanBatchSize     int
}

type ServerConfig struct {
	Addr        string
	CorsOrigins []string
	Token       string
}

func Default() Config {
	return Config{
		Client: client.DefaultConfig(),
		Reader: ReaderConfig{
			Layout:            storage.LayoutNested,
			Location:          time.Local,
			FilteredBatchSize: storage.DefaultFilteredBatchSize,
			ScanBatchSize:     storage.DefaultScanBatchSize,
		},
		Server: ServerConfig{
			Addr: ":9400",
		},
		LogLevel: zerolog.InfoLevel,
	}
}

// ReaderOptions turns the reader section into storage options.
func (r ReaderConfig) ReaderOptions() []storage.Option {
	return []storage.Option{
		storage.WithLayout(r.Layout),
		storage.WithLocation(r.Location),
		storage.WithBatchSizes(r.FilteredBatchSize, r.ScanBatchSize),
	}
}

// Load reads path over Default. Keys absent from the file keep their default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if meta.IsDefined("client", "address") {
		cfg.Client.Address = strings.TrimSpace(raw.Client.Address)
	}
	if meta.IsDefined("client", "transport") {
		cfg.Client.Transport = strings.ToLower(strings.TrimSpace(raw.Client.Transport))
	}
	if meta.IsDefined("client", "connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Client.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse client.connect_timeout: %w", err)
		}
		cfg.Client.Session.ConnectTimeout = d
	}
	if meta.IsDefined("client", "write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Client.WriteTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse client.write_timeout: %w", err)
		}
		cfg.Client.Session.WriteTimeout = d
	}
	if meta.IsDefined("client", "max_connect_attempts") {
		cfg.Client.Session.MaxConnectAttempts = raw.Client.MaxConnectAttempts
	}
	if meta.IsDefined("client", "security_mode") {
		cfg.Client.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.Client.SecurityMode))
	}
	if meta.IsDefined("client", "tls") {
		cfg.Client.Session.TLS = session.TLSConfig{
			Enabled:            raw.Client.TLS.Enabled,
			Mutual:             raw.Client.TLS.Mutual,
			InsecureSkipVerify: raw.Client.TLS.InsecureSkipVerify,
			ServerName:         strings.TrimSpace(raw.Client.TLS.ServerName),
			CAFile:             strings.TrimSpace(raw.Client.TLS.CAFile),
			CertFile:           strings.TrimSpace(raw.Client.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.Client.TLS.KeyFile),
		}
	}

	if meta.IsDefined("reader", "path") {
		cfg.Reader.Path = strings.TrimSpace(raw.Reader.Path)
	}
	if meta.IsDefined("reader", "layout") {
		layout, err := storage.ParseLayout(raw.Reader.Layout)
		if err != nil {
			return Config{}, err
		}
		cfg.Reader.Layout = layout
	}
	if meta.IsDefined("reader", "location") {
		loc, err := time.LoadLocation(strings.TrimSpace(raw.Reader.Location))
		if err != nil {
			return Config{}, fmt.Errorf("parse reader.location: %w", err)
		}
		cfg.Reader.Location = loc
	}
	if meta.IsDefined("reader", "filtered_batch_size") {
		cfg.Reader.FilteredBatchSize = raw.Reader.FilteredBatchSize
	}
	if meta.IsDefined("reader", "scan_batch_size") {
		cfg.Reader.ScanBatchSize = raw.Reader.ScanBatchSize
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "cors_origins") {
		cfg.Server.CorsOrigins = normalizeList(raw.Server.CorsOrigins)
	}
	if meta.IsDefined("server", "token") {
		cfg.Server.Token = strings.TrimSpace(raw.Server.Token)
	}

	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, fmt.Errorf("%w: log.level %q", ErrInvalid, raw.Log.Level)
		}
		cfg.LogLevel = lvl
		cfg.LogLevelSet = true
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints. An empty client
// address or reader path is allowed; the commands that need one check it.
func Validate(cfg Config) error {
	switch cfg.Client.Transport {
	case client.TransportTCP, client.TransportWebSocket:
	default:
		return fmt.Errorf("%w: client.transport %q (want tcp|ws)", ErrInvalid, cfg.Client.Transport)
	}
	if cfg.Client.Session.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: client.max_connect_attempts must be >= 0", ErrInvalid)
	}
	if err := cfg.Client.Session.ValidateClientTransport(); err != nil {
		return fmt.Errorf("%w: client: %v", ErrInvalid, err)
	}
	if cfg.Reader.FilteredBatchSize <= 0 || cfg.Reader.ScanBatchSize <= 0 {
		return fmt.Errorf("%w: reader batch sizes must be positive", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalid)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
