package config

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the on-disk TOML shape.
type fileConfig struct {
	Client fileClient `toml:"client"`
	Reader fileReader `toml:"reader"`
	Server fileServer `toml:"server"`
	Log    fileLog    `toml:"log"`
}

type fileClient struct {
	Address            string  `toml:"address"`
	Transport          string  `toml:"transport"`
	ConnectTimeout     string  `toml:"connect_timeout"`
	WriteTimeout       string  `toml:"write_timeout"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	SecurityMode       string  `toml:"security_mode"`
	TLS                fileTLS `toml:"tls"`
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ServerName         string `toml:"server_name,omitempty"`
	CAFile             string `toml:"ca_file,omitempty"`
	CertFile           string `toml:"cert_file,omitempty"`
	KeyFile            string `toml:"key_file,omitempty"`
}

type fileReader struct {
	Path              string `toml:"path"`
	Layout            string `toml:"layout"`
	Location          string `toml:"location"`
	FilteredBatchSize int    `toml:"filtered_batch_size"`
	ScanBatchSize     int    `toml:"scan_batch_size"`
}

type fileServer struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token,omitempty"`
}

type fileLog struct {
	Level string `toml:"level,omitempty"`
}

func toFile(cfg Config) fileConfig {
	tls := cfg.Client.Session.TLS
	out := fileConfig{
		Client: fileClient{
			Address:            cfg.Client.Address,
			Transport:          cfg.Client.Transport,
			ConnectTimeout:     cfg.Client.Session.ConnectTimeout.String(),
			WriteTimeout:       cfg.Client.Session.WriteTimeout.String(),
			MaxConnectAttempts: cfg.Client.Session.MaxConnectAttempts,
			SecurityMode:       string(cfg.Client.Session.SecurityMode),
			TLS: fileTLS{
				Enabled:            tls.Enabled,
				Mutual:             tls.Mutual,
				InsecureSkipVerify: tls.InsecureSkipVerify,
				ServerName:         tls.ServerName,
				CAFile:             tls.CAFile,
				CertFile:           tls.CertFile,
				KeyFile:            tls.KeyFile,
			},
		},
		Reader: fileReader{
			Path:              cfg.Reader.Path,
			Layout:            string(cfg.Reader.Layout),
			FilteredBatchSize: cfg.Reader.FilteredBatchSize,
			ScanBatchSize:     cfg.Reader.ScanBatchSize,
		},
		Server: fileServer{
			Addr:        cfg.Server.Addr,
			CorsOrigins: cfg.Server.CorsOrigins,
		},
	}
	if cfg.Reader.Location != nil {
		out.Reader.Location = cfg.Reader.Location.String()
	}
	if cfg.Server.Token != "" {
		out.Server.Token = "<redacted>"
	}
	if cfg.LogLevelSet {
		out.Log.Level = cfg.LogLevel.String()
	}
	return out
}

// Encode renders the resolved configuration back to TOML. The server token
// is redacted.
func Encode(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(toFile(cfg)); err != nil {
		return nil, fmt.Errorf("config encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
