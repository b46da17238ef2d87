package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/goes/internal/client"
	"github.com/danmuck/goes/internal/config"
	"github.com/danmuck/goes/internal/logging"
	"github.com/danmuck/goes/internal/observability"
	"github.com/danmuck/goes/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var loggerOnce sync.Once

type app struct {
	configPath string
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "goesctl",
		Short:         "Event store channel client and storage reader",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to goes.toml (defaults apply when empty)")

	root.AddCommand(
		newAddCommand(a),
		newReadStreamCommand(a),
		newReadAllCommand(a),
		newScanCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)
	return root
}

func (a *app) load() error {
	logging.ConfigureRuntime()
	loggerOnce.Do(func() { observability.InitLogger("goesctl") })
	if strings.TrimSpace(a.configPath) == "" {
		a.cfg = config.Default()
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cfg.LogLevelSet {
		zerolog.SetGlobalLevel(cfg.LogLevel)
	}
	a.cfg = cfg
	return nil
}

func (a *app) dial(ctx context.Context) (*client.Client, error) {
	if a.cfg.Client.Address == "" {
		return nil, fmt.Errorf("client.address is not configured")
	}
	return client.Dial(ctx, a.cfg.Client)
}

func (a *app) reader() (*storage.Reader, error) {
	if a.cfg.Reader.Path == "" {
		return nil, fmt.Errorf("reader.path is not configured")
	}
	return storage.NewReader(a.cfg.Reader.Path, a.cfg.Reader.ReaderOptions()...)
}
