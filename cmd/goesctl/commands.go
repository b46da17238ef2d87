package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/goes/internal/config"
	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/protocol"
	"github.com/danmuck/goes/internal/server"
	"github.com/danmuck/goes/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func newAddCommand(a *app) *cobra.Command {
	var metadata string
	cmd := &cobra.Command{
		Use:   "add <stream-id> <expected-version> <type-id> <event-json>",
		Short: "Append one event to a stream",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID, typeID := args[0], args[2]
			if _, err := protocol.ParseStreamID(streamID); err != nil {
				return err
			}
			version, err := protocol.ParseExpectedVersion(args[1])
			if err != nil {
				return err
			}
			event, err := jsonObject("event", args[3])
			if err != nil {
				return err
			}
			var meta any
			if metadata != "" {
				if meta, err = jsonObject("metadata", metadata); err != nil {
					return err
				}
			}

			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.AddEvent(cmd.Context(), streamID, int64(version), event, meta, typeID); err != nil {
				return err
			}
			log.Info().Str("stream", streamID).Uint32("version", uint32(version)).Str("type", typeID).Msg("event added")
			return nil
		},
	}
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata JSON object")
	return cmd
}

func newReadStreamCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-stream <stream-id>",
		Short: "Print every event of one stream as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := protocol.ParseStreamID(args[0]); err != nil {
				return err
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			out, err := c.ReadStream(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), out)
		},
	}
}

func newReadAllCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Print every event in the store as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			out, err := c.ReadAll(cmd.Context())
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), out)
		},
	}
}

func newScanCommand(a *app) *cobra.Command {
	var (
		types []string
		date  string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read events straight from the storage directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filters := storage.Filters{EventTypes: types}
			if date != "" {
				d, err := time.ParseInLocation(dateLayout, date, time.UTC)
				if err != nil {
					return fmt.Errorf("invalid --date %q; expected YYYY-MM-DD", date)
				}
				filters.Date = d
			}
			r, err := a.reader()
			if err != nil {
				return err
			}
			out, err := r.GetAllFor(cmd.Context(), filters)
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringArrayVar(&types, "type", nil, "event type id (repeatable)")
	cmd.Flags().StringVar(&date, "date", "", "day to list, YYYY-MM-DD")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var reader *storage.Reader
			if a.cfg.Reader.Path != "" {
				r, err := a.reader()
				if err != nil {
					return err
				}
				reader = r
				log.Info().Str("root", r.Root()).Msg("storage reader ready")
			}
			var streams server.StreamSource
			if a.cfg.Client.Address != "" {
				c, err := a.dial(ctx)
				if err != nil {
					return err
				}
				defer c.Close()
				go logClientErrors(c.Errors())
				streams = c
			}
			srv := server.New(server.Config{
				Addr:        a.cfg.Server.Addr,
				CorsOrigins: a.cfg.Server.CorsOrigins,
				Token:       a.cfg.Server.Token,
			}, reader, streams)
			return srv.Serve(ctx)
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := config.Encode(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	})
	return cmd
}

func logClientErrors(errs <-chan error) {
	for err := range errs {
		log.Warn().Err(err).Msg("channel client error")
	}
}

func jsonObject(name, raw string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: %s must be a JSON object", protocol.ErrInvalidPayload, name)
	}
	return out, nil
}

func writeLines(w io.Writer, envs []events.Envelope) error {
	enc := json.NewEncoder(w)
	for _, env := range envs {
		if err := enc.Encode(env); err != nil {
			return err
		}
	}
	return nil
}
