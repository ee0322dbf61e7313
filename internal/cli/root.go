// Package cli implements stockctl, the maintenance command line for the
// stockroom record store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stockroom/backend/internal/app"
	"stockroom/backend/internal/config"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/service"
	"stockroom/backend/internal/store"
)

// Opener builds a service over the configured backend. The returned func
// releases it.
type Opener func(ctx context.Context) (*service.Service, func(), error)

// RootOptions holds global flags and the shared service.
type RootOptions struct {
	Verbose bool
	Open    Opener

	svc     *service.Service
	release func()
}

// NewRootCommand creates the stockctl root command. A nil opener opens the
// backend named by the environment, the same way the server does.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "stockctl",
		Short: "stockctl - maintenance for the stockroom record store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Open == nil {
				opts.Open = configOpener(opts.Verbose)
			}
			svc, release, err := opts.Open(cmd.Context())
			if err != nil {
				return err
			}
			opts.svc = svc
			opts.release = release
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.release != nil {
				opts.release()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewAggregateCommand(opts))
	cmd.AddCommand(NewCustomersCommand(opts))

	return cmd
}

func configOpener(verbose bool) Opener {
	return func(ctx context.Context) (*service.Service, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		log, err := logger.New(logger.Config{Level: level, Development: true})
		if err != nil {
			return nil, nil, err
		}

		var closers app.Closers
		backend, err := app.OpenBackend(ctx, cfg, log, &closers)
		if err != nil {
			closers.Close(log)
			return nil, nil, err
		}
		engine := app.RestockEngine(ctx, cfg, log, &closers)
		svc := service.New(store.NewRecords(backend, log), service.Deps{
			Restock: engine,
			Logger:  log,
		})
		return svc, func() { closers.Close(log) }, nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
