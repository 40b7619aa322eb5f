package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"helix/config"
	"helix/devserver"
	"helix/storage"
	"helix/transport"
)

var (
	devAddr     string
	devDatabase string
	devRate     float64
	devBurst    int
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local Helix backend for development",
	Long: `Serves the Helix REST API under /api, the push channel at /ws and
prometheus metrics at /metrics, backed by a sqlite database.

Replies come from a local Ollama model when devserver.ollama_model is set
and the model is installed; otherwise a scripted assistant is used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.InitConsoleLogging(verbose); err != nil {
			return err
		}
		defer config.SyncLogging()

		opts := devserver.Options{
			Addr:         cfg.DevListenAddr,
			DatabasePath: cfg.DatabasePath(),
			OllamaHost:   cfg.OllamaHost,
			OllamaModel:  cfg.OllamaModel,
			MessageRate:  devRate,
			MessageBurst: devBurst,
		}
		if devAddr != "" {
			opts.Addr = devAddr
		}
		if devDatabase != "" {
			opts.DatabasePath = devDatabase
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return devserver.Run(ctx, opts)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the current conversation and sequence as JSON",
	Long: `Fetches the current session and its active sequence from the backend
and writes them to path, or to a timestamped file in the downloads
directory when no path is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.InitConsoleLogging(verbose); err != nil {
			return err
		}
		defer config.SyncLogging()

		store, err := storage.NewClientStorage(cfg.DataDir())
		if err != nil {
			return err
		}
		userID, err := store.UserID()
		if err != nil {
			return err
		}
		client, err := transport.NewClient(cfg.APIBaseURL(), userID, cfg.Timeout())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Timeout())
		defer cancel()

		session, err := client.RequestSessionBootstrap(ctx)
		if err != nil {
			return err
		}

		t := storage.Transcript{ExportedAt: time.Now().UTC(), Session: session}
		name := "session"
		if session.CurrentSequenceID != "" {
			seq, err := client.RequestSequence(ctx, session.CurrentSequenceID)
			switch {
			case err == nil:
				t.Sequence = seq
				name = seq.Name
			case transport.IsNotFound(err):
				config.Log.Warn("current sequence no longer exists", zap.String("sequence_id", session.CurrentSequenceID))
			default:
				return err
			}
		}

		path := storage.GenerateExportPath(name)
		if len(args) == 1 {
			path = config.ExpandPath(args[0])
		}
		if err := storage.ExportTranscript(t, path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "helix %s\n", Version)
	},
}

func init() {
	devserverCmd.Flags().StringVar(&devAddr, "addr", "", "listen address (default from settings, "+devserver.DefaultAddr+")")
	devserverCmd.Flags().StringVar(&devDatabase, "db", "", "sqlite database path, or :memory:")
	devserverCmd.Flags().Float64Var(&devRate, "message-rate", 0, "messages per second allowed per user (0 uses the default)")
	devserverCmd.Flags().IntVar(&devBurst, "message-burst", 0, "message burst allowed per user (0 uses the default)")
}
