package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"helix/config"
	"helix/model"
	"helix/storage"
	"helix/transport"
	"helix/ui"
)

const Version = "v0.01.00"

var (
	apiURL      string
	socketURL   string
	verbose     bool
	saveBackend bool
)

var rootCmd = &cobra.Command{
	Use:   "helix",
	Short: "Helix - draft recruiting outreach sequences by chatting",
	Long: `Helix is a terminal client for the Helix outreach assistant.

Describe the role, the company and the candidates you want to reach; the
assistant drafts a multi-step outreach sequence you can edit in place.
Changes made by the assistant or by other clients appear live.

Run without arguments to start the interactive interface.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend REST base URL (overrides settings and HELIX_API_URL)")
	rootCmd.PersistentFlags().StringVar(&socketURL, "socket-url", "", "backend push channel URL (default derived from the API URL)")
	rootCmd.PersistentFlags().BoolVar(&saveBackend, "save-backend", false, "store --api-url/--socket-url in settings.toml for later runs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging for non-interactive commands")

	rootCmd.AddCommand(devserverCmd, exportCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads settings and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if socketURL != "" {
		cfg.SocketURL = socketURL
	}
	if saveBackend {
		if err := config.RememberBackend(apiURL, socketURL); err != nil {
			return nil, fmt.Errorf("failed to save backend settings: %w", err)
		}
	}
	return cfg, nil
}

// showStartupError reports a failure that happens before the main UI exists.
func showStartupError(title, message string) {
	p := tea.NewProgram(ui.NewErrorModal(title, message), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
	}
}

func runTUI() error {
	cfg, err := loadConfig()
	if err != nil {
		showStartupError("Configuration Error", err.Error())
		return err
	}

	config.InitLogging(cfg.DataDir())
	defer config.SyncLogging()

	store, err := storage.NewClientStorage(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to initialize client storage: %w", err)
	}

	// One client per data directory
	isLocked, runningPID, err := store.CheckInstanceLock()
	if err != nil {
		return fmt.Errorf("failed to check instance lock: %w", err)
	}
	if isLocked {
		final, err := tea.NewProgram(ui.NewInstanceLockedModal(runningPID), tea.WithAltScreen()).Run()
		if err != nil {
			return err
		}
		if m, ok := final.(ui.InstanceLockedModal); !ok || !m.ForceDelete() {
			return nil
		}
		config.Log.Warn("force deleting instance lock", zap.Int("pid", runningPID))
		if err := store.UnlockInstance(); err != nil {
			return fmt.Errorf("failed to delete lock file: %w", err)
		}
	}

	if err := store.LockInstance(); err != nil {
		return fmt.Errorf("failed to lock instance: %w", err)
	}
	defer func() {
		if err := store.UnlockInstance(); err != nil {
			config.Log.Warn("failed to unlock instance", zap.Error(err))
		}
	}()

	userID, err := store.UserID()
	if err != nil {
		return err
	}

	pushURL, err := cfg.PushURL()
	if err != nil {
		showStartupError("Configuration Error", err.Error())
		return err
	}

	t, err := transport.New(cfg.APIBaseURL(), pushURL, userID, cfg.Timeout())
	if err != nil {
		showStartupError("Configuration Error", err.Error())
		return err
	}

	config.Log.Info("starting",
		zap.String("version", Version),
		zap.String("api", t.BaseURL()),
		zap.String("push", pushURL),
		zap.String("user", userID))

	m := model.NewModel(t.Client, t.PushChannel, store, Version)
	defer func() {
		if err := m.Close(); err != nil {
			config.Log.Warn("close failed", zap.Error(err))
		}
	}()

	p := tea.NewProgram(ui.NewAppView(m), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running helix: %w", err)
	}
	return nil
}
