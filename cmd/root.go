package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/connection"
	"github.com/iksnae/opencode-sync/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	serverURL  string
	configPath string
	dbPath     string
	agentMode  string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "opencode-sync",
	Short: "Follow and export opencode sessions from a running server",
	Long: `A CLI client that keeps a local view of an opencode session in sync with
a running opencode server.

It loads session history page by page, follows the live event stream with
heartbeat and reconnect handling, and exports conversations in several
formats (JSONL, Markdown, YAML, JSON).

Quick Start:
  opencode-sync --server http://localhost:4096 list      # Projects and sessions
  opencode-sync show <session-id>                        # Print a session
  opencode-sync watch <session-id>                       # Follow a session live
  opencode-sync export <session-id> --format md          # Export as Markdown

The last server used is remembered; --server is only needed the first time.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "opencode server URL (defaults to the last one used)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the local state database")
	rootCmd.PersistentFlags().StringVar(&agentMode, "agent", "", "Agent mode for sent messages (build, plan, ...)")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// env is what every command needs: config, local state and an orchestrator
type env struct {
	cfg   internal.Config
	paths internal.DataPaths
	store *internal.Storage
	orch  *orchestrator.Orchestrator
}

func (e *env) Close() {
	if e.orch != nil {
		e.orch.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			internal.LogWarn("Failed to close state database: %v", err)
		}
	}
}

// setup loads config and opens local state. opts may be nil.
func setup(opts *orchestrator.Options) (*env, error) {
	paths, err := internal.DetectDataPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to detect data paths: %w", err)
	}

	cfgFile := configPath
	if cfgFile == "" {
		cfgFile = paths.ConfigPath
	}
	cfg, err := internal.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if agentMode != "" {
		cfg.Mode = agentMode
	}

	db := dbPath
	if db == "" {
		db = cfg.Database
	}
	if db == "" {
		db = paths.DatabasePath
	}
	store, err := internal.OpenStorage(db)
	if err != nil {
		return nil, err
	}

	var o orchestrator.Options
	if opts != nil {
		o = *opts
	}
	o.Config = cfg
	o.Store = store

	return &env{cfg: cfg, paths: paths, store: store, orch: orchestrator.New(o)}, nil
}

// resolveServer picks --server, then the config file, then the last server used
func (e *env) resolveServer(ctx context.Context) (string, error) {
	if serverURL != "" {
		return serverURL, nil
	}
	if e.cfg.Server != "" {
		return e.cfg.Server, nil
	}
	var last string
	if found, err := e.store.Get(ctx, internal.KeyLastConnectedURL, &last); err == nil && found && last != "" {
		internal.LogDebug("Using last connected server %s", last)
		return last, nil
	}
	return "", fmt.Errorf("no server given: pass --server or set server in %s", e.paths.ConfigPath)
}

// connect binds the orchestrator to the resolved server
func (e *env) connect(ctx context.Context) error {
	url, err := e.resolveServer(ctx)
	if err != nil {
		return err
	}
	if err := e.orch.Connect(ctx, url, orchestrator.ConnectOptions{}); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return nil
}

// waitConnected blocks until the event stream is CONNECTED
func (e *env) waitConnected(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := e.orch.ConnectionStatus()
		switch {
		case st.State == connection.StateConnected:
			return nil
		case st.State == connection.StateFailed && st.Err != nil:
			return st.Err
		case time.Now().After(deadline):
			return fmt.Errorf("event stream not connected after %s (state %s)", timeout, st.State)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// openSession connects and selects sessionID, selecting its project first
// so requests carry the right directory
func (e *env) openSession(ctx context.Context, sessionID string) (*internal.Session, error) {
	if err := e.connect(ctx); err != nil {
		return nil, err
	}

	project, session, err := e.orch.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.orch.SelectProject(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", project.Path(), err)
	}
	if err := e.orch.SelectSession(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", session.ID, err)
	}
	return e.orch.SelectedSession(), nil
}
