package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/api"
	"github.com/iksnae/opencode-sync/internal/connection"
	"github.com/spf13/cobra"
)

var (
	healthcheckVerbose bool
	healthcheckTimeout time.Duration
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that the server and local state are usable",
	Long: `Check the health of opencode-sync by verifying:
  • Local data paths and state database
  • Server reachability (HEAD on the base URL)
  • Project listing
  • The live event stream

This command is useful for debugging connection issues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		fmt.Fprintln(out, sectionStyle.Render("🔍 opencode-sync Health Check"))
		fmt.Fprintln(out)

		// Step 1: local state
		fmt.Fprintln(out, infoStyle.Render("Step 1: Opening local state..."))
		e, err := setup(nil)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Failed to open local state:"), err)
			return err
		}
		defer e.Close()
		fmt.Fprintln(out, successStyle.Render("✅ Local state available"))
		if healthcheckVerbose {
			fmt.Fprintf(out, "   Config: %s\n", e.paths.ConfigPath)
			fmt.Fprintf(out, "   Database: %s\n", e.store.Path())
		}
		fmt.Fprintln(out)

		// Step 2: server
		fmt.Fprintln(out, infoStyle.Render("Step 2: Checking server reachability..."))
		url, err := e.resolveServer(ctx)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ No server configured"))
			return err
		}
		client := api.New(url, api.WithTimeout(e.cfg.Connection.RequestTimeout))
		if err := client.Health(ctx); err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Server unreachable:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("✅ Server reachable"))
		if healthcheckVerbose {
			fmt.Fprintf(out, "   URL: %s\n", client.BaseURL())
		}
		fmt.Fprintln(out)

		// Step 3: projects
		fmt.Fprintln(out, infoStyle.Render("Step 3: Listing projects..."))
		projects, err := client.Projects(ctx)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Failed to list projects:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		if len(projects) > 0 {
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✅ Found %d project(s)", len(projects))))
			if healthcheckVerbose {
				for i, p := range projects {
					if i < 5 { // Show first 5
						fmt.Fprintf(out, "   [%d] %s (%s)\n", i+1, p.Name(), p.Path())
					}
				}
				if len(projects) > 5 {
					fmt.Fprintf(out, "   ... and %d more\n", len(projects)-5)
				}
			}
		} else {
			fmt.Fprintln(out, warningStyle.Render("⚠️  No projects found"))
		}
		fmt.Fprintln(out)

		// Step 4: event stream
		fmt.Fprintln(out, infoStyle.Render("Step 4: Opening event stream..."))
		streamOK := checkStream(ctx, e, client.BaseURL(), healthcheckTimeout)
		if streamOK {
			fmt.Fprintln(out, successStyle.Render("✅ Event stream connected"))
		} else {
			fmt.Fprintln(out, warningStyle.Render("⚠️  Event stream did not connect within "+healthcheckTimeout.String()))
		}
		fmt.Fprintln(out)

		// Summary
		fmt.Fprintln(out, sectionStyle.Render("📊 Summary"))
		fmt.Fprintln(out)
		if streamOK {
			fmt.Fprintln(out, successStyle.Render("✅ Health check passed!"))
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("   • Projects: %d found", len(projects))))
			return nil
		}
		fmt.Fprintln(out, warningStyle.Render("⚠️  REST API works but the event stream is unavailable"))
		return fmt.Errorf("health check failed: event stream unavailable")
	},
}

// checkStream opens the event stream and waits for CONNECTED
func checkStream(ctx context.Context, e *env, baseURL string, timeout time.Duration) bool {
	connected := make(chan struct{}, 1)
	m := connection.NewMachine(connection.Options{
		Config: e.cfg.Connection,
		OnStateChange: func(newState, _ connection.State) {
			if newState == connection.StateConnected {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
	})
	defer m.Disconnect()

	if err := m.Connect(ctx, baseURL, connection.ConnectOptions{SkipHealthCheck: true}); err != nil {
		internal.LogDebug("Stream connect failed: %v", err)
		return false
	}
	select {
	case <-connected:
		return true
	case <-time.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVar(&healthcheckVerbose, "details", false, "Show detailed diagnostic information")
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 5*time.Second, "How long to wait for the event stream")
}
