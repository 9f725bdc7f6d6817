package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/spf13/cobra"
)

var (
	openProject string
	openSession string
	openPrint   bool
)

// openCmd represents the open command
var openCmd = &cobra.Command{
	Use:   "open <server-url | opencode://open?server=...&project=...&session=...>",
	Short: "Open a project or session from a link",
	Long: `Open a session from a link, switching servers if needed.

A session on a different server is checked on that server before switching.
The opened server, project and session become the defaults for later
commands.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		req, err := parseDeepLink(args[0])
		if err != nil {
			return err
		}
		if openProject != "" {
			req.ProjectPath = openProject
		}
		if openSession != "" {
			req.SessionID = openSession
		}

		e, err := setup(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.orch.HandleDeepLink(ctx, req); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✅ Connected to %s\n", e.orch.BaseURL())
		if p := e.orch.SelectedProject(); p != nil {
			fmt.Fprintf(out, "   Project: %s (%s)\n", p.Name(), p.Path())
		}
		s := e.orch.SelectedSession()
		if s == nil {
			return nil
		}
		fmt.Fprintf(out, "   Session: %s\n", s.ID)
		if openPrint {
			fmt.Fprintln(out)
			displaySession(out, s, e.orch.SelectedProject())
			displayMessages(out, e.orch.Events())
		}
		return nil
	},
}

// parseDeepLink accepts a bare server URL or an opencode:// link
func parseDeepLink(raw string) (internal.DeepLinkRequest, error) {
	if !strings.HasPrefix(raw, "opencode://") {
		if !internal.ValidateURL(raw) {
			return internal.DeepLinkRequest{}, fmt.Errorf("invalid server url: %s", raw)
		}
		return internal.DeepLinkRequest{ServerURL: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return internal.DeepLinkRequest{}, fmt.Errorf("invalid link: %w", err)
	}
	q := u.Query()
	req := internal.DeepLinkRequest{
		ServerURL:   q.Get("server"),
		ProjectPath: q.Get("project"),
		SessionID:   q.Get("session"),
	}
	if req.ServerURL == "" {
		return req, fmt.Errorf("link has no server: %s", raw)
	}
	return req, nil
}

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().StringVarP(&openProject, "project", "p", "", "Project path to open")
	openCmd.Flags().StringVar(&openSession, "session", "", "Session id to open")
	openCmd.Flags().BoolVar(&openPrint, "print", false, "Print the session after opening it")
}
