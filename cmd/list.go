package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/opencode-sync/internal"
	"github.com/spf13/cobra"
)

var (
	listProject string
	listLimit   int
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	workspaceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects and their sessions",
	Long: `List the projects known to the server and the sessions in each,
newest first, with their busy/idle status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		e, err := setup(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.connect(ctx); err != nil {
			return err
		}

		projects := e.orch.Projects()
		if len(projects) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
			return nil
		}

		listings := make([]projectListing, 0, len(projects))
		for _, p := range projects {
			if listProject != "" && !strings.Contains(p.Path(), listProject) {
				continue
			}
			sessions, err := e.orch.SelectProject(ctx, p)
			if err != nil {
				internal.LogWarn("Failed to list sessions for %s: %v", p.Path(), err)
				continue
			}
			if err := e.orch.RefreshStatuses(ctx); err != nil {
				internal.LogDebug("Status refresh failed: %v", err)
			}
			listings = append(listings, projectListing{
				project:  p,
				sessions: sessions,
				statuses: e.orch.Statuses(),
			})
		}

		displayListings(cmd.OutOrStdout(), listings, listLimit)
		return nil
	},
}

type projectListing struct {
	project  internal.Project
	sessions []internal.Session
	statuses map[string]string
}

func displayListings(w io.Writer, listings []projectListing, limit int) {
	total := 0
	for _, l := range listings {
		total += len(l.sessions)
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("📚 %s sessions in %d project(s)",
		countStyle.Render(fmt.Sprintf("%d", total)), len(listings))))
	fmt.Fprintln(w)

	for _, l := range listings {
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render(l.project.Name()), workspaceStyle.Render(l.project.Path()))
		if len(l.sessions) == 0 {
			fmt.Fprintln(w, dateStyle.Render("  (no sessions)"))
			fmt.Fprintln(w)
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for i, s := range l.sessions {
			if limit > 0 && i >= limit {
				fmt.Fprintf(tw, "  ... %d more\n", len(l.sessions)-limit)
				break
			}
			status := l.statuses[s.ID]
			if status == internal.SessionBusy {
				status = busyStyle.Render(status)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
				idStyle.Render(s.ID),
				sessionTitle(s),
				dateStyle.Render(formatTime(s.UpdatedAt())),
				status)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}
}

func sessionTitle(s internal.Session) string {
	title := s.Title
	if title == "" {
		title = "Untitled"
	}
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	return title + s.SummaryText()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listProject, "project", "p", "", "Only list projects whose path contains this")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Sessions to show per project (0 for all)")
}
