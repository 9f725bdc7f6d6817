package cmd

import (
	"fmt"
	"strings"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/spf13/cobra"
)

var sessionsProject string

// sessionsCmd groups session management
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Create and delete sessions",
	Long: `Create a session in a project or delete one from the server.

Use "list" to see existing sessions.`,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new [title...]",
	Short: "Create a session",
	Long: `Create a session in a project. Without --project the first project the
server reports is used.`,
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
		project, err := pickProject(e.orch.Projects(), sessionsProject)
		if err != nil {
			return err
		}
		if _, err := e.orch.SelectProject(ctx, project); err != nil {
			return fmt.Errorf("failed to load project %s: %w", project.Path(), err)
		}

		session, err := e.orch.CreateSession(ctx, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Created session %s in %s\n",
			idStyle.Render(session.ID), titleStyle.Render(project.Name()))
		return nil
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:     "rm <session-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
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
		project, session, err := e.orch.FindSession(ctx, args[0])
		if err != nil {
			return err
		}
		if _, err := e.orch.SelectProject(ctx, project); err != nil {
			return fmt.Errorf("failed to load project %s: %w", project.Path(), err)
		}
		if err := e.orch.DeleteSession(ctx, session.ID); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", session.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted session %s\n", idStyle.Render(session.ID))
		return nil
	},
}

// pickProject returns the first project whose path contains filter
func pickProject(projects []internal.Project, filter string) (internal.Project, error) {
	for _, p := range projects {
		if filter == "" || strings.Contains(p.Path(), filter) {
			return p, nil
		}
	}
	if filter != "" {
		return internal.Project{}, fmt.Errorf("no project matches %q", filter)
	}
	return internal.Project{}, fmt.Errorf("server has no projects")
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
	sessionsNewCmd.Flags().StringVarP(&sessionsProject, "project", "p", "", "Project path (or part of it) to create the session in")
}
