package cmd

import (
	"fmt"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/export"
	"github.com/spf13/cobra"
)

var (
	format    string
	outputDir string
	toStdout  bool
	exportAll bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session to file",
	Long: `Export a session's conversation to one of several formats (jsonl, md, yaml, json).

By default only the most recent page of history is exported; --all pages
back to the start of the session first.
Use 'opencode-sync list' to see available session IDs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)

		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		e, err := setup(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		session, err := e.openSession(ctx, args[0])
		if err != nil {
			return err
		}

		if exportAll {
			err := internal.ShowProgress(ctx, cmd.ErrOrStderr(), "Loading full history", func() error {
				for e.orch.HasOlderMessages() {
					if _, err := e.orch.LoadOlderMessages(ctx); err != nil {
						return fmt.Errorf("failed to load older messages: %w", err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		t := &export.Transcript{
			SessionID:  session.ID,
			Title:      session.Title,
			Server:     e.orch.BaseURL(),
			ExportedAt: time.Now().UTC(),
			Messages:   e.orch.Events(),
		}
		if p := e.orch.SelectedProject(); p != nil {
			t.Project = p.Path()
		}

		if toStdout {
			return exporter.Export(t, cmd.OutOrStdout())
		}

		dir := outputDir
		if dir == "" {
			dir = e.paths.ExportPath
		}
		path, err := export.WriteFile(exporter, t, dir)
		if err != nil {
			return err
		}
		internal.LogInfo("Exported %d messages", len(t.Messages))
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Exported session %s to %s\n", session.ID, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Export format (jsonl, md, yaml, json)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "", "Output directory (defaults to the data directory's exports/)")
	exportCmd.Flags().BoolVar(&toStdout, "stdout", false, "Write to stdout instead of a file")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "Page back through the full history before exporting")
}
