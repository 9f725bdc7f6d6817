package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/opencode-sync/internal"
	"github.com/spf13/cobra"
)

var pathsInit bool

var pathStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("243"))

// pathsCmd represents the paths command
var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show where configuration and local state are kept",
	Long: `Show the data directory for this OS and whether the config file, state
database and export directory exist.

With --init, a config file with the default settings is written (and the
--server flag, if given, is saved as the default server).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		paths, err := internal.DetectDataPaths()
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Failed to detect data paths:"), err)
			return err
		}
		cfgFile := configPath
		if cfgFile == "" {
			cfgFile = paths.ConfigPath
		}

		if pathsInit {
			if _, err := os.Stat(cfgFile); err == nil {
				return fmt.Errorf("config already exists: %s", cfgFile)
			}
			cfg := internal.DefaultConfig()
			cfg.Server = serverURL
			if err := internal.SaveConfig(cfgFile, cfg); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintln(out, successStyle.Render("✅ Wrote "+cfgFile))
			fmt.Fprintln(out)
		}

		fmt.Fprintln(out, sectionStyle.Render("📂 Data Paths"))
		displayPath(out, "Base directory", paths.BasePath)
		displayPath(out, "Config", cfgFile)
		db := dbPath
		if db == "" {
			db = paths.DatabasePath
		}
		displayPath(out, "State database", db)
		displayPath(out, "Exports", paths.ExportPath)

		if !paths.ConfigExists() && configPath == "" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, infoStyle.Render("ℹ️  Using built-in defaults. Run 'opencode-sync paths --init' to write a config file."))
		}
		return nil
	},
}

func displayPath(w io.Writer, label, path string) {
	fmt.Fprintln(w, infoStyle.Render(label+":"))
	fmt.Fprintf(w, "  %s\n", pathStyle.Render(path))
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			fmt.Fprintf(w, "  %s\n", successStyle.Render("✅ Directory exists"))
		} else {
			fmt.Fprintf(w, "  %s\n", successStyle.Render("✅ File exists"))
		}
	} else if os.IsNotExist(err) {
		fmt.Fprintf(w, "  %s\n", warningStyle.Render("⚠️  Does not exist"))
	} else {
		fmt.Fprintf(w, "  %s ❌ Error checking: %v\n", errorStyle.Render(""), err)
	}
}

func init() {
	rootCmd.AddCommand(pathsCmd)
	pathsCmd.Flags().BoolVar(&pathsInit, "init", false, "Write a default config file")
}
