package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/spf13/cobra"
)

var (
	serversAdd    string
	serversName   string
	serversPin    string
	serversDelete string
)

// serversCmd represents the servers command
var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List and manage saved servers",
	Long: `List the servers this client has connected to, pinned servers first,
then most recently used.

Servers can be referred to by id, id prefix or URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		e, err := setup(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		list := e.orch.Servers()
		out := cmd.OutOrStdout()
		switch {
		case serversAdd != "":
			if !internal.ValidateURL(serversAdd) {
				return fmt.Errorf("invalid server url: %s", serversAdd)
			}
			if err := list.Add(ctx, internal.Server{URL: serversAdd, Name: serversName}); err != nil {
				return err
			}
			fmt.Fprintf(out, "✅ Saved %s\n", internal.NormalizeBaseURL(serversAdd))
		case serversPin != "":
			s, err := findServer(ctx, list, serversPin)
			if err != nil {
				return err
			}
			if _, err := list.TogglePin(ctx, s.ID); err != nil {
				return err
			}
			verb := "Pinned"
			if s.IsPinned {
				verb = "Unpinned"
			}
			fmt.Fprintf(out, "📌 %s %s\n", verb, s.URL)
		case serversDelete != "":
			s, err := findServer(ctx, list, serversDelete)
			if err != nil {
				return err
			}
			if _, err := list.Delete(ctx, s.ID); err != nil {
				return err
			}
			fmt.Fprintf(out, "🗑️  Deleted %s\n", s.URL)
		}

		displayServers(out, list.Sorted(ctx))
		return nil
	},
}

func findServer(ctx context.Context, list *internal.ServerList, ref string) (internal.Server, error) {
	url := internal.NormalizeBaseURL(ref)
	var matches []internal.Server
	for _, s := range list.Load(ctx) {
		if s.ID == ref || s.URL == url {
			return s, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return internal.Server{}, fmt.Errorf("server not found: %s", ref)
	case 1:
		return matches[0], nil
	default:
		return internal.Server{}, fmt.Errorf("server reference %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func displayServers(w io.Writer, servers []internal.Server) {
	if len(servers) == 0 {
		fmt.Fprintln(w, "No saved servers. Connect with --server to add one.")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("🖥️  %s saved server(s)", countStyle.Render(fmt.Sprintf("%d", len(servers))))))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range servers {
		pin := " "
		if s.IsPinned {
			pin = "📌"
		}
		last := "never"
		if !s.LastConnected.IsZero() {
			last = formatTime(s.LastConnected)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			pin,
			idStyle.Render(s.ID),
			titleStyle.Render(s.Name),
			string(s.Status),
			dateStyle.Render(last),
			s.ConnectionCount)
	}
	tw.Flush()
}

func init() {
	rootCmd.AddCommand(serversCmd)
	serversCmd.Flags().StringVar(&serversAdd, "add", "", "Save a server URL")
	serversCmd.Flags().StringVar(&serversName, "name", "", "Display name for --add")
	serversCmd.Flags().StringVar(&serversPin, "pin", "", "Toggle the pin on a server")
	serversCmd.Flags().StringVar(&serversDelete, "delete", "", "Delete a saved server")
}
