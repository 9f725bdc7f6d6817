package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/spf13/cobra"
)

var (
	olderPages    int
	showReasoning bool
)

var (
	// Styles for show command
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				Padding(0, 1).
				MarginBottom(1)

	sessionMetaStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243")).
				MarginBottom(1)

	userMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 1)

	assistantMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("135")).
				Bold(true).
				Padding(0, 1)

	messageContentStyle = lipgloss.NewStyle().
				Padding(0, 2).
				MarginBottom(1)

	reasoningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true).
			Padding(0, 2)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the messages of a session",
	Long: `Display the most recent messages of a session. Session ids may be
abbreviated to any unique prefix.

Use --older to page further back into the history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		e, err := setup(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		session, err := e.openSession(ctx, args[0])
		if err != nil {
			return err
		}

		for i := 0; i < olderPages && e.orch.HasOlderMessages(); i++ {
			page, err := e.orch.LoadOlderMessages(ctx)
			if err != nil {
				return fmt.Errorf("failed to load older messages: %w", err)
			}
			internal.LogDebug("Loaded %d older messages (buffered: %v)", len(page.Events), page.FromBuffer)
		}

		out := cmd.OutOrStdout()
		displaySession(out, session, e.orch.SelectedProject())
		displayMessages(out, e.orch.Events())
		if e.orch.HasOlderMessages() {
			fmt.Fprintln(out, timestampStyle.Render("(older messages available, use --older)"))
		}
		return nil
	},
}

func displaySession(w io.Writer, s *internal.Session, p *internal.Project) {
	if s == nil {
		return
	}
	fmt.Fprintln(w, sessionHeaderStyle.Render("💬 "+sessionTitle(*s)))
	meta := []string{"ID: " + s.ID}
	if p != nil {
		meta = append(meta, "Project: "+p.Name())
	}
	if t := s.UpdatedAt(); !t.IsZero() {
		meta = append(meta, "Updated: "+formatTime(t))
	}
	fmt.Fprintln(w, sessionMetaStyle.Render(strings.Join(meta, "  •  ")))
}

func displayMessages(w io.Writer, msgs []classifier.ClassifiedMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, timestampStyle.Render("(no messages)"))
		return
	}
	for _, msg := range msgs {
		displayMessage(w, msg)
	}
}

func displayMessage(w io.Writer, msg classifier.ClassifiedMessage) {
	label := userMessageStyle.Render("👤 User")
	if msg.Role != classifier.RoleUser {
		label = assistantMessageStyle.Render(fmt.Sprintf("🤖 Assistant [%s]", msg.Mode))
	}
	if msg.Category == classifier.CategorySent && msg.MessageID == "" {
		label += timestampStyle.Render(" (sending)")
	}
	if msg.Timestamp > 0 {
		label += " " + timestampStyle.Render(time.UnixMilli(msg.Timestamp).Local().Format("15:04:05"))
	}
	fmt.Fprintln(w, label)
	if showReasoning && msg.Reasoning != "" {
		fmt.Fprintln(w, reasoningStyle.Render(msg.Reasoning))
	}
	fmt.Fprintln(w, messageContentStyle.Render(msg.Text))
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().IntVar(&olderPages, "older", 0, "Number of older pages to load")
	showCmd.Flags().BoolVar(&showReasoning, "reasoning", false, "Show assistant reasoning")
}
