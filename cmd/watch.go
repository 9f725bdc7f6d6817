package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/iksnae/opencode-sync/internal/connection"
	"github.com/iksnae/opencode-sync/internal/orchestrator"
	"github.com/spf13/cobra"
)

var watchInteractive bool

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session live",
	Long: `Print a session's recent history, then follow the live event stream.

The stream is kept alive with heartbeats and reconnected with backoff when it
drops. After the process is resumed (SIGCONT) missed messages are fetched.

With --interactive, each line typed on stdin is sent to the session; lines
starting with / are sent as commands.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := newPrinter(cmd.OutOrStdout())
		e, err := setup(&orchestrator.Options{
			OnEvent:       p.event,
			OnRetract:     p.retract,
			OnStateChange: p.state,
			OnError: func(err *internal.ConnectionError) {
				p.line(errorStyle.Render("⚠️  " + err.Error()))
			},
		})
		if err != nil {
			return err
		}
		defer e.Close()

		session, err := e.openSession(ctx, args[0])
		if err != nil {
			return err
		}
		p.mu.Lock()
		displaySession(p.w, session, e.orch.SelectedProject())
		p.mu.Unlock()
		for _, msg := range e.orch.Events() {
			p.event(msg)
		}
		p.live.Store(true)

		resumed := notifyResume()
		defer signal.Stop(resumed)

		var input <-chan string
		if watchInteractive {
			if err := e.waitConnected(ctx, 10*time.Second); err != nil {
				return err
			}
			input = readLines(ctx, cmd.InOrStdin())
		}

		for {
			select {
			case <-ctx.Done():
				p.line(infoStyle.Render("Stopped watching."))
				return nil
			case <-resumed:
				internal.LogInfo("Resumed, catching up")
				if err := e.orch.HandleForeground(ctx); err != nil {
					internal.LogWarn("Catch-up failed: %v", err)
				}
			case text, ok := <-input:
				if !ok {
					input = nil
					continue
				}
				sendLine(ctx, e.orch, p, text)
			}
		}
	},
}

func sendLine(ctx context.Context, orch *orchestrator.Orchestrator, p *printer, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	var err error
	if strings.HasPrefix(text, "/") {
		_, err = orch.SendCommand(ctx, text)
	} else {
		_, err = orch.SendMessage(ctx, text)
	}
	if err != nil {
		p.line(errorStyle.Render("❌ " + err.Error()))
	}
}

func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// printer serializes output from stream callbacks. Streaming updates to an
// already printed message only print the newly appended text.
type printer struct {
	w       io.Writer
	mu      sync.Mutex
	printed map[string]string
	live    atomic.Bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, printed: make(map[string]string)}
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func (p *printer) event(msg classifier.ClassifiedMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := msg.MessageID
	if key == "" {
		key = msg.ID
	}
	prev, seen := p.printed[key]
	if !seen && msg.MessageID != "" {
		// a confirmed echo keeps its local id
		prev, seen = p.printed[msg.ID]
	}
	p.printed[key] = msg.Text
	switch {
	case !seen:
		displayMessage(p.w, msg)
	case msg.Text == prev:
	case strings.HasPrefix(msg.Text, prev):
		fmt.Fprint(p.w, strings.TrimPrefix(msg.Text, prev))
		fmt.Fprintln(p.w)
	default:
		displayMessage(p.w, msg)
	}
}

func (p *printer) retract(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.printed, id)
	fmt.Fprintln(p.w, warningStyle.Render("↩️  Message not delivered, removed"))
}

func (p *printer) state(newState, oldState connection.State) {
	if !p.live.Load() {
		return
	}
	style := infoStyle
	switch newState {
	case connection.StateConnected:
		style = successStyle
	case connection.StateFailed:
		style = errorStyle
	case connection.StateReconnecting:
		style = warningStyle
	}
	p.line(style.Render(fmt.Sprintf("● %s → %s", oldState, newState)))
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVarP(&watchInteractive, "interactive", "i", false, "Send lines typed on stdin to the session")
}
