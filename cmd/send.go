package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/iksnae/opencode-sync/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	sendModel   string
	sendWait    bool
	sendTimeout time.Duration
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <session-id> <text...>",
	Short: "Send a message or command to a session",
	Long: `Send a message to a session. Text starting with / is sent as a command,
for example: opencode-sync send ses_abc /compact

With --wait, the command stays connected until the assistant's reply is
complete and prints it.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		text := strings.Join(args[1:], " ")

		replies := make(chan classifier.ClassifiedMessage, 16)
		e, err := setup(&orchestrator.Options{
			OnEvent: func(msg classifier.ClassifiedMessage) {
				if msg.Role == classifier.RoleAssistant && msg.Type == classifier.TypeMessageFinalized {
					select {
					case replies <- msg:
					default:
					}
				}
			},
		})
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := e.openSession(ctx, args[0]); err != nil {
			return err
		}
		if sendModel != "" {
			providerID, modelID, ok := strings.Cut(sendModel, "/")
			if !ok || providerID == "" || modelID == "" {
				return fmt.Errorf("invalid --model %q: want provider/model", sendModel)
			}
			e.orch.SetModel(ctx, providerID, modelID)
		}
		if err := e.waitConnected(ctx, sendTimeout); err != nil {
			return err
		}

		// replies to earlier turns may already be queued
		drain(replies)

		var sent classifier.ClassifiedMessage
		if strings.HasPrefix(text, "/") {
			sent, err = e.orch.SendCommand(ctx, text)
		} else {
			sent, err = e.orch.SendMessage(ctx, text)
		}
		if err != nil {
			return err
		}
		internal.LogDebug("Sent %s", sent.ID)
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✅ Sent"))

		if !sendWait {
			return nil
		}
		select {
		case reply := <-replies:
			displayMessage(cmd.OutOrStdout(), reply)
			return nil
		case <-time.After(sendTimeout):
			return fmt.Errorf("no reply within %s", sendTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

func drain(ch chan classifier.ClassifiedMessage) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendModel, "model", "m", "", "Model to use, as provider/model")
	sendCmd.Flags().BoolVarP(&sendWait, "wait", "w", false, "Wait for the assistant's reply")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "How long to wait for the stream and the reply")
}
