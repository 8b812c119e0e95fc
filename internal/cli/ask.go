package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Answer a message with remembered context",
		Long: "Assemble context for the message, send it through the configured completion providers " +
			"with failover, record the turn and extract memories from it.",
		Run: runAsk,
	}

	cmd.Flags().String("conversation", "", "Conversation id")
	cmd.Flags().IntP("budget", "b", 0, "Token budget for the prompt (default from config)")
	cmd.Flags().Int("max-tokens", 0, "Reply token limit (default from config)")
	cmd.Flags().String("system", "", "System prompt (default from config)")
	cmd.Flags().BoolP("stream", "s", false, "Print the reply as it arrives")
	cmd.Flags().Bool("json", false, "Print the full response as JSON")

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) {
	conversation, _ := cmd.Flags().GetString("conversation")
	budget, _ := cmd.Flags().GetInt("budget")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	system, _ := cmd.Flags().GetString("system")
	stream, _ := cmd.Flags().GetBool("stream")
	asJSON, _ := cmd.Flags().GetBool("json")
	o := owner()

	msg := readInput(args)
	if msg == "" {
		exitErr("ask", fmt.Errorf("message is required (positional arg or stdin)"))
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	req := engine.RespondRequest{
		Owner:          o,
		ConversationID: conversation,
		Message:        msg,
		SystemPrompt:   system,
		MaxTokens:      maxTokens,
	}
	if cmd.Flags().Changed("budget") {
		req.Budget = &budget
	}
	out := cmd.OutOrStdout()
	if stream && !asJSON {
		req.Stream = func(chunk string) error {
			_, err := fmt.Fprint(out, chunk)
			return err
		}
	}

	resp, err := a.engine.Respond(cmd.Context(), req)
	if err != nil {
		exitErr("ask", err)
	}
	switch {
	case asJSON:
		printJSON(cmd, resp)
	case stream:
		fmt.Fprintln(out)
	default:
		fmt.Fprintln(out, resp.Text)
	}
}
