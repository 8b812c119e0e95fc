package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble prompt context for the next reply",
		Long: "Rank the owner's memories against the query, take the recent turns of the conversation, " +
			"and greedily pack both with the system prompt into a token budget. With no query, the " +
			"latest user message is used.",
		Run: runContext,
	}

	cmd.Flags().String("conversation", "", "Conversation id for recent turns")
	cmd.Flags().IntP("budget", "b", 0, "Token budget (default from config)")
	cmd.Flags().IntP("recent", "r", 0, "Recent turns to consider (default from config)")
	cmd.Flags().IntP("top", "k", 0, "Memories to rank (default from config)")
	cmd.Flags().String("system", "", "System prompt (default from config)")
	cmd.Flags().Bool("no-system", false, "Send no system prompt")
	cmd.Flags().Bool("prompt", false, "Print the rendered prompt instead of JSON")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	conversation, _ := cmd.Flags().GetString("conversation")
	budget, _ := cmd.Flags().GetInt("budget")
	recent, _ := cmd.Flags().GetInt("recent")
	top, _ := cmd.Flags().GetInt("top")
	system, _ := cmd.Flags().GetString("system")
	noSystem, _ := cmd.Flags().GetBool("no-system")
	prompt, _ := cmd.Flags().GetBool("prompt")
	o := owner()

	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	req := engine.AssembleRequest{
		Owner:          o,
		ConversationID: conversation,
		Query:          strings.Join(args, " "),
		SystemPrompt:   system,
		NoSystemPrompt: noSystem,
		RecentN:        recent,
		K:              top,
	}
	if cmd.Flags().Changed("budget") {
		req.Budget = &budget
	}
	w, err := a.engine.AssembleContext(cmd.Context(), req)
	if err != nil {
		exitErr("context", err)
	}

	if prompt {
		fmt.Fprintln(cmd.OutOrStdout(), w.Prompt())
		return
	}
	printJSON(cmd, w)
}
