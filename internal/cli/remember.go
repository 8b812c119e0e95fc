package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [user message]",
		Short: "Extract and store memories from a conversation turn",
		Long: "Run fact extraction over one completed turn and store what it finds. " +
			"The user message can be a positional arg, --user, or piped via stdin.",
		Run: runRemember,
	}

	cmd.Flags().StringP("user", "u", "", "User side of the turn")
	cmd.Flags().StringP("assistant", "a", "", "Assistant side of the turn")
	cmd.Flags().String("conversation", "", "Conversation id")
	cmd.Flags().Bool("record", false, "Also record the turn in the conversation history")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	assistant, _ := cmd.Flags().GetString("assistant")
	conversation, _ := cmd.Flags().GetString("conversation")
	record, _ := cmd.Flags().GetBool("record")
	o := owner()

	if user == "" {
		user = readInput(args)
	}
	if user == "" && assistant == "" {
		exitErr("remember", fmt.Errorf("a user or assistant message is required"))
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	turn := model.Turn{OwnerID: o, ConversationID: conversation, UserText: user, AssistantText: assistant}
	if record {
		if turn, err = a.store.AppendTurn(cmd.Context(), turn); err != nil {
			exitErr("record turn", err)
		}
	}
	ids := a.engine.ExtractAndStore(cmd.Context(), turn)
	if ids == nil {
		ids = []string{}
	}
	printJSON(cmd, map[string]interface{}{"ok": true, "stored": ids})
}
