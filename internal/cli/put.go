package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory as given",
		Long:  "Store one memory without extraction. Content can be a positional arg or piped via stdin. Admission still applies the owner's cap.",
		Run:   runPut,
	}

	cmd.Flags().String("kind", model.KindSemantic, "Kind: semantic, episodic, procedural")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0,1]")
	cmd.Flags().String("conversation", "", "Conversation id")
	cmd.Flags().String("meta", "", "JSON metadata")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	tagsStr, _ := cmd.Flags().GetString("tags")
	importance, _ := cmd.Flags().GetFloat64("importance")
	conversation, _ := cmd.Flags().GetString("conversation")
	meta, _ := cmd.Flags().GetString("meta")
	o := owner()

	content := readInput(args)
	if content == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	vec, err := a.embedder.Embed(cmd.Context(), content)
	if err != nil {
		exitErr("embed", err)
	}
	stored, err := a.lifecycle.Admit(cmd.Context(), o, []model.Memory{{
		OwnerID:        o,
		ConversationID: conversation,
		Content:        content,
		Kind:           kind,
		Tags:           splitTags(tagsStr),
		Embedding:      vec,
		Importance:     importance,
		Meta:           meta,
	}})
	if err != nil {
		exitErr("put", err)
	}
	if len(stored) == 0 {
		exitErr("put", fmt.Errorf("memory rejected: %w", model.ErrInvalidInput))
	}
	stored[0].Embedding = nil
	printJSON(cmd, stored[0])
}
