package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		Run:   runList,
	}

	cmd.Flags().String("conversation", "", "Filter by conversation id")
	cmd.Flags().String("kind", "", "Filter by kind")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output ids and content")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	conversation, _ := cmd.Flags().GetString("conversation")
	kind, _ := cmd.Flags().GetString("kind")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")
	o := owner()

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	memories, err := s.List(cmd.Context(), store.ListParams{
		Owner:          o,
		ConversationID: conversation,
		Kind:           kind,
		Tags:           splitTags(tagsStr),
		Limit:          limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, m := range memories {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.2f\t%s\n", m.ID, m.Importance, m.Content)
		}
		return
	}
	printJSON(cmd, stripEmbeddings(memories))
}
