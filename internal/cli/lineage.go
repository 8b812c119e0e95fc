package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "lineage [id]",
		Short: "Show which memories a compressed memory was built from",
		Long:  "List lineage rows where the id is either the compression product or one of its sources.",
		Args:  cobra.ExactArgs(1),
		Run:   runLineage,
	}

	RootCmd.AddCommand(cmd)
}

func runLineage(cmd *cobra.Command, args []string) {
	o := owner()

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rows, err := s.Lineage(cmd.Context(), o, args[0])
	if err != nil {
		exitErr("lineage", err)
	}
	if rows == nil {
		rows = []store.LineageRow{}
	}
	printJSON(cmd, rows)
}
