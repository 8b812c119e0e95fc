package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long:  "Show database statistics for every owner, or for one with --owner.",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	o := ownerFlag
	if o != "" {
		// Loading the partition makes its index figures available.
		if _, err := s.IndexInfo(cmd.Context(), o); err != nil {
			exitErr("stats", err)
		}
	}
	stats, err := s.Stats(cmd.Context(), o)
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(cmd, stats)
}
