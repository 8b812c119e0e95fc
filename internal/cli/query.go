package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Find memories by similarity",
		Long:  "Embed the text and return the owner's nearest memories with their cosine similarity, without ranking or touching them.",
		Run:   runQuery,
	}

	cmd.Flags().IntP("top", "k", 10, "Max results")
	cmd.Flags().Float64("min-sim", 0, "Minimum cosine similarity")
	cmd.Flags().Bool("ranked", false, "Apply ranking (similarity, importance, recency) instead")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	k, _ := cmd.Flags().GetInt("top")
	minSim, _ := cmd.Flags().GetFloat64("min-sim")
	ranked, _ := cmd.Flags().GetBool("ranked")
	o := owner()

	text := readInput(args)
	if text == "" {
		exitErr("query", fmt.Errorf("query text is required"))
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	vec, err := a.embedder.Embed(cmd.Context(), text)
	if err != nil {
		exitErr("embed", err)
	}

	if ranked {
		results, err := a.ranker.Rank(cmd.Context(), o, vec, k)
		if err != nil {
			exitErr("rank", err)
		}
		for i := range results {
			results[i].Memory.Embedding = nil
		}
		printJSON(cmd, results)
		return
	}

	hits, err := a.store.Query(cmd.Context(), o, vec, k, minSim)
	if err != nil {
		exitErr("query", err)
	}
	if hits == nil {
		hits = []store.Hit{}
	}
	for i := range hits {
		hits[i].Memory.Embedding = nil
	}
	printJSON(cmd, hits)
}
