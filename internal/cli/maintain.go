package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/lifecycle"
)

func init() {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run decay, pruning, eviction and compression",
		Long: "Run one maintenance pass for the owner, or for every owner with --all. " +
			"With --every the pass repeats on that interval until interrupted.",
		Run: runMaintain,
	}

	cmd.Flags().Bool("all", false, "Maintain every owner")
	cmd.Flags().Duration("every", 0, "Repeat on this interval (with --all)")

	RootCmd.AddCommand(cmd)
}

func runMaintain(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	every, _ := cmd.Flags().GetDuration("every")
	var o string
	if !all {
		o = owner()
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if !all {
		rep, err := a.engine.RunMaintenance(cmd.Context(), o)
		if err != nil {
			exitErr("maintain", err)
		}
		printJSON(cmd, rep)
		return
	}

	if every > 0 {
		a.engine.StartMaintenance(cmd.Context(), every)
		<-cmd.Context().Done()
		return
	}
	reports, err := a.engine.RunMaintenanceAll(cmd.Context())
	if reports == nil {
		reports = []lifecycle.Report{}
	}
	printJSON(cmd, reports)
	if err != nil {
		exitErr("maintain", err)
	}
}
