package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "owners",
		Short: "List owners that have memories",
		Run:   runOwners,
	}

	RootCmd.AddCommand(cmd)
}

func runOwners(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	owners, err := s.Owners(cmd.Context())
	if err != nil {
		exitErr("list owners", err)
	}
	if owners == nil {
		owners = []string{}
	}
	printJSON(cmd, owners)
}
