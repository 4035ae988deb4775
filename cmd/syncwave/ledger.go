package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the cross-task synced-units ledger",
	}
	cmd.AddCommand(ledgerListCmd(), ledgerClearCmd())
	return cmd
}

func ledgerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <source-id>",
		Short: "List units ever copied from a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := eng.ListSynced(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tSYNCS\tLAST SYNCED\tLAST TASK")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					e.UnitName, e.SyncCount,
					time.UnixMilli(e.LastSyncedAt).UTC().Format(time.RFC3339),
					e.LastTaskID)
			}
			return w.Flush()
		},
	}
}

func ledgerClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <source-id> [unit]",
		Short: "Forget ledger entries so units are copied again",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			unit := ""
			if len(args) == 2 {
				unit = args[1]
			}
			return eng.ClearSynced(cmd.Context(), args[0], unit)
		},
	}
}
