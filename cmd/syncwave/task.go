package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/syncwave/syncwave/internal/types"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage sync tasks",
	}
	cmd.AddCommand(taskAddCmd(), taskListCmd(), taskRmCmd(), taskUnitsCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var (
		sourceID     string
		targetID     string
		units        []string
		batchSize    int
		threads      int
		errStrategy  string
		targetExists string
		skipSynced   bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a sync task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize <= 0 {
				batchSize = cfg.BatchSize
			}
			if threads <= 0 {
				threads = cfg.ThreadCount
			}
			raw, err := json.Marshal(&types.TaskConfig{
				Units:         units,
				BatchSize:     batchSize,
				ThreadCount:   threads,
				ErrorStrategy: types.ErrorStrategy(errStrategy),
				TargetExists:  types.TargetExistsStrategy(targetExists),
				SkipSynced:    skipSynced,
			})
			if err != nil {
				return err
			}
			task := &types.SyncTask{
				Name:       args[0],
				SourceID:   sourceID,
				TargetID:   targetID,
				ConfigJSON: string(raw),
			}
			if err := eng.CreateTask(cmd.Context(), task); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(task)
			}
			fmt.Printf("created task %s (%s)\n", task.ID, task.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "source datasource id")
	cmd.Flags().StringVar(&targetID, "target", "", "target datasource id")
	cmd.Flags().StringSliceVar(&units, "units", nil, "units to copy (db.table or index names)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (default from config)")
	cmd.Flags().IntVar(&threads, "threads", 0, "parallel units (default from config)")
	cmd.Flags().StringVar(&errStrategy, "on-error", "skip", "unit failure strategy: skip or pause")
	cmd.Flags().StringVar(&targetExists, "target-exists", "truncate", "existing target handling: drop, truncate or backup")
	cmd.Flags().BoolVar(&skipSynced, "skip-synced", false, "skip units any task already copied from this source")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("units")
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sync tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := eng.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(list)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSOURCE\tTARGET\tSTATUS")
			for _, task := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					task.ID, task.Name, task.SourceID, task.TargetID, task.Status)
			}
			return w.Flush()
		},
	}
}

func taskRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task and its unit state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eng.DeleteTask(cmd.Context(), args[0])
		},
	}
}

func taskUnitsCmd() *cobra.Command {
	var resetFailed bool
	cmd := &cobra.Command{
		Use:   "units <id>",
		Short: "Show a task's units and per-status counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resetFailed {
				n, err := eng.ResetFailedUnits(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("reset %d failed units\n", n)
			}
			units, err := eng.GetTaskUnits(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(units)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tSTATUS\tPROCESSED\tTOTAL\tERROR")
			for _, u := range units.Units {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					u.UnitName, u.Status, u.ProcessedRecords, u.TotalRecords, u.ErrorMessage)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			s := units.Statistics
			fmt.Printf("total %d: %d pending, %d running, %d completed, %d failed\n",
				s.Total, s.Pending, s.Running, s.Completed, s.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetFailed, "reset-failed", false, "reset failed units to pending first")
	return cmd
}
