package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncwave/syncwave/internal/types"
)

// progressPrinter renders bus events on the terminal while a foreground run
// is active.
type progressPrinter struct{}

func (progressPrinter) OnProgress(p *types.TaskProgress) {
	fmt.Printf("\r%6.2f%%  %d/%d records  %.0f rec/s  %d/%d units",
		p.Percentage, p.ProcessedRecords, p.TotalRecords, p.Speed,
		p.CompletedUnits, p.TotalUnits)
}

func (progressPrinter) OnLog(taskID string, entry types.LogEntry) {
	if entry.Level == types.LogInfo {
		return
	}
	fmt.Printf("\n[%s] %s\n", entry.Level, entry.Message)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <task-id>",
		Short: "Run a task in the foreground (Ctrl-C pauses it)",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runForeground(cmd, args[0], false) },
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused task in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runForeground(cmd, args[0], true) },
	}
}

func runForeground(cmd *cobra.Command, taskID string, resume bool) error {
	ctx := cmd.Context()
	if !jsonOutput {
		eng.Subscribe(progressPrinter{})
	}

	var err error
	if resume {
		err = eng.Resume(ctx, taskID)
	} else {
		err = eng.StartByID(ctx, taskID)
	}
	if err != nil {
		return err
	}

	// Ctrl-C requests a cooperative pause; the run drains at the next
	// batch boundary.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	go func() {
		eng.Wait(taskID)
		close(done)
	}()
	for {
		select {
		case <-sigs:
			fmt.Println("\npausing at batch boundary")
			if err := eng.Pause(ctx, taskID); err != nil {
				log.Warn().Err(err).Msg("pause request")
			}
		case <-done:
			return printOutcome(cmd, taskID)
		}
	}
}

func printOutcome(cmd *cobra.Command, taskID string) error {
	task, err := eng.GetTask(cmd.Context(), taskID)
	if err != nil {
		return err
	}
	p := eng.GetProgress(taskID)
	if jsonOutput {
		return printJSON(p)
	}
	if p != nil {
		fmt.Printf("\n%s: %d/%d records, %d units completed, %d failed\n",
			task.Status, p.ProcessedRecords, p.TotalRecords, p.CompletedUnits, p.FailedUnits)
	} else {
		fmt.Printf("\n%s\n", task.Status)
	}
	if task.Status == types.TaskFailed {
		return fmt.Errorf("task %s failed", taskID)
	}
	return nil
}

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Request a running task to pause",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eng.Pause(cmd.Context(), args[0])
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's persisted status and unit counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := eng.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			units, err := eng.GetTaskUnits(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]any{"task": task, "units": units})
			}
			s := units.Statistics
			fmt.Printf("%s (%s): %s\n", task.Name, task.ID, task.Status)
			fmt.Printf("units %d: %d pending, %d running, %d completed, %d failed\n",
				s.Total, s.Pending, s.Running, s.Completed, s.Failed)
			return nil
		},
	}
}
