package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"geekcatalog/models"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "ingest [job]",
		Short: "Run one ingestion job in the foreground",
		Long: "Runs the named job (or resumes a failed or stopped execution with --resume) " +
			"and waits for it. Interrupting stops the job at the next chunk boundary.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (resume == "") {
				return errors.New("give either a job name or --resume <execution id>")
			}
			job := ""
			if len(args) == 1 {
				job = args[0]
			}
			exec, err := runForeground(cmd.Context(), opts, job, resume)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n", exec.ID, exec.JobName, exec.Status, exec.ExitMessage)
			if exec.Status != models.ExecutionCompleted {
				return fmt.Errorf("execution %s ended %s", exec.ID, exec.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "execution id to restart from its checkpoint")
	return cmd
}

// runForeground launches a job in this process and waits for its final
// state. Canceling ctx requests a graceful stop first.
func runForeground(ctx context.Context, opts *rootOptions, job, resume string) (*models.JobExecution, error) {
	a, err := newApp(ctx, opts.settings, appOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.settings.Server.ShutdownTimeout)
		defer cancel()
		if err := a.shutdown(shutdownCtx); err != nil {
			a.log.Warn("shutdown", "error", err)
		}
	}()

	var id string
	if resume != "" {
		id, err = a.operator.Restart(ctx, resume)
	} else {
		id, err = a.operator.Run(ctx, job)
	}
	if err != nil {
		return nil, err
	}
	a.log.Info("execution started", "execution", id)

	exec, err := a.operator.Wait(ctx, id)
	if err == nil {
		// fire-and-forget fan-outs complete before their pool drains
		if derr := a.operator.Drain(ctx, exec.JobName); derr != nil && ctx.Err() == nil {
			return nil, derr
		}
		return exec, nil
	}
	if ctx.Err() == nil {
		return nil, err
	}

	a.log.Info("interrupted, stopping execution", "execution", id)
	if err := a.operator.Stop(context.Background(), id); err != nil {
		a.log.Warn("stop", "execution", id, "error", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return a.operator.Wait(waitCtx, id)
}
