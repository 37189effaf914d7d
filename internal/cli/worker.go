package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/firebridge/internal/awareness"
	"github.com/me/firebridge/internal/computer"
	"github.com/me/firebridge/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queue workers",
	}
	cmd.AddCommand(newWorkerRunCmd())
	return cmd
}

func newWorkerRunCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run <worker-file>",
		Short: "Pull and run eligible jobs until interrupted",
		Long: "Load a worker definition written by generate-worker and run jobs that fit it.\n" +
			"Inside an SGE or SLURM allocation only jobs that finish before the\n" +
			"allocation ends are claimed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := computer.LoadWorkerFile(args[0])
			if err != nil {
				return err
			}
			budget := awareness.Detect(awareness.Env{Logger: logger})
			id, err := worker.IdentityFromSpec(spec, budget)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			logger.Info("time budget", "provider", budget.Name(), "remaining_seconds", budget.RemainingSeconds())
			w := worker.New(st, worker.NewBareRuntime(), worker.Config{
				Identity: id,
				Env:      spec.Env,
				Poll:     cfg.Worker.Poll,
			}, logger)

			if once {
				return runOnce(ctx, w, cmd)
			}
			return w.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run at most one job and exit")
	return cmd
}

func runOnce(ctx context.Context, w *worker.Worker, cmd *cobra.Command) error {
	ran, err := w.RunOnce(ctx)
	if err != nil {
		return err
	}
	if !ran {
		fmt.Fprintln(out(cmd), "No eligible job.")
	}
	return nil
}
