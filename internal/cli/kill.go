package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <job-id>",
		Short: "Stop a running job, or defuse a queued one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			killed, err := b.Kill(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("kill: %w", err)
			}
			if !killed {
				return fmt.Errorf("job %s could not be killed", args[0])
			}
			fmt.Fprintf(out(cmd), "Job %s killed.\n", args[0])
			return nil
		},
	}
}
