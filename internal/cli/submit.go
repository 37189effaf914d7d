package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var host, label, script string

	cmd := &cobra.Command{
		Use:   "submit <work-dir>",
		Short: "Queue the submission script in a working directory",
		Long: "Read the submission script in <work-dir> on the target computer, parse its\n" +
			"directives and queue it as a job. Prints the job id.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := resolveHost(host, label)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			id, err := b.Submit(cmd.Context(), hostID, args[0], script)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			fmt.Fprintln(out(cmd), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host id of the target computer")
	cmd.Flags().StringVar(&label, "computer", "", "Label of the target computer in the registry")
	cmd.Flags().StringVar(&script, "script", "_submit.sh", "Name of the submission script inside the working directory")
	return cmd
}
