package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/me/firebridge/pkg/model"
)

var (
	greenText  = color.New(color.FgGreen).SprintFunc()
	yellowText = color.New(color.FgYellow).SprintFunc()
	cyanText   = color.New(color.FgCyan).SprintFunc()
	redText    = color.New(color.FgRed).SprintFunc()
)

func newListCmd() *cobra.Command {
	var host, label string
	var ids []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unfinished jobs of a computer",
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

			infos, err := b.List(cmd.Context(), hostID, ids)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			printJobs(out(cmd), infos)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host id of the computer")
	cmd.Flags().StringVar(&label, "computer", "", "Label of the computer in the registry")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Only these job ids (repeatable)")
	return cmd
}

func printJobs(w io.Writer, infos []model.JobInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	fmt.Fprintf(w, "%-8s  %-14s  %-10s  %-30s  %s\n", "ID", "STATE", "NATIVE", "TITLE", "SUBMITTED")
	for _, info := range infos {
		// Pad before colouring so escape codes do not break the columns.
		state := colorState(info.State, fmt.Sprintf("%-14s", info.State))
		fmt.Fprintf(w, "%-8s  %s  %-10s  %-30s  %s\n",
			info.JobID, state, info.NativeState, info.Title, info.SubmissionTime.Local().Format("2006-01-02 15:04:05"))
	}
}

func colorState(s model.JobState, text string) string {
	switch s {
	case model.JobStateRunning:
		return greenText(text)
	case model.JobStateQueued, model.JobStateQueuedHeld:
		return cyanText(text)
	case model.JobStateSuspended:
		return yellowText(text)
	case model.JobStateUndetermined:
		return redText(text)
	}
	return text
}
