package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/firebridge/internal/computer"
)

func newComputerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "computer",
		Short: "Manage the computer registry",
	}
	cmd.AddCommand(newComputerAddCmd(), newComputerListCmd())
	return cmd
}

func newComputerAddCmd() *cobra.Command {
	var c computer.Computer

	cmd := &cobra.Command{
		Use:   "add <label>",
		Short: "Register a computer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			c.Label = args[0]
			if cmd.Flags().Changed("keep-env") {
				keep, _ := cmd.Flags().GetBool("keep-env")
				c.KeepEnv = &keep
			}
			if err := reg.Add(c); err != nil {
				return err
			}
			if err := reg.Save(); err != nil {
				return err
			}
			logger.Info("computer registered", "label", c.Label, "host_id", c.HostID, "scheduler", c.Scheduler)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&c.HostID, "host", "", "Host id jobs of this computer are tagged with")
	f.StringVar(&c.Description, "description", "", "Free-text description")
	f.StringVar(&c.Scheduler, "scheduler", computer.SchedulerName, "Scheduler type")
	f.StringVar(&c.Transport, "transport", computer.TransportLocal, "Transport (local, ssh)")
	f.StringVar(&c.Username, "username", "", "Remote username")
	f.StringVar(&c.WorkDir, "work-dir", "", "Base working directory")
	f.Bool("keep-env", false, "Run jobs in the worker's environment instead of a fresh login shell (overrides scheduler.keep_env)")
	f.StringVar(&c.SSH.Address, "ssh-address", "", "ssh address, defaults to the host id")
	f.IntVar(&c.SSH.Port, "ssh-port", 0, "ssh port")
	f.StringVar(&c.SSH.IdentityFile, "ssh-identity", "", "ssh identity file")
	cmd.MarkFlagRequired("host")
	return cmd
}

func newComputerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered computers",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			list := reg.List()
			if len(list) == 0 {
				fmt.Fprintln(out(cmd), "No computers registered.")
				return nil
			}
			fmt.Fprintf(out(cmd), "%-24s  %-30s  %-12s  %s\n", "LABEL", "HOST", "SCHEDULER", "TRANSPORT")
			for _, c := range list {
				fmt.Fprintf(out(cmd), "%-24s  %-30s  %-12s  %s\n", c.Label, c.HostID, c.Scheduler, c.Transport)
			}
			return nil
		},
	}
}

func newDuplicateComputerCmd() *cobra.Command {
	var opts computer.DuplicateOptions

	cmd := &cobra.Command{
		Use:   "duplicate-computer <label>",
		Short: "Copy a computer so that it schedules through the queue",
		Long: "Create a copy of an existing computer using the firebridge scheduler,\n" +
			"optionally with copies of its codes.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			dup, err := reg.Duplicate(args[0], opts, logger)
			if err != nil {
				return err
			}
			if opts.DryRun {
				fmt.Fprintf(out(cmd), "Would add computer %s (dry run, nothing saved).\n", dup.Label)
				return nil
			}
			if err := reg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Computer %s has been saved with %d code(s).\n", dup.Label, len(dup.Codes))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Suffix, "suffix", computer.DefaultSuffix, "Suffix for the new computer label")
	f.BoolVar(&opts.IncludeCodes, "include-codes", false, "Copy the computer's codes as well")
	f.StringVar(&opts.InputPlugin, "input-plugin", "", "Only copy codes of this input plugin")
	f.BoolVar(&opts.DryRun, "dry-run", false, "Show what would be created without saving")
	return cmd
}

func newGenerateWorkerCmd() *cobra.Command {
	var opts computer.WorkerOptions

	cmd := &cobra.Command{
		Use:   "generate-worker <label> <output-file>",
		Short: "Write the worker definition for a computer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			c, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			opts.DefaultUsername = cfg.Scheduler.Username
			spec, err := computer.GenerateWorker(c, opts)
			if err != nil {
				return err
			}
			if err := computer.WriteWorkerFile(args[1], spec); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Worker %q written to %s\n", spec.Name, args[1])
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.ProcessCount, "process-count", 0, "Number of MPI processes the worker provides")
	f.StringVar(&opts.Name, "name", "", "Name of the worker")
	f.StringArrayVar(&opts.Categories, "category", nil, "Category of generic jobs the worker also runs (repeatable)")
	cmd.MarkFlagRequired("process-count")
	return cmd
}
