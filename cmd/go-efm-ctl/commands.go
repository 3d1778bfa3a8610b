package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
	"github.com/randomizedcoder/go-efm-ctl/internal/dispatch"
	"github.com/randomizedcoder/go-efm-ctl/internal/efm"
	"github.com/randomizedcoder/go-efm-ctl/internal/metrics"
	"github.com/randomizedcoder/go-efm-ctl/internal/preflight"
)

// operationCommands describes the subcommand for each efm operation.
var operationCommands = []struct {
	op    efm.Operation
	use   string
	short string
}{
	{efm.OpClusterStatus, "cluster-status [text|json]", "Print the cluster status"},
	{efm.OpAllowNode, "allow-node ADDRESS", "Allow a node to join the cluster"},
	{efm.OpDisallowNode, "disallow-node ADDRESS", "Remove a node from the allowed list"},
	{efm.OpFailover, "failover", "Promote the standby with the highest priority"},
	{efm.OpSwitchover, "switchover", "Promote a standby and demote the primary"},
	{efm.OpResumeMonitoring, "resume-monitoring", "Resume monitoring on the local agent"},
	{efm.OpSetPriority, "set-priority ADDRESS PRIORITY", "Set a standby's failover priority"},
	{efm.OpListProperties, "list-properties", "Print the cluster properties"},
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "go-efm-ctl",
		Short:         "Run EDB Failover Manager operations",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file (flags take precedence)")
	config.BindFlags(root.PersistentFlags(), a.flags)

	for _, oc := range operationCommands {
		root.AddCommand(newOperationCmd(a, oc.op, oc.use, oc.short))
	}
	root.AddCommand(newCheckCmd(a), newWatchCmd(a), newVersionCmd(a))

	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}
		fmt.Fprintf(a.stdout, "%s\n\nUsage:\n  go-efm-ctl [command] [flags]\n\nCommands:\n", root.Short)
		for _, c := range root.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(a.stdout, "  %-20s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(a.stdout)
		config.PrintUsage(a.stdout, root.PersistentFlags())
	})
	return root
}

// gatedAnnotation marks commands that require an elevated caller before
// anything else is checked.
const gatedAnnotation = "efm-ctl/gated"

func isGated(cmd *cobra.Command) bool {
	return cmd.Annotations[gatedAnnotation] == "true"
}

// newOperationCmd returns the subcommand for op. Argument checking is left
// to the dispatcher so that the privilege gate is always evaluated first.
func newOperationCmd(a *app, op efm.Operation, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Args:        cobra.ArbitraryArgs,
		Annotations: map[string]string{gatedAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if op == efm.OpClusterStatus && len(args) == 0 {
				args = []string{string(efm.ModeText)}
			}
			req := dispatch.Request{Operation: op, Args: args}

			if a.cfg.PrintCmd {
				return a.printCommand(req)
			}
			defer a.dumpMetrics()
			return a.runOperation(cmd, req)
		},
	}
}

func (a *app) runOperation(cmd *cobra.Command, req dispatch.Request) error {
	res, err := a.dispatcher.Invoke(cmd.Context(), req)
	if err != nil {
		return err
	}
	if res.Stream == nil {
		a.exitCode = res.ExitCode
		return nil
	}

	for line, err := range res.Stream.All() {
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, line)
	}
	return nil
}

// printCommand shows the command that would be run, without running it.
func (a *app) printCommand(req dispatch.Request) error {
	c, err := a.dispatcher.Preview(req)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "# efm command that would be run:")
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, c.String())
	return nil
}

// dumpMetrics writes the collected metrics to stderr when requested.
func (a *app) dumpMetrics() {
	if !a.cfg.DumpMetrics {
		return
	}
	if err := metrics.WriteText(a.stderr, a.dispatcher.Metrics().Registry()); err != nil {
		a.logger.Warn("metrics_dump_failed", "error", err)
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run preflight checks against the configuration and host",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			result := preflight.RunAll(a.cfg, a.gate)
			preflight.PrintResults(a.stdout, result)
			if !result.Passed {
				a.exitCode = 1
			}
			return nil
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "go-efm-ctl %s\n", version)
		},
	}
}
