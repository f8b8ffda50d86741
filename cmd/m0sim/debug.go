package main

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/m0sim/debugger"
)

func newDebugCmd(a *app) *cobra.Command {
	var (
		loadAddr  uint32
		runBudget uint64
	)

	cmd := &cobra.Command{
		Use:   "debug [program]",
		Short: "Step a program forwards and backwards one key at a time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := a.loadProgram(args[0], loadAddressFlag(cmd, &loadAddr))
			if err != nil {
				return err
			}

			in, err := debugger.OpenTerminal()
			if err != nil {
				return err
			}
			defer in.Close()

			d := debugger.New(e, cmd.OutOrStdout())
			d.RunBudget = runBudget
			return d.Loop(in)
		},
	}

	cmd.Flags().Uint32Var(&loadAddr, "load-address", 0, "Load address for raw and hex images")
	cmd.Flags().Uint64Var(&runBudget, "run-budget", 0, "Step budget of the r command (0 uses the configured budget)")
	return cmd
}
