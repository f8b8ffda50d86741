package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/m0sim/emu"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		trace    bool
		maxSteps uint64
		loadAddr uint32
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "run [program]",
		Short: "Run a program until it halts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if trace && a.logger.GetLevel() < logrus.InfoLevel {
				a.logger.SetLevel(logrus.InfoLevel)
			}

			e, _, err := a.loadProgram(args[0], loadAddressFlag(cmd, &loadAddr))
			if err != nil {
				return err
			}
			if trace {
				e.AcceptHook(emu.NewTraceHook(a.logger))
			}

			stop := haltOnInterrupt(e)
			res := e.Run(maxSteps)
			stop()

			out := cmd.OutOrStdout()
			if verbose {
				_, _ = fmt.Fprintf(out, "Program: %s\n", args[0])
				_, _ = fmt.Fprintf(out, "Steps: %d\n", res.Steps)
				_, _ = fmt.Fprintf(out, "Stopped: %s\n", res.Stop)
			}

			switch {
			case res.Err != nil:
				_, _ = fmt.Fprintf(out, "Error: %v\n", res.Err)
				a.exitCode = 1
			case res.Stop == emu.StopHalted:
				_, _ = fmt.Fprintf(out, "Halted: %s\n", res.Reason)
				if res.Reason == emu.HaltSupervisorCall {
					_, _ = fmt.Fprintf(out, "Exit code: %d\n", res.ExitCode)
					a.exitCode = int(res.ExitCode)
				}
			default:
				_, _ = fmt.Fprintf(out, "Stopped after %d steps: %s\n", res.Steps, res.Stop)
				a.exitCode = 2
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&trace, "trace", false, "Log every mutation")
	cmd.Flags().Uint64Var(&maxSteps, "max-steps", 0, "Step budget (0 uses the configured budget)")
	cmd.Flags().Uint32Var(&loadAddr, "load-address", 0, "Load address for raw and hex images")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	return cmd
}

// haltOnInterrupt requests a halt on SIGINT until the returned function is
// called.
func haltOnInterrupt(e *emu.Emulator) (stop func()) {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, os.Interrupt)

	go func() {
		select {
		case <-sig:
			e.RequestHalt()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sig)
		close(done)
	}
}
