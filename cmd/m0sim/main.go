// Package main provides the m0sim command line: run, disassemble, benchmark
// and interactively step ARMv6-M Thumb programs.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/m0sim/config"
	"github.com/sarchlab/m0sim/emu"
	"github.com/sarchlab/m0sim/loader"
)

// app holds the state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logrus.Logger

	exitCode int
}

func main() {
	a := &app{}
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(a.exitCode)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "m0sim",
		Short:         "ARMv6-M Thumb emulator with reversible execution",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (panic, fatal, error, warning, info, debug, trace)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newDisasmCmd(a),
		newBenchCmd(a),
		newDebugCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		var err error
		cfg, err = config.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(level)

	a.cfg = cfg
	a.logger = logger
	return nil
}

// loadProgram reads a program image and loads it into a new emulator.
func (a *app) loadProgram(path string, loadAddr *uint32) (*emu.Emulator, *loader.Program, error) {
	addr := a.cfg.LoadAddress
	if loadAddr != nil {
		addr = *loadAddr
	}

	prog, err := loader.LoadFile(path, loader.WithLoadAddress(addr))
	if err != nil {
		return nil, nil, err
	}

	img := prog.Image()
	if a.cfg.EntryPoint != nil {
		img.Entry = *a.cfg.EntryPoint
	}

	e := emu.NewEmulator(emu.WithConfig(a.cfg), emu.WithLogger(a.logger))
	if err := e.Load(img); err != nil {
		return nil, nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"path":     path,
		"entry":    fmt.Sprintf("0x%08X", img.Entry),
		"segments": len(prog.Segments),
		"bytes":    prog.Size(),
	}).Info("program loaded")

	return e, prog, nil
}

// loadAddressFlag returns the flag value only when the user set it.
func loadAddressFlag(cmd *cobra.Command, v *uint32) *uint32 {
	if cmd.Flags().Changed("load-address") {
		return v
	}
	return nil
}
