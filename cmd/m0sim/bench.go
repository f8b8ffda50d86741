package main

import (
	"fmt"
	"io"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/jeandeaual/go-locale"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/sarchlab/m0sim/benchmarks"
)

// statsviewURL is the path statsview serves its charts on.
const statsviewURL = "/debug/statsview"

func newBenchCmd(a *app) *cobra.Command {
	var (
		core      bool
		format    string
		lang      string
		repeat    int
		noVerify  bool
		statsAddr string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the sample programs and check replay and rollback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if statsAddr != "" {
				launchStatsview(statsAddr, out)
			}

			hc := benchmarks.DefaultConfig()
			hc.Sim = a.cfg
			hc.Logger = a.logger
			hc.VerifyReplay = !noVerify
			hc.Language = resolveLanguage(lang, a.logger)
			hc.Output = out
			hc.Verbose = verbose

			harness := benchmarks.NewHarness(hc)
			if core {
				harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
			} else {
				harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
			}

			if repeat < 1 {
				repeat = 1
			}
			var results []benchmarks.BenchmarkResult
			for i := 0; i < repeat; i++ {
				results = harness.RunAll()
			}

			switch format {
			case "text":
				harness.PrintResults(results)
			case "csv":
				harness.PrintCSV(results)
			case "json":
				if err := harness.PrintJSON(results); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format: %s", format)
			}

			summary := benchmarks.Summarize(results)
			if summary.Passed != summary.TotalBenchmarks {
				a.exitCode = 1
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&core, "core", false, "Run only the core benchmarks")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, csv, json)")
	cmd.Flags().StringVar(&lang, "lang", "", "Language for number formatting (default: system locale)")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "Run the set this many times, reporting the last")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip the replay and rollback checks")
	cmd.Flags().StringVar(&statsAddr, "statsview", "", "Serve runtime charts on this address, e.g. localhost:12600")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	return cmd
}

// resolveLanguage picks the report language from the flag, falling back to
// the system locales and then to English.
func resolveLanguage(flag string, logger logrus.FieldLogger) language.Tag {
	candidates := []string{flag}
	if flag == "" {
		locales, err := locale.GetLocales()
		if err != nil {
			logger.WithError(err).Warn("cannot read system locales")
		}
		candidates = locales
	}

	for _, c := range candidates {
		if tag, err := language.Parse(c); err == nil {
			return tag
		}
		logger.WithField("locale", c).Debug("ignoring unparsable locale")
	}
	return language.AmericanEnglish
}

// launchStatsview serves runtime charts in a new goroutine.
func launchStatsview(addr string, output io.Writer) {
	go func() {
		viewer.SetConfiguration(viewer.WithAddr(addr))
		mgr := statsview.New()
		mgr.Start()
	}()

	_, _ = fmt.Fprintf(output, "stats server available at %s%s\n", addr, statsviewURL)
}
