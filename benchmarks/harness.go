package benchmarks

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sarchlab/m0sim/config"
	"github.com/sarchlab/m0sim/emu"
)

// BenchmarkResult holds the outcome of a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark exercises
	Description string `json:"description"`

	// Steps is the number of mutations appended by the run
	Steps uint64 `json:"steps"`

	// HaltReason tells why execution stopped
	HaltReason string `json:"halt_reason"`

	// ExitCode is R0 at a supervisor call halt
	ExitCode int64 `json:"exit_code"`

	// Passed is true when the halt, exit code and final state matched
	Passed bool `json:"passed"`

	// Failure describes the first mismatch when Passed is false
	Failure string `json:"failure,omitempty"`

	// ReplayConsistent is true when replaying History from the baseline
	// reproduced the live state
	ReplayConsistent bool `json:"replay_consistent"`

	// RollbackConsistent is true when rolling back every mutation revisited
	// each replayed state and ended at the baseline
	RollbackConsistent bool `json:"rollback_consistent"`

	// Rollbacks is the number of mutations undone during verification
	Rollbacks int `json:"rollbacks"`

	// DecodeHits/Misses count decoded-instruction cache lookups
	DecodeHits   uint64 `json:"decode_hits"`
	DecodeMisses uint64 `json:"decode_misses"`

	// WallTime is the time spent in Run, excluding verification
	WallTime time.Duration `json:"wall_time_ns"`

	// StepsPerSecond is Steps over WallTime
	StepsPerSecond float64 `json:"steps_per_second"`
}

// Benchmark defines a single sample program.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark exercises
	Description string

	// Code holds the program halfwords in execution order
	Code []uint16

	// Registers are initial register values applied after reset
	Registers map[emu.Register]uint32

	// ExpectedHalt is the halt reason the program must stop with
	ExpectedHalt emu.HaltReason

	// ExpectedExit is checked when ExpectedHalt is a supervisor call
	ExpectedExit int64

	// Verify checks the final state, may be nil
	Verify func(st *emu.State) error
}

// Image builds the loadable image of the benchmark.
func (b Benchmark) Image(order binary.ByteOrder) emu.Image {
	return emu.Image{
		Entry:     ProgramAddress | 1,
		InitialSP: StackTop,
		Segments: []emu.Segment{{
			Addr:       ProgramAddress,
			Data:       BuildProgram(order, b.Code...),
			Executable: true,
		}},
		Registers: b.Registers,
		ByteOrder: order,
	}
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Sim configures every emulator the harness creates (default:
	// config.DefaultConfig())
	Sim *config.Config

	// Logger receives emulator logs (default: discarded)
	Logger logrus.FieldLogger

	// VerifyReplay enables the replay and rollback checks
	VerifyReplay bool

	// Language selects number formatting in PrintResults
	Language language.Tag

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Sim:          config.DefaultConfig(),
		VerifyReplay: true,
		Language:     language.English,
		Output:       os.Stdout,
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// Benchmarks returns the registered benchmarks.
func (h *Harness) Benchmarks() []Benchmark {
	return h.benchmarks
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll() []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		result := h.RunBenchmark(bench)
		results = append(results, result)
	}

	return results
}

func (h *Harness) simConfig() *config.Config {
	if h.config.Sim == nil {
		return config.DefaultConfig()
	}
	return h.config.Sim
}

// RunBenchmark executes a single benchmark on a fresh emulator.
func (h *Harness) RunBenchmark(bench Benchmark) BenchmarkResult {
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
	}

	cfg := h.simConfig()
	order, err := cfg.ByteOrder()
	if err != nil {
		result.Failure = err.Error()
		return result
	}

	opts := []emu.EmulatorOption{emu.WithConfig(cfg)}
	if h.config.Logger != nil {
		opts = append(opts, emu.WithLogger(h.config.Logger))
	}
	e := emu.NewEmulator(opts...)

	counter := &emu.StepCounter{}
	e.AcceptHook(counter)

	if err := e.Load(bench.Image(order)); err != nil {
		result.Failure = err.Error()
		return result
	}

	start := time.Now()
	run := e.Run(0)
	result.WallTime = time.Since(start)

	result.Steps = run.Steps
	result.HaltReason = run.Reason.String()
	result.ExitCode = run.ExitCode
	if result.WallTime > 0 {
		result.StepsPerSecond = float64(run.Steps) / result.WallTime.Seconds()
	}

	stats := e.DecodeCacheStats()
	result.DecodeHits = stats.Hits
	result.DecodeMisses = stats.Misses

	if err := checkRun(bench, run, e.State()); err != nil {
		result.Failure = err.Error()
	} else {
		result.Passed = true
	}

	if h.config.VerifyReplay {
		result.ReplayConsistent = verifyReplay(e)
		result.RollbackConsistent = verifyRollback(e)
		result.Rollbacks = counter.Rollbacks
	}

	if h.config.Verbose {
		_, _ = fmt.Fprintf(h.config.Output, "%s: %d steps, %s\n",
			bench.Name, result.Steps, result.HaltReason)
	}

	return result
}

func checkRun(bench Benchmark, run emu.RunResult, final *emu.State) error {
	if run.Err != nil {
		return run.Err
	}
	if run.Stop != emu.StopHalted {
		return fmt.Errorf("stopped by %s", run.Stop)
	}
	if run.Reason != bench.ExpectedHalt {
		return fmt.Errorf("halted by %s, want %s", run.Reason, bench.ExpectedHalt)
	}
	if bench.ExpectedHalt == emu.HaltSupervisorCall && run.ExitCode != bench.ExpectedExit {
		return fmt.Errorf("exit code %d, want %d", run.ExitCode, bench.ExpectedExit)
	}
	if bench.Verify != nil {
		return bench.Verify(final)
	}
	return nil
}

// verifyReplay checks that the newest replayed state equals the live state.
func verifyReplay(e *emu.Emulator) bool {
	n := e.HistoryLen()
	if n == 0 {
		return e.State().Equal(e.Baseline())
	}

	replayed, err := e.StateAt(n - 1)
	if err != nil {
		return false
	}
	return replayed.Equal(e.State())
}

// verifyRollback undoes every mutation, checking after each one that the
// live state equals the replayed state of the entry before it.
func verifyRollback(e *emu.Emulator) bool {
	for n := e.HistoryLen(); n > 0; n-- {
		if err := e.RollbackLastMutation(); err != nil {
			return false
		}
		if n == 1 {
			break
		}
		want, err := e.StateAt(n - 2)
		if err != nil || !want.Equal(e.State()) {
			return false
		}
	}
	return e.State().Equal(e.Baseline())
}

func (h *Harness) printer() *message.Printer {
	return message.NewPrinter(h.config.Language)
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	p := h.printer()
	w := h.config.Output

	_, _ = p.Fprintln(w, "=== M0Sim Benchmark Results ===")
	_, _ = p.Fprintln(w, "")

	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}

		_, _ = p.Fprintf(w, "Benchmark: %s [%s]\n", r.Name, status)
		_, _ = p.Fprintf(w, "  Description: %s\n", r.Description)
		_, _ = p.Fprintf(w, "  Halt:        %s\n", r.HaltReason)
		_, _ = p.Fprintf(w, "  Exit Code:   %d\n", r.ExitCode)
		_, _ = p.Fprintf(w, "  Steps:       %d\n", r.Steps)
		if r.Failure != "" {
			_, _ = p.Fprintf(w, "  Failure:     %s\n", r.Failure)
		}
		if h.config.VerifyReplay {
			_, _ = p.Fprintln(w, "  --- Reversibility ---")
			_, _ = p.Fprintf(w, "  Replay:      %t\n", r.ReplayConsistent)
			_, _ = p.Fprintf(w, "  Rollback:    %t (%d undone)\n", r.RollbackConsistent, r.Rollbacks)
		}
		if r.DecodeHits > 0 || r.DecodeMisses > 0 {
			_, _ = p.Fprintln(w, "  --- Decode Cache ---")
			_, _ = p.Fprintf(w, "  Hits:   %d\n", r.DecodeHits)
			_, _ = p.Fprintf(w, "  Misses: %d\n", r.DecodeMisses)
		}
		_, _ = p.Fprintf(w, "  Throughput: %.0f steps/s\n", r.StepsPerSecond)
		_, _ = p.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		_, _ = p.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,steps,halt_reason,exit_code,passed,replay_consistent,rollback_consistent,decode_hits,decode_misses,wall_time_ns")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%d,%s,%d,%t,%t,%t,%d,%d,%d\n",
			r.Name,
			r.Steps,
			r.HaltReason,
			r.ExitCode,
			r.Passed,
			r.ReplayConsistent,
			r.RollbackConsistent,
			r.DecodeHits,
			r.DecodeMisses,
			r.WallTime.Nanoseconds(),
		)
	}
}

// BenchmarkReport is the JSON document written by PrintJSON.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata describes the run that produced a report.
type ReportMetadata struct {
	Timestamp string         `json:"timestamp"`
	Config    *config.Config `json:"config"`
}

// ReportSummary aggregates a report.
type ReportSummary struct {
	TotalBenchmarks int           `json:"total_benchmarks"`
	Passed          int           `json:"passed"`
	TotalSteps      uint64        `json:"total_steps"`
	TotalWallTime   time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		if r.Passed {
			s.Passed++
		}
		s.TotalSteps += r.Steps
		s.TotalWallTime += r.WallTime
	}
	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Config:    h.simConfig(),
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
