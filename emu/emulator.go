// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/m0sim/cache"
	"github.com/sarchlab/m0sim/config"
	"github.com/sarchlab/m0sim/insts"
)

// Status is the lifecycle state of an Emulator.
type Status uint8

// Emulator states.
const (
	// StatusLoaded means an image is loaded and History is empty.
	StatusLoaded Status = iota
	// StatusRunning means at least one mutation is in History.
	StatusRunning
	// StatusHalted means execution stopped on a trap, an undefined
	// instruction, a fault or exhausted input.
	StatusHalted
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusRunning:
		return "running"
	case StatusHalted:
		return "halted"
	}
	return "unknown"
}

// HaltReason tells why the emulator halted.
type HaltReason uint8

// Halt reasons.
const (
	HaltNone HaltReason = iota
	HaltBreakpoint
	HaltSupervisorCall
	HaltUndefinedInstruction
	HaltDecodeFailure
	HaltFault
	HaltInputExhausted
)

func (r HaltReason) String() string {
	switch r {
	case HaltNone:
		return "none"
	case HaltBreakpoint:
		return "breakpoint"
	case HaltSupervisorCall:
		return "supervisor call"
	case HaltUndefinedInstruction:
		return "undefined instruction"
	case HaltDecodeFailure:
		return "decode failure"
	case HaltFault:
		return "fault"
	case HaltInputExhausted:
		return "input exhausted"
	}
	return "unknown"
}

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Mutation is the mutation appended to History, nil if none was.
	Mutation Mutation

	// Halted is true if the emulator is halted after this step.
	Halted bool

	// Reason is the halt reason if Halted is true.
	Reason HaltReason

	// ExitCode is R0 when the program halted on a supervisor call.
	ExitCode int64

	// Err is set if an error occurred during execution.
	Err error
}

// StopReason tells why Run returned.
type StopReason uint8

// Run stop reasons.
const (
	StopHalted StopReason = iota
	StopStepBudget
	StopHaltRequested
	StopError
)

func (r StopReason) String() string {
	switch r {
	case StopHalted:
		return "halted"
	case StopStepBudget:
		return "step budget"
	case StopHaltRequested:
		return "halt requested"
	case StopError:
		return "error"
	}
	return "unknown"
}

// RunResult represents the result of Run.
type RunResult struct {
	// Steps is the number of mutations appended by this call.
	Steps uint64
	// Stop tells why Run returned.
	Stop StopReason
	// Reason is the halt reason if Stop is StopHalted.
	Reason HaltReason
	// ExitCode is R0 when the program halted on a supervisor call.
	ExitCode int64
	// Err is the error that stopped the run, if any.
	Err error
}

// Segment is a block of bytes to place in memory at load time.
type Segment struct {
	Addr uint32
	Data []byte
	// Executable marks the segment as code. Instructions are fetched only
	// from executable segments.
	Executable bool
}

// Image is a loadable program.
type Image struct {
	Entry     uint32
	InitialSP uint32
	Segments  []Segment
	// Registers holds initial register values applied after reset.
	Registers map[Register]uint32
	// ByteOrder is the order of instruction halfwords in the image. Nil
	// keeps the emulator's decoder. An order fixed by
	// WithInstructionByteOrder, WithDecoder or the config wins over it.
	ByteOrder binary.ByteOrder
}

// DefaultCheckpointInterval is how often replay memoises a state.
const DefaultCheckpointInterval = 64

// Emulator executes ARMv6-M Thumb code and records every step as an
// invertible mutation. The live state always equals the baseline captured at
// load time transformed by History in order.
type Emulator struct {
	*sim.HookableBase

	state    *State
	baseline *State
	history  []Mutation

	decoder     *insts.Decoder
	fixedOrder  bool
	active      *insts.Decoder
	decodeCache *cache.Cache
	code        []Segment

	capacity  uint64
	initialSP uint32
	maxSteps  uint64

	status     Status
	haltReason HaltReason
	haltFlag   atomic.Bool

	mu                 sync.Mutex
	checkpointInterval int
	checkpoints        map[int]*State

	logger logrus.FieldLogger
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithLogger sets the logger. The default logger discards everything.
func WithLogger(logger logrus.FieldLogger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithStackPointer sets the initial main stack pointer used when an image
// does not carry one.
func WithStackPointer(sp uint32) EmulatorOption {
	return func(e *Emulator) {
		e.initialSP = sp
	}
}

// WithMemoryCapacity limits the address space to [0, capacity).
func WithMemoryCapacity(capacity uint64) EmulatorOption {
	return func(e *Emulator) {
		e.capacity = capacity
	}
}

// WithMaxSteps sets the step budget Run uses when called with 0.
// A value of 0 means no limit.
func WithMaxSteps(n uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxSteps = n
	}
}

// WithCheckpointInterval sets how many History entries lie between
// memoised replay states. A value of 0 disables memoisation.
func WithCheckpointInterval(n int) EmulatorOption {
	return func(e *Emulator) {
		e.checkpointInterval = n
	}
}

// WithDecoder sets the instruction decoder, used for every image.
func WithDecoder(d *insts.Decoder) EmulatorOption {
	return func(e *Emulator) {
		e.decoder = d
		e.fixedOrder = true
	}
}

// WithInstructionByteOrder sets the byte order of instruction halfwords for
// every image, whatever order the image declares.
func WithInstructionByteOrder(order binary.ByteOrder) EmulatorOption {
	return func(e *Emulator) {
		e.decoder = insts.NewDecoder(insts.WithByteOrder(order))
		e.fixedOrder = true
	}
}

// WithDecodeCache sets the geometry of the decoded-instruction cache. An
// invalid geometry falls back to cache.DefaultConfig.
func WithDecodeCache(cfg cache.Config) EmulatorOption {
	return func(e *Emulator) {
		if !cfg.Validate() {
			e.logger.WithField("config", cfg).Warn("invalid decode cache config, using defaults")
			cfg = cache.DefaultConfig()
		}
		e.decodeCache = cache.New(cfg)
	}
}

// WithoutDecodeCache decodes every fetch.
func WithoutDecodeCache() EmulatorOption {
	return func(e *Emulator) {
		e.decodeCache = nil
	}
}

// WithConfig applies the memory, stack, budget, checkpoint and decoding
// settings of a validated config.
func WithConfig(c *config.Config) EmulatorOption {
	return func(e *Emulator) {
		e.capacity = c.MemoryCapacity
		e.initialSP = c.InitialSP
		e.maxSteps = c.MaxSteps
		e.checkpointInterval = c.CheckpointInterval
		if c.FixedByteOrder() {
			if order, err := c.ByteOrder(); err == nil {
				e.decoder = insts.NewDecoder(insts.WithByteOrder(order))
				e.fixedOrder = true
			}
		}
		if !c.DecodeCache {
			e.decodeCache = nil
		}
	}
}

// NewEmulator creates an emulator holding an empty image.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	e := &Emulator{
		HookableBase:       sim.NewHookableBase(),
		decoder:            insts.NewDecoder(),
		decodeCache:        cache.New(cache.DefaultConfig()),
		capacity:           DefaultCapacity,
		checkpointInterval: DefaultCheckpointInterval,
		logger:             discard,
	}

	for _, opt := range opts {
		opt(e)
	}

	_ = e.Load(Image{})

	return e
}

// Load resets the emulator, places the image in memory and captures the
// baseline snapshot.
func (e *Emulator) Load(img Image) error {
	st := NewState(WithCapacity(e.capacity))

	anyExec := false
	for _, seg := range img.Segments {
		anyExec = anyExec || seg.Executable
	}

	var code []Segment
	for _, seg := range img.Segments {
		if err := st.Mem.LoadProgram(seg.Addr, seg.Data); err != nil {
			return fmt.Errorf("failed to load segment at 0x%08X: %w", seg.Addr, err)
		}
		if seg.Executable || !anyExec {
			code = append(code, seg)
		}
	}

	sp := img.InitialSP
	if sp == 0 {
		sp = e.initialSP
	}
	st.Regs.Write(SPMain, sp)
	st.Regs.Write(PC, img.Entry&^1)
	for reg, v := range img.Registers {
		st.Regs.Write(reg, v)
	}

	e.active = e.decoder
	if img.ByteOrder != nil && !e.fixedOrder && img.ByteOrder != e.decoder.ByteOrder() {
		e.active = insts.NewDecoder(insts.WithByteOrder(img.ByteOrder))
	}

	e.state = st
	e.baseline = st.Clone()
	e.code = code
	e.history = nil
	e.status = StatusLoaded
	e.haltReason = HaltNone
	e.haltFlag.Store(false)

	e.mu.Lock()
	e.checkpoints = make(map[int]*State)
	e.mu.Unlock()

	if e.decodeCache != nil {
		e.decodeCache.Reset()
	}

	e.logger.WithFields(logrus.Fields{
		"entry":    fmt.Sprintf("0x%08X", img.Entry),
		"segments": len(img.Segments),
		"order":    e.active.ByteOrder(),
	}).Debug("image loaded")

	return nil
}

// LoadBytes loads a raw code image at addr and starts execution there.
func (e *Emulator) LoadBytes(addr uint32, program []byte) error {
	return e.Load(Image{
		Entry:    addr,
		Segments: []Segment{{Addr: addr, Data: program, Executable: true}},
	})
}

// InstructionByteOrder returns the halfword order used to decode the
// loaded image.
func (e *Emulator) InstructionByteOrder() binary.ByteOrder {
	return e.active.ByteOrder()
}

// Status returns the lifecycle state.
func (e *Emulator) Status() Status {
	return e.status
}

// HaltReason returns why the emulator halted, HaltNone unless halted.
func (e *Emulator) HaltReason() HaltReason {
	return e.haltReason
}

// RequestHalt asks a running Run to return before its next step. It is the
// only method safe to call from another goroutine during Run.
func (e *Emulator) RequestHalt() {
	e.haltFlag.Store(true)
}

// Registers returns a copy of the live register file.
func (e *Emulator) Registers() *RegFile {
	return e.state.Regs.Clone()
}

// Memory returns a snapshot of the live memory.
func (e *Emulator) Memory() *Memory {
	return e.state.Mem.Clone()
}

// State returns a snapshot of the live state.
func (e *Emulator) State() *State {
	return e.state.Clone()
}

// Baseline returns a copy of the state captured at load time.
func (e *Emulator) Baseline() *State {
	return e.baseline.Clone()
}

// History returns the applied mutations, oldest first.
func (e *Emulator) History() []Mutation {
	out := make([]Mutation, len(e.history))
	copy(out, e.history)
	return out
}

// HistoryLen returns the number of applied mutations.
func (e *Emulator) HistoryLen() int {
	return len(e.history)
}

// DecodeCacheStats returns the decoded-instruction cache statistics.
func (e *Emulator) DecodeCacheStats() cache.Statistics {
	if e.decodeCache == nil {
		return cache.Statistics{}
	}
	return e.decodeCache.Stats()
}

// fetch returns up to 4 bytes at pc, clipped to the end of the code segment
// holding pc. It returns nil when no code remains at pc.
func (e *Emulator) fetch(pc uint32) ([]byte, error) {
	for _, seg := range e.code {
		end := uint64(seg.Addr) + uint64(len(seg.Data))
		if uint64(pc) < uint64(seg.Addr) || uint64(pc) >= end {
			continue
		}
		n := end - uint64(pc)
		if n > 4 {
			n = 4
		}
		return e.state.Mem.ReadBytes(pc, int(n))
	}
	return nil, nil
}

func (e *Emulator) decode(pc uint32, raw []byte) (insts.Instruction, int, error) {
	if e.decodeCache != nil {
		if inst, n, ok := e.decodeCache.Lookup(pc, raw); ok {
			return inst, n, nil
		}
	}

	inst, n, err := e.active.Decode(raw)
	if err != nil {
		return inst, n, err
	}

	if e.decodeCache != nil {
		e.decodeCache.Insert(pc, raw[:n], inst)
	}
	return inst, n, nil
}

// Step executes a single instruction: fetch at PC, decode, build the
// mutation, apply it and append it to History.
func (e *Emulator) Step() StepResult {
	if e.status == StatusHalted {
		return StepResult{Halted: true, Reason: e.haltReason, Err: ErrHalted}
	}

	pc := e.state.Regs.Read(PC)

	raw, err := e.fetch(pc)
	if err != nil {
		return e.fail(HaltFault, fmt.Errorf("fetch at 0x%08X: %w", pc, err))
	}
	if len(raw) == 0 {
		return e.halt(HaltInputExhausted)
	}

	inst, _, err := e.decode(pc, raw)
	if err != nil {
		reason := HaltDecodeFailure
		if errors.Is(err, insts.ErrUndefinedInstruction) {
			reason = HaltUndefinedInstruction
		}
		return e.fail(reason, fmt.Errorf("decode at 0x%08X: %w", pc, err))
	}

	m, err := BuildMutation(e.state, inst)
	if err != nil {
		reason := HaltFault
		if errors.Is(err, insts.ErrUndefinedInstruction) {
			reason = HaltUndefinedInstruction
		}
		return e.fail(reason, fmt.Errorf("execute %s at 0x%08X: %w", inst, pc, err))
	}

	if err := m.Apply(e.state); err != nil {
		return e.fail(HaltFault, fmt.Errorf("apply %s: %w", m, err))
	}

	e.history = append(e.history, m)
	e.status = StatusRunning

	e.logger.WithFields(logrus.Fields{
		"pc":    fmt.Sprintf("0x%08X", pc),
		"op":    inst.Op.String(),
		"index": len(e.history) - 1,
	}).Debug("step")

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    HookPosStep,
		Item:   m,
		Detail: len(e.history) - 1,
	})

	if t, ok := m.(*TrapMutation); ok {
		res := e.halt(t.Reason)
		res.Mutation = m
		return res
	}

	return StepResult{Mutation: m}
}

func (e *Emulator) halt(reason HaltReason) StepResult {
	e.status = StatusHalted
	e.haltReason = reason

	res := StepResult{Halted: true, Reason: reason}
	if reason == HaltSupervisorCall {
		res.ExitCode = int64(int32(e.state.Regs.Read(R0)))
	}

	e.logger.WithFields(logrus.Fields{
		"pc":     fmt.Sprintf("0x%08X", e.state.Regs.Read(PC)),
		"reason": reason.String(),
	}).Info("halted")

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    HookPosHalt,
		Detail: reason,
	})

	return res
}

func (e *Emulator) fail(reason HaltReason, err error) StepResult {
	e.logger.WithError(err).Warn("execution stopped")
	res := e.halt(reason)
	res.Err = err
	return res
}

// Run steps until the emulator halts, an error occurs, RequestHalt is
// called or maxSteps mutations have been appended. A maxSteps of 0 uses the
// configured budget.
func (e *Emulator) Run(maxSteps uint64) RunResult {
	if maxSteps == 0 {
		maxSteps = e.maxSteps
	}

	var res RunResult
	for maxSteps == 0 || res.Steps < maxSteps {
		if e.haltFlag.Swap(false) {
			res.Stop = StopHaltRequested
			return res
		}

		step := e.Step()
		if step.Mutation != nil {
			res.Steps++
		}
		if step.Err != nil {
			res.Stop = StopError
			res.Reason = step.Reason
			res.Err = step.Err
			return res
		}
		if step.Halted {
			res.Stop = StopHalted
			res.Reason = step.Reason
			res.ExitCode = step.ExitCode
			return res
		}
	}

	res.Stop = StopStepBudget
	return res
}

// RollbackLastMutation removes the newest mutation from History and
// restores every location it touched. Any halt is cleared, including one
// that no recorded mutation caused, such as a decode failure after the
// rolled-back step; the engine is then Running, or Loaded once History is
// empty. A halt with an empty History can only be left by loading again.
func (e *Emulator) RollbackLastMutation() error {
	if len(e.history) == 0 {
		return ErrRollbackOnEmptyHistory
	}

	last := len(e.history) - 1
	m := e.history[last]
	if err := m.Rollback(e.state); err != nil {
		return fmt.Errorf("rollback %s: %w", m, err)
	}

	e.history[last] = nil
	e.history = e.history[:last]
	e.dropCheckpoints(last)

	e.haltReason = HaltNone
	if len(e.history) == 0 {
		e.status = StatusLoaded
	} else {
		e.status = StatusRunning
	}

	e.logger.WithFields(logrus.Fields{
		"pc":    fmt.Sprintf("0x%08X", m.Address()),
		"index": last,
	}).Debug("rollback")

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    HookPosRollback,
		Item:   m,
		Detail: last,
	})

	return nil
}
