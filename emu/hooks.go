// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sirupsen/logrus"
)

// Hook positions invoked by the Emulator.
var (
	// HookPosStep is invoked after a mutation is appended. Item is the
	// Mutation, Detail its History index.
	HookPosStep = &sim.HookPos{Name: "Step"}

	// HookPosRollback is invoked after a mutation is rolled back. Item is
	// the Mutation, Detail its former History index.
	HookPosRollback = &sim.HookPos{Name: "Rollback"}

	// HookPosHalt is invoked when the emulator halts. Detail is the
	// HaltReason.
	HookPosHalt = &sim.HookPos{Name: "Halt"}
)

// TraceHook logs every mutation and rollback.
type TraceHook struct {
	logger logrus.FieldLogger
}

// NewTraceHook creates a hook that writes one entry per event to logger.
func NewTraceHook(logger logrus.FieldLogger) *TraceHook {
	return &TraceHook{logger: logger}
}

// Func implements sim.Hook.
func (h *TraceHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosStep:
		m := ctx.Item.(Mutation)
		h.logger.WithFields(logrus.Fields{
			"index": ctx.Detail,
			"next":  fmt.Sprintf("0x%08X", m.NextPC()),
		}).Info(m.String())
	case HookPosRollback:
		m := ctx.Item.(Mutation)
		h.logger.WithField("index", ctx.Detail).Info("rollback " + m.String())
	case HookPosHalt:
		h.logger.WithField("reason", ctx.Detail).Info("halt")
	}
}

// StepCounter counts hook events by position.
type StepCounter struct {
	Steps     int
	Rollbacks int
	Halts     int
}

// Func implements sim.Hook.
func (c *StepCounter) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosStep:
		c.Steps++
	case HookPosRollback:
		c.Rollbacks++
	case HookPosHalt:
		c.Halts++
	}
}
