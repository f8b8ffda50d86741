// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import "github.com/sarchlab/m0sim/insts"

// effectiveAddress computes the address of a single load or store.
func (b *builder) effectiveAddress() uint32 {
	inst := b.inst
	switch inst.Form {
	case insts.FormImmediateT1:
		return b.operand(inst.Rn) + inst.Imm*uint32(insts.TransferSize(inst.Op))
	case insts.FormImmediateT2:
		return b.s.Regs.Read(SP) + inst.Imm<<2
	case insts.FormLiteralT1:
		return align4(b.addr+4) + inst.Imm<<2
	default:
		return b.operand(inst.Rn) + b.operand(inst.Rm)
	}
}

// buildLoad builds LDR, LDRB, LDRH, LDRSB, LDRSH, LDM and POP.
func (b *builder) buildLoad() (Mutation, error) {
	inst := b.inst

	switch inst.Op {
	case insts.OpLDM:
		return b.buildLDM()
	case insts.OpPOP:
		return b.buildPOP()
	}

	addr := b.effectiveAddress()
	size := insts.TransferSize(inst.Op)
	value, err := b.load(addr, size)
	if err != nil {
		return nil, err
	}

	switch inst.Op {
	case insts.OpLDRSB:
		value = b.alu.SXTB(value)
	case insts.OpLDRSH:
		value = b.alu.SXTH(value)
	}

	b.setIndex(inst.Rt, value)
	return &LoadMutation{effect: b.finish(), EffectiveAddress: addr, Value: value}, nil
}

// buildStore builds STR, STRB, STRH, STM and PUSH.
func (b *builder) buildStore() (Mutation, error) {
	inst := b.inst

	switch inst.Op {
	case insts.OpSTM:
		return b.buildSTM()
	case insts.OpPUSH:
		return b.buildPUSH()
	}

	addr := b.effectiveAddress()
	size := insts.TransferSize(inst.Op)
	value := b.operand(inst.Rt)
	if err := b.store(addr, size, value); err != nil {
		return nil, err
	}

	return &StoreMutation{effect: b.finish(), EffectiveAddress: addr, Value: value}, nil
}

// buildLDM loads the listed registers from ascending addresses starting at
// Rn. Rn is written back unless it is in the list.
func (b *builder) buildLDM() (Mutation, error) {
	inst := b.inst
	regs := inst.ListedRegisters()
	base := b.operand(inst.Rn)

	addr := base
	for _, r := range regs {
		v, err := b.load(addr, 4)
		if err != nil {
			return nil, err
		}
		b.setIndex(r, v)
		addr += 4
	}

	writeback := inst.RegisterList&(1<<inst.Rn) == 0
	if writeback {
		b.setIndex(inst.Rn, addr)
	}

	return &LoadMultipleMutation{
		effect:    b.finish(),
		Base:      base,
		Registers: regs,
		Writeback: writeback,
	}, nil
}

// buildSTM stores the listed registers to ascending addresses starting at
// Rn and writes back Rn.
func (b *builder) buildSTM() (Mutation, error) {
	inst := b.inst
	regs := inst.ListedRegisters()
	base := b.operand(inst.Rn)

	addr := base
	for _, r := range regs {
		if err := b.store(addr, 4, b.operand(r)); err != nil {
			return nil, err
		}
		addr += 4
	}
	b.setIndex(inst.Rn, addr)

	return &StoreMultipleMutation{effect: b.finish(), Base: base, Registers: regs}, nil
}

// buildPUSH stores the listed registers in ascending order at ascending
// addresses from SP - 4*count, LR last, and lowers SP.
func (b *builder) buildPUSH() (Mutation, error) {
	regs := b.inst.ListedRegisters()
	oldSP := b.s.Regs.Read(SP)
	newSP := oldSP - 4*uint32(len(regs))

	addr := newSP
	for _, r := range regs {
		if err := b.store(addr, 4, b.operand(r)); err != nil {
			return nil, err
		}
		addr += 4
	}
	b.setReg(SP, newSP)

	return &PushMutation{effect: b.finish(), OldSP: oldSP, NewSP: newSP, Registers: regs}, nil
}

// buildPOP loads the listed registers from ascending addresses at SP, PC
// last, and raises SP. A popped PC has bit 0 cleared.
func (b *builder) buildPOP() (Mutation, error) {
	regs := b.inst.ListedRegisters()
	oldSP := b.s.Regs.Read(SP)

	addr := oldSP
	for _, r := range regs {
		v, err := b.load(addr, 4)
		if err != nil {
			return nil, err
		}
		b.setIndex(r, v)
		addr += 4
	}
	b.setReg(SP, addr)

	return &PopMutation{effect: b.finish(), OldSP: oldSP, NewSP: addr, Registers: regs}, nil
}
