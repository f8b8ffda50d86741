package insts

// Op represents a Thumb mnemonic. A mnemonic may have several encodings.
type Op uint8

// ARMv6-M mnemonics.
const (
	OpUnknown Op = iota
	OpADC
	OpADD
	OpADR
	OpAND
	OpASR
	OpB
	OpBIC
	OpBKPT
	OpBL
	OpBLX
	OpBX
	OpCMN
	OpCMP
	OpCPS
	OpDMB
	OpDSB
	OpEOR
	OpISB
	OpLDM
	OpLDR
	OpLDRB
	OpLDRH
	OpLDRSB
	OpLDRSH
	OpLSL
	OpLSR
	OpMOV
	OpMRS
	OpMSR
	OpMUL
	OpMVN
	OpNOP
	OpORR
	OpPOP
	OpPUSH
	OpREV
	OpREV16
	OpREVSH
	OpROR
	OpRSB
	OpSBC
	OpSEV
	OpSTM
	OpSTR
	OpSTRB
	OpSTRH
	OpSUB
	OpSVC
	OpSXTB
	OpSXTH
	OpTST
	OpUDF
	OpUXTB
	OpUXTH
	OpWFE
	OpWFI
	OpYIELD

	numOps
)

// Class groups mnemonics by the kind of state they change.
type Class uint8

// Instruction classes.
const (
	ClassUnknown Class = iota
	ClassData          // writes a register, may set flags
	ClassCompare       // sets flags only
	ClassLoad          // reads memory into registers
	ClassStore         // writes registers to memory
	ClassBranch        // redefines PC
	ClassSystem        // special-purpose registers
	ClassHint          // no architectural effect besides PC
	ClassTrap          // breakpoint, supervisor call, undefined
)

// OpInfo is the catalog entry of a mnemonic.
type OpInfo struct {
	Name      string
	Class     Class
	SetsFlags bool // updates APSR when executed outside an IT block
	MayBranch bool // can write PC directly
}

var opCatalog = [numOps]OpInfo{
	OpUnknown: {Name: "unknown"},
	OpADC:     {Name: "adc", Class: ClassData, SetsFlags: true},
	OpADD:     {Name: "add", Class: ClassData, SetsFlags: true, MayBranch: true},
	OpADR:     {Name: "adr", Class: ClassData},
	OpAND:     {Name: "and", Class: ClassData, SetsFlags: true},
	OpASR:     {Name: "asr", Class: ClassData, SetsFlags: true},
	OpB:       {Name: "b", Class: ClassBranch, MayBranch: true},
	OpBIC:     {Name: "bic", Class: ClassData, SetsFlags: true},
	OpBKPT:    {Name: "bkpt", Class: ClassTrap},
	OpBL:      {Name: "bl", Class: ClassBranch, MayBranch: true},
	OpBLX:     {Name: "blx", Class: ClassBranch, MayBranch: true},
	OpBX:      {Name: "bx", Class: ClassBranch, MayBranch: true},
	OpCMN:     {Name: "cmn", Class: ClassCompare, SetsFlags: true},
	OpCMP:     {Name: "cmp", Class: ClassCompare, SetsFlags: true},
	OpCPS:     {Name: "cps", Class: ClassSystem},
	OpDMB:     {Name: "dmb", Class: ClassHint},
	OpDSB:     {Name: "dsb", Class: ClassHint},
	OpEOR:     {Name: "eor", Class: ClassData, SetsFlags: true},
	OpISB:     {Name: "isb", Class: ClassHint},
	OpLDM:     {Name: "ldm", Class: ClassLoad},
	OpLDR:     {Name: "ldr", Class: ClassLoad},
	OpLDRB:    {Name: "ldrb", Class: ClassLoad},
	OpLDRH:    {Name: "ldrh", Class: ClassLoad},
	OpLDRSB:   {Name: "ldrsb", Class: ClassLoad},
	OpLDRSH:   {Name: "ldrsh", Class: ClassLoad},
	OpLSL:     {Name: "lsl", Class: ClassData, SetsFlags: true},
	OpLSR:     {Name: "lsr", Class: ClassData, SetsFlags: true},
	OpMOV:     {Name: "mov", Class: ClassData, SetsFlags: true, MayBranch: true},
	OpMRS:     {Name: "mrs", Class: ClassSystem},
	OpMSR:     {Name: "msr", Class: ClassSystem},
	OpMUL:     {Name: "mul", Class: ClassData, SetsFlags: true},
	OpMVN:     {Name: "mvn", Class: ClassData, SetsFlags: true},
	OpNOP:     {Name: "nop", Class: ClassHint},
	OpORR:     {Name: "orr", Class: ClassData, SetsFlags: true},
	OpPOP:     {Name: "pop", Class: ClassLoad, MayBranch: true},
	OpPUSH:    {Name: "push", Class: ClassStore},
	OpREV:     {Name: "rev", Class: ClassData},
	OpREV16:   {Name: "rev16", Class: ClassData},
	OpREVSH:   {Name: "revsh", Class: ClassData},
	OpROR:     {Name: "ror", Class: ClassData, SetsFlags: true},
	OpRSB:     {Name: "rsb", Class: ClassData, SetsFlags: true},
	OpSBC:     {Name: "sbc", Class: ClassData, SetsFlags: true},
	OpSEV:     {Name: "sev", Class: ClassHint},
	OpSTM:     {Name: "stm", Class: ClassStore},
	OpSTR:     {Name: "str", Class: ClassStore},
	OpSTRB:    {Name: "strb", Class: ClassStore},
	OpSTRH:    {Name: "strh", Class: ClassStore},
	OpSUB:     {Name: "sub", Class: ClassData, SetsFlags: true},
	OpSVC:     {Name: "svc", Class: ClassTrap},
	OpSXTB:    {Name: "sxtb", Class: ClassData},
	OpSXTH:    {Name: "sxth", Class: ClassData},
	OpTST:     {Name: "tst", Class: ClassCompare, SetsFlags: true},
	OpUDF:     {Name: "udf", Class: ClassTrap},
	OpUXTB:    {Name: "uxtb", Class: ClassData},
	OpUXTH:    {Name: "uxth", Class: ClassData},
	OpWFE:     {Name: "wfe", Class: ClassHint},
	OpWFI:     {Name: "wfi", Class: ClassHint},
	OpYIELD:   {Name: "yield", Class: ClassHint},
}

// Info returns the catalog entry of the mnemonic.
func (op Op) Info() OpInfo {
	if op >= numOps {
		return opCatalog[OpUnknown]
	}
	return opCatalog[op]
}

// String returns the lower-case mnemonic.
func (op Op) String() string {
	return op.Info().Name
}

// Ops returns every known mnemonic, in catalog order.
func Ops() []Op {
	ops := make([]Op, 0, numOps-1)
	for op := OpUnknown + 1; op < numOps; op++ {
		ops = append(ops, op)
	}
	return ops
}

// Form identifies one encoding variant of a mnemonic. The names follow the
// ARMv6-M reference manual (operand form plus encoding number).
type Form uint8

// Encoding forms.
const (
	FormUnknown Form = iota
	FormT1
	FormT2
	FormImmediateT1
	FormImmediateT2
	FormRegisterT1
	FormRegisterT2
	FormSPPlusImmediateT1
	FormSPPlusImmediateT2
	FormSPPlusRegisterT1
	FormSPPlusRegisterT2
	FormSPMinusImmediateT1
	FormLiteralT1
)

var formNames = [...]string{
	FormUnknown:            "unknown",
	FormT1:                 "T1",
	FormT2:                 "T2",
	FormImmediateT1:        "immediate T1",
	FormImmediateT2:        "immediate T2",
	FormRegisterT1:         "register T1",
	FormRegisterT2:         "register T2",
	FormSPPlusImmediateT1:  "SP plus immediate T1",
	FormSPPlusImmediateT2:  "SP plus immediate T2",
	FormSPPlusRegisterT1:   "SP plus register T1",
	FormSPPlusRegisterT2:   "SP plus register T2",
	FormSPMinusImmediateT1: "SP minus immediate T1",
	FormLiteralT1:          "literal T1",
}

func (f Form) String() string {
	if int(f) >= len(formNames) {
		return formNames[FormUnknown]
	}
	return formNames[f]
}

// Cond represents a condition code of a conditional branch.
type Cond uint8

// Thumb condition codes.
const (
	CondEQ Cond = 0b0000 // Equal (Z == 1)
	CondNE Cond = 0b0001 // Not Equal (Z == 0)
	CondCS Cond = 0b0010 // Carry Set / Unsigned higher or same (C == 1)
	CondCC Cond = 0b0011 // Carry Clear / Unsigned lower (C == 0)
	CondMI Cond = 0b0100 // Minus / Negative (N == 1)
	CondPL Cond = 0b0101 // Plus / Positive or zero (N == 0)
	CondVS Cond = 0b0110 // Overflow (V == 1)
	CondVC Cond = 0b0111 // No overflow (V == 0)
	CondHI Cond = 0b1000 // Unsigned higher (C == 1 && Z == 0)
	CondLS Cond = 0b1001 // Unsigned lower or same (C == 0 || Z == 1)
	CondGE Cond = 0b1010 // Signed greater than or equal (N == V)
	CondLT Cond = 0b1011 // Signed less than (N != V)
	CondGT Cond = 0b1100 // Signed greater than (Z == 0 && N == V)
	CondLE Cond = 0b1101 // Signed less than or equal (Z == 1 || N != V)
	CondAL Cond = 0b1110 // Always; reserved, the encoding space is UDF
)

var condNames = [...]string{
	"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "", "",
}

func (c Cond) String() string {
	return condNames[c&0xF]
}

// Width is the size class of an encoding.
type Width uint8

// Encoding widths.
const (
	Width16 Width = 16
	Width32 Width = 32
)

// Bytes returns the number of bytes an encoding of this width occupies.
func (w Width) Bytes() int {
	return int(w) / 8
}

// Well-known register numbers.
const (
	RegSP uint8 = 13
	RegLR uint8 = 14
	RegPC uint8 = 15
)

// Instruction represents a decoded Thumb instruction. It is plain data: the
// Op, Form and Width tag the variant and the remaining fields carry the raw
// bit-fields of the encoding. Immediates are not scaled or sign-extended.
type Instruction struct {
	Op    Op    // Mnemonic
	Form  Form  // Encoding variant
	Width Width // 16 or 32
	Raw   uint32

	Rd uint8 // Destination register (0-15)
	Rn uint8 // First operand / base register
	Rm uint8 // Second operand / offset register
	Rt uint8 // Transfer register of loads and stores

	// Imm is the raw immediate. Split immediates (imm10:imm11 of BL,
	// imm4:imm12 of UDF) are concatenated in layout order.
	Imm uint32

	Cond         Cond  // Condition of B T1
	RegisterList uint8 // Low register list of PUSH, POP, LDM, STM
	Extra        bool  // M bit of PUSH, P bit of POP, im bit of CPS

	S, J1, J2 uint8 // BL offset bits
	SYSm      uint8 // Special register selector of MRS / MSR
	Option    uint8 // Barrier option of DMB / DSB / ISB
}

// Size returns the number of bytes the instruction occupies.
func (i Instruction) Size() int {
	return i.Width.Bytes()
}

// ListedRegisters returns the registers named by a PUSH, POP, LDM or STM in
// ascending order. The extra bit adds LR to PUSH and PC to POP.
func (i Instruction) ListedRegisters() []uint8 {
	var regs []uint8
	for r := uint8(0); r < 8; r++ {
		if i.RegisterList&(1<<r) != 0 {
			regs = append(regs, r)
		}
	}
	if i.Extra {
		switch i.Op {
		case OpPUSH:
			regs = append(regs, RegLR)
		case OpPOP:
			regs = append(regs, RegPC)
		}
	}
	return regs
}

// BranchOffset returns the sign-extended byte offset of B and BL, relative
// to the instruction address plus 4.
func (i Instruction) BranchOffset() int32 {
	switch {
	case i.Op == OpB && i.Form == FormT1:
		return signExtend(i.Imm<<1, 9)
	case i.Op == OpB && i.Form == FormT2:
		return signExtend(i.Imm<<1, 12)
	case i.Op == OpBL:
		i1 := ^(i.J1 ^ i.S) & 1
		i2 := ^(i.J2 ^ i.S) & 1
		v := uint32(i.S)<<24 | uint32(i1)<<23 | uint32(i2)<<22 | i.Imm<<1
		return signExtend(v, 25)
	}
	return 0
}

// SetsFlags reports whether executing the instruction updates APSR.
func (i Instruction) SetsFlags() bool {
	if !i.Op.Info().SetsFlags {
		return false
	}
	switch {
	case i.Op == OpADD && i.Form != FormImmediateT1 && i.Form != FormImmediateT2 && i.Form != FormRegisterT1:
		return false
	case i.Op == OpSUB && i.Form == FormSPMinusImmediateT1:
		return false
	case i.Op == OpMOV && i.Form == FormRegisterT1:
		return false
	}
	return true
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// TransferSize returns the number of bytes moved by a single load or store.
func TransferSize(op Op) int {
	switch op {
	case OpLDRB, OpLDRSB, OpSTRB:
		return 1
	case OpLDRH, OpLDRSH, OpSTRH:
		return 2
	}
	return 4
}

// shiftAmount decodes the imm5 shift of LSL, LSR and ASR; 0 means 32 for
// the right shifts.
func shiftAmount(op Op, imm uint32) uint32 {
	if imm == 0 && (op == OpLSR || op == OpASR) {
		return 32
	}
	return imm
}

// ShiftAmount returns the decoded immediate shift of LSL, LSR and ASR.
func (i Instruction) ShiftAmount() uint32 {
	return shiftAmount(i.Op, i.Imm)
}
