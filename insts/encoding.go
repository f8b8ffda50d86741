package insts

import (
	"fmt"
	"sort"
)

// FieldKind names what a run of encoding bits holds.
type FieldKind uint8

// Field kinds. FieldTag is a run of constant bits that must match; all other
// kinds are copied into the Instruction.
const (
	FieldTag          FieldKind = iota
	FieldRd                     // Rd
	FieldRn                     // Rn
	FieldRm                     // Rm
	FieldRt                     // Rt
	FieldRdn                    // Rd and Rn
	FieldRdm                    // Rd and Rm
	FieldDN                     // bit 3 of Rd and Rn
	FieldDM                     // bit 3 of Rd and Rm
	FieldD                      // bit 3 of Rd
	FieldN                      // bit 3 of Rn
	FieldImm                    // appended to Imm
	FieldCond                   // branch condition
	FieldRegisterList           // register list
	FieldExtra                  // M, P or im
	FieldS                      // BL sign bit
	FieldJ1                     // BL J1
	FieldJ2                     // BL J2
	FieldSYSm                   // special register selector
	FieldOption                 // barrier option
)

// Field is one run of bits of an encoding layout.
type Field struct {
	Kind  FieldKind
	Width uint8
	Value uint32 // required value of a FieldTag
}

// Encoding is one row of the decode table: a mnemonic, its encoding variant
// and the bit layout. The layout starts with Prefix (PrefixLen fixed bits)
// followed by Fields, left to right, MSB first. The widths add up to the
// encoding width.
type Encoding struct {
	Op        Op
	Form      Form
	Width     Width
	Prefix    uint32
	PrefixLen uint8
	Fields    []Field

	mask  uint32
	match uint32
	fixed int
}

// Group is the set of encodings of one mnemonic.
type Group struct {
	Op        Op
	Encodings []Encoding
}

// Specificity returns the number of fixed bits of the encoding (prefix plus
// constant tags).
func (e *Encoding) Specificity() int {
	return e.fixed
}

// Matches reports whether the word carries this encoding.
func (e *Encoding) Matches(word uint32) bool {
	return word&e.mask == e.match
}

// Mask returns the fixed-bit mask of the encoding.
func (e *Encoding) Mask() uint32 {
	return e.mask
}

// Match returns the value of the fixed bits under Mask.
func (e *Encoding) Match() uint32 {
	return e.match
}

func (e *Encoding) String() string {
	return fmt.Sprintf("%s (%s)", e.Op, e.Form)
}

// compile computes mask, match and specificity and checks that the layout
// covers exactly the encoding width.
func (e *Encoding) compile() error {
	total := int(e.PrefixLen)
	for _, f := range e.Fields {
		total += int(f.Width)
	}
	if total != int(e.Width) {
		return fmt.Errorf("%s: layout is %d bits, want %d", e, total, e.Width)
	}

	pos := int(e.Width)
	pos -= int(e.PrefixLen)
	prefixMask := uint32(1)<<e.PrefixLen - 1
	e.mask = prefixMask << pos
	e.match = (e.Prefix & prefixMask) << pos
	e.fixed = int(e.PrefixLen)

	for _, f := range e.Fields {
		pos -= int(f.Width)
		if f.Kind != FieldTag {
			continue
		}
		m := uint32(1)<<f.Width - 1
		e.mask |= m << pos
		e.match |= (f.Value & m) << pos
		e.fixed += int(f.Width)
	}

	return nil
}

// extract copies the fields of word into inst, MSB first.
func (e *Encoding) extract(word uint32, inst *Instruction) {
	inst.Op = e.Op
	inst.Form = e.Form
	inst.Width = e.Width
	inst.Raw = word

	pos := int(e.Width) - int(e.PrefixLen)
	for _, f := range e.Fields {
		pos -= int(f.Width)
		v := (word >> pos) & (uint32(1)<<f.Width - 1)
		r := uint8(v)

		switch f.Kind {
		case FieldTag:
		case FieldRd:
			inst.Rd |= r
		case FieldRn:
			inst.Rn |= r
		case FieldRm:
			inst.Rm |= r
		case FieldRt:
			inst.Rt |= r
		case FieldRdn:
			inst.Rd |= r
			inst.Rn |= r
		case FieldRdm:
			inst.Rd |= r
			inst.Rm |= r
		case FieldDN:
			inst.Rd |= r << 3
			inst.Rn |= r << 3
		case FieldDM:
			inst.Rd |= r << 3
			inst.Rm |= r << 3
		case FieldD:
			inst.Rd |= r << 3
		case FieldN:
			inst.Rn |= r << 3
		case FieldImm:
			inst.Imm = inst.Imm<<f.Width | v
		case FieldCond:
			inst.Cond = Cond(r)
		case FieldRegisterList:
			inst.RegisterList = r
		case FieldExtra:
			inst.Extra = v == 1
		case FieldS:
			inst.S = r
		case FieldJ1:
			inst.J1 = r
		case FieldJ2:
			inst.J2 = r
		case FieldSYSm:
			inst.SYSm = r
		case FieldOption:
			inst.Option = r
		}
	}
}

// Shorthands for the tables below.
func fld(kind FieldKind, width uint8) Field { return Field{Kind: kind, Width: width} }
func tag(value uint32, width uint8) Field   { return Field{Kind: FieldTag, Width: width, Value: value} }

var (
	rd3   = fld(FieldRd, 3)
	rn3   = fld(FieldRn, 3)
	rm3   = fld(FieldRm, 3)
	rt3   = fld(FieldRt, 3)
	rdn3  = fld(FieldRdn, 3)
	rdm3  = fld(FieldRdm, 3)
	rm4   = fld(FieldRm, 4)
	imm3  = fld(FieldImm, 3)
	imm5  = fld(FieldImm, 5)
	imm7  = fld(FieldImm, 7)
	imm8  = fld(FieldImm, 8)
	imm11 = fld(FieldImm, 11)
	list8 = fld(FieldRegisterList, 8)
	extra = fld(FieldExtra, 1)
)

func enc16(op Op, form Form, prefix uint32, prefixLen uint8, fields ...Field) Encoding {
	return Encoding{Op: op, Form: form, Width: Width16, Prefix: prefix, PrefixLen: prefixLen, Fields: fields}
}

func enc32(op Op, form Form, prefix uint32, prefixLen uint8, fields ...Field) Encoding {
	return Encoding{Op: op, Form: form, Width: Width32, Prefix: prefix, PrefixLen: prefixLen, Fields: fields}
}

// groups16 lists the 16-bit encodings. Group order matters where encodings
// of different mnemonics overlap: MOV (register) T2 is LSL #0 and must
// precede LSL; UDF and SVC occupy the AL and NV condition space of B T1.
var groups16 = []Group{
	{OpNOP, []Encoding{enc16(OpNOP, FormT1, 0b1011111100000000, 16)}},
	{OpYIELD, []Encoding{enc16(OpYIELD, FormT1, 0b1011111100010000, 16)}},
	{OpWFE, []Encoding{enc16(OpWFE, FormT1, 0b1011111100100000, 16)}},
	{OpWFI, []Encoding{enc16(OpWFI, FormT1, 0b1011111100110000, 16)}},
	{OpSEV, []Encoding{enc16(OpSEV, FormT1, 0b1011111101000000, 16)}},
	{OpMOV, []Encoding{
		enc16(OpMOV, FormImmediateT1, 0b00100, 5, rd3, imm8),
		enc16(OpMOV, FormRegisterT1, 0b01000110, 8, fld(FieldD, 1), rm4, rd3),
		enc16(OpMOV, FormRegisterT2, 0b0000000000, 10, rm3, rd3),
	}},
	{OpADC, []Encoding{enc16(OpADC, FormRegisterT1, 0b0100000101, 10, rm3, rdn3)}},
	{OpADD, []Encoding{
		enc16(OpADD, FormImmediateT1, 0b0001110, 7, imm3, rn3, rd3),
		enc16(OpADD, FormImmediateT2, 0b00110, 5, rdn3, imm8),
		enc16(OpADD, FormRegisterT1, 0b0001100, 7, rm3, rn3, rd3),
		enc16(OpADD, FormRegisterT2, 0b01000100, 8, fld(FieldDN, 1), rm4, rdn3),
		enc16(OpADD, FormSPPlusImmediateT1, 0b10101, 5, rd3, imm8),
		enc16(OpADD, FormSPPlusImmediateT2, 0b101100000, 9, imm7),
		enc16(OpADD, FormSPPlusRegisterT1, 0b01000100, 8, fld(FieldDM, 1), tag(0b1101, 4), rdm3),
		enc16(OpADD, FormSPPlusRegisterT2, 0b010001001, 9, rm4, tag(0b101, 3)),
	}},
	{OpADR, []Encoding{enc16(OpADR, FormT1, 0b10100, 5, rd3, imm8)}},
	{OpAND, []Encoding{enc16(OpAND, FormRegisterT1, 0b0100000000, 10, rm3, rdn3)}},
	{OpASR, []Encoding{
		enc16(OpASR, FormImmediateT1, 0b00010, 5, imm5, rm3, rd3),
		enc16(OpASR, FormRegisterT1, 0b0100000100, 10, rm3, rdn3),
	}},
	{OpUDF, []Encoding{enc16(OpUDF, FormT1, 0b11011110, 8, imm8)}},
	{OpSVC, []Encoding{enc16(OpSVC, FormT1, 0b11011111, 8, imm8)}},
	{OpB, []Encoding{
		enc16(OpB, FormT1, 0b1101, 4, fld(FieldCond, 4), imm8),
		enc16(OpB, FormT2, 0b11100, 5, imm11),
	}},
	{OpBIC, []Encoding{enc16(OpBIC, FormRegisterT1, 0b0100001110, 10, rm3, rdn3)}},
	{OpBKPT, []Encoding{enc16(OpBKPT, FormT1, 0b10111110, 8, imm8)}},
	{OpBLX, []Encoding{enc16(OpBLX, FormRegisterT1, 0b010001111, 9, rm4, tag(0b000, 3))}},
	{OpBX, []Encoding{enc16(OpBX, FormT1, 0b010001110, 9, rm4, tag(0b000, 3))}},
	{OpCMN, []Encoding{enc16(OpCMN, FormRegisterT1, 0b0100001011, 10, rm3, rn3)}},
	{OpCMP, []Encoding{
		enc16(OpCMP, FormImmediateT1, 0b00101, 5, rn3, imm8),
		enc16(OpCMP, FormRegisterT1, 0b0100001010, 10, rm3, rn3),
		enc16(OpCMP, FormRegisterT2, 0b01000101, 8, fld(FieldN, 1), rm4, rn3),
	}},
	{OpCPS, []Encoding{enc16(OpCPS, FormT1, 0b10110110011, 11, extra, tag(0b0010, 4))}},
	{OpEOR, []Encoding{enc16(OpEOR, FormRegisterT1, 0b0100000001, 10, rm3, rdn3)}},
	{OpLDM, []Encoding{enc16(OpLDM, FormT1, 0b11001, 5, rn3, list8)}},
	{OpLDR, []Encoding{
		enc16(OpLDR, FormImmediateT1, 0b01101, 5, imm5, rn3, rt3),
		enc16(OpLDR, FormImmediateT2, 0b10011, 5, rt3, imm8),
		enc16(OpLDR, FormLiteralT1, 0b01001, 5, rt3, imm8),
		enc16(OpLDR, FormRegisterT1, 0b0101100, 7, rm3, rn3, rt3),
	}},
	{OpLDRB, []Encoding{
		enc16(OpLDRB, FormImmediateT1, 0b01111, 5, imm5, rn3, rt3),
		enc16(OpLDRB, FormRegisterT1, 0b0101110, 7, rm3, rn3, rt3),
	}},
	{OpLDRH, []Encoding{
		enc16(OpLDRH, FormImmediateT1, 0b10001, 5, imm5, rn3, rt3),
		enc16(OpLDRH, FormRegisterT1, 0b0101101, 7, rm3, rn3, rt3),
	}},
	{OpLDRSB, []Encoding{enc16(OpLDRSB, FormRegisterT1, 0b0101011, 7, rm3, rn3, rt3)}},
	{OpLDRSH, []Encoding{enc16(OpLDRSH, FormRegisterT1, 0b0101111, 7, rm3, rn3, rt3)}},
	{OpLSL, []Encoding{
		enc16(OpLSL, FormImmediateT1, 0b00000, 5, imm5, rm3, rd3),
		enc16(OpLSL, FormRegisterT1, 0b0100000010, 10, rm3, rdn3),
	}},
	{OpLSR, []Encoding{
		enc16(OpLSR, FormImmediateT1, 0b00001, 5, imm5, rm3, rd3),
		enc16(OpLSR, FormRegisterT1, 0b0100000011, 10, rm3, rdn3),
	}},
	{OpMUL, []Encoding{enc16(OpMUL, FormT1, 0b0100001101, 10, rn3, rdm3)}},
	{OpMVN, []Encoding{enc16(OpMVN, FormRegisterT1, 0b0100001111, 10, rm3, rd3)}},
	{OpORR, []Encoding{enc16(OpORR, FormRegisterT1, 0b0100001100, 10, rm3, rdn3)}},
	{OpPOP, []Encoding{enc16(OpPOP, FormT1, 0b1011110, 7, extra, list8)}},
	{OpPUSH, []Encoding{enc16(OpPUSH, FormT1, 0b1011010, 7, extra, list8)}},
	{OpREV, []Encoding{enc16(OpREV, FormT1, 0b1011101000, 10, rm3, rd3)}},
	{OpREV16, []Encoding{enc16(OpREV16, FormT1, 0b1011101001, 10, rm3, rd3)}},
	{OpREVSH, []Encoding{enc16(OpREVSH, FormT1, 0b1011101011, 10, rm3, rd3)}},
	{OpROR, []Encoding{enc16(OpROR, FormRegisterT1, 0b0100000111, 10, rm3, rdn3)}},
	{OpRSB, []Encoding{enc16(OpRSB, FormImmediateT1, 0b0100001001, 10, rn3, rd3)}},
	{OpSBC, []Encoding{enc16(OpSBC, FormRegisterT1, 0b0100000110, 10, rm3, rdn3)}},
	{OpSTM, []Encoding{enc16(OpSTM, FormT1, 0b11000, 5, rn3, list8)}},
	{OpSTR, []Encoding{
		enc16(OpSTR, FormImmediateT1, 0b01100, 5, imm5, rn3, rt3),
		enc16(OpSTR, FormImmediateT2, 0b10010, 5, rt3, imm8),
		enc16(OpSTR, FormRegisterT1, 0b0101000, 7, rm3, rn3, rt3),
	}},
	{OpSTRB, []Encoding{
		enc16(OpSTRB, FormImmediateT1, 0b01110, 5, imm5, rn3, rt3),
		enc16(OpSTRB, FormRegisterT1, 0b0101010, 7, rm3, rn3, rt3),
	}},
	{OpSTRH, []Encoding{
		enc16(OpSTRH, FormImmediateT1, 0b10000, 5, imm5, rn3, rt3),
		enc16(OpSTRH, FormRegisterT1, 0b0101001, 7, rm3, rn3, rt3),
	}},
	{OpSUB, []Encoding{
		enc16(OpSUB, FormImmediateT1, 0b0001111, 7, imm3, rn3, rd3),
		enc16(OpSUB, FormImmediateT2, 0b00111, 5, rdn3, imm8),
		enc16(OpSUB, FormRegisterT1, 0b0001101, 7, rm3, rn3, rd3),
		enc16(OpSUB, FormSPMinusImmediateT1, 0b101100001, 9, imm7),
	}},
	{OpSXTB, []Encoding{enc16(OpSXTB, FormT1, 0b1011001001, 10, rm3, rd3)}},
	{OpSXTH, []Encoding{enc16(OpSXTH, FormT1, 0b1011001000, 10, rm3, rd3)}},
	{OpTST, []Encoding{enc16(OpTST, FormRegisterT1, 0b0100001000, 10, rm3, rn3)}},
	{OpUXTB, []Encoding{enc16(OpUXTB, FormT1, 0b1011001011, 10, rm3, rd3)}},
	{OpUXTH, []Encoding{enc16(OpUXTH, FormT1, 0b1011001010, 10, rm3, rd3)}},
}

// groups32 lists the 32-bit encodings. The first halfword is the high half
// of the word.
var groups32 = []Group{
	{OpBL, []Encoding{enc32(OpBL, FormT1, 0b11110, 5,
		fld(FieldS, 1), fld(FieldImm, 10),
		tag(0b11, 2), fld(FieldJ1, 1), tag(0b1, 1), fld(FieldJ2, 1), imm11)}},
	{OpMSR, []Encoding{enc32(OpMSR, FormRegisterT1, 0b111100111000, 12,
		fld(FieldRn, 4),
		tag(0b10001000, 8), fld(FieldSYSm, 8))}},
	{OpMRS, []Encoding{enc32(OpMRS, FormT1, 0b1111001111101111, 16,
		tag(0b1000, 4), fld(FieldRd, 4), fld(FieldSYSm, 8))}},
	{OpDSB, []Encoding{enc32(OpDSB, FormT1, 0b1111001110111111, 16,
		tag(0b100011110100, 12), fld(FieldOption, 4))}},
	{OpDMB, []Encoding{enc32(OpDMB, FormT1, 0b1111001110111111, 16,
		tag(0b100011110101, 12), fld(FieldOption, 4))}},
	{OpISB, []Encoding{enc32(OpISB, FormT1, 0b1111001110111111, 16,
		tag(0b100011110110, 12), fld(FieldOption, 4))}},
	{OpUDF, []Encoding{enc32(OpUDF, FormT2, 0b111101111111, 12,
		fld(FieldImm, 4),
		tag(0b1010, 4), fld(FieldImm, 12))}},
}

// Table is a compiled, priority-ordered decode table.
type Table struct {
	entries []*Encoding
}

// NewTable compiles the groups into a priority-ordered table. Within each
// group, encodings are ordered by specificity (fixed bits) descending, ties
// broken by prefix length descending; groups keep their given order.
func NewTable(groups []Group) (*Table, error) {
	t := &Table{}
	for gi := range groups {
		g := &groups[gi]
		start := len(t.entries)
		for ei := range g.Encodings {
			e := g.Encodings[ei]
			if e.Op != g.Op {
				return nil, fmt.Errorf("%s listed in group %s", &e, g.Op)
			}
			if err := e.compile(); err != nil {
				return nil, err
			}
			t.entries = append(t.entries, &e)
		}

		run := t.entries[start:]
		sort.SliceStable(run, func(i, j int) bool {
			if run[i].fixed != run[j].fixed {
				return run[i].fixed > run[j].fixed
			}
			return run[i].PrefixLen > run[j].PrefixLen
		})
	}
	return t, nil
}

// MustNewTable is NewTable for the built-in tables.
func MustNewTable(groups []Group) *Table {
	t, err := NewTable(groups)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	table16 = MustNewTable(groups16)
	table32 = MustNewTable(groups32)
)

// Table16 returns the compiled 16-bit decode table.
func Table16() *Table { return table16 }

// Table32 returns the compiled 32-bit decode table.
func Table32() *Table { return table32 }

// Entries returns the encodings in priority order.
func (t *Table) Entries() []*Encoding {
	out := make([]*Encoding, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lookup returns the first encoding matching word, or nil.
func (t *Table) Lookup(word uint32) *Encoding {
	for _, e := range t.entries {
		if e.Matches(word) {
			return e
		}
	}
	return nil
}

// Conflict describes an encoding that an earlier, less specific encoding
// can capture.
type Conflict struct {
	Earlier *Encoding
	Later   *Encoding
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s (%d fixed bits) precedes overlapping %s (%d fixed bits)",
		c.Earlier, c.Earlier.fixed, c.Later, c.Later.fixed)
}

// ValidatePriority returns every pair of overlapping encodings where the
// earlier one is strictly less specific than the later one, or where both
// have identical fixed bits (the later one is unreachable).
func (t *Table) ValidatePriority() []Conflict {
	var conflicts []Conflict
	for i, a := range t.entries {
		for _, b := range t.entries[i+1:] {
			common := a.mask & b.mask
			if (a.match^b.match)&common != 0 {
				continue
			}
			if a.fixed < b.fixed || (a.mask == b.mask && a.match == b.match) {
				conflicts = append(conflicts, Conflict{Earlier: a, Later: b})
			}
		}
	}
	return conflicts
}
