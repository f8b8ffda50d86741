package loader

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/marcinbor85/gohex"
)

// LoadHex parses hex text. Text whose first non-space character is ':' is
// read as Intel HEX, whose code is little-endian and whose data records may
// not overlap; anything else is a plain run of hex digit pairs that may
// be separated by whitespace, commas or 0x prefixes, placed at the load
// address.
func LoadHex(text string, opts ...Option) (*Program, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, ":") {
		return parseIntelHex(trimmed)
	}

	data, err := decodePlainHex(trimmed)
	if err != nil {
		return nil, err
	}
	return LoadBytes(data, opts...), nil
}

func decodePlainHex(text string) ([]byte, error) {
	var digits strings.Builder
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	}) {
		field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
		digits.WriteString(field)
	}

	data, err := hex.DecodeString(digits.String())
	if err != nil {
		return nil, malformed(err, "invalid hex text")
	}
	return data, nil
}

func parseIntelHex(text string) (*Program, error) {
	var (
		records []string
		sawEOF  bool
	)
	for i, line := range strings.Split(text, "\n") {
		rec := strings.TrimSpace(line)
		if rec == "" {
			continue
		}
		if sawEOF {
			return nil, malformed(nil, "line %d: record after end of file", i+1)
		}
		if !strings.HasPrefix(rec, ":") {
			return nil, malformed(nil, "line %d: missing start code", i+1)
		}
		if len(rec) >= 9 && rec[7:9] == "01" {
			sawEOF = true
		}
		records = append(records, rec)
	}
	if !sawEOF {
		return nil, malformed(nil, "missing end of file record")
	}

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(strings.NewReader(strings.Join(records, "\n"))); err != nil {
		return nil, malformed(err, "invalid Intel HEX")
	}

	prog := &Program{ByteOrder: binary.LittleEndian}
	for _, ds := range mem.GetDataSegments() {
		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: ds.Address,
			Data:     append([]byte(nil), ds.Data...),
			MemSize:  uint32(len(ds.Data)),
			Flags:    SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
		})
	}

	if entry, ok := mem.GetStartAddress(); ok {
		prog.EntryPoint = entry
	} else if len(prog.Segments) > 0 {
		prog.EntryPoint = prog.Segments[0].VirtAddr
	}
	return prog, nil
}
