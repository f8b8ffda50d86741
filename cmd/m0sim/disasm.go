package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/m0sim/insts"
	"github.com/sarchlab/m0sim/loader"
)

func newDisasmCmd(a *app) *cobra.Command {
	var loadAddr uint32

	cmd := &cobra.Command{
		Use:   "disasm [program]",
		Short: "Disassemble the executable segments of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := a.cfg.LoadAddress
			if cmd.Flags().Changed("load-address") {
				addr = loadAddr
			}

			prog, err := loader.LoadFile(args[0], loader.WithLoadAddress(addr))
			if err != nil {
				return err
			}

			order, err := a.cfg.ByteOrder()
			if err != nil {
				return err
			}
			if prog.ByteOrder != nil && !a.cfg.FixedByteOrder() {
				order = prog.ByteOrder
			}
			decoder := insts.NewDecoder(insts.WithByteOrder(order))

			for _, seg := range prog.Segments {
				if seg.Flags&loader.SegmentFlagExecute == 0 {
					continue
				}
				disassemble(cmd.OutOrStdout(), decoder, seg)
			}
			return nil
		},
	}

	cmd.Flags().Uint32Var(&loadAddr, "load-address", 0, "Load address for raw and hex images")
	return cmd
}

// disassemble writes one line per instruction of seg. Undecodable
// halfwords are shown as .hword and skipped.
func disassemble(w io.Writer, decoder *insts.Decoder, seg loader.Segment) {
	for off := 0; off < len(seg.Data); {
		addr := seg.VirtAddr + uint32(off)
		end := off + 4
		if end > len(seg.Data) {
			end = len(seg.Data)
		}

		inst, n, err := decoder.Decode(seg.Data[off:end])
		if err != nil {
			n = 2
			if off+n > len(seg.Data) {
				n = len(seg.Data) - off
			}
			_, _ = fmt.Fprintf(w, "%08x:  %-8s  .hword  ; %v\n",
				addr, hex.EncodeToString(seg.Data[off:off+n]), err)
			off += n
			continue
		}

		_, _ = fmt.Fprintf(w, "%08x:  %-8s  %s\n",
			addr, hex.EncodeToString(seg.Data[off:off+n]), inst)
		off += n
	}
}
