// Package main provides accuracy validation for the decode cache and the
// checkpointed replay. Ensures that both optimizations preserve results.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sarchlab/m0sim/benchmarks"
	"github.com/sarchlab/m0sim/cache"
	"github.com/sarchlab/m0sim/config"
	"github.com/sarchlab/m0sim/emu"
	"github.com/sarchlab/m0sim/insts"
)

// testCachedDecoding validates that the decode cache returns exactly what
// the decoder produces for every instruction of the sample programs.
func testCachedDecoding() bool {
	fmt.Println("Testing cached decoding accuracy...")

	decoder := insts.NewDecoder()
	decodeCache := cache.New(cache.DefaultConfig())

	for _, bench := range benchmarks.GetMicrobenchmarks() {
		code := benchmarks.BuildProgram(binary.BigEndian, bench.Code...)

		for off := 0; off < len(code); {
			pc := benchmarks.ProgramAddress + uint32(off)
			end := off + 4
			if end > len(code) {
				end = len(code)
			}

			want, n, err := decoder.Decode(code[off:end])
			if err != nil {
				fmt.Printf("FAIL %s: decode at 0x%08X: %v\n", bench.Name, pc, err)
				return false
			}
			decodeCache.Insert(pc, code[off:off+n], want)

			got, gotN, ok := decodeCache.Lookup(pc, code[off:end])
			if !ok || gotN != n || got != want {
				fmt.Printf("FAIL %s: cache mismatch at 0x%08X\n", bench.Name, pc)
				fmt.Printf("  Decode(): %+v\n", want)
				fmt.Printf("  Lookup(): %+v\n", got)
				return false
			}
			off += n
		}

		fmt.Printf("OK   %s: %d bytes decoded identically\n", bench.Name, len(code))
	}

	return true
}

// testReplayIntervals validates that replay produces identical states for
// every checkpoint interval.
func testReplayIntervals() bool {
	fmt.Println("\nTesting replay across checkpoint intervals...")

	intervals := []int{0, 1, 3, 64}

	for _, bench := range benchmarks.GetMicrobenchmarks() {
		var reference []*emu.State

		for _, interval := range intervals {
			cfg := config.DefaultConfig()
			cfg.CheckpointInterval = interval

			e := emu.NewEmulator(emu.WithConfig(cfg))
			if err := e.Load(bench.Image(binary.BigEndian)); err != nil {
				fmt.Printf("FAIL %s: %v\n", bench.Name, err)
				return false
			}
			e.Run(0)

			states := make([]*emu.State, e.HistoryLen())
			for i := range states {
				st, err := e.StateAt(i)
				if err != nil {
					fmt.Printf("FAIL %s: StateAt(%d): %v\n", bench.Name, i, err)
					return false
				}
				states[i] = st
			}

			if reference == nil {
				reference = states
				continue
			}
			if len(states) != len(reference) {
				fmt.Printf("FAIL %s: interval %d gave %d states, want %d\n",
					bench.Name, interval, len(states), len(reference))
				return false
			}
			for i := range states {
				if !states[i].Equal(reference[i]) {
					fmt.Printf("FAIL %s: interval %d diverges at entry %d\n",
						bench.Name, interval, i)
					return false
				}
			}
		}

		fmt.Printf("OK   %s: %d states identical across intervals %v\n",
			bench.Name, len(reference), intervals)
	}

	return true
}

func main() {
	fmt.Println("M0Sim Accuracy Validation")
	fmt.Println("=========================")

	allPassed := true

	if !testCachedDecoding() {
		allPassed = false
	}

	if !testReplayIntervals() {
		allPassed = false
	}

	fmt.Println()
	if allPassed {
		fmt.Println("All accuracy checks passed.")
		return
	}

	fmt.Println("Accuracy validation failed.")
	os.Exit(1)
}
