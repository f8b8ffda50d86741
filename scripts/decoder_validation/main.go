// Validate decoder performance - measures decode throughput and allocations
// for direct decoding and for the decoded-instruction cache.
package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sarchlab/m0sim/cache"
	"github.com/sarchlab/m0sim/insts"
)

type sample struct {
	pc  uint32
	raw []byte
}

var samples = []sample{
	{0x1000, []byte{0x31, 0x05}},             // adds r1, #5
	{0x1002, []byte{0x18, 0x40}},             // adds r0, r0, r1
	{0x1004, []byte{0x68, 0x48}},             // ldr r0, [r1, #4]
	{0x1006, []byte{0xD0, 0xFE}},             // beq #-4
	{0x1008, []byte{0xF7, 0xFF, 0xFF, 0xFE}}, // bl #-4
	{0x100C, []byte{0xB5, 0x10}},             // push {r4, lr}
}

type measurement struct {
	elapsed time.Duration
	mallocs uint64
	bytes   uint64
}

func measure(iterations int, body func()) measurement {
	runtime.GC()
	var m1, m2 runtime.MemStats
	runtime.ReadMemStats(&m1)

	start := time.Now()
	for i := 0; i < iterations; i++ {
		body()
	}
	elapsed := time.Since(start)
	runtime.ReadMemStats(&m2)

	return measurement{
		elapsed: elapsed,
		mallocs: m2.Mallocs - m1.Mallocs,
		bytes:   m2.TotalAlloc - m1.TotalAlloc,
	}
}

func report(name string, m measurement, decodes int) {
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Time elapsed: %v\n", m.elapsed)
	fmt.Printf("  Decodes per second: %.0f\n", float64(decodes)/m.elapsed.Seconds())
	fmt.Printf("  Allocations per decode: %.3f\n", float64(m.mallocs)/float64(decodes))
	fmt.Printf("  Bytes per decode: %.1f\n", float64(m.bytes)/float64(decodes))
}

func main() {
	decoder := insts.NewDecoder()
	decodeCache := cache.New(cache.DefaultConfig())

	// Warm up
	for i := 0; i < 1000; i++ {
		for _, s := range samples {
			inst, n, err := decoder.Decode(s.raw)
			if err != nil {
				panic(err)
			}
			decodeCache.Insert(s.pc, s.raw[:n], inst)
		}
	}
	decodeCache.ResetStats()

	iterations := 100000
	totalDecodes := iterations * len(samples)

	direct := measure(iterations, func() {
		for _, s := range samples {
			_, _, _ = decoder.Decode(s.raw)
		}
	})

	cached := measure(iterations, func() {
		for _, s := range samples {
			if _, _, ok := decodeCache.Lookup(s.pc, s.raw); !ok {
				panic(fmt.Sprintf("unexpected miss at 0x%08X", s.pc))
			}
		}
	})

	fmt.Printf("Decoder Validation Results:\n")
	fmt.Printf("===========================\n")
	fmt.Printf("Total decode operations: %d per mode\n", totalDecodes)
	report("Direct decode", direct, totalDecodes)
	report("Cached decode", cached, totalDecodes)

	stats := decodeCache.Stats()
	fmt.Printf("Cache hits: %d, misses: %d\n", stats.Hits, stats.Misses)

	rate := float64(direct.mallocs) / float64(totalDecodes)
	if direct.mallocs == 0 {
		fmt.Printf("\nSUCCESS: zero allocations in direct decode\n")
	} else if rate < 0.1 {
		fmt.Printf("\nGOOD: low allocation rate (< 0.1 per decode)\n")
	} else {
		fmt.Printf("\nWARNING: high allocation rate detected\n")
	}
}
