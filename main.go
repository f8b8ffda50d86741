// Package main provides the entry point for M0Sim.
// M0Sim is an ARMv6-M Thumb emulator whose every step can be rolled back.
//
// For the full CLI, use: go run ./cmd/m0sim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("M0Sim - ARMv6-M Thumb Emulator")
	fmt.Println("Reversible execution built on Akita hooks")
	fmt.Println("")
	fmt.Println("Usage: m0sim <command> [options] <program>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run       Run a program until it halts")
	fmt.Println("  disasm    Disassemble a program")
	fmt.Println("  debug     Step forwards and backwards interactively")
	fmt.Println("  bench     Run the sample programs")
	fmt.Println("  config    Print or write the configuration")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/m0sim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/m0sim' instead.")
	}
}
