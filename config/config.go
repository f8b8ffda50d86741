// Package config provides the JSON configuration of the emulator and its
// command-line front end.
package config

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Byte orders accepted by InstructionByteOrder.
const (
	ByteOrderAuto   = "auto"
	ByteOrderBig    = "big"
	ByteOrderLittle = "little"
)

// Config holds the settings of an emulator run.
type Config struct {
	// MemoryCapacity is the size of the address space in bytes. Accesses at
	// or above it fault. Default: 4GB, the whole 32-bit space.
	MemoryCapacity uint64 `json:"memory_capacity"`

	// LoadAddress is where raw and hex-text images are placed.
	// Default: 0x00000000.
	LoadAddress uint32 `json:"load_address"`

	// EntryPoint overrides the entry of the loaded image. Raw images start
	// at LoadAddress when it is unset.
	EntryPoint *uint32 `json:"entry_point,omitempty"`

	// InitialSP is the main stack pointer used when the image carries
	// none. Default: 0x20008000.
	InitialSP uint32 `json:"initial_sp"`

	// MaxSteps is the step budget of a run. 0 means unlimited.
	// Default: 1000000.
	MaxSteps uint64 `json:"max_steps"`

	// CheckpointInterval is the number of history entries between
	// memoised replay states. 0 disables memoisation. Default: 64.
	CheckpointInterval int `json:"checkpoint_interval"`

	// InstructionByteOrder is the byte order of instruction halfwords in
	// the image. "auto" follows the image: little for ELF and Intel HEX,
	// big (stream order) for raw and plain hex images. "big" or "little"
	// force one order for every image. Default: "auto".
	InstructionByteOrder string `json:"instruction_byte_order"`

	// DecodeCache enables the decoded-instruction cache. Default: true.
	DecodeCache bool `json:"decode_cache"`

	// LogLevel is a logrus level name. Default: "warning".
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MemoryCapacity:       1 << 32,
		LoadAddress:          0,
		InitialSP:            0x20008000,
		MaxSteps:             1000000,
		CheckpointInterval:   64,
		InstructionByteOrder: ByteOrderAuto,
		DecodeCache:          true,
		LogLevel:             "warning",
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if c.MemoryCapacity == 0 || c.MemoryCapacity > 1<<32 {
		return fmt.Errorf("memory_capacity must be in (0, 2^32]")
	}
	if uint64(c.LoadAddress) >= c.MemoryCapacity {
		return fmt.Errorf("load_address 0x%08X is beyond memory_capacity", c.LoadAddress)
	}
	if c.EntryPoint != nil && uint64(*c.EntryPoint&^1) >= c.MemoryCapacity {
		return fmt.Errorf("entry_point 0x%08X is beyond memory_capacity", *c.EntryPoint)
	}
	if uint64(c.InitialSP) > c.MemoryCapacity {
		return fmt.Errorf("initial_sp 0x%08X is beyond memory_capacity", c.InitialSP)
	}
	if c.InitialSP%4 != 0 {
		return fmt.Errorf("initial_sp must be word aligned")
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint_interval must be >= 0")
	}
	if _, err := c.ByteOrder(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// ByteOrder returns the instruction byte order for images that carry none.
func (c *Config) ByteOrder() (binary.ByteOrder, error) {
	switch strings.ToLower(c.InstructionByteOrder) {
	case ByteOrderAuto, ByteOrderBig, "":
		return binary.BigEndian, nil
	case ByteOrderLittle:
		return binary.LittleEndian, nil
	}
	return nil, fmt.Errorf("instruction_byte_order must be %q, %q or %q, got %q",
		ByteOrderAuto, ByteOrderBig, ByteOrderLittle, c.InstructionByteOrder)
}

// FixedByteOrder reports whether the configured order overrides the order
// an image declares.
func (c *Config) FixedByteOrder() bool {
	switch strings.ToLower(c.InstructionByteOrder) {
	case ByteOrderBig, ByteOrderLittle:
		return true
	}
	return false
}

// Level returns the log level.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid log_level: %w", err)
	}
	return level, nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	if c.EntryPoint != nil {
		entry := *c.EntryPoint
		clone.EntryPoint = &entry
	}
	return &clone
}
