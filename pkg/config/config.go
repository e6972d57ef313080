// Package config is the kernel's boot configuration: a small struct
// populated from a TOML file for cmd/mizu's host-test harness, or
// (on a real target, out of this package's scope) from FDT-derived
// values. Most of what a conventional kernel calls "configuration" is
// discovered from the device tree instead (see pkg/devmgr), so this
// struct stays deliberately small.
//
// Grounded on gvisor's runsc/config (a flat struct of boot knobs parsed
// once at startup) and the original's lib/config crate, generalized
// from gvisor's flag-registry-plus-struct-tag approach to a plain TOML
// document since this kernel has no CLI flag surface of its own.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Console selects which backend the kernel's console device attaches
// to at boot.
type Console string

const (
	ConsoleSBI  Console = "sbi"
	ConsoleUART Console = "uart"
)

// Config is the full set of boot-time knobs this kernel reads before
// device probing discovers the rest of the machine.
type Config struct {
	// Harts is the number of hart scheduling workers to start.
	Harts int `toml:"harts"`
	// Console selects the console backend.
	Console Console `toml:"console"`
	// RootImage is the path to a filesystem image to mount as the VFS
	// root (e.g. a FAT32 image), or empty to boot with an in-memory root.
	RootImage string `toml:"root_image"`
	// InitPath is the first process to exec after boot.
	InitPath string `toml:"init_path"`
	// InitArgv is InitPath's argv, InitArgv[0] conventionally equal to
	// InitPath itself.
	InitArgv []string `toml:"init_argv"`
	// HeapFrames is the number of frames reserved for pkg/kalloc's
	// kernel-internal slab heap.
	HeapFrames int64 `toml:"heap_frames"`
	// LogLevel names a klog.Level ("debug", "info", "warning").
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration cmd/mizu falls back to when no
// file is supplied: one hart, SBI console, an in-memory root, and
// "/init" as the first process.
func Default() Config {
	return Config{
		Harts:      1,
		Console:    ConsoleSBI,
		InitPath:   "/init",
		InitArgv:   []string{"/init"},
		HeapFrames: 4096,
		LogLevel:   "info",
	}
}

// Load reads and decodes a TOML config file at path, filling in any
// field left at its zero value from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadBytes is Load for an in-memory TOML document, used by tests and
// by a real boot path that has already read the document out of an
// initramfs.
func LoadBytes(data []byte) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports an error if cfg describes a machine that can't boot:
// zero harts, an empty init path, or an unrecognised console backend.
func (c Config) Validate() error {
	if c.Harts < 1 {
		return fmt.Errorf("config: harts must be >= 1, got %d", c.Harts)
	}
	if c.InitPath == "" {
		return fmt.Errorf("config: init_path must not be empty")
	}
	switch c.Console {
	case ConsoleSBI, ConsoleUART:
	default:
		return fmt.Errorf("config: unrecognised console backend %q", c.Console)
	}
	if c.RootImage != "" {
		if _, err := os.Stat(c.RootImage); err != nil {
			return fmt.Errorf("config: root_image: %w", err)
		}
	}
	return nil
}
