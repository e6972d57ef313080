package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadBytesOverridesDefaults(t *testing.T) {
	doc := []byte(`
harts = 4
console = "uart"
init_path = "/sbin/init"
init_argv = ["/sbin/init", "--quiet"]
heap_frames = 8192
log_level = "debug"
`)
	got, err := LoadBytes(doc)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	want := Config{
		Harts:      4,
		Console:    ConsoleUART,
		InitPath:   "/sbin/init",
		InitArgv:   []string{"/sbin/init", "--quiet"},
		HeapFrames: 8192,
		LogLevel:   "debug",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadBytesFallsBackToDefaultsForOmittedFields(t *testing.T) {
	got, err := LoadBytes([]byte(`console = "uart"`))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if got.Harts != Default().Harts || got.InitPath != Default().InitPath {
		t.Fatalf("expected omitted fields to keep their default values, got %+v", got)
	}
	if got.Console != ConsoleUART {
		t.Fatalf("expected the overridden console backend to stick, got %q", got.Console)
	}
}

func TestValidateRejectsZeroHarts(t *testing.T) {
	cfg := Default()
	cfg.Harts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for harts = 0")
	}
}

func TestValidateRejectsUnknownConsole(t *testing.T) {
	cfg := Default()
	cfg.Console = "vga"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an unrecognised console backend")
	}
}

func TestValidateRejectsMissingRootImage(t *testing.T) {
	cfg := Default()
	cfg.RootImage = "/nonexistent/path/to/rootfs.img"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a root image that does not exist on disk")
	}
}
