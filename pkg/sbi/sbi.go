// Package sbi is the seam onto the Supervisor Binary Interface: console
// I/O, timer arming, remote TLB shootdown, hart startup, and shutdown.
// Every other package that needs SBI services programs against the
// Provider interface, never a concrete implementation, mirroring
// gvisor's platform.Platform seam (_examples/google-gvisor/pkg/sentry/platform/platform.go):
// an interface the rest of the sentry is written against, with a fake
// used by every test.
package sbi

import (
	"fmt"

	"github.com/mizu-os/mizu/pkg/klog"
)

// AddrRange is a virtual address range, end-exclusive.
type AddrRange struct {
	Start, End uint64
}

// Provider is the kernel's view of the legacy SBI calls this module
// depends on.
type Provider interface {
	ConsolePutChar(c byte)
	SetTimer(deadline uint64)
	// RemoteFenceVMA requests that every hart in harts invalidate its
	// TLB for the given address range (or its entire TLB, if rng is
	// nil, meaning "the whole address space"). It returns false if the
	// SBI implementation does not support the call at all (§6: "the
	// system must tolerate remote_sfence_vma returning 'not supported'").
	RemoteFenceVMA(harts []int, rng *AddrRange) bool
	HartStart(hart int, entry uint64, arg uint64) error
	SystemShutdown()
}

// Debug controls whether RemoteFenceVMAOrFallback panics (debug builds)
// or only warns (release builds) when the SBI call is unsupported, per
// §9's open question: "a safe implementation should panic-on-debug,
// warn-on-release, and fall back to round-robin IPIs forcing each hart
// to local sfence."
var Debug = false

// LocalFence is called once per hart in the fallback path, on that hart,
// to perform a local sfence.vma. Tests and the host build install a
// recording stub; the real target wires this to the sfence.vma
// instruction.
type LocalFence func(hart int, rng *AddrRange)

// RemoteFenceVMAOrFallback attempts Provider.RemoteFenceVMA; if the SBI
// implementation reports "not supported", it falls back to invoking
// localFence on every hart in turn (round-robin), exactly as §9
// specifies.
func RemoteFenceVMAOrFallback(p Provider, harts []int, rng *AddrRange, localFence LocalFence) {
	if p.RemoteFenceVMA(harts, rng) {
		return
	}
	if Debug {
		panic(fmt.Sprintf("sbi: remote_sfence_vma not supported (harts=%v rng=%v)", harts, rng))
	}
	klog.Warningf("sbi: remote_sfence_vma not supported, falling back to round-robin local sfence over %d harts", len(harts))
	for _, h := range harts {
		localFence(h, rng)
	}
}
