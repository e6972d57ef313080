// Command mizu is the host-test entry point wiring every package in
// this module together into one bootable (on this host, simulated)
// kernel image, standing in for the real target's boot assembly +
// linker script (§6, out of this module's scope) the way gvisor's
// runsc/boot assembles runsc's sentry packages into a running sandbox.
//
// It performs §2's boot sequence — allocator, paging, device tree,
// root file system, init task — then hands control to pkg/exec's
// scheduling loop, on a FakeSwitcher standing in for real hardware
// traps since this binary never leaves host user space.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mizu-os/mizu/pkg/config"
	"github.com/mizu-os/mizu/pkg/devmgr"
	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/klog"
	"github.com/mizu-os/mizu/pkg/ktime"
	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/phys"
	"github.com/mizu-os/mizu/pkg/sbi"
	"github.com/mizu-os/mizu/pkg/task"
	"github.com/mizu-os/mizu/pkg/trap"
	"github.com/mizu-os/mizu/pkg/vfs"
	"github.com/mizu-os/mizu/pkg/virt"
)

// totalFrames bounds this host-test image's simulated physical memory;
// a real target reads its actual size from the device tree instead.
const totalFrames = kalloc.FrameNo(16384)

// pageTableArena is this binary's translate function for
// paging.NewWalker: the host-test analogue of "physical memory is
// identity-mapped into the kernel's high half" pkg/paging's doc
// comment describes, one *paging.Table per frame instead of a real
// address.
type pageTableArena struct {
	tables map[kalloc.FrameNo]*paging.Table
}

func newPageTableArena() *pageTableArena {
	return &pageTableArena{tables: make(map[kalloc.FrameNo]*paging.Table)}
}

func (a *pageTableArena) translate(f kalloc.FrameNo) *paging.Table {
	t, ok := a.tables[f]
	if !ok {
		t = &paging.Table{}
		a.tables[f] = t
	}
	return t
}

func main() {
	cfgPath := flag.String("config", "", "path to a TOML boot configuration file")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mizu: loading config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	level := klog.Info
	if cfg.LogLevel == "debug" {
		level = klog.Debug
	}
	log := klog.NewLogger(level, klog.NewLogrusEmitter())
	klog.SetDefault(log)

	log.Infof("mizu: booting, %d hart(s), console=%s", cfg.Harts, cfg.Console)

	prov := sbi.NewFake()

	// alloc: frame allocator + kernel heap.
	frames := kalloc.NewAllocator(totalFrames, cfg.Harts)
	heap := kalloc.NewHeap(kalloc.FrameNo(cfg.HeapFrames))
	selfTestHeap(heap, log)

	// phys: the page-cache arena every Phys in this image shares.
	arena := phys.NewArena(totalFrames)

	// devmgr: probe a small fixed device set before the root Virt needs
	// any of it (real devices are discovered from the FDT, out of this
	// package's scope; this binary's "device tree" is the two nodes a
	// host-test kernel actually has: the SBI console and a PLIC stand-in
	// gating it).
	probeDevices(prov, log)

	// paging + the boot hart's address space.
	tableArena := newPageTableArena()
	walker := paging.NewWalker(frames, 0, tableArena.translate)
	root, err := frames.Alloc(0)
	if err != nil {
		log.Warningf("mizu: allocating root page table: %v", err)
		os.Exit(1)
	}
	tableArena.translate(root)
	as := virt.New(root, frames, walker, prov, time.Now().UnixNano())

	// fs-vfs: root with /dev/console mounted on the SBI provider.
	fs := vfs.NewFS()
	if err := fs.MountDevice("console", vfs.NewConsoleIo(prov)); err != nil {
		log.Warningf("mizu: mounting /dev/console: %v", err)
		os.Exit(1)
	}

	// task: spawn the init task, its files table holding stdin/stdout/
	// stderr all pointed at /dev/console, matching a freshly exec'd
	// Linux process's fd 0-2.
	// ktime: the boot clock and timer wheel every nanosleep-style await
	// arms a Deadline against; Tick is driven from the re-entrant timer
	// trap handler alongside the soft-preempt flag, per §4/§8's "a task
	// awaits a 100ms deadline" scenario.
	clock := ktime.NewSystemClock()
	wheel := ktime.NewWheel()

	ex := exec.New(cfg.Harts)
	syscalls := newSyscallTable(wheel, clock)
	info := task.NewInfo(1, nil)
	init := spawnInit(arena, frames, as, fs, info, syscalls, ex.Hart(0), wheel, clock, log)
	ex.Spawn(init, 0)

	log.Infof("mizu: init spawned (pid %d), entering executor", info.ID)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		ex.Hart(0).Run(stop, nil)
		close(done)
	}()

	// This host-test image's init task runs a fixed scripted trap
	// sequence (no real ELF loader backs this binary, per §1's
	// "early boot... out of scope"); once it exits there is nothing left
	// to schedule, so the boot hart shuts down rather than spinning
	// forever polling an empty queue.
	for i := 0; i < 1000 && ex.LocalLen(0)+ex.GlobalLen() > 0; i++ {
		time.Sleep(time.Millisecond)
	}
	close(stop)
	<-done

	log.Infof("mizu: console output: %q", string(prov.Console))
	prov.SystemShutdown()
}

// probeDevices runs devmgr.ProbeAll over this image's two-node device
// set: a PLIC interrupt controller and a console node that depends on
// it, exercising §6's "re-probe until a pass initialises nothing new"
// ordering resolution even though this host build has nothing left to
// actually attach once probing succeeds.
func probeDevices(prov sbi.Provider, log klog.BasicLogger) {
	reg := devmgr.NewRegistry()
	reg.Register("riscv,plic0", func(n *devmgr.Node) (any, error) {
		return n.Name, nil
	})
	reg.Register("sbi,console", func(n *devmgr.Node) (any, error) {
		return n.Name, nil
	})
	nodes := []*devmgr.Node{
		{Name: "plic0", Compatible: "riscv,plic0"},
		{Name: "console0", Compatible: "sbi,console", InterruptParent: "plic0"},
	}
	for _, r := range devmgr.ProbeAll(reg, nodes) {
		if r.Err != nil {
			log.Warningf("mizu: probing %s: %v", r.Node.Name, r.Err)
			continue
		}
		log.Infof("mizu: probed %s (%s)", r.Node.Name, r.Node.Compatible)
	}
}

// selfTestHeap exercises one alloc/free round trip through the kernel
// heap at boot, the same spirit as a real kernel's early "allocator
// self test" diagnostic.
func selfTestHeap(heap *kalloc.Heap, log klog.BasicLogger) {
	const sz = 64
	obj, err := heap.Alloc(sz)
	if err != nil {
		log.Warningf("mizu: kernel heap self-test failed: %v", err)
		return
	}
	heap.Free(sz, obj)
	log.Debugf("mizu: kernel heap self-test ok (%d live)", heap.Live(sz))
}

// bootFastFunc builds the fast-path hook that runs inside the trap
// vector before any full task switch, per §4.2: a re-entrant timer
// trap is serviced entirely here (tick the timer wheel so any armed
// ktime.Deadline can fire, then mark the hart due for a cooperative
// yield, staying in user mode) without ever reaching pkg/task's
// task-switching main loop, the way a real timer ISR does.
func bootFastFunc(hart *exec.Hart, wheel *ktime.Wheel, clock ktime.Clock) trap.FastFunc {
	kt := trap.NewKernelTrapTable()
	kt.Register(trap.InterruptSupervisorTimer, func(tf *trap.TrapFrame) {
		wheel.Tick(clock.Now())
		hart.RequestSoftPreempt()
	})
	return func(tf *trap.TrapFrame) bool {
		return !kt.Dispatch(tf)
	}
}

// spawnInit builds the init task's address space (a single anonymous
// stack mapping pre-populated with a message, standing in for a loaded
// binary's .rodata) and its main-loop Task, scripted via FakeSwitcher to
// ecall write(1, msg) then exit(0).
func spawnInit(arena *phys.Arena, frames *kalloc.Allocator, as *virt.Virt, fs *vfs.FS, info *task.Info, syscalls *task.Table, hart *exec.Hart, wheel *ktime.Wheel, clock ktime.Clock, log klog.BasicLogger) *task.Task {
	const msg = "hello from mizu init\n"

	anon := phys.NewAnon(frames, arena)
	r, err := as.Map(virt.UserRegion, paging.PageSize, anon, 0, paging.UserRW, true)
	if err != nil {
		log.Warningf("mizu: mapping init stack: %v", err)
		os.Exit(1)
	}

	// Fault the page in writable and stage the message, the host-test
	// stand-in for a loader copying a binary's initialized data into a
	// freshly mapped segment before first entry.
	guard, err := as.CommitGuard(0, r, paging.Writable)
	if err != nil {
		log.Warningf("mizu: committing init stack: %v", err)
		os.Exit(1)
	}
	copy(guard.Buffers()[0].Bytes, msg)
	guard.Release()

	files := vfs.NewFileTable()
	for _, fd := range [3]int{0, 1, 2} {
		if got, err := files.Open(fs, "/dev/console", vfs.OReadWrite); err != nil || got != fd {
			log.Warningf("mizu: opening console fd %d: %v", fd, err)
			os.Exit(1)
		}
	}

	state := task.State{
		Virt:  as,
		Sig:   task.NewSigActions(),
		Files: files,
	}

	var tf trap.TrapFrame
	sw := &trap.FakeSwitcher{Traps: []trap.SimulatedTrap{
		{
			Scause: trap.Scause(trap.ExceptionUserEcall),
			A:      [8]uint64{1, r.Start, uint64(len(msg)), 0, 0, 0, 0, 64},
		},
		{
			Scause: trap.Scause(trap.ExceptionUserEcall),
			A:      [8]uint64{0, 0, 0, 0, 0, 0, 0, 93},
		},
	}}

	return task.New(info, state, tf, sw, syscalls, bootFastFunc(hart, wheel, clock))
}
