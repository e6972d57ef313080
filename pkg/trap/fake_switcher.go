package trap

// SimulatedTrap is one scripted trap event for FakeSwitcher: the cause,
// faulting value, and argument registers the test wants the "user
// program" to appear to have produced.
type SimulatedTrap struct {
	Scause Scause
	Stval  uint64
	A      [8]uint64
}

// FakeSwitcher is a host-test Switcher: instead of actually entering
// user mode, it plays back a fixed queue of SimulatedTraps, applying
// each to tf and invoking fast until fast reports the switch complete
// (or the queue is exhausted). Grounded on gvisor's ptrace platform's
// test doubles, which likewise replay canned trap sequences rather than
// run real sandboxed code (_examples/google-gvisor/pkg/sentry/platform).
type FakeSwitcher struct {
	Traps []SimulatedTrap
	pos   int
}

// SwitchToUser implements Switcher.
func (s *FakeSwitcher) SwitchToUser(tf *TrapFrame, fast FastFunc) {
	for s.pos < len(s.Traps) {
		ev := s.Traps[s.pos]
		s.pos++
		tf.Regs[regScause] = uint64(ev.Scause)
		tf.Regs[regStval] = ev.Stval
		for i, v := range ev.A {
			tf.SetA(i, v)
		}
		if fast == nil || fast(tf) {
			return
		}
	}
}

// Exhausted reports whether every scripted trap has been delivered.
func (s *FakeSwitcher) Exhausted() bool { return s.pos == len(s.Traps) }
