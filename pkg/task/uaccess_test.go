package task

import (
	"testing"

	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/phys"
	"github.com/mizu-os/mizu/pkg/trap"
	"github.com/mizu-os/mizu/pkg/vfs"
	"github.com/mizu-os/mizu/pkg/virt"
)

func TestAccessUserReadsCommittedUserBuffer(t *testing.T) {
	v, frames, arena := newTestVirt(t)
	p := phys.NewAnon(frames, arena)
	r, err := v.Map(virt.UserRegion, paging.PageSize, p, 0, paging.UserRW, false)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := v.CommitWrite(0, r.Start); err != nil {
		t.Fatalf("commit write: %v", err)
	}
	guard, err := v.CommitGuard(0, r, paging.Writable)
	if err != nil {
		t.Fatalf("commit guard: %v", err)
	}
	copy(guard.Buffers()[0].Bytes, []byte("hello"))
	guard.Release()

	info := NewInfo(1, nil)
	st := State{Virt: v, Sig: NewSigActions(), Files: vfs.NewFileTable()}
	tk := New(info, st, trap.TrapFrame{}, &trap.FakeSwitcher{}, newTestTable(), nil)

	acc, release, err := tk.state.AccessUser(r.Start, 5, false)
	if err != nil {
		t.Fatalf("AccessUser: %v", err)
	}
	defer release()

	var buf [5]byte
	n, err := trap.CheckedCopy(0, acc, buf[:], 0)
	if err != nil || n != 5 {
		t.Fatalf("CheckedCopy: n=%d err=%v", n, err)
	}
	if string(buf[:]) != "hello" {
		t.Fatalf("expected to read back %q, got %q", "hello", buf[:])
	}
}

func TestAccessUserWriteFaultsPastMappedRange(t *testing.T) {
	v, frames, arena := newTestVirt(t)
	p := phys.NewAnon(frames, arena)
	r, err := v.Map(virt.UserRegion, paging.PageSize, p, 0, paging.UserRW, false)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	info := NewInfo(1, nil)
	st := State{Virt: v, Sig: NewSigActions(), Files: vfs.NewFileTable()}
	tk := New(info, st, trap.TrapFrame{}, &trap.FakeSwitcher{}, newTestTable(), nil)

	_, release, err := tk.state.AccessUser(r.Start, paging.PageSize, true)
	if err != nil {
		t.Fatalf("AccessUser: %v", err)
	}
	release()

	if _, _, err := tk.state.AccessUser(r.End, paging.PageSize, true); err == nil {
		t.Fatalf("expected AccessUser to fail for a range with no backing mapping")
	}
}
