package sbi

import "testing"

func TestRemoteFenceVMASupportedDoesNotFallback(t *testing.T) {
	f := NewFake()
	var localCalls []int
	RemoteFenceVMAOrFallback(f, []int{0, 1, 2}, nil, func(hart int, rng *AddrRange) {
		localCalls = append(localCalls, hart)
	})
	if len(localCalls) != 0 {
		t.Fatalf("expected no local fallback calls, got %v", localCalls)
	}
	if len(f.FenceCalls) != 1 {
		t.Fatalf("expected exactly one RemoteFenceVMA call")
	}
}

func TestRemoteFenceVMAUnsupportedFallsBackRoundRobin(t *testing.T) {
	f := NewFake()
	f.FenceSupports = false
	var localCalls []int
	RemoteFenceVMAOrFallback(f, []int{0, 1, 2}, nil, func(hart int, rng *AddrRange) {
		localCalls = append(localCalls, hart)
	})
	if len(localCalls) != 3 {
		t.Fatalf("expected fallback to call local fence on every hart, got %v", localCalls)
	}
	for i, h := range localCalls {
		if h != i {
			t.Fatalf("expected round-robin order, got %v", localCalls)
		}
	}
}

func TestRemoteFenceVMAUnsupportedPanicsInDebug(t *testing.T) {
	Debug = true
	defer func() { Debug = false }()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic in debug build on unsupported fence")
		}
	}()
	f := NewFake()
	f.FenceSupports = false
	RemoteFenceVMAOrFallback(f, []int{0}, nil, func(int, *AddrRange) {})
}
