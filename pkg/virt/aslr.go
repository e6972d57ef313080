package virt

import (
	"math/rand"

	"github.com/mizu-os/mizu/pkg/errno"
	"github.com/mizu-os/mizu/pkg/paging"
)

// Region bounds an ASLR allocation: user mappings live in the Sv39 low
// half, kernel mappings in the canonical-sign-extended high half, per
// §4.4.
type Region struct {
	Start, End uint64
}

// Sv39's canonical address split: bit 38 sign-extends, so the user
// half is [0, 1<<38) and the kernel half is [0xFFFF_FFC0_0000_0000, 2^64).
var (
	UserRegion   = Region{Start: 0, End: 1 << 38}
	KernelRegion = Region{Start: 0xFFFF_FFC0_0000_0000, End: 0}
)

// aslrAllocator finds a random, sufficiently large, unused gap within a
// Region, per §4.4: "an ASLR allocator chooses a random gap of
// sufficient size within a caller-designated region".
type aslrAllocator struct {
	rng *rand.Rand
}

func newASLRAllocator(seed int64) *aslrAllocator {
	return &aslrAllocator{rng: rand.New(rand.NewSource(seed))}
}

// pick returns a randomly chosen, page-aligned start address for a
// mapping of the given length within region, that does not overlap any
// mapping already present in rm. It returns errno.ENOMEM if no
// sufficiently large gap exists after a bounded number of probe
// attempts — this is a probabilistic allocator, not an exhaustive
// first-fit search, matching the original's preference for O(1)-ish
// placement over guaranteed packing.
func (a *aslrAllocator) pick(rm *rangeMap, region Region, length uint64) (uint64, error) {
	const maxProbes = 64
	span := region.End - region.Start
	if region.End == 0 {
		span = ^uint64(0) - region.Start
	}
	if length > span {
		return 0, errno.ENOMEM
	}
	maxOffset := span - length

	for i := 0; i < maxProbes; i++ {
		offset := uint64(a.rng.Int63n(int64(maxOffset/paging.PageSize+1))) * paging.PageSize
		start := region.Start + offset
		candidate := Range{Start: start, End: start + length}
		if !rm.anyOverlap(candidate) {
			return start, nil
		}
	}
	return 0, errno.ENOMEM
}
