package phys

// Clone implements §4.3's branch-node indirection: rather than making
// the new Phys a direct child of p (which would let destroying the
// clone race with destroying the original's own view of shared pages),
// a synthetic "branch" Phys is inserted above both. p and the returned
// clone become the branch's two children; escalating a miss through
// either one now goes through the branch, which in turn escalates to
// whatever p used to point at.
//
// This is the generalisation of gvisor's private/shared vma split
// (_examples/google-gvisor/pkg/sentry/mm/pma.go) to an arbitrary-depth tree: instead of one
// global private/shared bit per mapping, cow is inherited structurally
// by walking up through branch nodes.
func (p *Phys) Clone() *Phys {
	p.mu.Lock()
	defer p.mu.Unlock()

	// branch inherits p's entire resident table as-is — dirty or clean,
	// it is all "the content as of this clone" and must be visible,
	// shared, to both children from here on. A page already dirty here
	// (written by p, not yet flushed) stays reachable for flushing
	// through branch even after both children CoW away their own
	// copies; flushing it once either child has diverged is redundant
	// work, not incorrect.
	branch := &Phys{
		alloc:  p.alloc,
		arena:  p.arena,
		up:     p.up,
		cow:    true,
		branch: true,
		table:  p.table,
		dirty:  p.dirty,
	}

	p.up = link{parent: branch}
	p.cow = true
	p.table = make(map[Index]*entry)
	p.dirty = make(map[Index]struct{})

	clone := newChild(branch, true)
	branch.children = []*Phys{p, clone}

	return clone
}

// compactParentChain collapses a chain of single-child branch nodes directly above
// p into one link, per §4.3: "commit/flush first compact linear chains
// of single-child branches before walking". A branch accumulates a
// single remaining child when its sibling is dropped (see Close);
// walking through a long chain of these on every commit would be
// needless indirection.
func (p *Phys) compactParentChain() {
	for p.up.parent != nil && p.up.parent.branch {
		b := p.up.parent
		b.mu.Lock()
		if len(b.children) != 1 {
			b.mu.Unlock()
			return
		}
		p.up = b.up
		b.mu.Unlock()
	}
}

// Close tears p down. For a non-root Phys it detaches from its branch
// parent's children list (called when a Phys tree is torn down, e.g. a
// task exits or unmaps a clone's mapping); if this leaves the branch
// with a single remaining child, that child's next compactParentChain
// call collapses the branch away.
//
// For a backend-backed root with a flusher attached, Close drains every
// pending write-back before releasing the flusher, per §4.3's "a
// backend-backed Phys is destroyed only after its pending write-backs
// complete". hart is only used along this root path (Flush needs one);
// a non-root Close ignores it.
func (p *Phys) Close(hart int) {
	p.mu.Lock()
	parent := p.up.parent
	fl := p.flusher
	p.mu.Unlock()

	if parent == nil {
		if fl != nil {
			p.Flush(hart)
			fl.reqs.Close()
			p.mu.Lock()
			p.flusher = nil
			p.mu.Unlock()
		}
		return
	}
	if !parent.branch {
		return
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()
	for i, c := range parent.children {
		if c == p {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
}
