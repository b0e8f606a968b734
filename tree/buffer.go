package tree

import (
	"github.com/aviral10x/reth/core/types"
)

// blockBuffer holds blocks whose parent is not yet known, keyed by the
// missing parent hash. Buffered blocks never enter the tree proper; they
// are retried through insert when the parent arrives. The buffer is
// bounded; when full, the oldest buffered block is evicted.
type blockBuffer struct {
	max      int
	byParent map[types.Hash][]*types.Block
	hashes   map[types.Hash]struct{}
	arrival  []types.Hash // block hashes in arrival order, for eviction
}

func newBlockBuffer(max int) *blockBuffer {
	return &blockBuffer{
		max:      max,
		byParent: make(map[types.Hash][]*types.Block),
		hashes:   make(map[types.Hash]struct{}),
	}
}

// add buffers a block under its parent hash. Duplicates are ignored.
func (b *blockBuffer) add(block *types.Block) {
	hash := block.Hash()
	if _, ok := b.hashes[hash]; ok {
		return
	}
	if b.max > 0 && len(b.hashes) >= b.max {
		b.evictOldest()
	}
	b.byParent[block.ParentHash()] = append(b.byParent[block.ParentHash()], block)
	b.hashes[hash] = struct{}{}
	b.arrival = append(b.arrival, hash)
}

// pop removes and returns the buffered children of parent in arrival order.
func (b *blockBuffer) pop(parent types.Hash) []*types.Block {
	children := b.byParent[parent]
	if len(children) == 0 {
		return nil
	}
	delete(b.byParent, parent)
	for _, child := range children {
		delete(b.hashes, child.Hash())
	}
	return children
}

// contains reports whether the block hash is buffered.
func (b *blockBuffer) contains(hash types.Hash) bool {
	_, ok := b.hashes[hash]
	return ok
}

// len returns the number of buffered blocks.
func (b *blockBuffer) len() int { return len(b.hashes) }

// pruneBelow drops buffered blocks at or below the given number; their
// branches can no longer become canonical.
func (b *blockBuffer) pruneBelow(number uint64) {
	for parent, children := range b.byParent {
		kept := children[:0]
		for _, child := range children {
			if child.Number() > number {
				kept = append(kept, child)
			} else {
				delete(b.hashes, child.Hash())
			}
		}
		if len(kept) == 0 {
			delete(b.byParent, parent)
		} else {
			b.byParent[parent] = kept
		}
	}
}

// evictOldest removes the earliest-buffered block still present.
func (b *blockBuffer) evictOldest() {
	for len(b.arrival) > 0 {
		oldest := b.arrival[0]
		b.arrival = b.arrival[1:]
		if _, ok := b.hashes[oldest]; !ok {
			continue // already popped or pruned
		}
		for parent, children := range b.byParent {
			for i, child := range children {
				if child.Hash() == oldest {
					b.byParent[parent] = append(children[:i], children[i+1:]...)
					if len(b.byParent[parent]) == 0 {
						delete(b.byParent, parent)
					}
					delete(b.hashes, oldest)
					return
				}
			}
		}
		return
	}
}
