package tree

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/types"
)

// Prevalidator runs the stateless consensus checks for batches of
// candidate blocks concurrently, before they are handed to the tree one
// by one. It never touches tree state, so it needs no lock; the tree
// repeats the checks under its writer lock when the block is inserted.
type Prevalidator struct {
	oracle  core.ConsensusOracle
	workers int64
}

// NewPrevalidator creates a prevalidator running at most workers checks
// at once. Zero or negative means GOMAXPROCS.
func NewPrevalidator(oracle core.ConsensusOracle, workers int) *Prevalidator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Prevalidator{oracle: oracle, workers: int64(workers)}
}

// Check validates the bodies of the given blocks against their own
// headers. Results are positional: errs[i] is nil when blocks[i] passed.
// Parent-dependent checks are out of scope here; they need the parent
// state and run at insert time.
func (p *Prevalidator) Check(ctx context.Context, blocks []*types.Block) []error {
	errs := make([]error, len(blocks))
	sem := semaphore.NewWeighted(p.workers)
	var wg sync.WaitGroup

	for i, block := range blocks {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, block *types.Block) {
			defer wg.Done()
			defer sem.Release(1)
			errs[i] = p.oracle.ValidateBody(block.Body(), block.Header())
		}(i, block)
	}
	wg.Wait()
	return errs
}
