package tree

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/coretest"
	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/core/types"
)

// recordingUnwinder implements core.Unwinder by repointing the store head,
// which is all the tree needs from the pipeline in these tests.
type recordingUnwinder struct {
	mu      sync.Mutex
	store   *core.ChainStore
	targets []uint64
}

func (u *recordingUnwinder) UnwindTo(ctx context.Context, target uint64, reason string) error {
	u.mu.Lock()
	u.targets = append(u.targets, target)
	u.mu.Unlock()
	header, err := u.store.HeaderByNumber(target)
	if err != nil {
		return err
	}
	return u.store.SetHead(header)
}

type treeFixture struct {
	store    *core.ChainStore
	tree     *BlockchainTree
	engine   *coretest.Engine
	unwinder *recordingUnwinder
}

func newTreeFixture(t *testing.T, config TreeConfig) *treeFixture {
	t.Helper()
	return newTreeFixtureOn(t, rawdb.NewMemoryDB(), config)
}

func newTreeFixtureOn(t *testing.T, db rawdb.Database, config TreeConfig) *treeFixture {
	t.Helper()
	store, err := core.NewChainStore(db, coretest.Genesis(), core.ChainStoreConfig{})
	if err != nil {
		t.Fatalf("NewChainStore: %v", err)
	}
	engine := &coretest.Engine{}
	unwinder := &recordingUnwinder{store: store}
	tr, err := NewBlockchainTree(store, coretest.Oracle{}, engine, unwinder, config, nil)
	if err != nil {
		t.Fatalf("NewBlockchainTree: %v", err)
	}
	return &treeFixture{store: store, tree: tr, engine: engine, unwinder: unwinder}
}

// extend inserts the blocks and makes the last one the head.
func (f *treeFixture) extend(t *testing.T, blocks []*types.Block) {
	t.Helper()
	ctx := context.Background()
	for _, block := range blocks {
		if res := f.tree.InsertBlock(ctx, block); res.Status != InsertValid {
			t.Fatalf("insert block %d: %v (%v)", block.Number(), res.Status, res.Reason)
		}
	}
	res, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: blocks[len(blocks)-1].Hash()})
	if err != nil {
		t.Fatalf("ForkchoiceUpdate: %v", err)
	}
	if res.Status != FcuValid {
		t.Fatalf("ForkchoiceUpdate status = %v (%v)", res.Status, res.Reason)
	}
}

func TestInsertAndExtend(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()
	blocks := coretest.MakeChain(f.store.Genesis().Header(), 3, nil)

	res := f.tree.InsertBlock(ctx, blocks[0])
	if res.Status != InsertValid || !res.ExtendsHead {
		t.Fatalf("block 1: %+v", res)
	}
	res = f.tree.InsertBlock(ctx, blocks[1])
	if res.Status != InsertValid || res.ExtendsHead {
		t.Fatalf("block 2 should not extend the head directly: %+v", res)
	}
	res = f.tree.InsertBlock(ctx, blocks[2])
	if res.Status != InsertValid {
		t.Fatalf("block 3: %+v", res)
	}
	if got := f.tree.PendingCount(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: blocks[2].Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("fcu = %+v, err %v", fcu, err)
	}
	if head, num := f.tree.CanonicalHead(); head != blocks[2].Hash() || num != 3 {
		t.Errorf("head = %v/%d, want block 3", head, num)
	}
	if got := f.tree.PendingCount(); got != 0 {
		t.Errorf("pending after canonicalize = %d, want 0", got)
	}
	// Outcomes were cached at insert; canonicalizing must not re-execute.
	if got := len(f.engine.Executed()); got != 3 {
		t.Errorf("engine executed %d blocks, want 3", got)
	}
	outcome, err := f.store.OutcomeByNumber(2)
	if err != nil {
		t.Fatalf("OutcomeByNumber: %v", err)
	}
	if outcome.StateRoot != blocks[1].Root() {
		t.Errorf("persisted outcome root mismatch")
	}
}

func TestInsertAlreadyKnown(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()
	blocks := coretest.MakeChain(f.store.Genesis().Header(), 2, nil)

	f.tree.InsertBlock(ctx, blocks[0])
	if res := f.tree.InsertBlock(ctx, blocks[0]); res.Status != InsertAlreadyKnown {
		t.Errorf("re-insert pending block: %v, want AlreadyKnown", res.Status)
	}

	f.extend(t, blocks[1:2])
	if res := f.tree.InsertBlock(ctx, blocks[1]); res.Status != InsertAlreadyKnown {
		t.Errorf("re-insert canonical block: %v, want AlreadyKnown", res.Status)
	}
}

func TestInsertDisconnectedBuffersAndRetries(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()
	blocks := coretest.MakeChain(f.store.Genesis().Header(), 3, nil)

	// Children arrive before their parent.
	if res := f.tree.InsertBlock(ctx, blocks[1]); res.Status != InsertDisconnected {
		t.Fatalf("block 2: %v, want Disconnected", res.Status)
	}
	if res := f.tree.InsertBlock(ctx, blocks[2]); res.Status != InsertDisconnected {
		t.Fatalf("block 3: %v, want Disconnected", res.Status)
	}
	if got := f.tree.BufferedCount(); got != 2 {
		t.Fatalf("buffered = %d, want 2", got)
	}

	// The parent's arrival drains the buffer transitively.
	if res := f.tree.InsertBlock(ctx, blocks[0]); res.Status != InsertValid {
		t.Fatalf("block 1: %v", res.Status)
	}
	if got := f.tree.BufferedCount(); got != 0 {
		t.Errorf("buffered = %d, want 0", got)
	}
	if got := f.tree.PendingCount(); got != 3 {
		t.Errorf("pending = %d, want 3", got)
	}

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: blocks[2].Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("fcu = %+v, err %v", fcu, err)
	}
	if _, num := f.tree.CanonicalHead(); num != 3 {
		t.Errorf("head number = %d, want 3", num)
	}
}

func TestInsertInvalidHeader(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()
	genesis := f.store.Genesis()
	bad := coretest.MakeChain(genesis.Header(), 1, coretest.BadHeaderMarker)[0]

	res := f.tree.InsertBlock(ctx, bad)
	if res.Status != InsertInvalid {
		t.Fatalf("status = %v, want Invalid", res.Status)
	}
	if !errors.Is(res.Reason, core.ErrInvalidHeader) {
		t.Errorf("reason = %v, want ErrInvalidHeader", res.Reason)
	}
	if res.LatestValid != genesis.Hash() {
		t.Errorf("latest valid = %v, want genesis", res.LatestValid)
	}

	// The hash is remembered; re-insertion short-circuits.
	res = f.tree.InsertBlock(ctx, bad)
	if res.Status != InsertInvalid || !errors.Is(res.Reason, ErrBlockKnownBad) {
		t.Errorf("re-insert = %+v, want known-bad", res)
	}

	// Fork choice to a known-bad block is invalid too and moves nothing.
	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: bad.Hash()})
	if err != nil {
		t.Fatalf("fcu err: %v", err)
	}
	if fcu.Status != FcuInvalid || fcu.LatestValid != genesis.Hash() {
		t.Errorf("fcu = %+v", fcu)
	}
	if _, num := f.tree.CanonicalHead(); num != 0 {
		t.Errorf("head moved to %d", num)
	}
}

func TestInsertExecutionFailure(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()
	blocks := coretest.MakeChain(f.store.Genesis().Header(), 2, nil)

	failHash := blocks[1].Hash()
	f.engine.FailFn = func(block *types.Block) error {
		if block.Hash() == failHash {
			return errors.New("out of gas")
		}
		return nil
	}

	if res := f.tree.InsertBlock(ctx, blocks[0]); res.Status != InsertValid {
		t.Fatalf("block 1: %v", res.Status)
	}
	res := f.tree.InsertBlock(ctx, blocks[1])
	if res.Status != InsertInvalid || !errors.Is(res.Reason, core.ErrExecutionFailed) {
		t.Fatalf("block 2 = %+v, want execution failure", res)
	}
	if res.LatestValid != blocks[0].Hash() {
		t.Errorf("latest valid = %v, want block 1", res.LatestValid)
	}
}

func TestForkchoiceUnknownHead(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: types.HexToHash("0xabcdef")})
	if err != nil {
		t.Fatalf("fcu err: %v", err)
	}
	if fcu.Status != FcuSyncing {
		t.Errorf("status = %v, want Syncing", fcu.Status)
	}

	// A buffered block is not attached yet either.
	blocks := coretest.MakeChain(f.store.Genesis().Header(), 2, nil)
	f.tree.InsertBlock(ctx, blocks[1])
	fcu, err = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: blocks[1].Hash()})
	if err != nil || fcu.Status != FcuSyncing {
		t.Errorf("buffered head fcu = %+v, err %v, want Syncing", fcu, err)
	}
	if _, num := f.tree.CanonicalHead(); num != 0 {
		t.Errorf("head moved to %d", num)
	}
}

func TestReorgAndSwitchBack(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()

	chainA := coretest.MakeChain(f.store.Genesis().Header(), 3, nil)
	f.extend(t, chainA)

	// Competing branch from block 1, one block longer.
	chainB := coretest.MakeChain(chainA[0].Header(), 3, []byte{1})
	for _, block := range chainB {
		if res := f.tree.InsertBlock(ctx, block); res.Status != InsertValid {
			t.Fatalf("insert B%d: %v (%v)", block.Number(), res.Status, res.Reason)
		}
	}

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: chainB[2].Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("reorg fcu = %+v, err %v", fcu, err)
	}
	if head, num := f.tree.CanonicalHead(); head != chainB[2].Hash() || num != 4 {
		t.Fatalf("head = %v/%d, want B4", head, num)
	}
	if len(f.unwinder.targets) != 1 || f.unwinder.targets[0] != 1 {
		t.Errorf("unwind targets = %v, want [1]", f.unwinder.targets)
	}
	for _, block := range chainB {
		if _, ok := f.tree.IsCanonical(block.Hash()); !ok {
			t.Errorf("B%d not canonical after reorg", block.Number())
		}
	}
	// The losing blocks rejoin the tree as a pending branch.
	if _, ok := f.tree.IsCanonical(chainA[1].Hash()); ok {
		t.Errorf("A2 still canonical after reorg")
	}
	if !f.tree.HasBlock(chainA[1].Hash()) || !f.tree.HasBlock(chainA[2].Hash()) {
		t.Errorf("old canonical blocks not retained as pending")
	}

	events := f.tree.Reorgs()
	if len(events) != 1 {
		t.Fatalf("reorg events = %d, want 1", len(events))
	}
	if events[0].ForkPoint != 1 || events[0].Depth != 2 {
		t.Errorf("event = %+v, want fork point 1 depth 2", events[0])
	}
	if events[0].OldHead != chainA[2].Hash() || events[0].NewHead != chainB[2].Hash() {
		t.Errorf("event heads wrong: %+v", events[0])
	}

	// Fork choice can move back to the old branch.
	fcu, err = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: chainA[2].Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("switch-back fcu = %+v, err %v", fcu, err)
	}
	if head, num := f.tree.CanonicalHead(); head != chainA[2].Hash() || num != 3 {
		t.Errorf("head = %v/%d, want A3", head, num)
	}
	if len(f.tree.Reorgs()) != 2 {
		t.Errorf("reorg events = %d, want 2", len(f.tree.Reorgs()))
	}
}

func TestReorgDepthBound(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{MaxReorgDepth: 2})
	ctx := context.Background()

	chainA := coretest.MakeChain(f.store.Genesis().Header(), 4, nil)
	f.extend(t, chainA)

	// Fork point at genesis: depth 4 exceeds the bound of 2.
	deep := coretest.MakeChain(f.store.Genesis().Header(), 5, []byte{1})
	for _, block := range deep {
		f.tree.InsertBlock(ctx, block)
	}
	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: deep[4].Hash()})
	if err != nil {
		t.Fatalf("fcu err: %v", err)
	}
	if fcu.Status != FcuInvalid || !errors.Is(fcu.Reason, ErrReorgTooDeep) {
		t.Fatalf("fcu = %+v, want ErrReorgTooDeep", fcu)
	}
	if head, _ := f.tree.CanonicalHead(); head != chainA[3].Hash() {
		t.Errorf("head moved on rejected reorg")
	}

	// Fork point at block 2: depth exactly 2 is allowed.
	shallow := coretest.MakeChain(chainA[1].Header(), 3, []byte{2})
	for _, block := range shallow {
		if res := f.tree.InsertBlock(ctx, block); res.Status != InsertValid {
			t.Fatalf("insert shallow %d: %v", block.Number(), res.Status)
		}
	}
	fcu, err = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: shallow[2].Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("at-bound fcu = %+v, err %v", fcu, err)
	}
	if _, num := f.tree.CanonicalHead(); num != 5 {
		t.Errorf("head number = %d, want 5", num)
	}
}

func TestRollbackToCanonicalAncestor(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()

	blocks := coretest.MakeChain(f.store.Genesis().Header(), 5, nil)
	f.extend(t, blocks)

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: blocks[1].Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("rollback fcu = %+v, err %v", fcu, err)
	}
	if head, num := f.tree.CanonicalHead(); head != blocks[1].Hash() || num != 2 {
		t.Fatalf("head = %v/%d, want block 2", head, num)
	}
	if len(f.unwinder.targets) != 1 || f.unwinder.targets[0] != 2 {
		t.Errorf("unwind targets = %v, want [2]", f.unwinder.targets)
	}
	// The rolled-back blocks stay available as a pending branch.
	for _, block := range blocks[2:] {
		if !f.tree.HasBlock(block.Hash()) {
			t.Errorf("block %d lost after rollback", block.Number())
		}
	}
	events := f.tree.Reorgs()
	if len(events) != 1 || events[0].Depth != 3 || events[0].ForkPoint != 2 {
		t.Errorf("events = %+v", events)
	}
}

func TestFinalityPointers(t *testing.T) {
	db := rawdb.NewMemoryDB()
	f := newTreeFixtureOn(t, db, TreeConfig{})
	ctx := context.Background()

	blocks := coretest.MakeChain(f.store.Genesis().Header(), 5, nil)
	f.extend(t, blocks)

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{
		Head:      blocks[4].Hash(),
		Safe:      blocks[2].Hash(),
		Finalized: blocks[1].Hash(),
	})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("fcu = %+v, err %v", fcu, err)
	}
	if hash, num := f.tree.SafeBlock(); hash != blocks[2].Hash() || num != 3 {
		t.Errorf("safe = %v/%d", hash, num)
	}
	if hash, num := f.tree.FinalizedBlock(); hash != blocks[1].Hash() || num != 2 {
		t.Errorf("finalized = %v/%d", hash, num)
	}

	// Pointers survive a restart.
	restarted := newTreeFixtureOn(t, db, TreeConfig{})
	if hash, num := restarted.tree.FinalizedBlock(); hash != blocks[1].Hash() || num != 2 {
		t.Errorf("restored finalized = %v/%d", hash, num)
	}

	// Finality can only advance.
	fcu, err = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{
		Head:      blocks[4].Hash(),
		Finalized: blocks[0].Hash(),
	})
	if err != nil {
		t.Fatalf("fcu err: %v", err)
	}
	if fcu.Status != FcuInvalid || !errors.Is(fcu.Reason, ErrFinalizedMoved) {
		t.Errorf("fcu = %+v, want ErrFinalizedMoved", fcu)
	}

	// Unknown pointers are rejected.
	fcu, _ = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{
		Head:      blocks[4].Hash(),
		Finalized: types.HexToHash("0xbeef"),
	})
	if fcu.Status != FcuInvalid || !errors.Is(fcu.Reason, ErrUnknownFinalized) {
		t.Errorf("fcu = %+v, want ErrUnknownFinalized", fcu)
	}
	fcu, _ = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{
		Head: blocks[4].Hash(),
		Safe: types.HexToHash("0xbeef"),
	})
	if fcu.Status != FcuInvalid || !errors.Is(fcu.Reason, ErrUnknownSafe) {
		t.Errorf("fcu = %+v, want ErrUnknownSafe", fcu)
	}

	// A safe pointer behind the finalized block is inconsistent.
	fcu, _ = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{
		Head: blocks[4].Hash(),
		Safe: blocks[0].Hash(),
	})
	if fcu.Status != FcuInvalid || !errors.Is(fcu.Reason, ErrSafeNotCanonical) {
		t.Errorf("fcu = %+v, want ErrSafeNotCanonical", fcu)
	}
}

func TestFinalityBlocksReorgsBelowIt(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()

	blocks := coretest.MakeChain(f.store.Genesis().Header(), 4, nil)
	f.extend(t, blocks)
	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{
		Head:      blocks[3].Hash(),
		Finalized: blocks[1].Hash(),
	})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("finalize fcu = %+v, err %v", fcu, err)
	}

	// A branch forking below the finalized block can never win.
	fork := coretest.MakeChain(blocks[0].Header(), 5, []byte{1})
	for _, block := range fork {
		f.tree.InsertBlock(ctx, block)
	}
	fcu, err = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: fork[4].Hash()})
	if err != nil {
		t.Fatalf("fcu err: %v", err)
	}
	if fcu.Status != FcuInvalid || !errors.Is(fcu.Reason, ErrFinalityViolation) {
		t.Fatalf("fcu = %+v, want ErrFinalityViolation", fcu)
	}
	if head, _ := f.tree.CanonicalHead(); head != blocks[3].Hash() {
		t.Errorf("head moved on finality violation")
	}

	// Rolling back below the finalized block is equally forbidden.
	fcu, _ = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: blocks[0].Hash()})
	if fcu.Status != FcuInvalid || !errors.Is(fcu.Reason, ErrFinalityViolation) {
		t.Errorf("rollback fcu = %+v, want ErrFinalityViolation", fcu)
	}
}

func TestFinalityPrunesStaleBranches(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()

	blocks := coretest.MakeChain(f.store.Genesis().Header(), 6, nil)
	f.extend(t, blocks)

	// A stale sibling branch and an orphan below the future finality point.
	sibling := coretest.MakeChain(blocks[0].Header(), 2, []byte{1})
	for _, block := range sibling {
		if res := f.tree.InsertBlock(ctx, block); res.Status != InsertValid {
			t.Fatalf("insert sibling: %v", res.Status)
		}
	}
	orphanParent := coretest.MakeChain(blocks[1].Header(), 2, []byte{2})
	if res := f.tree.InsertBlock(ctx, orphanParent[1]); res.Status != InsertDisconnected {
		t.Fatalf("orphan insert: %v", res.Status)
	}

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{
		Head:      blocks[5].Hash(),
		Finalized: blocks[3].Hash(),
	})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("fcu = %+v, err %v", fcu, err)
	}
	if got := f.tree.PendingCount(); got != 0 {
		t.Errorf("pending = %d, want 0 after pruning", got)
	}
	if got := f.tree.BufferedCount(); got != 0 {
		t.Errorf("buffered = %d, want 0 after pruning", got)
	}
}

// Syncing the same blocks through direct canonicalization and through the
// tree must produce identical canonical chains.
func TestTreeMatchesDirectSync(t *testing.T) {
	blocks := coretest.MakeChain(coretest.Genesis().Header(), 8, nil)

	direct := newTreeFixture(t, TreeConfig{})
	engine := &coretest.Engine{}
	outcomes := make([]*types.ExecutionOutcome, len(blocks))
	root := direct.store.Genesis().Header().Root
	for i, block := range blocks {
		outcome, err := engine.Execute(context.Background(), block, root)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		outcomes[i] = outcome
		root = outcome.StateRoot
	}
	if err := direct.store.Canonicalize(blocks, outcomes); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	viaTree := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()
	for _, block := range blocks {
		if res := viaTree.tree.InsertBlock(ctx, block); res.Status != InsertValid {
			t.Fatalf("insert %d: %v", block.Number(), res.Status)
		}
		fcu, err := viaTree.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: block.Hash()})
		if err != nil || fcu.Status != FcuValid {
			t.Fatalf("fcu %d = %+v, err %v", block.Number(), fcu, err)
		}
	}

	if direct.store.HeadHash() != viaTree.store.HeadHash() {
		t.Fatalf("head hashes diverge")
	}
	for number := uint64(1); number <= 8; number++ {
		a, err := direct.store.CanonicalHash(number)
		if err != nil {
			t.Fatalf("direct canonical %d: %v", number, err)
		}
		b, err := viaTree.store.CanonicalHash(number)
		if err != nil {
			t.Fatalf("tree canonical %d: %v", number, err)
		}
		if a != b {
			t.Errorf("canonical %d diverges", number)
		}
	}
}

func TestPrevalidatorChecksBodies(t *testing.T) {
	genesis := coretest.Genesis()
	good := coretest.MakeChain(genesis.Header(), 2, nil)
	bad := coretest.MakeChain(genesis.Header(), 1, coretest.BadBodyMarker)

	p := NewPrevalidator(coretest.Oracle{}, 2)
	errs := p.Check(context.Background(), []*types.Block{good[0], bad[0], good[1]})
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("valid blocks rejected: %v, %v", errs[0], errs[2])
	}
	if errs[1] == nil {
		t.Errorf("marked body passed prevalidation")
	}
}

// A branch rolled back by a fork choice keeps its blocks as pending nodes
// even when an execution outcome is no longer in the store. Building on
// such a node must work, with the missing outcome recomputed when the
// branch wins again.
func TestRollbackToleratesMissingOutcome(t *testing.T) {
	f := newTreeFixture(t, TreeConfig{})
	ctx := context.Background()
	blocks := coretest.MakeChain(f.store.Genesis().Header(), 3, nil)
	f.extend(t, blocks)

	if err := rawdb.DeleteExecutionOutcome(f.store.DB(), 3); err != nil {
		t.Fatalf("delete outcome: %v", err)
	}

	fcu, err := f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: blocks[0].Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("rollback fcu = %+v, err %v", fcu, err)
	}
	if got := f.tree.PendingCount(); got != 2 {
		t.Fatalf("pending after rollback = %d, want 2", got)
	}

	// The child's parent is the pending node whose outcome went missing.
	child := coretest.MakeChain(blocks[2].Header(), 1, nil)[0]
	res := f.tree.InsertBlock(ctx, child)
	if res.Status != InsertValid {
		t.Fatalf("insert child: %v (%v)", res.Status, res.Reason)
	}

	fcu, err = f.tree.ForkchoiceUpdate(ctx, ForkChoiceState{Head: child.Hash()})
	if err != nil || fcu.Status != FcuValid {
		t.Fatalf("switch-back fcu = %+v, err %v", fcu, err)
	}
	if head, num := f.tree.CanonicalHead(); head != child.Hash() || num != 4 {
		t.Fatalf("head = %v/%d, want block 4", head, num)
	}
	outcome, err := f.store.OutcomeByNumber(3)
	if err != nil {
		t.Fatalf("outcome 3 after re-execution: %v", err)
	}
	if outcome.StateRoot != blocks[2].Root() {
		t.Errorf("re-executed root = %v, want %v", outcome.StateRoot, blocks[2].Root())
	}
}
