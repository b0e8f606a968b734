// Package tree implements the blockchain tree: an in-memory multi-branch
// structure holding validated, executed blocks above the persisted
// canonical chain. The tree buffers orphans, decides nothing about
// canonicity on its own, and applies externally supplied fork-choice
// updates, driving pipeline unwinds and canonicalization batches when the
// head moves.
package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/core/types"
	"github.com/aviral10x/reth/log"
)

// Tree errors. Validation-level conditions are reported through result
// statuses; these sentinels carry the reason.
var (
	ErrZeroHead          = errors.New("tree: zero head hash")
	ErrBlockKnownBad     = errors.New("tree: block previously marked invalid")
	ErrNotLinked         = errors.New("tree: block does not link to its parent")
	ErrReorgTooDeep      = errors.New("tree: reorg exceeds max depth")
	ErrFinalityViolation = errors.New("tree: update would revert a finalized block")
	ErrUnknownSafe       = errors.New("tree: safe block unknown")
	ErrUnknownFinalized  = errors.New("tree: finalized block unknown")
	ErrSafeNotCanonical  = errors.New("tree: safe block not an ancestor of head")
	ErrFinalizedMoved    = errors.New("tree: finalized block moved backward")
)

// InsertStatus classifies the result of inserting one block.
type InsertStatus uint8

const (
	InsertValid        InsertStatus = iota // validated, executed, in the tree
	InsertAlreadyKnown                     // block already tracked or canonical
	InsertDisconnected                     // parent unknown, block buffered
	InsertInvalid                          // failed validation or execution
)

// String returns a human-readable name for the status.
func (s InsertStatus) String() string {
	switch s {
	case InsertValid:
		return "valid"
	case InsertAlreadyKnown:
		return "already_known"
	case InsertDisconnected:
		return "disconnected"
	case InsertInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// InsertResult reports the outcome of InsertBlock.
type InsertResult struct {
	Status InsertStatus

	// Reason carries the validation/execution error for InsertInvalid.
	Reason error

	// LatestValid is the deepest valid ancestor for InsertInvalid.
	LatestValid types.Hash

	// ExtendsHead reports whether the block's parent is the current
	// canonical head.
	ExtendsHead bool
}

// ForkChoiceState is the externally supplied fork-choice decision.
type ForkChoiceState struct {
	Head      types.Hash
	Safe      types.Hash
	Finalized types.Hash
}

// FcuStatus classifies the result of a fork-choice update.
type FcuStatus uint8

const (
	FcuValid FcuStatus = iota
	FcuInvalid
	FcuSyncing
)

// String returns a human-readable name for the status.
func (s FcuStatus) String() string {
	switch s {
	case FcuValid:
		return "valid"
	case FcuInvalid:
		return "invalid"
	case FcuSyncing:
		return "syncing"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// FcuResult reports the outcome of ForkchoiceUpdate.
type FcuResult struct {
	Status      FcuStatus
	Reason      error
	LatestValid types.Hash
}

// ReorgEvent records one chain reorganization.
type ReorgEvent struct {
	OldHead   types.Hash
	NewHead   types.Hash
	ForkPoint uint64 // number of the lowest common ancestor
	Depth     uint64 // blocks removed from the old canonical chain
	Timestamp time.Time
}

// maxReorgHistory bounds the retained reorg event log.
const maxReorgHistory = 64

// TreeConfig configures the blockchain tree.
type TreeConfig struct {
	// MaxReorgDepth rejects fork-choice updates whose fork point is more
	// than this many blocks behind the current head.
	MaxReorgDepth uint64

	// RetentionDepth prunes losing branches this far below the head.
	RetentionDepth uint64

	// MaxBufferedBlocks bounds the orphan buffer.
	MaxBufferedBlocks int

	// BadBlockCacheSize bounds the remembered invalid block hashes.
	BadBlockCacheSize int
}

// DefaultTreeConfig returns sensible defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		MaxReorgDepth:     64,
		RetentionDepth:    256,
		MaxBufferedBlocks: 1024,
		BadBlockCacheSize: 512,
	}
}

// treeNode is one pending block: validated, executed, not yet canonical.
// Nodes live in a flat hash-keyed table with parent-hash back-references,
// so pruning a branch is just dropping entries.
type treeNode struct {
	block   *types.Block
	outcome *types.ExecutionOutcome
}

// BlockchainTree tracks pending blocks above the canonical head, decides
// validity, and applies fork-choice updates. All mutating operations are
// serialized through a single writer lock; heavy per-block work
// (validation, execution) happens while holding it because results must be
// applied in arrival order. Use Prevalidate for the parallel,
// non-mutating pre-check of independent candidates.
type BlockchainTree struct {
	mu sync.Mutex // the single-writer serialization point

	store    *core.ChainStore
	oracle   core.ConsensusOracle
	engine   core.ExecutionEngine
	unwinder core.Unwinder
	config   TreeConfig
	logger   *log.Logger

	nodes  map[types.Hash]*treeNode
	buffer *blockBuffer

	// badBlocks maps an invalid block hash to its deepest valid ancestor.
	badBlocks *lru.Cache

	safeHash      types.Hash
	safeNum       uint64
	finalizedHash types.Hash
	finalizedNum  uint64

	reorgs []ReorgEvent
}

// NewBlockchainTree creates a tree over the given persisted chain and
// collaborators. Fork-choice pointers are restored from the store when
// present, defaulting to genesis.
func NewBlockchainTree(store *core.ChainStore, oracle core.ConsensusOracle, engine core.ExecutionEngine, unwinder core.Unwinder, config TreeConfig, logger *log.Logger) (*BlockchainTree, error) {
	if config.MaxReorgDepth == 0 {
		config.MaxReorgDepth = DefaultTreeConfig().MaxReorgDepth
	}
	if config.RetentionDepth == 0 {
		config.RetentionDepth = DefaultTreeConfig().RetentionDepth
	}
	if config.MaxBufferedBlocks <= 0 {
		config.MaxBufferedBlocks = DefaultTreeConfig().MaxBufferedBlocks
	}
	if config.BadBlockCacheSize <= 0 {
		config.BadBlockCacheSize = DefaultTreeConfig().BadBlockCacheSize
	}
	if logger == nil {
		logger = log.Discard()
	}
	bad, err := lru.New(config.BadBlockCacheSize)
	if err != nil {
		return nil, err
	}

	t := &BlockchainTree{
		store:     store,
		oracle:    oracle,
		engine:    engine,
		unwinder:  unwinder,
		config:    config,
		logger:    logger.Module("tree"),
		nodes:     make(map[types.Hash]*treeNode),
		buffer:    newBlockBuffer(config.MaxBufferedBlocks),
		badBlocks: bad,
	}

	genesis := store.Genesis()
	t.safeHash, t.safeNum = genesis.Hash(), genesis.Number()
	t.finalizedHash, t.finalizedNum = genesis.Hash(), genesis.Number()

	if hash, err := rawdb.ReadSafeBlockHash(store.DB()); err == nil && !hash.IsZero() {
		if num, ok := store.IsCanonical(hash); ok {
			t.safeHash, t.safeNum = hash, num
		}
	}
	if hash, err := rawdb.ReadFinalizedBlockHash(store.DB()); err == nil && !hash.IsZero() {
		if num, ok := store.IsCanonical(hash); ok {
			t.finalizedHash, t.finalizedNum = hash, num
		}
	}
	return t, nil
}

// CanonicalHead returns the hash and number of the persisted head.
func (t *BlockchainTree) CanonicalHead() (types.Hash, uint64) {
	return t.store.HeadHash(), t.store.HeadNumber()
}

// SafeBlock returns the current safe block pointer.
func (t *BlockchainTree) SafeBlock() (types.Hash, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.safeHash, t.safeNum
}

// FinalizedBlock returns the current finalized block pointer.
func (t *BlockchainTree) FinalizedBlock() (types.Hash, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizedHash, t.finalizedNum
}

// IsCanonical reports whether the hash is on the persisted canonical
// chain, and at which number.
func (t *BlockchainTree) IsCanonical(hash types.Hash) (uint64, bool) {
	return t.store.IsCanonical(hash)
}

// HasBlock reports whether the hash is tracked: pending, buffered, or
// canonical.
func (t *BlockchainTree) HasBlock(hash types.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[hash]; ok {
		return true
	}
	if t.buffer.contains(hash) {
		return true
	}
	_, canonical := t.store.IsCanonical(hash)
	return canonical
}

// PendingCount returns the number of blocks in the tree proper.
func (t *BlockchainTree) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// BufferedCount returns the number of orphaned blocks held in the buffer.
func (t *BlockchainTree) BufferedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.len()
}

// Reorgs returns the recorded reorganization history, most recent last.
func (t *BlockchainTree) Reorgs() []ReorgEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ReorgEvent, len(t.reorgs))
	copy(out, t.reorgs)
	return out
}

// InsertBlock validates and executes a block on top of its parent state.
// Orphans are buffered and reported as InsertDisconnected; when a missing
// parent later arrives, its buffered children are retried in arrival
// order automatically.
func (t *BlockchainTree) InsertBlock(ctx context.Context, block *types.Block) InsertResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(ctx, block)
}

// insert does the work of InsertBlock. Caller holds t.mu.
func (t *BlockchainTree) insert(ctx context.Context, block *types.Block) InsertResult {
	hash := block.Hash()

	if latest, ok := t.badBlocks.Get(hash); ok {
		return InsertResult{
			Status:      InsertInvalid,
			Reason:      ErrBlockKnownBad,
			LatestValid: latest.(types.Hash),
		}
	}
	if _, ok := t.nodes[hash]; ok {
		return InsertResult{Status: InsertAlreadyKnown}
	}
	if _, ok := t.store.IsCanonical(hash); ok {
		return InsertResult{Status: InsertAlreadyKnown}
	}

	// Resolve the parent: another pending block or a canonical block. The
	// parent's header root is its verified post-state in both cases: a
	// node's root was checked against its execution outcome before it
	// entered the tree, so it stands in even when the cached outcome has
	// been dropped (losing branches re-added after a reorg).
	parentHash := block.ParentHash()
	var parentHeader *types.Header
	if parentNode, ok := t.nodes[parentHash]; ok {
		parentHeader = parentNode.block.Header()
	} else if _, ok := t.store.IsCanonical(parentHash); ok {
		header, err := t.store.HeaderByHash(parentHash)
		if err != nil {
			return InsertResult{Status: InsertInvalid, Reason: err}
		}
		parentHeader = header
	} else {
		t.buffer.add(block)
		return InsertResult{Status: InsertDisconnected}
	}
	parentRoot := parentHeader.Root

	if block.Number() != parentHeader.Number+1 {
		return t.markInvalid(block, parentHash,
			fmt.Errorf("%w: number %d on parent %d", ErrNotLinked, block.Number(), parentHeader.Number))
	}
	header := block.Header()
	if err := t.oracle.ValidateHeader(header, parentHeader); err != nil {
		return t.markInvalid(block, parentHash, fmt.Errorf("%w: %v", core.ErrInvalidHeader, err))
	}
	if err := t.oracle.ValidateBody(block.Body(), header); err != nil {
		return t.markInvalid(block, parentHash, fmt.Errorf("%w: %v", core.ErrInvalidBody, err))
	}

	outcome, err := t.engine.Execute(ctx, block, parentRoot)
	if err != nil {
		return t.markInvalid(block, parentHash, fmt.Errorf("%w: %v", core.ErrExecutionFailed, err))
	}
	if outcome.StateRoot != header.Root {
		return t.markInvalid(block, parentHash,
			fmt.Errorf("%w: state root mismatch, got %v want %v", core.ErrExecutionFailed, outcome.StateRoot, header.Root))
	}

	t.nodes[hash] = &treeNode{block: block, outcome: outcome}
	extendsHead := parentHash == t.store.HeadHash()

	// The new block may unblock buffered orphans; retry them in arrival
	// order. Their results do not affect this block's result.
	for _, child := range t.buffer.pop(hash) {
		t.insert(ctx, child)
	}

	return InsertResult{Status: InsertValid, ExtendsHead: extendsHead}
}

// markInvalid records the block (and nothing else) as bad. Caller holds
// t.mu. The tree state is otherwise unchanged.
func (t *BlockchainTree) markInvalid(block *types.Block, latestValid types.Hash, reason error) InsertResult {
	t.badBlocks.Add(block.Hash(), latestValid)
	t.logger.Warn("invalid block",
		"number", block.Number(), "hash", block.Hash(), "err", reason)
	return InsertResult{Status: InsertInvalid, Reason: reason, LatestValid: latestValid}
}

// ForkchoiceUpdate applies an externally supplied fork-choice state. The
// head hash is authoritative: the tree never infers a winner between
// competing branches on its own.
//
// Extension canonicalizes pending blocks above the current head;
// reorganization first validates the whole new branch, then unwinds the
// pipeline to the fork point and canonicalizes the branch using cached
// execution outcomes. On any Invalid outcome the canonical head is left
// unchanged. Storage failures are returned as errors and escalate.
func (t *BlockchainTree) ForkchoiceUpdate(ctx context.Context, state ForkChoiceState) (FcuResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state.Head.IsZero() {
		return FcuResult{Status: FcuInvalid, Reason: ErrZeroHead}, nil
	}
	if latest, ok := t.badBlocks.Get(state.Head); ok {
		return FcuResult{Status: FcuInvalid, Reason: ErrBlockKnownBad, LatestValid: latest.(types.Hash)}, nil
	}

	currentHead := t.store.HeadHash()
	currentNum := t.store.HeadNumber()

	// Case 1: the head does not move; only the pointers may.
	if state.Head == currentHead {
		if res := t.updatePointers(state); res != nil {
			return *res, nil
		}
		t.prune()
		return FcuResult{Status: FcuValid, LatestValid: currentHead}, nil
	}

	// Case 2: the new head is an already-canonical ancestor: roll the
	// chain back to it.
	if num, ok := t.store.IsCanonical(state.Head); ok {
		return t.rollbackTo(ctx, state, num, currentHead, currentNum)
	}

	// Case 3: the new head is a pending tree block: extension or reorg.
	if _, ok := t.nodes[state.Head]; ok {
		return t.switchTo(ctx, state, currentHead, currentNum)
	}

	// Unknown (or buffered, or stale pruned branch): the caller must
	// fetch the missing ancestry. No mutation.
	return FcuResult{Status: FcuSyncing}, nil
}

// switchTo moves the head to a pending tree block. Caller holds t.mu.
func (t *BlockchainTree) switchTo(ctx context.Context, state ForkChoiceState, currentHead types.Hash, currentNum uint64) (FcuResult, error) {
	path, anchorHash := t.pathToCanonical(state.Head)
	anchorNum, ok := t.store.IsCanonical(anchorHash)
	if !ok {
		// The branch is grounded on an ancestor we no longer hold.
		return FcuResult{Status: FcuSyncing}, nil
	}

	// Depth bound: refuse to silently replay unbounded history.
	if anchorNum < currentNum {
		depth := currentNum - anchorNum
		if depth > t.config.MaxReorgDepth {
			return FcuResult{
				Status: FcuInvalid,
				Reason: fmt.Errorf("%w: fork point %d is %d behind head %d (max %d)",
					ErrReorgTooDeep, anchorNum, depth, currentNum, t.config.MaxReorgDepth),
			}, nil
		}
	}

	// Finality: the new head must keep the finalized block as ancestor.
	if anchorNum < t.finalizedNum {
		return FcuResult{
			Status: FcuInvalid,
			Reason: fmt.Errorf("%w: fork point %d below finalized %d", ErrFinalityViolation, anchorNum, t.finalizedNum),
		}, nil
	}

	// Validate the whole branch before touching canonical state: every
	// node needs a verified execution outcome.
	if res := t.ensureExecuted(ctx, path, anchorHash); res != nil {
		return *res, nil
	}

	// Pre-validate the pointer update against the post-switch chain so
	// an invalid update leaves the head untouched.
	newHeadNum := path[len(path)-1].block.Number()
	if res := t.checkPointers(state, path, anchorNum, newHeadNum); res != nil {
		return *res, nil
	}

	isReorg := anchorNum < currentNum
	var oldBranch []*treeNode
	if isReorg {
		// Capture the losing canonical blocks before unwinding so they
		// rejoin the tree as a pending branch.
		branch, err := t.collectCanonical(anchorNum+1, currentNum)
		if err != nil {
			return FcuResult{}, fmt.Errorf("collect old branch: %w", err)
		}
		oldBranch = branch

		reason := fmt.Sprintf("reorg to %v", state.Head)
		if err := t.unwinder.UnwindTo(ctx, anchorNum, reason); err != nil {
			return FcuResult{}, fmt.Errorf("unwind to %d: %w", anchorNum, err)
		}
	}

	blocks := make([]*types.Block, len(path))
	outcomes := make([]*types.ExecutionOutcome, len(path))
	for i, node := range path {
		blocks[i] = node.block
		outcomes[i] = node.outcome
	}
	if err := t.store.Canonicalize(blocks, outcomes); err != nil {
		return FcuResult{}, fmt.Errorf("canonicalize: %w", err)
	}

	// The winning branch leaves the pending set; the losing branch
	// enters it, so a later fork choice can switch back cheaply.
	for _, node := range path {
		delete(t.nodes, node.block.Hash())
	}
	for _, node := range oldBranch {
		t.nodes[node.block.Hash()] = node
	}

	if isReorg {
		t.recordReorg(ReorgEvent{
			OldHead:   currentHead,
			NewHead:   state.Head,
			ForkPoint: anchorNum,
			Depth:     currentNum - anchorNum,
			Timestamp: time.Now(),
		})
	} else {
		t.logger.Info("chain extended", "head", state.Head, "number", newHeadNum)
	}

	if res := t.updatePointers(state); res != nil {
		// Pointer state was pre-validated; a failure here is a bug, but
		// surface it rather than mask it.
		return *res, nil
	}
	t.prune()
	return FcuResult{Status: FcuValid, LatestValid: state.Head}, nil
}

// rollbackTo moves the head backward to an already-canonical block.
// Caller holds t.mu.
func (t *BlockchainTree) rollbackTo(ctx context.Context, state ForkChoiceState, targetNum uint64, currentHead types.Hash, currentNum uint64) (FcuResult, error) {
	depth := currentNum - targetNum
	if depth > t.config.MaxReorgDepth {
		return FcuResult{
			Status: FcuInvalid,
			Reason: fmt.Errorf("%w: rollback of %d blocks (max %d)", ErrReorgTooDeep, depth, t.config.MaxReorgDepth),
		}, nil
	}
	if targetNum < t.finalizedNum {
		return FcuResult{
			Status: FcuInvalid,
			Reason: fmt.Errorf("%w: rollback to %d below finalized %d", ErrFinalityViolation, targetNum, t.finalizedNum),
		}, nil
	}
	if res := t.checkPointers(state, nil, targetNum, targetNum); res != nil {
		return *res, nil
	}

	branch, err := t.collectCanonical(targetNum+1, currentNum)
	if err != nil {
		return FcuResult{}, fmt.Errorf("collect old branch: %w", err)
	}
	if err := t.unwinder.UnwindTo(ctx, targetNum, fmt.Sprintf("rollback to %v", state.Head)); err != nil {
		return FcuResult{}, fmt.Errorf("unwind to %d: %w", targetNum, err)
	}
	for _, node := range branch {
		t.nodes[node.block.Hash()] = node
	}

	t.recordReorg(ReorgEvent{
		OldHead:   currentHead,
		NewHead:   state.Head,
		ForkPoint: targetNum,
		Depth:     depth,
		Timestamp: time.Now(),
	})
	if res := t.updatePointers(state); res != nil {
		return *res, nil
	}
	t.prune()
	return FcuResult{Status: FcuValid, LatestValid: state.Head}, nil
}

// pathToCanonical walks parent links from hash down to the first
// non-tree ancestor, returning the branch in ascending order plus the
// anchor hash the branch is grounded on. Caller holds t.mu.
func (t *BlockchainTree) pathToCanonical(hash types.Hash) ([]*treeNode, types.Hash) {
	var reversed []*treeNode
	cur := hash
	for {
		node, ok := t.nodes[cur]
		if !ok {
			break
		}
		reversed = append(reversed, node)
		cur = node.block.ParentHash()
	}
	path := make([]*treeNode, len(reversed))
	for i, node := range reversed {
		path[len(reversed)-1-i] = node
	}
	return path, cur
}

// ensureExecuted fills in missing execution outcomes along the branch,
// re-executing against the parent's post-state. A failure marks the block
// bad and reports Invalid with the deepest valid ancestor. Caller holds
// t.mu. Returns nil when the whole branch is executed and verified.
func (t *BlockchainTree) ensureExecuted(ctx context.Context, path []*treeNode, anchorHash types.Hash) *FcuResult {
	parentRoot := types.Hash{}
	if header, err := t.store.HeaderByHash(anchorHash); err == nil {
		parentRoot = header.Root
	}
	latestValid := anchorHash
	for _, node := range path {
		if node.outcome == nil {
			outcome, err := t.engine.Execute(ctx, node.block, parentRoot)
			if err == nil && outcome.StateRoot != node.block.Root() {
				err = fmt.Errorf("state root mismatch, got %v want %v", outcome.StateRoot, node.block.Root())
			}
			if err != nil {
				t.markInvalid(node.block, latestValid, fmt.Errorf("%w: %v", core.ErrExecutionFailed, err))
				return &FcuResult{
					Status:      FcuInvalid,
					Reason:      fmt.Errorf("%w: block %d: %v", core.ErrExecutionFailed, node.block.Number(), err),
					LatestValid: latestValid,
				}
			}
			node.outcome = outcome
		}
		parentRoot = node.outcome.StateRoot
		latestValid = node.block.Hash()
	}
	return nil
}

// checkPointers validates the safe/finalized hashes of the incoming state
// against the chain as it will look once head points at newHeadNum, with
// path holding the soon-to-be-canonical branch above anchorNum. Caller
// holds t.mu. Returns nil when the update is acceptable.
func (t *BlockchainTree) checkPointers(state ForkChoiceState, path []*treeNode, anchorNum, newHeadNum uint64) *FcuResult {
	resolve := func(hash types.Hash) (uint64, bool) {
		if num, ok := t.store.IsCanonical(hash); ok && num <= anchorNum {
			return num, true
		}
		for _, node := range path {
			if node.block.Hash() == hash {
				return node.block.Number(), true
			}
		}
		return 0, false
	}

	finalizedNum := t.finalizedNum
	if !state.Finalized.IsZero() {
		num, ok := resolve(state.Finalized)
		if !ok {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: %v", ErrUnknownFinalized, state.Finalized)}
		}
		if num < t.finalizedNum {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: %d below %d", ErrFinalizedMoved, num, t.finalizedNum)}
		}
		finalizedNum = num
	}
	if !state.Safe.IsZero() {
		num, ok := resolve(state.Safe)
		if !ok {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: %v", ErrUnknownSafe, state.Safe)}
		}
		if num > newHeadNum || num < finalizedNum {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: safe %d, head %d, finalized %d", ErrSafeNotCanonical, num, newHeadNum, finalizedNum)}
		}
	}
	return nil
}

// updatePointers applies the safe/finalized pointers after the head has
// moved (or stayed). Caller holds t.mu. Returns nil on success.
func (t *BlockchainTree) updatePointers(state ForkChoiceState) *FcuResult {
	if !state.Finalized.IsZero() {
		num, ok := t.store.IsCanonical(state.Finalized)
		if !ok {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: %v", ErrUnknownFinalized, state.Finalized)}
		}
		if num < t.finalizedNum {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: %d below %d", ErrFinalizedMoved, num, t.finalizedNum)}
		}
		t.finalizedHash, t.finalizedNum = state.Finalized, num
		if err := rawdb.WriteFinalizedBlockHash(t.store.DB(), state.Finalized); err != nil {
			t.logger.Error("persist finalized pointer", "err", err)
		}
	}
	if !state.Safe.IsZero() {
		num, ok := t.store.IsCanonical(state.Safe)
		if !ok {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: %v", ErrUnknownSafe, state.Safe)}
		}
		if num < t.finalizedNum {
			return &FcuResult{Status: FcuInvalid, Reason: fmt.Errorf("%w: safe %d below finalized %d", ErrSafeNotCanonical, num, t.finalizedNum)}
		}
		t.safeHash, t.safeNum = state.Safe, num
		if err := rawdb.WriteSafeBlockHash(t.store.DB(), state.Safe); err != nil {
			t.logger.Error("persist safe pointer", "err", err)
		}
	}
	return nil
}

// collectCanonical loads canonical blocks [from, to] with their outcomes
// as tree nodes, before an unwind deletes them.
func (t *BlockchainTree) collectCanonical(from, to uint64) ([]*treeNode, error) {
	nodes := make([]*treeNode, 0, to-from+1)
	for number := from; number <= to; number++ {
		block, err := t.store.BlockByNumber(number)
		if err != nil {
			return nil, err
		}
		outcome, err := t.store.OutcomeByNumber(number)
		if errors.Is(err, rawdb.ErrNotFound) {
			outcome = nil // will be re-executed if the branch wins again
		} else if err != nil {
			return nil, err
		}
		nodes = append(nodes, &treeNode{block: block, outcome: outcome})
	}
	return nodes, nil
}

// recordReorg appends to the bounded reorg history. Caller holds t.mu.
func (t *BlockchainTree) recordReorg(event ReorgEvent) {
	t.logger.Warn("chain reorganized",
		"old", event.OldHead, "new", event.NewHead,
		"fork_point", event.ForkPoint, "depth", event.Depth)
	t.reorgs = append(t.reorgs, event)
	if len(t.reorgs) > maxReorgHistory {
		t.reorgs = t.reorgs[len(t.reorgs)-maxReorgHistory:]
	}
}

// prune drops pending branches that can never become canonical: siblings
// at or below the finalized number, and anything deeper than the
// retention depth below the head. Caller holds t.mu.
func (t *BlockchainTree) prune() {
	headNum := t.store.HeadNumber()
	var floor uint64
	if headNum > t.config.RetentionDepth {
		floor = headNum - t.config.RetentionDepth
	}
	if t.finalizedNum > floor {
		floor = t.finalizedNum
	}
	if floor == 0 {
		return
	}
	for hash, node := range t.nodes {
		if node.block.Number() <= floor {
			delete(t.nodes, hash)
		}
	}
	t.buffer.pruneBelow(floor)
}
