// Package core holds the persisted canonical chain (ChainStore) and the
// collaborator contracts the sync core is built against: the consensus
// validity oracle, the execution engine, and the block downloader.
package core

import (
	"context"
	"errors"

	"github.com/aviral10x/reth/core/types"
)

// Collaborator errors surfaced through the tree and pipeline.
var (
	// ErrInvalidHeader wraps consensus-level header rejections.
	ErrInvalidHeader = errors.New("consensus: invalid header")

	// ErrInvalidBody wraps consensus-level body rejections.
	ErrInvalidBody = errors.New("consensus: invalid body")

	// ErrExecutionFailed wraps execution-engine failures on structurally
	// valid blocks.
	ErrExecutionFailed = errors.New("execution failed")
)

// ConsensusOracle is the stateless validity predicate for headers and
// bodies. Signature and proof verification happen behind this interface;
// the sync core treats it as a black box.
type ConsensusOracle interface {
	// ValidateHeader checks a header against its parent (number linkage,
	// timestamp, difficulty/proposer rules). A nil return means valid.
	ValidateHeader(header, parent *types.Header) error

	// ValidateBody checks a body against the commitments in its header.
	ValidateBody(body *types.Body, header *types.Header) error
}

// ExecutionEngine applies a block's transactions to the state snapshot
// identified by the parent's post-state root and returns the outcome as a
// single atomic unit. The engine may parallelize internally.
type ExecutionEngine interface {
	Execute(ctx context.Context, block *types.Block, parentRoot types.Hash) (*types.ExecutionOutcome, error)
}

// HeaderClient is the downloader-facing source of ordered header batches.
type HeaderClient interface {
	// RequestHeaders returns up to count headers starting at block number
	// from, in ascending order. Fewer headers than requested means the
	// source has no more; an empty non-error result means retry later.
	RequestHeaders(ctx context.Context, from uint64, count int) ([]*types.Header, error)
}

// BodyClient is the downloader-facing source of block bodies by hash.
type BodyClient interface {
	// RequestBodies returns bodies positionally matching hashes. A nil
	// entry means the peer did not have that body.
	RequestBodies(ctx context.Context, hashes []types.Hash) ([]*types.Body, error)
}

// Unwinder rolls all persisted stage data back so that target is the
// highest fully processed block. The staged-sync pipeline implements this;
// the blockchain tree drives it during reorganizations.
type Unwinder interface {
	UnwindTo(ctx context.Context, target uint64, reason string) error
}
