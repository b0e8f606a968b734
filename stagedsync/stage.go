// Package stagedsync implements bulk historical sync as a pipeline of
// checkpointed stages: header download, body download, execution, and
// transaction indexing. Each stage processes a block-number range into its
// own tables and can be unwound independently; the pipeline sequences
// forward runs and reverse-order unwinds.
package stagedsync

import (
	"context"
	"errors"

	"github.com/aviral10x/reth/core/rawdb"
)

// StageID identifies a stage and keys its persisted checkpoint.
type StageID string

// The default stage set, in declared (forward) order.
const (
	StageHeaders   StageID = "Headers"
	StageBodies    StageID = "Bodies"
	StageExecution StageID = "Execution"
	StageTxLookup  StageID = "TxLookup"
)

// Stage errors shared across stage implementations.
var (
	// ErrRetryBudget is returned when a downloader stream stalls past its
	// retry budget; it is fatal to the pipeline run.
	ErrRetryBudget = errors.New("stagedsync: download retry budget exhausted")

	// ErrBadHeaderChain is returned when downloaded headers do not link.
	ErrBadHeaderChain = errors.New("stagedsync: header chain does not link")

	// ErrBodyMissing is returned when a peer response omits a requested
	// body.
	ErrBodyMissing = errors.New("stagedsync: body missing from response")
)

// Checkpoint is a stage's durable progress: the highest block number fully
// processed plus an opaque stage-specific cursor for mid-range resume
// hints. Checkpoints only move backward during an explicit unwind.
type Checkpoint struct {
	BlockNumber uint64
	Cursor      []byte
}

// ExecInput describes one forward step: advance from the current
// checkpoint toward Target.
type ExecInput struct {
	Checkpoint Checkpoint
	Target     uint64
}

// ReachedTarget reports whether there is nothing left to do.
func (in ExecInput) ReachedTarget() bool {
	return in.Checkpoint.BlockNumber >= in.Target
}

// ExecOutput is the result of one forward step.
type ExecOutput struct {
	Checkpoint Checkpoint
	Done       bool
}

// UnwindInput describes an unwind: revert all effects for block numbers
// greater than Target.
type UnwindInput struct {
	Checkpoint Checkpoint
	Target     uint64

	// Reason is logged with the unwind (e.g. "reorg to <hash>").
	Reason string
}

// Stage is one unit of sync work over a half-open block-number range.
//
// Execute must be resumable: a call whose checkpoint is already at or past
// the target is a no-op returning Done. Unwind must be idempotent:
// unwinding twice to the same target is a no-op the second time. A stage
// confines its writes to its own tables.
type Stage interface {
	ID() StageID
	Execute(ctx context.Context, input ExecInput) (ExecOutput, error)
	Unwind(ctx context.Context, input UnwindInput) (Checkpoint, error)
}

// loadCheckpoint reads a stage's persisted checkpoint.
func loadCheckpoint(db rawdb.Database, id StageID) (Checkpoint, error) {
	number, cursor, err := rawdb.ReadStageCheckpoint(db, string(id))
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{BlockNumber: number, Cursor: cursor}, nil
}

// saveCheckpoint persists a stage's checkpoint.
func saveCheckpoint(db rawdb.Database, id StageID, cp Checkpoint) error {
	return rawdb.WriteStageCheckpoint(db, string(id), cp.BlockNumber, cp.Cursor)
}
