package stagedsync

import (
	"context"
	"fmt"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/core/types"
	"github.com/aviral10x/reth/log"
)

// defaultExecBatch is the number of blocks executed per step when the
// config does not say otherwise.
const defaultExecBatch = 64

// ExecutionConfig tunes the execution stage.
type ExecutionConfig struct {
	// BatchSize is the number of blocks executed and committed per step.
	BatchSize int
}

// DefaultExecutionConfig returns sensible defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{BatchSize: defaultExecBatch}
}

// ExecutionStage applies each block's transactions through the execution
// engine, verifies the resulting state root against the header commitment,
// and persists receipts and execution outcomes. It also advances the
// canonical head pointer, which marks how far the chain is fully executed.
type ExecutionStage struct {
	store  *core.ChainStore
	engine core.ExecutionEngine
	config ExecutionConfig
	logger *log.Logger
}

// NewExecutionStage creates the execution stage.
func NewExecutionStage(store *core.ChainStore, engine core.ExecutionEngine, config ExecutionConfig, logger *log.Logger) *ExecutionStage {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultExecBatch
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &ExecutionStage{
		store:  store,
		engine: engine,
		config: config,
		logger: logger.Module("stage/execution"),
	}
}

// ID implements Stage.
func (s *ExecutionStage) ID() StageID { return StageExecution }

// Execute runs one batch of blocks through the execution engine. Each
// block's outcome commits as part of the step's single batch; the head
// pointer moves only after the commit, so a crash mid-step discards the
// partial work and resumes from the checkpoint.
func (s *ExecutionStage) Execute(ctx context.Context, input ExecInput) (ExecOutput, error) {
	if input.ReachedTarget() {
		return ExecOutput{Checkpoint: input.Checkpoint, Done: true}, nil
	}

	from := input.Checkpoint.BlockNumber + 1
	to := from + uint64(s.config.BatchSize) - 1
	if to > input.Target {
		to = input.Target
	}

	parent, err := s.store.HeaderByNumber(input.Checkpoint.BlockNumber)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("load parent %d: %w", input.Checkpoint.BlockNumber, err)
	}

	batch := s.store.DB().NewBatch()
	var last *types.Header
	for number := from; number <= to; number++ {
		if err := ctx.Err(); err != nil {
			return ExecOutput{}, err
		}
		block, err := s.store.BlockByNumber(number)
		if err != nil {
			return ExecOutput{}, fmt.Errorf("block %d not synced: %w", number, err)
		}
		outcome, err := s.engine.Execute(ctx, block, parent.Root)
		if err != nil {
			return ExecOutput{}, fmt.Errorf("%w: block %d: %v", core.ErrExecutionFailed, number, err)
		}
		if outcome.StateRoot != block.Root() {
			return ExecOutput{}, fmt.Errorf("%w: block %d: state root mismatch, got %v want %v",
				core.ErrExecutionFailed, number, outcome.StateRoot, block.Root())
		}
		if err := rawdb.WriteExecutionOutcome(batch, number, outcome); err != nil {
			return ExecOutput{}, err
		}
		receipts := outcome.Receipts
		types.DeriveReceiptFields(receipts, block.Hash(), number, block.Transactions())
		if err := rawdb.WriteReceipts(batch, number, receipts); err != nil {
			return ExecOutput{}, err
		}
		last = block.Header()
		parent = last
	}
	if err := batch.Write(); err != nil {
		return ExecOutput{}, fmt.Errorf("commit execution: %w", err)
	}
	if err := s.store.SetHead(last); err != nil {
		return ExecOutput{}, fmt.Errorf("advance head: %w", err)
	}

	cp := Checkpoint{BlockNumber: to}
	return ExecOutput{Checkpoint: cp, Done: cp.BlockNumber >= input.Target}, nil
}

// Unwind deletes outcomes and receipts above target and moves the head
// pointer back to the target block.
func (s *ExecutionStage) Unwind(ctx context.Context, input UnwindInput) (Checkpoint, error) {
	db := s.store.DB()
	batch := db.NewBatch()
	for number := input.Checkpoint.BlockNumber; number > input.Target; number-- {
		if err := ctx.Err(); err != nil {
			return Checkpoint{}, err
		}
		if err := rawdb.DeleteExecutionOutcome(batch, number); err != nil {
			return Checkpoint{}, err
		}
		if err := rawdb.DeleteReceipts(batch, number); err != nil {
			return Checkpoint{}, err
		}
	}
	if err := batch.Write(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit execution unwind: %w", err)
	}

	// Repoint the head at the unwind target. The headers stage has not
	// unwound yet (it runs after us in reverse order), so the canonical
	// index above target is still intact here.
	if s.store.HeadNumber() > input.Target {
		target, err := s.store.HeaderByNumber(input.Target)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("load unwind target %d: %w", input.Target, err)
		}
		if err := s.store.SetHead(target); err != nil {
			return Checkpoint{}, fmt.Errorf("reset head: %w", err)
		}
	}
	return Checkpoint{BlockNumber: input.Target}, nil
}
