package stagedsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/log"
)

// defaultLookupBatch is the number of blocks indexed per step.
const defaultLookupBatch = 512

// TxLookupStage maintains the transaction-hash to block-number index for
// canonical blocks. It owns the tx lookup table.
type TxLookupStage struct {
	store  *core.ChainStore
	batch  int
	logger *log.Logger
}

// NewTxLookupStage creates the transaction indexing stage.
func NewTxLookupStage(store *core.ChainStore, logger *log.Logger) *TxLookupStage {
	if logger == nil {
		logger = log.Discard()
	}
	return &TxLookupStage{
		store:  store,
		batch:  defaultLookupBatch,
		logger: logger.Module("stage/txlookup"),
	}
}

// ID implements Stage.
func (s *TxLookupStage) ID() StageID { return StageTxLookup }

// Execute indexes the transactions of one range of blocks per call.
func (s *TxLookupStage) Execute(ctx context.Context, input ExecInput) (ExecOutput, error) {
	if input.ReachedTarget() {
		return ExecOutput{Checkpoint: input.Checkpoint, Done: true}, nil
	}

	from := input.Checkpoint.BlockNumber + 1
	to := from + uint64(s.batch) - 1
	if to > input.Target {
		to = input.Target
	}

	db := s.store.DB()
	batch := db.NewBatch()
	for number := from; number <= to; number++ {
		if err := ctx.Err(); err != nil {
			return ExecOutput{}, err
		}
		hash, err := rawdb.ReadCanonicalHash(db, number)
		if err != nil {
			return ExecOutput{}, fmt.Errorf("canonical hash %d: %w", number, err)
		}
		body, err := rawdb.ReadBody(db, number, hash)
		if errors.Is(err, rawdb.ErrNotFound) {
			continue // empty block stored without a body
		}
		if err != nil {
			return ExecOutput{}, err
		}
		for _, tx := range body.Transactions {
			if err := rawdb.WriteTxLookup(batch, tx.Hash(), number); err != nil {
				return ExecOutput{}, err
			}
		}
	}
	if err := batch.Write(); err != nil {
		return ExecOutput{}, fmt.Errorf("commit tx lookups: %w", err)
	}

	cp := Checkpoint{BlockNumber: to}
	return ExecOutput{Checkpoint: cp, Done: cp.BlockNumber >= input.Target}, nil
}

// Unwind removes lookup entries for transactions above target.
func (s *TxLookupStage) Unwind(ctx context.Context, input UnwindInput) (Checkpoint, error) {
	db := s.store.DB()
	batch := db.NewBatch()
	for number := input.Checkpoint.BlockNumber; number > input.Target; number-- {
		if err := ctx.Err(); err != nil {
			return Checkpoint{}, err
		}
		hash, err := rawdb.ReadCanonicalHash(db, number)
		if errors.Is(err, rawdb.ErrNotFound) {
			continue
		}
		if err != nil {
			return Checkpoint{}, err
		}
		body, err := rawdb.ReadBody(db, number, hash)
		if errors.Is(err, rawdb.ErrNotFound) {
			continue
		}
		if err != nil {
			return Checkpoint{}, err
		}
		for _, tx := range body.Transactions {
			if err := rawdb.DeleteTxLookup(batch, tx.Hash()); err != nil {
				return Checkpoint{}, err
			}
		}
	}
	if err := batch.Write(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit tx lookup unwind: %w", err)
	}
	return Checkpoint{BlockNumber: input.Target}, nil
}
