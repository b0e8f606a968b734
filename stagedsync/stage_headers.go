package stagedsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/core/types"
	"github.com/aviral10x/reth/log"
)

// HeadersStage downloads headers in ascending order, verifies chain
// linkage and consensus rules, and writes headers plus the canonical
// number index. It owns the header and canonical-hash tables.
type HeadersStage struct {
	store  *core.ChainStore
	client core.HeaderClient
	oracle core.ConsensusOracle
	config DownloadConfig
	logger *log.Logger

	// feed is the live download stream for the current run; recreated
	// whenever the resume point moves away from the feed's position.
	feed     *headerFeed
	feedFrom uint64
	feedTo   uint64

	// last verified header, parent for the next batch.
	parent *types.Header
}

// NewHeadersStage creates the header download stage.
func NewHeadersStage(store *core.ChainStore, client core.HeaderClient, oracle core.ConsensusOracle, config DownloadConfig, logger *log.Logger) *HeadersStage {
	if logger == nil {
		logger = log.Discard()
	}
	return &HeadersStage{
		store:  store,
		client: client,
		oracle: oracle,
		config: config.withDefaults(),
		logger: logger.Module("stage/headers"),
	}
}

// ID implements Stage.
func (s *HeadersStage) ID() StageID { return StageHeaders }

// Execute downloads and commits one batch of headers per call.
func (s *HeadersStage) Execute(ctx context.Context, input ExecInput) (ExecOutput, error) {
	if input.ReachedTarget() {
		s.stopFeed()
		return ExecOutput{Checkpoint: input.Checkpoint, Done: true}, nil
	}
	from := input.Checkpoint.BlockNumber + 1

	// (Re)start the stream if it is not positioned at our resume point.
	if s.feed == nil || s.feedFrom != from || s.feedTo != input.Target {
		s.stopFeed()
		s.feed = newHeaderFeed(ctx, s.client, s.config, from, input.Target)
		s.feedFrom = from
		s.feedTo = input.Target
		s.parent = nil
	}

	if s.parent == nil {
		parent, err := s.store.HeaderByNumber(input.Checkpoint.BlockNumber)
		if err != nil {
			return ExecOutput{}, fmt.Errorf("load resume parent %d: %w", input.Checkpoint.BlockNumber, err)
		}
		s.parent = parent
	}

	batch, err := s.feed.next(ctx)
	if err != nil {
		s.stopFeed()
		return ExecOutput{}, err
	}
	if batch == nil {
		// Stream delivered everything already committed.
		s.stopFeed()
		return ExecOutput{Checkpoint: input.Checkpoint, Done: true}, nil
	}

	dbBatch := s.store.DB().NewBatch()
	parent := s.parent
	for _, header := range batch {
		if header.Number != parent.Number+1 || header.ParentHash != parent.Hash() {
			s.stopFeed()
			return ExecOutput{}, fmt.Errorf("%w: got %d (parent %v), want child of %d/%v",
				ErrBadHeaderChain, header.Number, header.ParentHash, parent.Number, parent.Hash())
		}
		if err := s.oracle.ValidateHeader(header, parent); err != nil {
			s.stopFeed()
			return ExecOutput{}, fmt.Errorf("%w: block %d: %v", core.ErrInvalidHeader, header.Number, err)
		}
		if err := rawdb.WriteHeader(dbBatch, header); err != nil {
			return ExecOutput{}, err
		}
		if err := rawdb.WriteCanonicalHash(dbBatch, header.Number, header.Hash()); err != nil {
			return ExecOutput{}, err
		}
		parent = header
	}
	if err := dbBatch.Write(); err != nil {
		return ExecOutput{}, fmt.Errorf("commit headers: %w", err)
	}
	s.parent = parent

	// Advance the resume point so a mid-run restart resumes the feed.
	s.feedFrom = parent.Number + 1

	cp := Checkpoint{BlockNumber: parent.Number}
	done := cp.BlockNumber >= input.Target
	if done {
		s.stopFeed()
	}
	return ExecOutput{Checkpoint: cp, Done: done}, nil
}

// Unwind deletes headers and canonical markers above target.
func (s *HeadersStage) Unwind(ctx context.Context, input UnwindInput) (Checkpoint, error) {
	s.stopFeed()
	db := s.store.DB()
	batch := db.NewBatch()
	for number := input.Checkpoint.BlockNumber; number > input.Target; number-- {
		if err := ctx.Err(); err != nil {
			return Checkpoint{}, err
		}
		hash, err := rawdb.ReadCanonicalHash(db, number)
		if errors.Is(err, rawdb.ErrNotFound) {
			continue // already unwound
		}
		if err != nil {
			return Checkpoint{}, err
		}
		if err := rawdb.DeleteHeader(batch, number, hash); err != nil {
			return Checkpoint{}, err
		}
		if err := rawdb.DeleteCanonicalHash(batch, number); err != nil {
			return Checkpoint{}, err
		}
	}
	if err := batch.Write(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit header unwind: %w", err)
	}
	s.parent = nil
	return Checkpoint{BlockNumber: input.Target}, nil
}

func (s *HeadersStage) stopFeed() {
	if s.feed != nil {
		s.feed.stop()
		s.feed = nil
	}
}
