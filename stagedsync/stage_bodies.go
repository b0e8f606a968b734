package stagedsync

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/core/types"
	"github.com/aviral10x/reth/log"
)

// maxBodyFetchers bounds the concurrent body requests per step.
const maxBodyFetchers = 4

// BodiesStage downloads the bodies for already-synced headers, validates
// them against their header commitments, and writes the body table.
type BodiesStage struct {
	store  *core.ChainStore
	client core.BodyClient
	oracle core.ConsensusOracle
	config DownloadConfig
	logger *log.Logger
}

// NewBodiesStage creates the body download stage.
func NewBodiesStage(store *core.ChainStore, client core.BodyClient, oracle core.ConsensusOracle, config DownloadConfig, logger *log.Logger) *BodiesStage {
	if logger == nil {
		logger = log.Discard()
	}
	return &BodiesStage{
		store:  store,
		client: client,
		oracle: oracle,
		config: config.withDefaults(),
		logger: logger.Module("stage/bodies"),
	}
}

// ID implements Stage.
func (s *BodiesStage) ID() StageID { return StageBodies }

// Execute downloads and commits bodies for one batch of headers per call.
// Requests within the batch run concurrently under an errgroup; results
// are committed positionally so ordering is preserved.
func (s *BodiesStage) Execute(ctx context.Context, input ExecInput) (ExecOutput, error) {
	if input.ReachedTarget() {
		return ExecOutput{Checkpoint: input.Checkpoint, Done: true}, nil
	}

	from := input.Checkpoint.BlockNumber + 1
	to := from + uint64(s.config.BatchSize) - 1
	if to > input.Target {
		to = input.Target
	}

	headers := make([]*types.Header, 0, to-from+1)
	hashes := make([]types.Hash, 0, to-from+1)
	for number := from; number <= to; number++ {
		header, err := s.store.HeaderByNumber(number)
		if err != nil {
			return ExecOutput{}, fmt.Errorf("header %d not synced: %w", number, err)
		}
		headers = append(headers, header)
		hashes = append(hashes, header.Hash())
	}

	bodies, err := s.fetchBodies(ctx, hashes)
	if err != nil {
		return ExecOutput{}, err
	}

	batch := s.store.DB().NewBatch()
	for i, header := range headers {
		body := bodies[i]
		if body == nil {
			return ExecOutput{}, fmt.Errorf("%w: block %d", ErrBodyMissing, header.Number)
		}
		if err := s.oracle.ValidateBody(body, header); err != nil {
			return ExecOutput{}, fmt.Errorf("%w: block %d: %v", core.ErrInvalidBody, header.Number, err)
		}
		if err := rawdb.WriteBody(batch, header.Number, header.Hash(), body); err != nil {
			return ExecOutput{}, err
		}
	}
	if err := batch.Write(); err != nil {
		return ExecOutput{}, fmt.Errorf("commit bodies: %w", err)
	}

	cp := Checkpoint{BlockNumber: to}
	return ExecOutput{Checkpoint: cp, Done: cp.BlockNumber >= input.Target}, nil
}

// fetchBodies splits the hash list into chunks fetched concurrently, each
// chunk with its own retry budget.
func (s *BodiesStage) fetchBodies(ctx context.Context, hashes []types.Hash) ([]*types.Body, error) {
	bodies := make([]*types.Body, len(hashes))
	chunk := (len(hashes) + maxBodyFetchers - 1) / maxBodyFetchers
	if chunk == 0 {
		chunk = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(hashes); start += chunk {
		end := start + chunk
		if end > len(hashes) {
			end = len(hashes)
		}
		start, end := start, end
		g.Go(func() error {
			result, err := fetchWithRetry(gctx, s.config, func(reqCtx context.Context) ([]*types.Body, error) {
				return s.client.RequestBodies(reqCtx, hashes[start:end])
			})
			if err != nil {
				return err
			}
			if len(result) != end-start {
				return fmt.Errorf("%w: got %d of %d", ErrBodyMissing, len(result), end-start)
			}
			copy(bodies[start:end], result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// Unwind deletes bodies above target.
func (s *BodiesStage) Unwind(ctx context.Context, input UnwindInput) (Checkpoint, error) {
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
		if err := rawdb.DeleteBody(batch, number, hash); err != nil {
			return Checkpoint{}, err
		}
	}
	if err := batch.Write(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit body unwind: %w", err)
	}
	return Checkpoint{BlockNumber: input.Target}, nil
}
