package stagedsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/log"
)

// Pipeline errors.
var (
	ErrPipelineBusy   = errors.New("pipeline: run or unwind already in progress")
	ErrNoStages       = errors.New("pipeline: no stages configured")
	ErrStorageFailure = errors.New("pipeline: storage failure")
)

// PipelineState is the pipeline's coarse lifecycle state, exposed for
// observability.
type PipelineState uint8

const (
	PipelineIdle PipelineState = iota
	PipelineRunning
	PipelineUnwinding
)

// String returns a human-readable name for the state.
func (s PipelineState) String() string {
	switch s {
	case PipelineIdle:
		return "idle"
	case PipelineRunning:
		return "running"
	case PipelineUnwinding:
		return "unwinding"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// StageProgress is a snapshot of one stage's checkpoint.
type StageProgress struct {
	ID          StageID
	BlockNumber uint64
}

// Pipeline executes an ordered list of stages toward a target block and
// unwinds them in reverse order. It is the sole writer of canonical
// persisted chain data during bulk sync; Run and Unwind are serialized so
// no two stage executions touch storage concurrently.
//
// Crash recovery is implicit: every run starts from the persisted per-stage
// checkpoints, so already-committed ranges are never replayed.
type Pipeline struct {
	mu     sync.Mutex // serializes Run/Unwind (the single-writer lock)
	db     rawdb.Database
	stages []Stage
	logger *log.Logger

	stateMu sync.RWMutex
	state   PipelineState
}

// NewPipeline creates a pipeline over the given stages, which run in the
// order given and unwind in the reverse order.
func NewPipeline(db rawdb.Database, stages []Stage, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Discard()
	}
	return &Pipeline{
		db:     db,
		stages: stages,
		logger: logger.Module("pipeline"),
	}
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() PipelineState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s PipelineState) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// Progress returns each stage's persisted checkpoint, in declared order.
func (p *Pipeline) Progress() ([]StageProgress, error) {
	out := make([]StageProgress, 0, len(p.stages))
	for _, stage := range p.stages {
		cp, err := loadCheckpoint(p.db, stage.ID())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		out = append(out, StageProgress{ID: stage.ID(), BlockNumber: cp.BlockNumber})
	}
	return out, nil
}

// MinProgress returns the lowest checkpoint across all stages: the highest
// block that is fully processed end to end.
func (p *Pipeline) MinProgress() (uint64, error) {
	progress, err := p.Progress()
	if err != nil {
		return 0, err
	}
	if len(progress) == 0 {
		return 0, ErrNoStages
	}
	min := progress[0].BlockNumber
	for _, sp := range progress[1:] {
		if sp.BlockNumber < min {
			min = sp.BlockNumber
		}
	}
	return min, nil
}

// Run executes each stage in declared order up to target. A stage's
// effective target is capped by the previous stage's progress (headers
// before bodies before execution before indexing). On a stage error the
// pipeline halts and surfaces the error without advancing later stages.
//
// Cancellation is cooperative: the context is checked between stage steps,
// and a canceled run leaves the last committed checkpoint as the resume
// point.
func (p *Pipeline) Run(ctx context.Context, target uint64) error {
	if len(p.stages) == 0 {
		return ErrNoStages
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setState(PipelineRunning)
	defer p.setState(PipelineIdle)

	// Earlier stages bound the range later stages may process.
	prevProgress := target

	for _, stage := range p.stages {
		stageTarget := target
		if prevProgress < stageTarget {
			stageTarget = prevProgress
		}

		cp, err := loadCheckpoint(p.db, stage.ID())
		if err != nil {
			return fmt.Errorf("%w: load checkpoint %s: %v", ErrStorageFailure, stage.ID(), err)
		}

		if cp.BlockNumber < stageTarget {
			p.logger.Info("running stage",
				"stage", string(stage.ID()), "from", cp.BlockNumber, "target", stageTarget)
		}

		for cp.BlockNumber < stageTarget {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := stage.Execute(ctx, ExecInput{Checkpoint: cp, Target: stageTarget})
			if err != nil {
				p.logger.Error("stage failed",
					"stage", string(stage.ID()), "block", cp.BlockNumber, "err", err)
				return fmt.Errorf("stage %s: %w", stage.ID(), err)
			}
			cp = out.Checkpoint
			if err := saveCheckpoint(p.db, stage.ID(), cp); err != nil {
				return fmt.Errorf("%w: save checkpoint %s: %v", ErrStorageFailure, stage.ID(), err)
			}
			if out.Done {
				break
			}
		}
		prevProgress = cp.BlockNumber
	}
	return nil
}

// Unwind reverts every stage to target in reverse declared order (indexing
// before execution before bodies before headers), so at every intermediate
// point no stage's checkpoint exceeds what earlier stages have produced.
//
// Blocks canonicalized by the blockchain tree advance the persisted head
// without touching stage checkpoints, so each stage's revert range starts
// at the head or its checkpoint, whichever is higher.
func (p *Pipeline) Unwind(ctx context.Context, target uint64, reason string) error {
	if len(p.stages) == 0 {
		return ErrNoStages
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setState(PipelineUnwinding)
	defer p.setState(PipelineIdle)

	head, err := p.headNumber()
	if err != nil {
		return fmt.Errorf("%w: read head: %v", ErrStorageFailure, err)
	}

	for i := len(p.stages) - 1; i >= 0; i-- {
		stage := p.stages[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		cp, err := loadCheckpoint(p.db, stage.ID())
		if err != nil {
			return fmt.Errorf("%w: load checkpoint %s: %v", ErrStorageFailure, stage.ID(), err)
		}
		from := cp
		if head > from.BlockNumber {
			from = Checkpoint{BlockNumber: head}
		}
		if from.BlockNumber <= target {
			continue // nothing to revert; keeps unwind idempotent
		}
		p.logger.Info("unwinding stage",
			"stage", string(stage.ID()), "from", from.BlockNumber, "to", target, "reason", reason)

		newCp, err := stage.Unwind(ctx, UnwindInput{Checkpoint: from, Target: target, Reason: reason})
		if err != nil {
			return fmt.Errorf("unwind %s: %w", stage.ID(), err)
		}
		if newCp.BlockNumber > cp.BlockNumber {
			// Reverting tree-canonicalized blocks must not claim progress
			// the stage itself never made.
			newCp = cp
		}
		if err := saveCheckpoint(p.db, stage.ID(), newCp); err != nil {
			return fmt.Errorf("%w: save checkpoint %s: %v", ErrStorageFailure, stage.ID(), err)
		}
	}
	return nil
}

// headNumber reads the persisted canonical head, block zero when no head
// has been written yet. The head can sit above every stage checkpoint when
// the blockchain tree canonicalized blocks directly.
func (p *Pipeline) headNumber() (uint64, error) {
	hash, err := rawdb.ReadHeadBlockHash(p.db)
	if errors.Is(err, rawdb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rawdb.ReadHeaderNumber(p.db, hash)
}

// UnwindTo implements core.Unwinder for the blockchain tree.
func (p *Pipeline) UnwindTo(ctx context.Context, target uint64, reason string) error {
	return p.Unwind(ctx, target, reason)
}
