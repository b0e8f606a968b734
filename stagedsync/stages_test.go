package stagedsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/core/coretest"
	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/core/types"
)

// testDownloadConfig keeps retries fast in tests.
func testDownloadConfig(batchSize int) DownloadConfig {
	return DownloadConfig{
		BatchSize:      batchSize,
		QueueSize:      2,
		RequestTimeout: time.Second,
		RetryBudget:    3,
		RetryBackoff:   time.Millisecond,
	}
}

type syncFixture struct {
	store   *core.ChainStore
	blocks  []*types.Block
	headers *coretest.HeaderSource
	bodies  *coretest.BodySource
	engine  *coretest.Engine
}

func newSyncFixture(t *testing.T, chainLen int) *syncFixture {
	t.Helper()
	store, err := core.NewChainStore(rawdb.NewMemoryDB(), coretest.Genesis(), core.ChainStoreConfig{})
	if err != nil {
		t.Fatalf("NewChainStore: %v", err)
	}
	blocks := coretest.MakeChain(store.Genesis().Header(), chainLen, nil)
	headers := coretest.NewHeaderSource()
	headers.AddBlocks(blocks)
	bodies := coretest.NewBodySource()
	bodies.AddBlocks(blocks)
	return &syncFixture{
		store:   store,
		blocks:  blocks,
		headers: headers,
		bodies:  bodies,
		engine:  &coretest.Engine{},
	}
}

func (f *syncFixture) pipeline(t *testing.T, download DownloadConfig) *Pipeline {
	t.Helper()
	stages := DefaultStages(f.store, f.headers, f.bodies, coretest.Oracle{}, f.engine,
		download, ExecutionConfig{BatchSize: 4}, nil)
	return NewPipeline(f.store.DB(), stages, nil)
}

// runToCheckpoint drives a single stage until it reports Done or errors.
func runToCheckpoint(t *testing.T, stage Stage, from, target uint64) (Checkpoint, error) {
	t.Helper()
	cp := Checkpoint{BlockNumber: from}
	for {
		out, err := stage.Execute(context.Background(), ExecInput{Checkpoint: cp, Target: target})
		if err != nil {
			return cp, err
		}
		cp = out.Checkpoint
		if out.Done {
			return cp, nil
		}
	}
}

func TestHeadersStageDownloads(t *testing.T) {
	f := newSyncFixture(t, 20)
	stage := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(6), nil)

	cp, err := runToCheckpoint(t, stage, 0, 20)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cp.BlockNumber != 20 {
		t.Fatalf("checkpoint = %d, want 20", cp.BlockNumber)
	}
	for _, block := range f.blocks {
		hash, err := rawdb.ReadCanonicalHash(f.store.DB(), block.Number())
		if err != nil {
			t.Fatalf("canonical %d: %v", block.Number(), err)
		}
		if hash != block.Hash() {
			t.Errorf("canonical %d = %v, want %v", block.Number(), hash, block.Hash())
		}
	}
	// The head pointer belongs to the execution stage; downloading headers
	// must not move it.
	if got := f.store.HeadNumber(); got != 0 {
		t.Errorf("head moved to %d during header download", got)
	}
}

func TestHeadersStageRejectsBrokenChain(t *testing.T) {
	f := newSyncFixture(t, 10)
	// Overwrite the header at number 6 with one that does not link to
	// the downloaded number 5.
	fork := coretest.MakeChain(f.blocks[2].Header(), 3, []byte{9})
	f.headers.AddBlocks(fork[2:])

	stage := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(3), nil)
	_, err := runToCheckpoint(t, stage, 0, 10)
	if !errors.Is(err, ErrBadHeaderChain) {
		t.Fatalf("err = %v, want ErrBadHeaderChain", err)
	}
}

func TestHeadersStageRejectsInvalidHeader(t *testing.T) {
	f := newSyncFixture(t, 4)
	bad := coretest.MakeChain(f.blocks[3].Header(), 1, coretest.BadHeaderMarker)
	f.headers.AddBlocks(bad)

	stage := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(2), nil)
	_, err := runToCheckpoint(t, stage, 0, 5)
	if !errors.Is(err, core.ErrInvalidHeader) {
		t.Fatalf("err = %v, want ErrInvalidHeader", err)
	}
}

func TestHeadersStageUnwind(t *testing.T) {
	f := newSyncFixture(t, 10)
	stage := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(5), nil)
	cp, err := runToCheckpoint(t, stage, 0, 10)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cp, err = stage.Unwind(context.Background(), UnwindInput{Checkpoint: cp, Target: 6, Reason: "test"})
	if err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if cp.BlockNumber != 6 {
		t.Fatalf("checkpoint = %d, want 6", cp.BlockNumber)
	}
	if _, err := rawdb.ReadCanonicalHash(f.store.DB(), 7); !errors.Is(err, rawdb.ErrNotFound) {
		t.Errorf("canonical marker above target survived unwind: %v", err)
	}
	if _, err := rawdb.ReadCanonicalHash(f.store.DB(), 6); err != nil {
		t.Errorf("canonical marker at target deleted: %v", err)
	}

	// Unwinding again to the same target must succeed without effect.
	if _, err := stage.Unwind(context.Background(), UnwindInput{Checkpoint: cp, Target: 6}); err != nil {
		t.Errorf("repeat Unwind: %v", err)
	}
}

func TestBodiesStageDownloads(t *testing.T) {
	f := newSyncFixture(t, 12)
	headers := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(12), nil)
	if _, err := runToCheckpoint(t, headers, 0, 12); err != nil {
		t.Fatalf("headers: %v", err)
	}

	stage := NewBodiesStage(f.store, f.bodies, coretest.Oracle{}, testDownloadConfig(5), nil)
	cp, err := runToCheckpoint(t, stage, 0, 12)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cp.BlockNumber != 12 {
		t.Fatalf("checkpoint = %d, want 12", cp.BlockNumber)
	}
	for _, block := range f.blocks {
		body, err := rawdb.ReadBody(f.store.DB(), block.Number(), block.Hash())
		if err != nil {
			t.Fatalf("body %d: %v", block.Number(), err)
		}
		if len(body.Transactions) != 1 {
			t.Errorf("body %d has %d txs, want 1", block.Number(), len(body.Transactions))
		}
	}
}

func TestBodiesStageMissingBody(t *testing.T) {
	f := newSyncFixture(t, 6)
	headers := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(6), nil)
	if _, err := runToCheckpoint(t, headers, 0, 6); err != nil {
		t.Fatalf("headers: %v", err)
	}
	f.bodies.Withhold(f.blocks[3].Hash())

	stage := NewBodiesStage(f.store, f.bodies, coretest.Oracle{}, testDownloadConfig(6), nil)
	_, err := runToCheckpoint(t, stage, 0, 6)
	if !errors.Is(err, ErrBodyMissing) {
		t.Fatalf("err = %v, want ErrBodyMissing", err)
	}
}

func TestExecutionStageAdvancesHead(t *testing.T) {
	f := newSyncFixture(t, 9)
	headers := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(9), nil)
	if _, err := runToCheckpoint(t, headers, 0, 9); err != nil {
		t.Fatalf("headers: %v", err)
	}
	bodies := NewBodiesStage(f.store, f.bodies, coretest.Oracle{}, testDownloadConfig(9), nil)
	if _, err := runToCheckpoint(t, bodies, 0, 9); err != nil {
		t.Fatalf("bodies: %v", err)
	}

	stage := NewExecutionStage(f.store, f.engine, ExecutionConfig{BatchSize: 4}, nil)
	cp, err := runToCheckpoint(t, stage, 0, 9)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cp.BlockNumber != 9 {
		t.Fatalf("checkpoint = %d, want 9", cp.BlockNumber)
	}
	if got := f.store.HeadNumber(); got != 9 {
		t.Errorf("head = %d, want 9", got)
	}
	outcome, err := f.store.OutcomeByNumber(9)
	if err != nil {
		t.Fatalf("OutcomeByNumber: %v", err)
	}
	if outcome.StateRoot != f.blocks[8].Root() {
		t.Errorf("stored outcome root mismatch")
	}
	receipts, err := f.store.ReceiptsByNumber(9)
	if err != nil {
		t.Fatalf("ReceiptsByNumber: %v", err)
	}
	if len(receipts) != 1 || receipts[0].BlockNumber != 9 {
		t.Errorf("receipts not derived: %+v", receipts)
	}
}

func TestExecutionStageHaltsOnFailure(t *testing.T) {
	f := newSyncFixture(t, 6)
	headers := NewHeadersStage(f.store, f.headers, coretest.Oracle{}, testDownloadConfig(6), nil)
	if _, err := runToCheckpoint(t, headers, 0, 6); err != nil {
		t.Fatalf("headers: %v", err)
	}
	bodies := NewBodiesStage(f.store, f.bodies, coretest.Oracle{}, testDownloadConfig(6), nil)
	if _, err := runToCheckpoint(t, bodies, 0, 6); err != nil {
		t.Fatalf("bodies: %v", err)
	}

	failHash := f.blocks[3].Hash()
	f.engine.FailFn = func(block *types.Block) error {
		if block.Hash() == failHash {
			return errors.New("transaction reverted badly")
		}
		return nil
	}

	stage := NewExecutionStage(f.store, f.engine, ExecutionConfig{BatchSize: 2}, nil)
	cp, err := runToCheckpoint(t, stage, 0, 6)
	if !errors.Is(err, core.ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	// The committed step before the failure remains: the head is at the
	// last full batch, not past the failing block.
	if cp.BlockNumber != 2 {
		t.Errorf("checkpoint = %d, want 2", cp.BlockNumber)
	}
	if got := f.store.HeadNumber(); got != 2 {
		t.Errorf("head = %d, want 2", got)
	}
}

func TestFullPipelineSyncAndUnwind(t *testing.T) {
	f := newSyncFixture(t, 16)
	p := f.pipeline(t, testDownloadConfig(5))

	if err := p.Run(context.Background(), 16); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.store.HeadNumber(); got != 16 {
		t.Fatalf("head = %d, want 16", got)
	}
	min, err := p.MinProgress()
	if err != nil {
		t.Fatalf("MinProgress: %v", err)
	}
	if min != 16 {
		t.Fatalf("MinProgress = %d, want 16", min)
	}
	tx := f.blocks[15].Transactions()[0]
	if number, err := f.store.TxLookup(tx.Hash()); err != nil || number != 16 {
		t.Errorf("TxLookup = %d/%v, want 16", number, err)
	}

	if err := p.Unwind(context.Background(), 10, "test reorg"); err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if got := f.store.HeadNumber(); got != 10 {
		t.Errorf("head after unwind = %d, want 10", got)
	}
	if _, err := f.store.TxLookup(tx.Hash()); !errors.Is(err, rawdb.ErrNotFound) {
		t.Errorf("lookup above unwind target survived: %v", err)
	}
	if _, err := rawdb.ReadExecutionOutcome(f.store.DB(), 11); !errors.Is(err, rawdb.ErrNotFound) {
		t.Errorf("outcome above unwind target survived: %v", err)
	}

	// A fresh run over the same database resumes from the checkpoints and
	// catches back up.
	if err := p.Run(context.Background(), 16); err != nil {
		t.Fatalf("resync Run: %v", err)
	}
	if got := f.store.HeadNumber(); got != 16 {
		t.Errorf("head after resync = %d, want 16", got)
	}
	if number, err := f.store.TxLookup(tx.Hash()); err != nil || number != 16 {
		t.Errorf("TxLookup after resync = %d/%v, want 16", number, err)
	}
}

func TestPipelineSurvivesTransientPeerFailures(t *testing.T) {
	f := newSyncFixture(t, 8)
	f.headers.FailNext(2)
	f.bodies.FailNext(2)
	p := f.pipeline(t, testDownloadConfig(4))

	if err := p.Run(context.Background(), 8); err != nil {
		t.Fatalf("Run with transient failures: %v", err)
	}
	if got := f.store.HeadNumber(); got != 8 {
		t.Errorf("head = %d, want 8", got)
	}
}
