// Package coretest provides deterministic fakes for the sync core's
// collaborator interfaces: a toy execution engine, a marker-driven
// consensus oracle, map-backed download clients, and a chain builder
// whose blocks the fake engine reproduces exactly. Test-only.
package coretest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"github.com/aviral10x/reth/core/types"
)

// Markers recognized by the Oracle in a header's extra data.
var (
	BadHeaderMarker = []byte("bad-header")
	BadBodyMarker   = []byte("bad-body")
)

const (
	testGasLimit = 30_000_000
	txGas        = 21_000
)

// StateRoot computes the post-state root the fake engine produces for a
// block: a digest of the parent root, the block number, and the extra
// data. Chain builders and the engine agree on it by construction.
func StateRoot(parentRoot types.Hash, number uint64, extra []byte) types.Hash {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], number)
	return types.Keccak256Hash(parentRoot[:], num[:], extra)
}

// Genesis returns the deterministic test genesis block.
func Genesis() *types.Block {
	header := &types.Header{
		Root:        StateRoot(types.Hash{}, 0, nil),
		TxHash:      types.EmptyRootHash,
		ReceiptHash: types.EmptyRootHash,
		GasLimit:    testGasLimit,
		BaseFee:     big.NewInt(1_000_000_000),
	}
	return types.NewBlock(header, &types.Body{})
}

// MakeChain builds n consecutive blocks on top of parent. extra goes into
// every header verbatim, so two calls with different extra values yield
// competing branches at the same numbers. Each block carries one
// transaction whose payload is unique to the block.
func MakeChain(parent *types.Header, n int, extra []byte) []*types.Block {
	blocks := make([]*types.Block, 0, n)
	for i := 0; i < n; i++ {
		number := parent.Number + 1
		parentHash := parent.Hash()

		var payload bytes.Buffer
		payload.Write(parentHash[:])
		binary.Write(&payload, binary.BigEndian, number)
		payload.Write(extra)
		txs := []*types.Transaction{types.NewTransaction(payload.Bytes())}

		header := &types.Header{
			ParentHash:  parentHash,
			Root:        StateRoot(parent.Root, number, extra),
			TxHash:      types.DeriveTxHash(txs),
			ReceiptHash: types.EmptyRootHash,
			Number:      number,
			GasLimit:    parent.GasLimit,
			GasUsed:     txGas,
			Time:        parent.Time + 12,
			Extra:       extra,
			BaseFee:     new(big.Int).Set(parent.BaseFee),
		}
		block := types.NewBlock(header, &types.Body{Transactions: txs})
		blocks = append(blocks, block)
		parent = block.Header()
	}
	return blocks
}

// Engine is a deterministic fake execution engine. Executing a block built
// by MakeChain against its parent's root reproduces the block's declared
// state root.
type Engine struct {
	mu sync.Mutex

	// FailFn, when set, is consulted before executing and its error
	// returned verbatim.
	FailFn func(block *types.Block) error

	executed []types.Hash
}

// Execute implements core.ExecutionEngine.
func (e *Engine) Execute(ctx context.Context, block *types.Block, parentRoot types.Hash) (*types.ExecutionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	failFn := e.FailFn
	e.executed = append(e.executed, block.Hash())
	e.mu.Unlock()

	if failFn != nil {
		if err := failFn(block); err != nil {
			return nil, err
		}
	}

	header := block.Header()
	txs := block.Transactions()
	receipts := make([]*types.Receipt, len(txs))
	for i := range txs {
		receipts[i] = types.NewReceipt(types.ReceiptStatusSuccessful, uint64(i+1)*txGas)
	}
	return &types.ExecutionOutcome{
		StateRoot: StateRoot(parentRoot, header.Number, header.Extra),
		GasUsed:   uint64(len(txs)) * txGas,
		Changes: []types.AccountChange{
			{Address: header.Coinbase, Balance: uint256.NewInt(header.Number), Nonce: header.Number},
		},
		Receipts: receipts,
	}, nil
}

// Executed returns the hashes of executed blocks in call order.
func (e *Engine) Executed() []types.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Hash, len(e.executed))
	copy(out, e.executed)
	return out
}

// Oracle is a fake consensus oracle driven by markers in the header's
// extra data. It also enforces basic linkage so tests catch wiring bugs.
type Oracle struct{}

// ValidateHeader implements core.ConsensusOracle.
func (Oracle) ValidateHeader(header, parent *types.Header) error {
	if header.Number != parent.Number+1 {
		return fmt.Errorf("number %d does not follow parent %d", header.Number, parent.Number)
	}
	if header.ParentHash != parent.Hash() {
		return errors.New("parent hash mismatch")
	}
	if bytes.Contains(header.Extra, BadHeaderMarker) {
		return errors.New("marked invalid")
	}
	return nil
}

// ValidateBody implements core.ConsensusOracle.
func (Oracle) ValidateBody(body *types.Body, header *types.Header) error {
	if bytes.Contains(header.Extra, BadBodyMarker) {
		return errors.New("marked invalid")
	}
	if got := types.DeriveTxHash(body.Transactions); got != header.TxHash {
		return fmt.Errorf("transactions hash mismatch: got %v want %v", got, header.TxHash)
	}
	return nil
}

// HeaderSource is a map-backed core.HeaderClient. Add chains with
// AddBlocks; inject transient failures with FailNext.
type HeaderSource struct {
	mu       sync.Mutex
	headers  map[uint64]*types.Header
	failures int
	requests int
}

// NewHeaderSource creates an empty source.
func NewHeaderSource() *HeaderSource {
	return &HeaderSource{headers: make(map[uint64]*types.Header)}
}

// AddBlocks registers the blocks' headers, keyed by number. Later
// additions overwrite earlier ones at the same number.
func (s *HeaderSource) AddBlocks(blocks []*types.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		s.headers[b.Number()] = b.Header()
	}
}

// FailNext makes the next n requests return an error.
func (s *HeaderSource) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// Requests returns the number of RequestHeaders calls seen.
func (s *HeaderSource) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// RequestHeaders implements core.HeaderClient.
func (s *HeaderSource) RequestHeaders(ctx context.Context, from uint64, count int) ([]*types.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("simulated peer failure")
	}
	var out []*types.Header
	for n := from; len(out) < count; n++ {
		header, ok := s.headers[n]
		if !ok {
			break
		}
		out = append(out, header)
	}
	return out, nil
}

// BodySource is a map-backed core.BodyClient.
type BodySource struct {
	mu       sync.Mutex
	bodies   map[types.Hash]*types.Body
	missing  map[types.Hash]bool
	failures int
}

// NewBodySource creates an empty source.
func NewBodySource() *BodySource {
	return &BodySource{
		bodies:  make(map[types.Hash]*types.Body),
		missing: make(map[types.Hash]bool),
	}
}

// AddBlocks registers the blocks' bodies, keyed by hash.
func (s *BodySource) AddBlocks(blocks []*types.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		s.bodies[b.Hash()] = b.Body()
	}
}

// Withhold makes the source omit the body for hash from responses.
func (s *BodySource) Withhold(hash types.Hash) {
	s.mu.Lock()
	s.missing[hash] = true
	s.mu.Unlock()
}

// FailNext makes the next n requests return an error.
func (s *BodySource) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// RequestBodies implements core.BodyClient.
func (s *BodySource) RequestBodies(ctx context.Context, hashes []types.Hash) ([]*types.Body, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("simulated peer failure")
	}
	out := make([]*types.Body, len(hashes))
	for i, hash := range hashes {
		if s.missing[hash] {
			continue
		}
		out[i] = s.bodies[hash]
	}
	return out, nil
}
