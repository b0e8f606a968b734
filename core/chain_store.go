package core

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/aviral10x/reth/core/rawdb"
	"github.com/aviral10x/reth/core/types"
)

// Chain store errors.
var (
	ErrNoGenesis        = errors.New("chain store: genesis block not provided")
	ErrBlockNotFound    = errors.New("chain store: block not found")
	ErrNotContiguous    = errors.New("chain store: blocks do not extend the head")
	ErrOutcomeMismatch  = errors.New("chain store: outcome count does not match block count")
	ErrUnknownCanonical = errors.New("chain store: no canonical block at number")
)

// ChainStoreConfig configures the chain store.
type ChainStoreConfig struct {
	// HeaderCacheSize is the number of recently touched headers kept in
	// memory.
	HeaderCacheSize int
}

// DefaultChainStoreConfig returns sensible defaults.
func DefaultChainStoreConfig() ChainStoreConfig {
	return ChainStoreConfig{HeaderCacheSize: 4096}
}

// ChainStore owns the persisted canonical chain: the linear sequence of
// blocks from genesis to the current head, contiguous by parent hash with
// exactly one block per number. All canonical writes go through it, either
// one atomic batch per canonicalization (tree path) or via the staged-sync
// stages operating on the same underlying database.
type ChainStore struct {
	mu      sync.RWMutex
	db      rawdb.Database
	genesis *types.Block
	head    *types.Header

	// headerCache maps hash -> *types.Header. Hashes are unique, so
	// entries never go stale.
	headerCache *lru.Cache
}

// NewChainStore opens a chain store over db, initializing it with genesis
// on first use. On restart the head is restored from the persisted pointer.
func NewChainStore(db rawdb.Database, genesis *types.Block, config ChainStoreConfig) (*ChainStore, error) {
	if genesis == nil {
		return nil, ErrNoGenesis
	}
	if config.HeaderCacheSize <= 0 {
		config.HeaderCacheSize = DefaultChainStoreConfig().HeaderCacheSize
	}
	cache, err := lru.New(config.HeaderCacheSize)
	if err != nil {
		return nil, err
	}
	cs := &ChainStore{db: db, genesis: genesis, headerCache: cache}

	headHash, err := rawdb.ReadHeadBlockHash(db)
	switch {
	case errors.Is(err, rawdb.ErrNotFound):
		// Fresh database: persist genesis as the canonical chain.
		batch := db.NewBatch()
		header := genesis.Header()
		if err := rawdb.WriteHeader(batch, header); err != nil {
			return nil, err
		}
		if err := rawdb.WriteBody(batch, 0, genesis.Hash(), genesis.Body()); err != nil {
			return nil, err
		}
		if err := rawdb.WriteCanonicalHash(batch, genesis.Number(), genesis.Hash()); err != nil {
			return nil, err
		}
		if err := rawdb.WriteHeadBlockHash(batch, genesis.Hash()); err != nil {
			return nil, err
		}
		if err := batch.Write(); err != nil {
			return nil, fmt.Errorf("persist genesis: %w", err)
		}
		cs.head = header
	case err != nil:
		return nil, err
	default:
		number, err := rawdb.ReadHeaderNumber(db, headHash)
		if err != nil {
			return nil, fmt.Errorf("restore head: %w", err)
		}
		head, err := rawdb.ReadHeader(db, number, headHash)
		if err != nil {
			return nil, fmt.Errorf("restore head header: %w", err)
		}
		cs.head = head
	}
	return cs, nil
}

// DB exposes the underlying database for the staged-sync stages, which
// write their own tables within short-lived batches.
func (cs *ChainStore) DB() rawdb.Database { return cs.db }

// Genesis returns the genesis block.
func (cs *ChainStore) Genesis() *types.Block { return cs.genesis }

// CurrentHeader returns a copy of the canonical head header.
func (cs *ChainStore) CurrentHeader() *types.Header {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return types.CopyHeader(cs.head)
}

// HeadNumber returns the canonical head block number.
func (cs *ChainStore) HeadNumber() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.head.Number
}

// HeadHash returns the canonical head block hash.
func (cs *ChainStore) HeadHash() types.Hash {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.head.Hash()
}

// CanonicalHash returns the canonical block hash at number.
func (cs *ChainStore) CanonicalHash(number uint64) (types.Hash, error) {
	hash, err := rawdb.ReadCanonicalHash(cs.db, number)
	if errors.Is(err, rawdb.ErrNotFound) {
		return types.Hash{}, fmt.Errorf("%w: %d", ErrUnknownCanonical, number)
	}
	return hash, err
}

// HeaderByHash returns the stored header with the given hash, canonical or
// not.
func (cs *ChainStore) HeaderByHash(hash types.Hash) (*types.Header, error) {
	if cached, ok := cs.headerCache.Get(hash); ok {
		return types.CopyHeader(cached.(*types.Header)), nil
	}
	number, err := rawdb.ReadHeaderNumber(cs.db, hash)
	if errors.Is(err, rawdb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	header, err := rawdb.ReadHeader(cs.db, number, hash)
	if err != nil {
		return nil, err
	}
	cs.headerCache.Add(hash, types.CopyHeader(header))
	return header, nil
}

// HeaderByNumber returns the canonical header at number.
func (cs *ChainStore) HeaderByNumber(number uint64) (*types.Header, error) {
	hash, err := cs.CanonicalHash(number)
	if err != nil {
		return nil, err
	}
	return cs.HeaderByHash(hash)
}

// BlockByHash returns the stored block with the given hash.
func (cs *ChainStore) BlockByHash(hash types.Hash) (*types.Block, error) {
	header, err := cs.HeaderByHash(hash)
	if err != nil {
		return nil, err
	}
	body, err := rawdb.ReadBody(cs.db, header.Number, hash)
	if errors.Is(err, rawdb.ErrNotFound) {
		body = &types.Body{}
	} else if err != nil {
		return nil, err
	}
	return types.NewBlock(header, body), nil
}

// BlockByNumber returns the canonical block at number.
func (cs *ChainStore) BlockByNumber(number uint64) (*types.Block, error) {
	hash, err := cs.CanonicalHash(number)
	if err != nil {
		return nil, err
	}
	return cs.BlockByHash(hash)
}

// IsCanonical reports whether hash is part of the canonical chain, and at
// which number.
func (cs *ChainStore) IsCanonical(hash types.Hash) (uint64, bool) {
	number, err := rawdb.ReadHeaderNumber(cs.db, hash)
	if err != nil {
		return 0, false
	}
	canonical, err := rawdb.ReadCanonicalHash(cs.db, number)
	if err != nil || canonical != hash {
		return 0, false
	}
	if number > cs.HeadNumber() {
		// Stale canonical marker above the head (mid-unwind); not
		// considered canonical.
		return 0, false
	}
	return number, true
}

// HasHeader reports whether a header with the given hash is stored.
func (cs *ChainStore) HasHeader(hash types.Hash) bool {
	if cs.headerCache.Contains(hash) {
		return true
	}
	_, err := rawdb.ReadHeaderNumber(cs.db, hash)
	return err == nil
}

// ReceiptsByNumber returns the receipts of the canonical block at number.
func (cs *ChainStore) ReceiptsByNumber(number uint64) ([]*types.Receipt, error) {
	return rawdb.ReadReceipts(cs.db, number)
}

// OutcomeByNumber returns the execution outcome of the canonical block at
// number.
func (cs *ChainStore) OutcomeByNumber(number uint64) (*types.ExecutionOutcome, error) {
	return rawdb.ReadExecutionOutcome(cs.db, number)
}

// TxLookup returns the canonical block number containing the transaction.
func (cs *ChainStore) TxLookup(txHash types.Hash) (uint64, error) {
	return rawdb.ReadTxLookup(cs.db, txHash)
}

// SetHead repoints the canonical head to the given already-stored header
// and persists the pointer. Used by the execution stage after committing a
// step and by unwinds after rolling data back.
func (cs *ChainStore) SetHead(header *types.Header) error {
	if err := rawdb.WriteHeadBlockHash(cs.db, header.Hash()); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.head = types.CopyHeader(header)
	cs.mu.Unlock()
	return nil
}

// Canonicalize appends blocks to the canonical chain in one atomic batch:
// headers, bodies, receipts, outcomes, the number index, tx lookups, and
// the head pointer. blocks[0] must extend the current head and outcomes
// must match blocks positionally.
func (cs *ChainStore) Canonicalize(blocks []*types.Block, outcomes []*types.ExecutionOutcome) error {
	if len(blocks) == 0 {
		return nil
	}
	if len(outcomes) != len(blocks) {
		return ErrOutcomeMismatch
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if blocks[0].ParentHash() != cs.head.Hash() || blocks[0].Number() != cs.head.Number+1 {
		return fmt.Errorf("%w: head %d/%v, first block %d (parent %v)",
			ErrNotContiguous, cs.head.Number, cs.head.Hash(), blocks[0].Number(), blocks[0].ParentHash())
	}

	batch := cs.db.NewBatch()
	prev := cs.head
	for i, block := range blocks {
		if block.ParentHash() != prev.Hash() || block.Number() != prev.Number+1 {
			return fmt.Errorf("%w: gap before block %d", ErrNotContiguous, block.Number())
		}
		header := block.Header()
		if err := rawdb.WriteHeader(batch, header); err != nil {
			return err
		}
		if err := rawdb.WriteBody(batch, block.Number(), block.Hash(), block.Body()); err != nil {
			return err
		}
		if err := rawdb.WriteCanonicalHash(batch, block.Number(), block.Hash()); err != nil {
			return err
		}
		outcome := outcomes[i]
		if outcome != nil {
			if err := rawdb.WriteExecutionOutcome(batch, block.Number(), outcome); err != nil {
				return err
			}
			receipts := outcome.Receipts
			types.DeriveReceiptFields(receipts, block.Hash(), block.Number(), block.Transactions())
			if err := rawdb.WriteReceipts(batch, block.Number(), receipts); err != nil {
				return err
			}
		}
		for _, tx := range block.Transactions() {
			if err := rawdb.WriteTxLookup(batch, tx.Hash(), block.Number()); err != nil {
				return err
			}
		}
		prev = header
	}
	if err := rawdb.WriteHeadBlockHash(batch, prev.Hash()); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("canonicalize batch: %w", err)
	}
	cs.head = prev
	return nil
}
