package types

import "sync/atomic"

// Transaction is an opaque, already-encoded transaction. The sync core
// never interprets transaction internals; execution semantics live in the
// execution engine collaborator.
type Transaction struct {
	Payload []byte

	hash atomic.Pointer[Hash]
}

// NewTransaction wraps raw transaction bytes.
func NewTransaction(payload []byte) *Transaction {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Transaction{Payload: p}
}

// Hash returns the keccak256 hash of the transaction payload, cached after
// the first call.
func (tx *Transaction) Hash() Hash {
	if cached := tx.hash.Load(); cached != nil {
		return *cached
	}
	h := Keccak256Hash(tx.Payload)
	tx.hash.Store(&h)
	return h
}

// Body contains the transactions of a block.
type Body struct {
	Transactions []*Transaction
}

// Block pairs an immutable header with its body.
type Block struct {
	header *Header
	body   Body
}

// NewBlock creates a block from the given header and body. The header is
// deep-copied; a nil body is treated as empty.
func NewBlock(header *Header, body *Body) *Block {
	b := &Block{header: CopyHeader(header)}
	if body != nil {
		b.body.Transactions = make([]*Transaction, len(body.Transactions))
		copy(b.body.Transactions, body.Transactions)
	}
	return b
}

// Header returns a copy of the block header.
func (b *Block) Header() *Header { return CopyHeader(b.header) }

// Body returns the block body.
func (b *Block) Body() *Body {
	return &Body{Transactions: b.body.Transactions}
}

// Transactions returns the block's transactions.
func (b *Block) Transactions() []*Transaction { return b.body.Transactions }

// Hash returns the block hash (the header hash).
func (b *Block) Hash() Hash { return b.header.Hash() }

// ParentHash returns the parent block hash.
func (b *Block) ParentHash() Hash { return b.header.ParentHash }

// Number returns the block number.
func (b *Block) Number() uint64 { return b.header.Number }

// Root returns the post-state root committed by the header.
func (b *Block) Root() Hash { return b.header.Root }

// Time returns the block timestamp.
func (b *Block) Time() uint64 { return b.header.Time }

// GasLimit returns the block gas limit.
func (b *Block) GasLimit() uint64 { return b.header.GasLimit }

// GasUsed returns the gas used by the block.
func (b *Block) GasUsed() uint64 { return b.header.GasUsed }

// WithBody returns a new block with the same header and the given body.
func (b *Block) WithBody(body *Body) *Block {
	return NewBlock(b.header, body)
}
