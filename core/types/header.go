package types

import (
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"
)

// Header is a post-merge block header carrying the fields the sync core
// needs: chain linkage (ParentHash, Number), the state commitment (Root),
// and the body commitments used for validation.
type Header struct {
	ParentHash  Hash
	Coinbase    Address
	Root        Hash // state root after executing this block
	TxHash      Hash
	ReceiptHash Hash
	Number      uint64
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	PrevRandao  Hash
	BaseFee     *big.Int

	// Hash cache, not part of the encoding.
	hash atomic.Pointer[Hash]
}

// Hash returns the keccak256 hash of the RLP-encoded header. The result is
// cached; headers must not be mutated after the first Hash call.
func (h *Header) Hash() Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		// Headers are always encodable; a failure here is a programming
		// error in the type definition.
		panic("header rlp: " + err.Error())
	}
	hash := Keccak256Hash(enc)
	h.hash.Store(&hash)
	return hash
}

// CopyHeader returns a deep copy of the header with a fresh hash cache.
func CopyHeader(h *Header) *Header {
	if h == nil {
		return nil
	}
	cpy := Header{
		ParentHash:  h.ParentHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Number:      h.Number,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		PrevRandao:  h.PrevRandao,
	}
	if len(h.Extra) > 0 {
		cpy.Extra = make([]byte, len(h.Extra))
		copy(cpy.Extra, h.Extra)
	}
	if h.BaseFee != nil {
		cpy.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	return &cpy
}
