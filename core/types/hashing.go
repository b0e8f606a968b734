package types

import (
	"sync"

	"golang.org/x/crypto/sha3"
)

// hasherPool recycles keccak states across hash computations.
var hasherPool = sync.Pool{
	New: func() any { return sha3.NewLegacyKeccak256() },
}

// Keccak256Hash computes the Keccak256 hash of the concatenation of the
// given byte slices.
func Keccak256Hash(data ...[]byte) Hash {
	h := hasherPool.Get().(keccakState)
	defer hasherPool.Put(h)
	h.Reset()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Read(out[:])
	return out
}

// keccakState is the subset of sha3 state we rely on: Read squeezes output
// without finalizing, avoiding an allocation per hash.
type keccakState interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Reset()
}

// DeriveTxHash computes the transactions hash committed to by a header:
// the keccak over the concatenated transaction hashes, or EmptyRootHash
// for an empty list.
func DeriveTxHash(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return EmptyRootHash
	}
	h := hasherPool.Get().(keccakState)
	defer hasherPool.Put(h)
	h.Reset()
	for _, tx := range txs {
		txHash := tx.Hash()
		h.Write(txHash[:])
	}
	var out Hash
	h.Read(out[:])
	return out
}
