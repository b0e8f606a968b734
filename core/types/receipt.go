package types

// Receipt status values.
const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Receipt records the result of applying one transaction.
type Receipt struct {
	// Consensus fields.
	Status            uint64
	CumulativeGasUsed uint64

	// Derived fields, filled in when the receipt's block is written.
	TxHash           Hash
	GasUsed          uint64
	BlockHash        Hash
	BlockNumber      uint64
	TransactionIndex uint
}

// NewReceipt creates a receipt with the given status and cumulative gas.
func NewReceipt(status uint64, cumulativeGasUsed uint64) *Receipt {
	return &Receipt{Status: status, CumulativeGasUsed: cumulativeGasUsed}
}

// Succeeded reports whether the transaction executed successfully.
func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccessful
}

// DeriveReceiptFields fills in block-context fields on a block's receipts:
// block hash/number, per-transaction hash and index, and per-receipt gas
// from the cumulative values.
func DeriveReceiptFields(receipts []*Receipt, blockHash Hash, blockNumber uint64, txs []*Transaction) {
	var prevCumulative uint64
	for i, r := range receipts {
		r.BlockHash = blockHash
		r.BlockNumber = blockNumber
		r.TransactionIndex = uint(i)
		if i < len(txs) {
			r.TxHash = txs[i].Hash()
		}
		r.GasUsed = r.CumulativeGasUsed - prevCumulative
		prevCumulative = r.CumulativeGasUsed
	}
}
