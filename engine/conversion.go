package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/aviral10x/reth/core/types"
)

// ErrBlockHashMismatch reports that the payload's blockHash does not match
// the hash computed from its fields.
var ErrBlockHashMismatch = errors.New("engine: payload block hash mismatch")

// BlockFromPayload reconstructs a block from its payload form and verifies
// the declared blockHash against the computed one.
func BlockFromPayload(payload *ExecutionPayloadV1) (*types.Block, error) {
	if payload == nil {
		return nil, errors.New("engine: nil payload")
	}

	txs := make([]*types.Transaction, len(payload.Transactions))
	for i, raw := range payload.Transactions {
		txs[i] = types.NewTransaction(raw)
	}

	var baseFee *big.Int
	if payload.BaseFeePerGas != nil {
		baseFee = new(big.Int).Set(payload.BaseFeePerGas)
	}
	extra := make([]byte, len(payload.ExtraData))
	copy(extra, payload.ExtraData)

	header := &types.Header{
		ParentHash:  payload.ParentHash,
		Coinbase:    payload.FeeRecipient,
		Root:        payload.StateRoot,
		TxHash:      types.DeriveTxHash(txs),
		ReceiptHash: payload.ReceiptsRoot,
		Number:      payload.BlockNumber,
		GasLimit:    payload.GasLimit,
		GasUsed:     payload.GasUsed,
		Time:        payload.Timestamp,
		Extra:       extra,
		PrevRandao:  payload.PrevRandao,
		BaseFee:     baseFee,
	}
	block := types.NewBlock(header, &types.Body{Transactions: txs})

	if computed := block.Hash(); computed != payload.BlockHash {
		return nil, fmt.Errorf("%w: computed %v, declared %v", ErrBlockHashMismatch, computed, payload.BlockHash)
	}
	return block, nil
}

// PayloadFromBlock converts a block into its payload form.
func PayloadFromBlock(block *types.Block) *ExecutionPayloadV1 {
	header := block.Header()
	txs := block.Transactions()
	raw := make([][]byte, len(txs))
	for i, tx := range txs {
		raw[i] = tx.Payload
	}
	var baseFee *big.Int
	if header.BaseFee != nil {
		baseFee = new(big.Int).Set(header.BaseFee)
	}
	return &ExecutionPayloadV1{
		ParentHash:    header.ParentHash,
		FeeRecipient:  header.Coinbase,
		StateRoot:     header.Root,
		ReceiptsRoot:  header.ReceiptHash,
		PrevRandao:    header.PrevRandao,
		BlockNumber:   header.Number,
		GasLimit:      header.GasLimit,
		GasUsed:       header.GasUsed,
		Timestamp:     header.Time,
		ExtraData:     header.Extra,
		BaseFeePerGas: baseFee,
		BlockHash:     block.Hash(),
		Transactions:  raw,
	}
}
