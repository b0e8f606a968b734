package rawdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/aviral10x/reth/core/types"
)

// --- headers ---

// WriteHeader stores a header and its hash-to-number index entry.
func WriteHeader(w KeyValueWriter, header *types.Header) error {
	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return fmt.Errorf("encode header %d: %w", header.Number, err)
	}
	hash := header.Hash()
	if err := w.Put(headerKey(header.Number, hash), enc); err != nil {
		return err
	}
	return w.Put(headerNumberKey(hash), encodeNumber(header.Number))
}

// ReadHeader retrieves a header by number and hash.
func ReadHeader(r KeyValueReader, number uint64, hash types.Hash) (*types.Header, error) {
	enc, err := r.Get(headerKey(number, hash))
	if err != nil {
		return nil, err
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(enc, header); err != nil {
		return nil, fmt.Errorf("decode header %d: %w", number, err)
	}
	return header, nil
}

// ReadHeaderNumber retrieves the block number for a header hash.
func ReadHeaderNumber(r KeyValueReader, hash types.Hash) (uint64, error) {
	enc, err := r.Get(headerNumberKey(hash))
	if err != nil {
		return 0, err
	}
	if len(enc) != 8 {
		return 0, errors.New("rawdb: corrupt header number entry")
	}
	return binary.BigEndian.Uint64(enc), nil
}

// DeleteHeader removes a header and its number index entry.
func DeleteHeader(w KeyValueWriter, number uint64, hash types.Hash) error {
	if err := w.Delete(headerKey(number, hash)); err != nil {
		return err
	}
	return w.Delete(headerNumberKey(hash))
}

// --- bodies ---

// WriteBody stores a block body.
func WriteBody(w KeyValueWriter, number uint64, hash types.Hash, body *types.Body) error {
	enc, err := rlp.EncodeToBytes(body)
	if err != nil {
		return fmt.Errorf("encode body %d: %w", number, err)
	}
	return w.Put(bodyKey(number, hash), enc)
}

// ReadBody retrieves a block body by number and hash.
func ReadBody(r KeyValueReader, number uint64, hash types.Hash) (*types.Body, error) {
	enc, err := r.Get(bodyKey(number, hash))
	if err != nil {
		return nil, err
	}
	body := new(types.Body)
	if err := rlp.DecodeBytes(enc, body); err != nil {
		return nil, fmt.Errorf("decode body %d: %w", number, err)
	}
	return body, nil
}

// DeleteBody removes a block body.
func DeleteBody(w KeyValueWriter, number uint64, hash types.Hash) error {
	return w.Delete(bodyKey(number, hash))
}

// --- receipts ---

// WriteReceipts stores the receipts of the canonical block at number.
func WriteReceipts(w KeyValueWriter, number uint64, receipts []*types.Receipt) error {
	enc, err := rlp.EncodeToBytes(receipts)
	if err != nil {
		return fmt.Errorf("encode receipts %d: %w", number, err)
	}
	return w.Put(receiptsKey(number), enc)
}

// ReadReceipts retrieves the receipts of the canonical block at number.
func ReadReceipts(r KeyValueReader, number uint64) ([]*types.Receipt, error) {
	enc, err := r.Get(receiptsKey(number))
	if err != nil {
		return nil, err
	}
	var receipts []*types.Receipt
	if err := rlp.DecodeBytes(enc, &receipts); err != nil {
		return nil, fmt.Errorf("decode receipts %d: %w", number, err)
	}
	return receipts, nil
}

// DeleteReceipts removes the receipts at number.
func DeleteReceipts(w KeyValueWriter, number uint64) error {
	return w.Delete(receiptsKey(number))
}

// --- execution outcomes ---

// WriteExecutionOutcome stores the execution outcome of the canonical
// block at number.
func WriteExecutionOutcome(w KeyValueWriter, number uint64, outcome *types.ExecutionOutcome) error {
	enc, err := rlp.EncodeToBytes(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome %d: %w", number, err)
	}
	return w.Put(outcomeKey(number), enc)
}

// ReadExecutionOutcome retrieves the execution outcome at number.
func ReadExecutionOutcome(r KeyValueReader, number uint64) (*types.ExecutionOutcome, error) {
	enc, err := r.Get(outcomeKey(number))
	if err != nil {
		return nil, err
	}
	outcome := new(types.ExecutionOutcome)
	if err := rlp.DecodeBytes(enc, outcome); err != nil {
		return nil, fmt.Errorf("decode outcome %d: %w", number, err)
	}
	return outcome, nil
}

// DeleteExecutionOutcome removes the execution outcome at number.
func DeleteExecutionOutcome(w KeyValueWriter, number uint64) error {
	return w.Delete(outcomeKey(number))
}

// --- canonical number index ---

// WriteCanonicalHash marks hash as the canonical block at number.
func WriteCanonicalHash(w KeyValueWriter, number uint64, hash types.Hash) error {
	return w.Put(canonicalKey(number), hash.Bytes())
}

// ReadCanonicalHash retrieves the canonical hash at number.
func ReadCanonicalHash(r KeyValueReader, number uint64) (types.Hash, error) {
	enc, err := r.Get(canonicalKey(number))
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(enc), nil
}

// DeleteCanonicalHash removes the canonical marker at number.
func DeleteCanonicalHash(w KeyValueWriter, number uint64) error {
	return w.Delete(canonicalKey(number))
}

// --- tx lookup index ---

// WriteTxLookup maps a transaction hash to its containing block number.
func WriteTxLookup(w KeyValueWriter, txHash types.Hash, number uint64) error {
	return w.Put(txLookupKey(txHash), encodeNumber(number))
}

// ReadTxLookup retrieves the block number containing the transaction.
func ReadTxLookup(r KeyValueReader, txHash types.Hash) (uint64, error) {
	enc, err := r.Get(txLookupKey(txHash))
	if err != nil {
		return 0, err
	}
	if len(enc) != 8 {
		return 0, errors.New("rawdb: corrupt tx lookup entry")
	}
	return binary.BigEndian.Uint64(enc), nil
}

// DeleteTxLookup removes a transaction lookup entry.
func DeleteTxLookup(w KeyValueWriter, txHash types.Hash) error {
	return w.Delete(txLookupKey(txHash))
}

// --- stage checkpoints ---

// storedCheckpoint is the persisted form of a stage checkpoint: the highest
// fully processed block number plus an opaque stage-specific cursor.
type storedCheckpoint struct {
	BlockNumber uint64
	Cursor      []byte
}

// WriteStageCheckpoint persists a stage's checkpoint.
func WriteStageCheckpoint(w KeyValueWriter, stage string, number uint64, cursor []byte) error {
	enc, err := rlp.EncodeToBytes(&storedCheckpoint{BlockNumber: number, Cursor: cursor})
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", stage, err)
	}
	return w.Put(stageCheckpointKey(stage), enc)
}

// ReadStageCheckpoint retrieves a stage's checkpoint. A stage that has never
// run reports block zero with no cursor.
func ReadStageCheckpoint(r KeyValueReader, stage string) (uint64, []byte, error) {
	enc, err := r.Get(stageCheckpointKey(stage))
	if errors.Is(err, ErrNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	var cp storedCheckpoint
	if err := rlp.DecodeBytes(enc, &cp); err != nil {
		return 0, nil, fmt.Errorf("decode checkpoint %s: %w", stage, err)
	}
	return cp.BlockNumber, cp.Cursor, nil
}

// --- head pointers ---

// WriteHeadBlockHash stores the canonical head block hash.
func WriteHeadBlockHash(w KeyValueWriter, hash types.Hash) error {
	return w.Put(headBlockKey, hash.Bytes())
}

// ReadHeadBlockHash retrieves the canonical head block hash.
func ReadHeadBlockHash(r KeyValueReader) (types.Hash, error) {
	enc, err := r.Get(headBlockKey)
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(enc), nil
}

// WriteSafeBlockHash stores the safe block hash from fork choice.
func WriteSafeBlockHash(w KeyValueWriter, hash types.Hash) error {
	return w.Put(safeBlockKey, hash.Bytes())
}

// ReadSafeBlockHash retrieves the safe block hash.
func ReadSafeBlockHash(r KeyValueReader) (types.Hash, error) {
	enc, err := r.Get(safeBlockKey)
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(enc), nil
}

// WriteFinalizedBlockHash stores the finalized block hash from fork choice.
func WriteFinalizedBlockHash(w KeyValueWriter, hash types.Hash) error {
	return w.Put(finalizedBlockKey, hash.Bytes())
}

// ReadFinalizedBlockHash retrieves the finalized block hash.
func ReadFinalizedBlockHash(r KeyValueReader) (types.Hash, error) {
	enc, err := r.Get(finalizedBlockKey)
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(enc), nil
}
