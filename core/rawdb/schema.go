package rawdb

import "encoding/binary"

// Table prefixes. Each persisted table owns one byte so that stage unwinds
// can delete entries without touching another stage's domain.
var (
	headerPrefix          = []byte("h") // headerPrefix + num + hash -> header
	headerNumberPrefix    = []byte("n") // headerNumberPrefix + hash -> num
	bodyPrefix            = []byte("b") // bodyPrefix + num + hash -> body
	receiptsPrefix        = []byte("r") // receiptsPrefix + num -> receipts
	outcomePrefix         = []byte("o") // outcomePrefix + num -> execution outcome
	canonicalPrefix       = []byte("c") // canonicalPrefix + num -> canonical hash
	txLookupPrefix        = []byte("l") // txLookupPrefix + tx hash -> block num
	stageCheckpointPrefix = []byte("s") // stageCheckpointPrefix + stage id -> checkpoint

	headBlockKey      = []byte("LastBlock")
	safeBlockKey      = []byte("SafeBlock")
	finalizedBlockKey = []byte("FinalizedBlock")
)

// encodeNumber encodes a block number as big-endian so keys sort by height.
func encodeNumber(number uint64) []byte {
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], number)
	return enc[:]
}

func headerKey(number uint64, hash [32]byte) []byte {
	return append(append(headerPrefix, encodeNumber(number)...), hash[:]...)
}

func headerNumberKey(hash [32]byte) []byte {
	return append(headerNumberPrefix, hash[:]...)
}

func bodyKey(number uint64, hash [32]byte) []byte {
	return append(append(bodyPrefix, encodeNumber(number)...), hash[:]...)
}

func receiptsKey(number uint64) []byte {
	return append(receiptsPrefix, encodeNumber(number)...)
}

func outcomeKey(number uint64) []byte {
	return append(outcomePrefix, encodeNumber(number)...)
}

func canonicalKey(number uint64) []byte {
	return append(canonicalPrefix, encodeNumber(number)...)
}

func txLookupKey(hash [32]byte) []byte {
	return append(txLookupPrefix, hash[:]...)
}

func stageCheckpointKey(stage string) []byte {
	return append(stageCheckpointPrefix, []byte(stage)...)
}
