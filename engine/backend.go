package engine

import (
	"context"
	"errors"

	"github.com/aviral10x/reth/core/types"
	"github.com/aviral10x/reth/log"
	"github.com/aviral10x/reth/tree"
)

// Backend errors.
var (
	ErrNoPayloadBuilder         = errors.New("engine: no payload builder configured")
	ErrInvalidPayloadAttributes = errors.New("engine: invalid payload attributes")
)

// PayloadBuilder starts assembling a payload on top of the given parent.
// Block assembly itself lives behind this interface; the backend only
// hands out the identifier.
type PayloadBuilder interface {
	BuildPayload(parent types.Hash, attrs *PayloadAttributesV1) (PayloadID, error)
}

// Backend connects the consensus-facing API to the blockchain tree. It
// holds no chain state of its own: newPayload delegates to tree insertion
// and forkchoiceUpdated to the tree's fork-choice handling, mapping their
// outcomes onto wire statuses.
type Backend struct {
	tree    *tree.BlockchainTree
	builder PayloadBuilder
	logger  *log.Logger
}

// NewBackend creates a backend over the given tree. builder may be nil
// when the node does not build payloads.
func NewBackend(t *tree.BlockchainTree, builder PayloadBuilder, logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.Discard()
	}
	return &Backend{tree: t, builder: builder, logger: logger.Module("engine")}
}

// NewPayload handles engine_newPayload: converts the payload to a block
// and inserts it into the tree.
func (b *Backend) NewPayload(ctx context.Context, payload *ExecutionPayloadV1) (PayloadStatusV1, error) {
	block, err := BlockFromPayload(payload)
	if err != nil {
		errMsg := err.Error()
		status := StatusInvalid
		if errors.Is(err, ErrBlockHashMismatch) {
			status = StatusInvalidBlockHash
		}
		return PayloadStatusV1{Status: status, ValidationError: &errMsg}, nil
	}

	result := b.tree.InsertBlock(ctx, block)
	switch result.Status {
	case tree.InsertValid:
		if result.ExtendsHead {
			hash := block.Hash()
			return PayloadStatusV1{Status: StatusValid, LatestValidHash: &hash}, nil
		}
		// Valid on a side branch: not canonical until fork choice says so.
		return PayloadStatusV1{Status: StatusAccepted}, nil

	case tree.InsertAlreadyKnown:
		hash := block.Hash()
		if _, canonical := b.tree.IsCanonical(hash); canonical {
			return PayloadStatusV1{Status: StatusValid, LatestValidHash: &hash}, nil
		}
		return PayloadStatusV1{Status: StatusAccepted}, nil

	case tree.InsertDisconnected:
		return PayloadStatusV1{Status: StatusSyncing}, nil

	case tree.InsertInvalid:
		errMsg := result.Reason.Error()
		latest := result.LatestValid
		return PayloadStatusV1{
			Status:          StatusInvalid,
			LatestValidHash: &latest,
			ValidationError: &errMsg,
		}, nil

	default:
		return PayloadStatusV1{}, errors.New("engine: unexpected insert status")
	}
}

// ForkchoiceUpdated handles engine_forkchoiceUpdated: applies the fork
// choice to the tree and, when attributes are present and the update is
// valid, kicks off payload building on the new head.
func (b *Backend) ForkchoiceUpdated(ctx context.Context, state ForkchoiceStateV1, attrs *PayloadAttributesV1) (ForkchoiceUpdatedResult, error) {
	result, err := b.tree.ForkchoiceUpdate(ctx, tree.ForkChoiceState{
		Head:      state.HeadBlockHash,
		Safe:      state.SafeBlockHash,
		Finalized: state.FinalizedBlockHash,
	})
	if err != nil {
		return ForkchoiceUpdatedResult{}, err
	}

	switch result.Status {
	case tree.FcuSyncing:
		return ForkchoiceUpdatedResult{
			PayloadStatus: PayloadStatusV1{Status: StatusSyncing},
		}, nil

	case tree.FcuInvalid:
		var errMsg *string
		if result.Reason != nil {
			msg := result.Reason.Error()
			errMsg = &msg
		}
		status := PayloadStatusV1{Status: StatusInvalid, ValidationError: errMsg}
		if !result.LatestValid.IsZero() {
			latest := result.LatestValid
			status.LatestValidHash = &latest
		}
		return ForkchoiceUpdatedResult{PayloadStatus: status}, nil
	}

	latest := result.LatestValid
	out := ForkchoiceUpdatedResult{
		PayloadStatus: PayloadStatusV1{Status: StatusValid, LatestValidHash: &latest},
	}

	if attrs != nil {
		if b.builder == nil {
			return ForkchoiceUpdatedResult{}, ErrNoPayloadBuilder
		}
		if attrs.Timestamp == 0 {
			return ForkchoiceUpdatedResult{}, ErrInvalidPayloadAttributes
		}
		id, err := b.builder.BuildPayload(state.HeadBlockHash, attrs)
		if err != nil {
			return ForkchoiceUpdatedResult{}, err
		}
		out.PayloadID = &id
	}
	return out, nil
}
