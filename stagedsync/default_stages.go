package stagedsync

import (
	"github.com/aviral10x/reth/core"
	"github.com/aviral10x/reth/log"
)

// DefaultStages assembles the standard stage set in forward order:
// headers, bodies, execution, tx lookup. The pipeline unwinds them in the
// reverse of this order.
func DefaultStages(
	store *core.ChainStore,
	headers core.HeaderClient,
	bodies core.BodyClient,
	oracle core.ConsensusOracle,
	engine core.ExecutionEngine,
	download DownloadConfig,
	execution ExecutionConfig,
	logger *log.Logger,
) []Stage {
	return []Stage{
		NewHeadersStage(store, headers, oracle, download, logger),
		NewBodiesStage(store, bodies, oracle, download, logger),
		NewExecutionStage(store, engine, execution, logger),
		NewTxLookupStage(store, logger),
	}
}
