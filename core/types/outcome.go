package types

import "github.com/holiman/uint256"

// AccountChange is one account's post-state after executing a block.
// Changes are kept sorted by address so the encoded form is canonical.
type AccountChange struct {
	Address Address
	Balance *uint256.Int
	Nonce   uint64
}

// ExecutionOutcome is the result of executing one block's transactions on
// top of its parent state: the resulting state commitment, the state diff,
// and the receipts. Outcomes are cached against pending tree blocks until
// their branch is canonicalized (persisted) or pruned (discarded).
type ExecutionOutcome struct {
	StateRoot Hash
	GasUsed   uint64
	Changes   []AccountChange

	// Receipts are persisted in their own table, not with the outcome.
	Receipts []*Receipt `rlp:"-"`
}

// CopyOutcome returns a deep copy of the outcome.
func CopyOutcome(o *ExecutionOutcome) *ExecutionOutcome {
	if o == nil {
		return nil
	}
	cpy := &ExecutionOutcome{
		StateRoot: o.StateRoot,
		GasUsed:   o.GasUsed,
	}
	if len(o.Changes) > 0 {
		cpy.Changes = make([]AccountChange, len(o.Changes))
		for i, c := range o.Changes {
			cpy.Changes[i] = AccountChange{Address: c.Address, Nonce: c.Nonce}
			if c.Balance != nil {
				cpy.Changes[i].Balance = new(uint256.Int).Set(c.Balance)
			}
		}
	}
	if len(o.Receipts) > 0 {
		cpy.Receipts = make([]*Receipt, len(o.Receipts))
		for i, r := range o.Receipts {
			rc := *r
			cpy.Receipts[i] = &rc
		}
	}
	return cpy
}
