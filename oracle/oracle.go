// Package oracle declares the eligibility and balance collaborator used to
// weigh endorsements on token-weighted proposals.
package oracle

import (
	"context"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
)

// BalanceOracle supplies the voting weight of an actor at a fixed moment in
// time. Implementations must be deterministic: the same (actor, snapshot)
// pair always yields the same amount, so that re-tallying a proposal is
// reproducible.
type BalanceOracle interface {
	BalanceAt(ctx context.Context, actor accord.Address, snapshot accord.UnixTime) (amount.Amount, error)
}
