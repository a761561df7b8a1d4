package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// balanceTracker correlates realized swap outputs with the liquidity orders
// consuming them, keyed by (token, correlation uuid). Amounts are realized
// balance diffs, never venue return values.
type balanceTracker struct {
	amounts map[trackerKey]*big.Int
}

type trackerKey struct {
	token common.Address
	id    uuid.UUID
}

func newBalanceTracker() *balanceTracker {
	return &balanceTracker{amounts: make(map[trackerKey]*big.Int)}
}

func (t *balanceTracker) record(token common.Address, id uuid.UUID, amount *big.Int) {
	key := trackerKey{token: token, id: id}
	if existing, ok := t.amounts[key]; ok {
		existing.Add(existing, amount)
		return
	}
	t.amounts[key] = new(big.Int).Set(amount)
}

// take removes and returns the tracked amount; consuming twice is a
// settlement-plan bug.
func (t *balanceTracker) take(token common.Address, id uuid.UUID) (*big.Int, error) {
	key := trackerKey{token: token, id: id}
	amount, ok := t.amounts[key]
	if !ok {
		return nil, fmt.Errorf("no tracked balance for token %s uuid %s", token.Hex(), id)
	}
	delete(t.amounts, key)
	return amount, nil
}
