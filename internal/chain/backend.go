// Package chain abstracts the EVM the settlement engine executes against.
// The engine only ever sees this interface; the live implementation signs
// real transactions, the test implementation keeps balances in memory.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrExecutionReverted   = errors.New("execution reverted")
	ErrInsufficientBalance = errors.New("insufficient native balance")
	ErrSnapshotUnsupported = errors.New("snapshot not supported by this backend")
)

// Backend is the engine's view of the chain. Every state-mutating operation
// is issued from the engine's own account (Operator).
type Backend interface {
	// Operator returns the engine's on-chain account, the holder of all
	// working balances between the first and last step of an operation.
	Operator() common.Address

	// Call performs a read-only contract call.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// Execute performs a state-mutating call from the operator account with
	// the given attached native value. The returned bytes are the call's
	// return data; callers must not trust them for amounts (balance diffs
	// are the source of truth).
	Execute(ctx context.Context, to common.Address, value *big.Int, data []byte) ([]byte, error)

	// BalanceOf reads an ERC-20 balance.
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)

	// NativeBalance reads a native-currency balance.
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)

	// Collect moves an attached payment from the payer into the operator
	// account. Fails when the payer cannot cover the amount.
	Collect(ctx context.Context, from common.Address, amount *big.Int) error

	// TransferNative pays native currency out of the operator account.
	TransferNative(ctx context.Context, to common.Address, amount *big.Int) error

	// Snapshot and RevertToSnapshot bracket an atomic operation. Backends
	// without revert support return ErrSnapshotUnsupported from Snapshot;
	// the engine then relies on the surrounding transaction boundary.
	Snapshot(ctx context.Context) (uint64, error)
	RevertToSnapshot(ctx context.Context, id uint64) error
}
