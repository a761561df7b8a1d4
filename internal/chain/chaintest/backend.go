// Package chaintest provides an in-memory chain.Backend with fake venue
// contracts for exercising settlement flows without a node.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
)

// Contract is a fake on-chain program. Run executes with the backend lock
// held; implementations use the backend's unexported mutators.
type Contract interface {
	Run(b *Backend, caller common.Address, value *big.Int, input []byte) ([]byte, error)
}

// snapshotter is implemented by contracts carrying state outside the
// backend's balance maps.
type snapshotter interface {
	snapshot() interface{}
	restore(interface{})
}

type backendState struct {
	native    map[common.Address]*big.Int
	tokens    map[common.Address]map[common.Address]*big.Int
	contracts map[common.Address]interface{}
}

// Backend is an in-memory chain.Backend. All balances are exact; gas is not
// modeled.
type Backend struct {
	mu        sync.Mutex
	operator  common.Address
	native    map[common.Address]*big.Int
	tokens    map[common.Address]map[common.Address]*big.Int
	contracts map[common.Address]Contract

	snaps    map[uint64]backendState
	nextSnap uint64
}

var _ chain.Backend = (*Backend)(nil)

func NewBackend(operator common.Address) *Backend {
	return &Backend{
		operator:  operator,
		native:    make(map[common.Address]*big.Int),
		tokens:    make(map[common.Address]map[common.Address]*big.Int),
		contracts: make(map[common.Address]Contract),
		snaps:     make(map[uint64]backendState),
		nextSnap:  1,
	}
}

func (b *Backend) Operator() common.Address { return b.operator }

// RegisterContract installs a fake contract at the given address.
func (b *Backend) RegisterContract(addr common.Address, c Contract) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contracts[addr] = c
}

func (b *Backend) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contracts[to]
	if !ok {
		return nil, fmt.Errorf("%w: no contract at %s", chain.ErrExecutionReverted, to.Hex())
	}
	return c.Run(b, b.operator, new(big.Int), data)
}

func (b *Backend) Execute(ctx context.Context, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Per-call atomicity: a failing call leaves no partial state behind.
	undo := b.capture()

	if value != nil && value.Sign() > 0 {
		if err := b.moveNative(b.operator, to, value); err != nil {
			return nil, err
		}
	}
	c, ok := b.contracts[to]
	if !ok {
		if len(data) == 0 {
			return nil, nil
		}
		b.apply(undo)
		return nil, fmt.Errorf("%w: no contract at %s", chain.ErrExecutionReverted, to.Hex())
	}
	out, err := c.Run(b, b.operator, valueOrZero(value), data)
	if err != nil {
		b.apply(undo)
		return nil, fmt.Errorf("%w: %s: %v", chain.ErrExecutionReverted, to.Hex(), err)
	}
	return out, nil
}

func (b *Backend) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.tokenBal(token, holder)), nil
}

func (b *Backend) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.nativeBal(addr)), nil
}

func (b *Backend) Collect(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveNative(from, b.operator, amount)
}

func (b *Backend) TransferNative(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveNative(b.operator, to, amount)
}

func (b *Backend) Snapshot(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSnap
	b.nextSnap++
	b.snaps[id] = b.capture()
	return id, nil
}

func (b *Backend) RevertToSnapshot(ctx context.Context, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.snaps[id]
	if !ok {
		return fmt.Errorf("snapshot %d not found", id)
	}
	b.apply(st)
	for sid := range b.snaps {
		if sid >= id {
			delete(b.snaps, sid)
		}
	}
	return nil
}

// Test helpers. These take the lock; contracts must use the unexported
// mutators instead.

func (b *Backend) SetNative(addr common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.native[addr] = new(big.Int).Set(amount)
}

func (b *Backend) SetToken(token, holder common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tokens[token]; !ok {
		b.tokens[token] = make(map[common.Address]*big.Int)
	}
	b.tokens[token][holder] = new(big.Int).Set(amount)
}

func (b *Backend) TokenBalance(token, holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.tokenBal(token, holder))
}

func (b *Backend) Native(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.nativeBal(addr))
}

// Lock-free internals, shared with contracts.

func (b *Backend) nativeBal(addr common.Address) *big.Int {
	if v, ok := b.native[addr]; ok {
		return v
	}
	return new(big.Int)
}

func (b *Backend) tokenBal(token, holder common.Address) *big.Int {
	if holders, ok := b.tokens[token]; ok {
		if v, ok := holders[holder]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b *Backend) creditNative(addr common.Address, amount *big.Int) {
	b.native[addr] = new(big.Int).Add(b.nativeBal(addr), amount)
}

func (b *Backend) moveNative(from, to common.Address, amount *big.Int) error {
	bal := b.nativeBal(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", chain.ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	b.native[from] = new(big.Int).Sub(bal, amount)
	b.creditNative(to, amount)
	return nil
}

func (b *Backend) creditToken(token, holder common.Address, amount *big.Int) {
	if _, ok := b.tokens[token]; !ok {
		b.tokens[token] = make(map[common.Address]*big.Int)
	}
	b.tokens[token][holder] = new(big.Int).Add(b.tokenBal(token, holder), amount)
}

func (b *Backend) debitToken(token, holder common.Address, amount *big.Int) error {
	bal := b.tokenBal(token, holder)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: %s has %s, needs %s", token.Hex(), holder.Hex(), bal, amount)
	}
	b.tokens[token][holder] = new(big.Int).Sub(bal, amount)
	return nil
}

func (b *Backend) moveToken(token, from, to common.Address, amount *big.Int) error {
	if err := b.debitToken(token, from, amount); err != nil {
		return err
	}
	b.creditToken(token, to, amount)
	return nil
}

func (b *Backend) capture() backendState {
	st := backendState{
		native:    make(map[common.Address]*big.Int, len(b.native)),
		tokens:    make(map[common.Address]map[common.Address]*big.Int, len(b.tokens)),
		contracts: make(map[common.Address]interface{}),
	}
	for addr, v := range b.native {
		st.native[addr] = new(big.Int).Set(v)
	}
	for token, holders := range b.tokens {
		cp := make(map[common.Address]*big.Int, len(holders))
		for holder, v := range holders {
			cp[holder] = new(big.Int).Set(v)
		}
		st.tokens[token] = cp
	}
	for addr, c := range b.contracts {
		if s, ok := c.(snapshotter); ok {
			st.contracts[addr] = s.snapshot()
		}
	}
	return st
}

func (b *Backend) apply(st backendState) {
	b.native = make(map[common.Address]*big.Int, len(st.native))
	for addr, v := range st.native {
		b.native[addr] = new(big.Int).Set(v)
	}
	b.tokens = make(map[common.Address]map[common.Address]*big.Int, len(st.tokens))
	for token, holders := range st.tokens {
		cp := make(map[common.Address]*big.Int, len(holders))
		for holder, v := range holders {
			cp[holder] = new(big.Int).Set(v)
		}
		b.tokens[token] = cp
	}
	for addr, saved := range st.contracts {
		if s, ok := b.contracts[addr].(snapshotter); ok {
			s.restore(saved)
		}
	}
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
