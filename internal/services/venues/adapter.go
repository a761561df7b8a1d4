// Package venues contains the router adapters the settlement engine executes
// swap and liquidity orders through. One adapter per venue family; dispatch
// is by router type.
package venues

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
	pvcommon "github.com/packlabs/packvault/internal/common"
	"github.com/packlabs/packvault/internal/domain"
)

var (
	ErrNoAdapter      = errors.New("no adapter for router type")
	ErrEmptyRoute     = errors.New("swap order has no route")
	ErrMissingPayload = errors.New("pooled vault order missing call data")

	// ErrTokenOrder aliased for callers that only import this package.
	ErrTokenOrder = domain.ErrTokenOrder
)

// swapDeadline is attached to venue calls that take one.
const swapDeadline = 20 * time.Minute

// Adapter executes orders against one venue family. Realized amounts are
// always measured as operator balance diffs; venue return data is never
// trusted for accounting.
type Adapter interface {
	SupportsRouterType(t domain.RouterType) bool

	// ExecuteSwap runs the order and returns the realized output amount.
	// reverse executes the unwind direction using the order's reverse route.
	ExecuteSwap(ctx context.Context, order domain.SwapOrder, reverse bool) (*big.Int, error)

	// ExecuteLiquidityAdd commits amount0/amount1 of the pair tokens and
	// returns what the venue handed back.
	ExecuteLiquidityAdd(ctx context.Context, order domain.LiquidityOrder, amount0, amount1 *big.Int) (domain.LiquidityReceipt, error)

	// ExecuteLiquidityRemove unwinds a recorded position and returns the
	// realized pair token outputs.
	ExecuteLiquidityRemove(ctx context.Context, pos domain.LiquidityPosition) (*big.Int, *big.Int, error)
}

// Registry dispatches orders to the adapter claiming their router type.
type Registry struct {
	adapters []Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make([]Adapter, 0)}
}

// NewDefaultRegistry wires every adapter family over the given backend.
func NewDefaultRegistry(backend chain.Backend) *Registry {
	r := NewRegistry()
	r.Register(NewConstantProductAdapter(backend))
	r.Register(NewMultihopAdapter(backend))
	r.Register(NewConcentratedAdapter(backend))
	r.Register(NewPooledVaultAdapter(backend))
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

func (r *Registry) adapterFor(t domain.RouterType) (Adapter, error) {
	for _, a := range r.adapters {
		if a.SupportsRouterType(t) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoAdapter, t)
}

func (r *Registry) ExecuteSwap(ctx context.Context, order domain.SwapOrder, reverse bool) (*big.Int, error) {
	a, err := r.adapterFor(order.RouterType)
	if err != nil {
		return nil, err
	}
	return a.ExecuteSwap(ctx, order, reverse)
}

func (r *Registry) ExecuteLiquidityAdd(ctx context.Context, order domain.LiquidityOrder, amount0, amount1 *big.Int) (domain.LiquidityReceipt, error) {
	if order.Token0.Cmp(order.Token1) >= 0 {
		return domain.LiquidityReceipt{}, fmt.Errorf("%w: %s >= %s", ErrTokenOrder, order.Token0.Hex(), order.Token1.Hex())
	}
	a, err := r.adapterFor(order.RouterType)
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}
	return a.ExecuteLiquidityAdd(ctx, order, amount0, amount1)
}

func (r *Registry) ExecuteLiquidityRemove(ctx context.Context, pos domain.LiquidityPosition) (*big.Int, *big.Int, error) {
	a, err := r.adapterFor(pos.RouterType)
	if err != nil {
		return nil, nil, err
	}
	return a.ExecuteLiquidityRemove(ctx, pos)
}

func deadline() *big.Int {
	return big.NewInt(time.Now().Add(swapDeadline).Unix())
}

// approve grants the spender the exact amount before a pull-based venue call.
func approve(ctx context.Context, backend chain.Backend, token, spender common.Address, amount *big.Int) error {
	if _, err := backend.Execute(ctx, token, nil, chain.PackApprove(spender, amount)); err != nil {
		return fmt.Errorf("approve %s for %s: %w", token.Hex(), spender.Hex(), err)
	}
	return nil
}

// balanceDiff measures the operator's gain of token across fn.
func balanceDiff(ctx context.Context, backend chain.Backend, token common.Address, fn func() error) (*big.Int, error) {
	before, err := backend.BalanceOf(ctx, token, backend.Operator())
	if err != nil {
		return nil, err
	}
	if err := fn(); err != nil {
		return nil, err
	}
	after, err := backend.BalanceOf(ctx, token, backend.Operator())
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(after, before), nil
}

// minOut applies the order's slippage tolerance to an expected amount.
func minOutWithSlippage(expected *big.Int, slippageBps uint16) *big.Int {
	return pvcommon.BpsOf(expected, int64(pvcommon.FullBasisPoints-int(slippageBps)))
}
