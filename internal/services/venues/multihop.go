package venues

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
	"github.com/packlabs/packvault/internal/domain"
)

// routeTuple mirrors the venue's (from,to,stable) route component.
type routeTuple struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Stable bool           `json:"stable"`
}

var (
	typeRouteSlice = chain.MustTupleSliceType([]abi.ArgumentMarshaling{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "stable", Type: "bool"},
	})

	argsSwapRoutes = abi.Arguments{
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: typeRouteSlice}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
	}
	argsAddLiqStable = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeBool},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
	}
	argsRemLiqStable = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeBool},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
	}
)

const (
	sigSwapRoutes   = "swapExactTokensForTokens(uint256,uint256,(address,address,bool)[],address,uint256)"
	sigAddLiqStable = "addLiquidity(address,address,bool,uint256,uint256,uint256,uint256,address,uint256)"
	sigRemLiqStable = "removeLiquidity(address,address,bool,uint256,uint256,uint256,address,uint256)"
)

// MultihopAdapter covers routers that take (from,to,stable) route tuples and
// distinguish stable from volatile pools.
type MultihopAdapter struct {
	backend chain.Backend
}

func NewMultihopAdapter(backend chain.Backend) *MultihopAdapter {
	return &MultihopAdapter{backend: backend}
}

func (a *MultihopAdapter) SupportsRouterType(t domain.RouterType) bool {
	return t == domain.RouterVelodromeMultihop
}

func (a *MultihopAdapter) ExecuteSwap(ctx context.Context, order domain.SwapOrder, reverse bool) (*big.Int, error) {
	routes, tokenOut, err := swapRoutes(order, reverse)
	if err != nil {
		return nil, err
	}
	operator := a.backend.Operator()

	if err := approve(ctx, a.backend, routes[0].From, order.Router, order.TokenAmountIn); err != nil {
		return nil, err
	}
	calldata, err := chain.PackCall(sigSwapRoutes, argsSwapRoutes,
		order.TokenAmountIn, minOrZero(order.TokenAmountOutMin), routes, operator, deadline())
	if err != nil {
		return nil, err
	}
	return balanceDiff(ctx, a.backend, tokenOut, func() error {
		_, err := a.backend.Execute(ctx, order.Router, order.PayableAmountIn, calldata)
		return err
	})
}

func (a *MultihopAdapter) ExecuteLiquidityAdd(ctx context.Context, order domain.LiquidityOrder, amount0, amount1 *big.Int) (domain.LiquidityReceipt, error) {
	operator := a.backend.Operator()
	if err := approve(ctx, a.backend, order.Token0, order.Router, amount0); err != nil {
		return domain.LiquidityReceipt{}, err
	}
	if err := approve(ctx, a.backend, order.Token1, order.Router, amount1); err != nil {
		return domain.LiquidityReceipt{}, err
	}

	min0 := minOutWithSlippage(amount0, order.SlippageBps)
	min1 := minOutWithSlippage(amount1, order.SlippageBps)
	calldata, err := chain.PackCall(sigAddLiqStable, argsAddLiqStable,
		order.Token0, order.Token1, order.Stable, amount0, amount1, min0, min1, operator, deadline())
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}

	lpToken, err := pairLPToken(order.PoolID)
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}
	minted, err := balanceDiff(ctx, a.backend, lpToken, func() error {
		_, err := a.backend.Execute(ctx, order.Router, nil, calldata)
		return err
	})
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}
	if order.MinimumLPTokens != nil && minted.Cmp(order.MinimumLPTokens) < 0 {
		return domain.LiquidityReceipt{}, fmt.Errorf("lp minted %s below minimum %s", minted, order.MinimumLPTokens)
	}
	return domain.LiquidityReceipt{LPToken: lpToken, Amount: minted}, nil
}

func (a *MultihopAdapter) ExecuteLiquidityRemove(ctx context.Context, pos domain.LiquidityPosition) (*big.Int, *big.Int, error) {
	operator := a.backend.Operator()
	if err := approve(ctx, a.backend, pos.LPToken, pos.Router, pos.Amount); err != nil {
		return nil, nil, err
	}
	calldata, err := chain.PackCall(sigRemLiqStable, argsRemLiqStable,
		pos.Token0, pos.Token1, pos.Stable, pos.Amount, big.NewInt(0), big.NewInt(0), operator, deadline())
	if err != nil {
		return nil, nil, err
	}

	before0, err := a.backend.BalanceOf(ctx, pos.Token0, operator)
	if err != nil {
		return nil, nil, err
	}
	before1, err := a.backend.BalanceOf(ctx, pos.Token1, operator)
	if err != nil {
		return nil, nil, err
	}
	if _, err := a.backend.Execute(ctx, pos.Router, nil, calldata); err != nil {
		return nil, nil, err
	}
	after0, err := a.backend.BalanceOf(ctx, pos.Token0, operator)
	if err != nil {
		return nil, nil, err
	}
	after1, err := a.backend.BalanceOf(ctx, pos.Token1, operator)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Sub(after0, before0), new(big.Int).Sub(after1, before1), nil
}

// swapRoutes resolves the tuple route for the requested direction.
func swapRoutes(order domain.SwapOrder, reverse bool) ([]routeTuple, common.Address, error) {
	hops := order.Route
	if reverse {
		hops = order.ReverseRoute
	}
	if len(hops) == 0 {
		in, out := order.TokenIn, order.TokenOut
		if reverse {
			in, out = out, in
		}
		return []routeTuple{{From: in, To: out, Stable: order.Stable}}, out, nil
	}
	routes := make([]routeTuple, 0, len(hops))
	for i, h := range hops {
		if i > 0 && hops[i-1].To != h.From {
			return nil, common.Address{}, fmt.Errorf("%w: discontinuous hops", ErrEmptyRoute)
		}
		routes = append(routes, routeTuple{From: h.From, To: h.To, Stable: h.Stable})
	}
	return routes, routes[len(routes)-1].To, nil
}
