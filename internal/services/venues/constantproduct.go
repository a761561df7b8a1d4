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

var (
	argsSwapV2 = abi.Arguments{
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: chain.TypeAddressSlice}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256},
	}
	argsAddLiqV2 = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
	}
	argsRemLiqV2 = abi.Arguments{
		{Type: chain.TypeAddress}, {Type: chain.TypeAddress},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
		{Type: chain.TypeAddress}, {Type: chain.TypeUint256},
	}
)

const (
	sigSwapV2   = "swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"
	sigAddLiqV2 = "addLiquidity(address,address,uint256,uint256,uint256,uint256,address,uint256)"
	sigRemLiqV2 = "removeLiquidity(address,address,uint256,uint256,uint256,address,uint256)"
)

// ConstantProductAdapter covers plain pair routers with address-array paths.
type ConstantProductAdapter struct {
	backend chain.Backend
}

func NewConstantProductAdapter(backend chain.Backend) *ConstantProductAdapter {
	return &ConstantProductAdapter{backend: backend}
}

func (a *ConstantProductAdapter) SupportsRouterType(t domain.RouterType) bool {
	return t == domain.RouterConstantProduct
}

func (a *ConstantProductAdapter) ExecuteSwap(ctx context.Context, order domain.SwapOrder, reverse bool) (*big.Int, error) {
	path, tokenOut, err := swapPath(order, reverse)
	if err != nil {
		return nil, err
	}
	operator := a.backend.Operator()

	if err := approve(ctx, a.backend, path[0], order.Router, order.TokenAmountIn); err != nil {
		return nil, err
	}
	calldata, err := chain.PackCall(sigSwapV2, argsSwapV2,
		order.TokenAmountIn, minOrZero(order.TokenAmountOutMin), path, operator, deadline())
	if err != nil {
		return nil, err
	}
	return balanceDiff(ctx, a.backend, tokenOut, func() error {
		_, err := a.backend.Execute(ctx, order.Router, order.PayableAmountIn, calldata)
		return err
	})
}

func (a *ConstantProductAdapter) ExecuteLiquidityAdd(ctx context.Context, order domain.LiquidityOrder, amount0, amount1 *big.Int) (domain.LiquidityReceipt, error) {
	operator := a.backend.Operator()
	if err := approve(ctx, a.backend, order.Token0, order.Router, amount0); err != nil {
		return domain.LiquidityReceipt{}, err
	}
	if err := approve(ctx, a.backend, order.Token1, order.Router, amount1); err != nil {
		return domain.LiquidityReceipt{}, err
	}

	min0 := minOutWithSlippage(amount0, order.SlippageBps)
	min1 := minOutWithSlippage(amount1, order.SlippageBps)
	calldata, err := chain.PackCall(sigAddLiqV2, argsAddLiqV2,
		order.Token0, order.Token1, amount0, amount1, min0, min1, operator, deadline())
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

func (a *ConstantProductAdapter) ExecuteLiquidityRemove(ctx context.Context, pos domain.LiquidityPosition) (*big.Int, *big.Int, error) {
	operator := a.backend.Operator()
	if err := approve(ctx, a.backend, pos.LPToken, pos.Router, pos.Amount); err != nil {
		return nil, nil, err
	}
	calldata, err := chain.PackCall(sigRemLiqV2, argsRemLiqV2,
		pos.Token0, pos.Token1, pos.Amount, big.NewInt(0), big.NewInt(0), operator, deadline())
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

// swapPath resolves the hop path for the requested direction.
func swapPath(order domain.SwapOrder, reverse bool) ([]common.Address, common.Address, error) {
	hops := order.Route
	if reverse {
		hops = order.ReverseRoute
	}
	if len(hops) == 0 {
		in, out := order.TokenIn, order.TokenOut
		if reverse {
			in, out = out, in
		}
		return []common.Address{in, out}, out, nil
	}
	path := make([]common.Address, 0, len(hops)+1)
	path = append(path, hops[0].From)
	for _, h := range hops {
		if path[len(path)-1] != h.From {
			return nil, common.Address{}, fmt.Errorf("%w: discontinuous hops", ErrEmptyRoute)
		}
		path = append(path, h.To)
	}
	return path, path[len(path)-1], nil
}

// pairLPToken extracts the LP token address a pair order carries in its pool
// id field (left-padded address).
func pairLPToken(poolID common.Hash) (common.Address, error) {
	if poolID == (common.Hash{}) {
		return common.Address{}, fmt.Errorf("pair order missing lp token in pool id")
	}
	return common.BytesToAddress(poolID.Bytes()[12:]), nil
}

func minOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
