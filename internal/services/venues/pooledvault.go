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
	argsJoinPool = abi.Arguments{
		{Type: chain.TypeBytes32}, {Type: chain.TypeAddress}, {Type: chain.TypeAddress},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256}, {Type: chain.TypeUint256},
	}
	argsExitPool = abi.Arguments{
		{Type: chain.TypeBytes32}, {Type: chain.TypeUint256},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
	}
)

const (
	sigJoinPool = "joinPool(bytes32,address,address,uint256,uint256,uint256)"
	sigExitPool = "exitPool(bytes32,uint256,uint256,uint256)"
)

// PooledVaultAdapter covers vault venues addressed by 32-byte pool ids.
// Swap payloads are caller-prepared and executed verbatim; only joins and
// exits have a canonical call shape.
type PooledVaultAdapter struct {
	backend chain.Backend
}

func NewPooledVaultAdapter(backend chain.Backend) *PooledVaultAdapter {
	return &PooledVaultAdapter{backend: backend}
}

func (a *PooledVaultAdapter) SupportsRouterType(t domain.RouterType) bool {
	return t == domain.RouterPooledVault
}

func (a *PooledVaultAdapter) ExecuteSwap(ctx context.Context, order domain.SwapOrder, reverse bool) (*big.Int, error) {
	if len(order.CallData) == 0 {
		return nil, ErrMissingPayload
	}
	in, out := order.TokenIn, order.TokenOut
	if reverse {
		in, out = out, in
	}
	if err := approve(ctx, a.backend, in, order.Router, order.TokenAmountIn); err != nil {
		return nil, err
	}
	return balanceDiff(ctx, a.backend, out, func() error {
		_, err := a.backend.Execute(ctx, order.Router, order.PayableAmountIn, order.CallData)
		return err
	})
}

func (a *PooledVaultAdapter) ExecuteLiquidityAdd(ctx context.Context, order domain.LiquidityOrder, amount0, amount1 *big.Int) (domain.LiquidityReceipt, error) {
	if order.PoolID == (common.Hash{}) {
		return domain.LiquidityReceipt{}, fmt.Errorf("pooled vault order missing pool id")
	}
	if err := approve(ctx, a.backend, order.Token0, order.Router, amount0); err != nil {
		return domain.LiquidityReceipt{}, err
	}
	if err := approve(ctx, a.backend, order.Token1, order.Router, amount1); err != nil {
		return domain.LiquidityReceipt{}, err
	}

	minBpt := minOrZero(order.MinimumLPTokens)
	calldata, err := chain.PackCall(sigJoinPool, argsJoinPool,
		[32]byte(order.PoolID), order.Token0, order.Token1, amount0, amount1, minBpt)
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}

	// The vault's pool share token rides in the position manager slot of
	// the order; vault venues have no NFT manager.
	bptToken := order.PositionManager
	if bptToken == (common.Address{}) {
		return domain.LiquidityReceipt{}, fmt.Errorf("pooled vault order missing pool share token")
	}
	minted, err := balanceDiff(ctx, a.backend, bptToken, func() error {
		_, err := a.backend.Execute(ctx, order.Router, nil, calldata)
		return err
	})
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}
	return domain.LiquidityReceipt{LPToken: bptToken, Amount: minted}, nil
}

func (a *PooledVaultAdapter) ExecuteLiquidityRemove(ctx context.Context, pos domain.LiquidityPosition) (*big.Int, *big.Int, error) {
	if pos.PoolID == (common.Hash{}) {
		return nil, nil, fmt.Errorf("pooled vault position missing pool id")
	}
	operator := a.backend.Operator()
	if err := approve(ctx, a.backend, pos.LPToken, pos.Router, pos.Amount); err != nil {
		return nil, nil, err
	}
	calldata, err := chain.PackCall(sigExitPool, argsExitPool,
		[32]byte(pos.PoolID), pos.Amount, new(big.Int), new(big.Int))
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
