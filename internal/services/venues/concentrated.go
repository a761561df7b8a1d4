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
	typeExactInputSingle = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOutMinimum", Type: "uint256"},
		{Name: "limitSqrtPrice", Type: "uint160"},
	})
	typeMintParams = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "token0", Type: "address"},
		{Name: "token1", Type: "address"},
		{Name: "tickLower", Type: "int24"},
		{Name: "tickUpper", Type: "int24"},
		{Name: "amount0Desired", Type: "uint256"},
		{Name: "amount1Desired", Type: "uint256"},
		{Name: "amount0Min", Type: "uint256"},
		{Name: "amount1Min", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
	})
	typeDecreaseParams = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "tokenId", Type: "uint256"},
		{Name: "liquidity", Type: "uint128"},
		{Name: "amount0Min", Type: "uint256"},
		{Name: "amount1Min", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	})
	typeCollectParams = chain.MustTupleType([]abi.ArgumentMarshaling{
		{Name: "tokenId", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "amount0Max", Type: "uint128"},
		{Name: "amount1Max", Type: "uint128"},
	})
)

const (
	sigExactInputSingle = "exactInputSingle((address,address,address,uint256,uint256,uint256,uint160))"
	sigMint             = "mint((address,address,int24,int24,uint256,uint256,uint256,uint256,address,uint256))"
	sigDecrease         = "decreaseLiquidity((uint256,uint128,uint256,uint256,uint256))"
	sigCollect          = "collect((uint256,address,uint128,uint128))"
	sigBurn             = "burn(uint256)"
)

type exactInputSingleParams struct {
	TokenIn          common.Address `json:"tokenIn"`
	TokenOut         common.Address `json:"tokenOut"`
	Recipient        common.Address `json:"recipient"`
	Deadline         *big.Int       `json:"deadline"`
	AmountIn         *big.Int       `json:"amountIn"`
	AmountOutMinimum *big.Int       `json:"amountOutMinimum"`
	LimitSqrtPrice   *big.Int       `json:"limitSqrtPrice"`
}

type mintParams struct {
	Token0         common.Address `json:"token0"`
	Token1         common.Address `json:"token1"`
	TickLower      *big.Int       `json:"tickLower"`
	TickUpper      *big.Int       `json:"tickUpper"`
	Amount0Desired *big.Int       `json:"amount0Desired"`
	Amount1Desired *big.Int       `json:"amount1Desired"`
	Amount0Min     *big.Int       `json:"amount0Min"`
	Amount1Min     *big.Int       `json:"amount1Min"`
	Recipient      common.Address `json:"recipient"`
	Deadline       *big.Int       `json:"deadline"`
}

type decreaseParams struct {
	TokenId    *big.Int `json:"tokenId"`
	Liquidity  *big.Int `json:"liquidity"`
	Amount0Min *big.Int `json:"amount0Min"`
	Amount1Min *big.Int `json:"amount1Min"`
	Deadline   *big.Int `json:"deadline"`
}

type collectParams struct {
	TokenId    *big.Int       `json:"tokenId"`
	Recipient  common.Address `json:"recipient"`
	Amount0Max *big.Int       `json:"amount0Max"`
	Amount1Max *big.Int       `json:"amount1Max"`
}

// maxUint128 collects everything owed on a position.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ConcentratedAdapter covers single-hop concentrated-liquidity routers with
// an NFT position manager for liquidity.
type ConcentratedAdapter struct {
	backend chain.Backend
}

func NewConcentratedAdapter(backend chain.Backend) *ConcentratedAdapter {
	return &ConcentratedAdapter{backend: backend}
}

func (a *ConcentratedAdapter) SupportsRouterType(t domain.RouterType) bool {
	return t == domain.RouterConcentratedSingleHop
}

func (a *ConcentratedAdapter) ExecuteSwap(ctx context.Context, order domain.SwapOrder, reverse bool) (*big.Int, error) {
	in, out := order.TokenIn, order.TokenOut
	if reverse {
		in, out = out, in
	}
	operator := a.backend.Operator()

	if err := approve(ctx, a.backend, in, order.Router, order.TokenAmountIn); err != nil {
		return nil, err
	}
	calldata, err := chain.PackCall(sigExactInputSingle, abi.Arguments{{Type: typeExactInputSingle}},
		exactInputSingleParams{
			TokenIn:          in,
			TokenOut:         out,
			Recipient:        operator,
			Deadline:         deadline(),
			AmountIn:         order.TokenAmountIn,
			AmountOutMinimum: minOrZero(order.TokenAmountOutMin),
			LimitSqrtPrice:   new(big.Int),
		})
	if err != nil {
		return nil, err
	}
	return balanceDiff(ctx, a.backend, out, func() error {
		_, err := a.backend.Execute(ctx, order.Router, order.PayableAmountIn, calldata)
		return err
	})
}

func (a *ConcentratedAdapter) ExecuteLiquidityAdd(ctx context.Context, order domain.LiquidityOrder, amount0, amount1 *big.Int) (domain.LiquidityReceipt, error) {
	if order.PositionManager == (common.Address{}) {
		return domain.LiquidityReceipt{}, fmt.Errorf("concentrated order missing position manager")
	}
	operator := a.backend.Operator()
	if err := approve(ctx, a.backend, order.Token0, order.PositionManager, amount0); err != nil {
		return domain.LiquidityReceipt{}, err
	}
	if err := approve(ctx, a.backend, order.Token1, order.PositionManager, amount1); err != nil {
		return domain.LiquidityReceipt{}, err
	}

	calldata, err := chain.PackCall(sigMint, abi.Arguments{{Type: typeMintParams}}, mintParams{
		Token0:         order.Token0,
		Token1:         order.Token1,
		TickLower:      big.NewInt(int64(order.TickLower)),
		TickUpper:      big.NewInt(int64(order.TickUpper)),
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     minOutWithSlippage(amount0, order.SlippageBps),
		Amount1Min:     minOutWithSlippage(amount1, order.SlippageBps),
		Recipient:      operator,
		Deadline:       deadline(),
	})
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}
	ret, err := a.backend.Execute(ctx, order.PositionManager, nil, calldata)
	if err != nil {
		return domain.LiquidityReceipt{}, err
	}

	// Return data is only used for the token id; amounts are tracked by how
	// much was committed.
	decoded, err := abi.Arguments{
		{Type: chain.TypeUint256}, {Type: chain.TypeUint128},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
	}.Unpack(ret)
	if err != nil {
		return domain.LiquidityReceipt{}, fmt.Errorf("decode mint return: %w", err)
	}
	tokenID := decoded[0].(*big.Int)
	liquidity := decoded[1].(*big.Int)
	return domain.LiquidityReceipt{
		NFTTokenID: tokenID,
		Amount:     liquidity,
		IsNFT:      true,
	}, nil
}

func (a *ConcentratedAdapter) ExecuteLiquidityRemove(ctx context.Context, pos domain.LiquidityPosition) (*big.Int, *big.Int, error) {
	if pos.NFTTokenID == nil {
		return nil, nil, fmt.Errorf("concentrated position missing nft token id")
	}
	operator := a.backend.Operator()

	decrease, err := chain.PackCall(sigDecrease, abi.Arguments{{Type: typeDecreaseParams}}, decreaseParams{
		TokenId:    pos.NFTTokenID,
		Liquidity:  pos.Amount,
		Amount0Min: new(big.Int),
		Amount1Min: new(big.Int),
		Deadline:   deadline(),
	})
	if err != nil {
		return nil, nil, err
	}
	collect, err := chain.PackCall(sigCollect, abi.Arguments{{Type: typeCollectParams}}, collectParams{
		TokenId:    pos.NFTTokenID,
		Recipient:  operator,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return nil, nil, err
	}
	burn, err := chain.PackCall(sigBurn, abi.Arguments{{Type: chain.TypeUint256}}, pos.NFTTokenID)
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
	if _, err := a.backend.Execute(ctx, pos.PositionManager, nil, decrease); err != nil {
		return nil, nil, err
	}
	if _, err := a.backend.Execute(ctx, pos.PositionManager, nil, collect); err != nil {
		return nil, nil, err
	}
	if _, err := a.backend.Execute(ctx, pos.PositionManager, nil, burn); err != nil {
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
