package engine

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
	typeQuoteRouteSlice = chain.MustTupleSliceType([]abi.ArgumentMarshaling{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "stable", Type: "bool"},
	})

	argsAmountsPath   = abi.Arguments{{Type: chain.TypeUint256}, {Type: chain.TypeAddressSlice}}
	argsAmountsRoutes = abi.Arguments{{Type: chain.TypeUint256}, {Type: typeQuoteRouteSlice}}
	argsAmountsRet    = abi.Arguments{{Type: chain.TypeUint256Slice}}
)

const (
	sigAmountsPath   = "getAmountsOut(uint256,address[])"
	sigAmountsRoutes = "getAmountsOut(uint256,(address,address,bool)[])"
)

// PackBalances reads the current custody holdings of a pack: the vault
// balance of every fungible asset its presets target plus its recorded
// liquidity positions.
func (svc *Service) PackBalances(ctx context.Context, collection common.Address, tokenID *big.Int) ([]domain.PackAsset, error) {
	pack, err := svc.registry.GetPack(collection, tokenID)
	if err != nil {
		return nil, err
	}

	var assets []domain.PackAsset
	for _, asset := range svc.teardownAssets(pack, nil) {
		mass, err := svc.custody.Mass(ctx, tokenID, asset)
		if err != nil {
			return nil, err
		}
		if mass.Sign() == 0 {
			continue
		}
		assets = append(assets, domain.PackAsset{TokenAddress: asset, Balance: mass})
	}
	for _, pos := range pack.Positions {
		if pos.NFTTokenID != nil {
			assets = append(assets, domain.PackAsset{TokenAddress: pos.PositionManager, NFTTokenID: pos.NFTTokenID})
			continue
		}
		mass, err := svc.custody.Mass(ctx, tokenID, pos.LPToken)
		if err != nil {
			return nil, err
		}
		assets = append(assets, domain.PackAsset{TokenAddress: pos.LPToken, Balance: mass})
	}
	return assets, nil
}

// PackPrice returns the price the pack settled at.
func (svc *Service) PackPrice(collection common.Address, tokenID *big.Int) (*big.Int, error) {
	pack, err := svc.registry.GetPack(collection, tokenID)
	if err != nil {
		return nil, err
	}
	return pack.PriceWei, nil
}

// QuoteSwap asks the order's router what the order would currently realize.
// Only pair-style venues expose an amounts-out view; concentrated and
// pooled-vault quotes need venue-specific quoter contracts and are not
// served here.
func (svc *Service) QuoteSwap(ctx context.Context, order domain.SwapOrder) (*big.Int, error) {
	var calldata []byte
	var err error

	switch order.RouterType {
	case domain.RouterConstantProduct:
		path := []common.Address{order.TokenIn, order.TokenOut}
		if len(order.Route) > 0 {
			path = path[:0]
			path = append(path, order.Route[0].From)
			for _, h := range order.Route {
				path = append(path, h.To)
			}
		}
		calldata, err = chain.PackCall(sigAmountsPath, argsAmountsPath, bigOrZero(order.TokenAmountIn), path)
	case domain.RouterVelodromeMultihop:
		routes := make([]quoteRoute, 0, len(order.Route))
		for _, h := range order.Route {
			routes = append(routes, quoteRoute{From: h.From, To: h.To, Stable: h.Stable})
		}
		if len(routes) == 0 {
			routes = append(routes, quoteRoute{From: order.TokenIn, To: order.TokenOut, Stable: order.Stable})
		}
		calldata, err = chain.PackCall(sigAmountsRoutes, argsAmountsRoutes, bigOrZero(order.TokenAmountIn), routes)
	default:
		return nil, fmt.Errorf("no quote source for router type %s", order.RouterType)
	}
	if err != nil {
		return nil, err
	}

	ret, err := svc.backend.Call(ctx, order.Router, calldata)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	out, err := argsAmountsRet.Unpack(ret)
	if err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("empty quote response")
	}
	return amounts[len(amounts)-1], nil
}

type quoteRoute struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Stable bool           `json:"stable"`
}
