package http

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	gohttp "net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/services/allowlist"
	"github.com/packlabs/packvault/internal/services/engine"
)

// Wire DTOs. Amounts travel as decimal strings; addresses as 0x-hex.

type RouteHopDTO struct {
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
	Stable bool   `json:"stable"`
}

type ContractCallDTO struct {
	Target   string `json:"target" binding:"required"`
	ValueWei string `json:"valueWei"`
	CallData string `json:"callData"`
}

type SwapOrderDTO struct {
	Router            string        `json:"router" binding:"required"`
	RouterType        uint8         `json:"routerType"`
	TokenIn           string        `json:"tokenIn" binding:"required"`
	TokenOut          string        `json:"tokenOut" binding:"required"`
	TokenAmountIn     string        `json:"tokenAmountIn"`
	TokenAmountOutMin string        `json:"tokenAmountOutMin"`
	PayableAmountIn   string        `json:"payableAmountIn"`
	CallData          string        `json:"callData"`
	PoolID            string        `json:"poolId"`
	Route             []RouteHopDTO `json:"route"`
	ReverseRoute      []RouteHopDTO `json:"reverseRoute"`
	LiquidityUUID     string        `json:"liquidityUuid"`
	Stable            bool          `json:"stable"`
}

type LiquidityOrderDTO struct {
	Router              string `json:"router" binding:"required"`
	RouterType          uint8  `json:"routerType"`
	Token0              string `json:"token0" binding:"required"`
	Token1              string `json:"token1" binding:"required"`
	PercentToken0       uint16 `json:"percentToken0"`
	PercentToken1       uint16 `json:"percentToken1"`
	MinimumLPTokens     string `json:"minimumLpTokens"`
	SlippageBps         uint16 `json:"slippageBps"`
	TickLower           int32  `json:"tickLower"`
	TickUpper           int32  `json:"tickUpper"`
	PoolID              string `json:"poolId"`
	PositionManager     string `json:"positionManager"`
	LiquidityUUIDToken0 string `json:"liquidityUuidToken0"`
	LiquidityUUIDToken1 string `json:"liquidityUuidToken1"`
	Stable              bool   `json:"stable"`
}

type LiquidityPositionDTO struct {
	BundlerID       string `json:"bundlerId"`
	Router          string `json:"router" binding:"required"`
	RouterType      uint8  `json:"routerType"`
	Token0          string `json:"token0" binding:"required"`
	Token1          string `json:"token1" binding:"required"`
	LPToken         string `json:"lpToken"`
	NFTTokenID      string `json:"nftTokenId"`
	Amount          string `json:"amount"`
	PoolID          string `json:"poolId"`
	Stable          bool   `json:"stable"`
	PositionManager string `json:"positionManager"`
	ExitOnUnbundle  bool   `json:"exitOnUnbundle"`
}

type PackAssetDTO struct {
	TokenAddress string `json:"tokenAddress"`
	Balance      string `json:"balance,omitempty"`
	NFTTokenID   string `json:"nftTokenId,omitempty"`
}

func assetDTOs(assets []domain.PackAsset) []PackAssetDTO {
	out := make([]PackAssetDTO, 0, len(assets))
	for _, a := range assets {
		dto := PackAssetDTO{TokenAddress: a.TokenAddress.Hex()}
		if a.Balance != nil {
			dto.Balance = a.Balance.String()
		}
		if a.NFTTokenID != nil {
			dto.NFTTokenID = a.NFTTokenID.String()
		}
		out = append(out, dto)
	}
	return out
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a decimal wei string; empty means nil.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parseCallData(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid call data: %v", err)
	}
	return data, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

func parsePoolID(s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) > common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid pool id %q", s)
	}
	return common.BytesToHash(raw), nil
}

func parseRoute(hops []RouteHopDTO) ([]domain.RouteHop, error) {
	if len(hops) == 0 {
		return nil, nil
	}
	out := make([]domain.RouteHop, 0, len(hops))
	for _, h := range hops {
		from, err := parseAddress(h.From)
		if err != nil {
			return nil, err
		}
		to, err := parseAddress(h.To)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.RouteHop{From: from, To: to, Stable: h.Stable})
	}
	return out, nil
}

func parseSwapOrder(dto SwapOrderDTO) (domain.SwapOrder, error) {
	var order domain.SwapOrder
	var err error
	if order.Router, err = parseAddress(dto.Router); err != nil {
		return order, err
	}
	if order.TokenIn, err = parseAddress(dto.TokenIn); err != nil {
		return order, err
	}
	if order.TokenOut, err = parseAddress(dto.TokenOut); err != nil {
		return order, err
	}
	if order.TokenAmountIn, err = parseAmount(dto.TokenAmountIn); err != nil {
		return order, err
	}
	if order.TokenAmountOutMin, err = parseAmount(dto.TokenAmountOutMin); err != nil {
		return order, err
	}
	if order.PayableAmountIn, err = parseAmount(dto.PayableAmountIn); err != nil {
		return order, err
	}
	if order.CallData, err = parseCallData(dto.CallData); err != nil {
		return order, err
	}
	if order.PoolID, err = parsePoolID(dto.PoolID); err != nil {
		return order, err
	}
	if order.Route, err = parseRoute(dto.Route); err != nil {
		return order, err
	}
	if order.ReverseRoute, err = parseRoute(dto.ReverseRoute); err != nil {
		return order, err
	}
	if order.LiquidityUUID, err = parseUUID(dto.LiquidityUUID); err != nil {
		return order, err
	}
	order.RouterType = domain.RouterType(dto.RouterType)
	order.Stable = dto.Stable
	return order, nil
}

func parseLiquidityOrder(dto LiquidityOrderDTO) (domain.LiquidityOrder, error) {
	var order domain.LiquidityOrder
	var err error
	if order.Router, err = parseAddress(dto.Router); err != nil {
		return order, err
	}
	if order.Token0, err = parseAddress(dto.Token0); err != nil {
		return order, err
	}
	if order.Token1, err = parseAddress(dto.Token1); err != nil {
		return order, err
	}
	if order.MinimumLPTokens, err = parseAmount(dto.MinimumLPTokens); err != nil {
		return order, err
	}
	if order.PoolID, err = parsePoolID(dto.PoolID); err != nil {
		return order, err
	}
	if dto.PositionManager != "" {
		if order.PositionManager, err = parseAddress(dto.PositionManager); err != nil {
			return order, err
		}
	}
	if order.LiquidityUUIDToken0, err = parseUUID(dto.LiquidityUUIDToken0); err != nil {
		return order, err
	}
	if order.LiquidityUUIDToken1, err = parseUUID(dto.LiquidityUUIDToken1); err != nil {
		return order, err
	}
	order.RouterType = domain.RouterType(dto.RouterType)
	order.PercentToken0 = dto.PercentToken0
	order.PercentToken1 = dto.PercentToken1
	order.SlippageBps = dto.SlippageBps
	order.TickLower = dto.TickLower
	order.TickUpper = dto.TickUpper
	order.Stable = dto.Stable
	return order, nil
}

func parsePosition(dto LiquidityPositionDTO) (domain.LiquidityPosition, error) {
	var pos domain.LiquidityPosition
	var err error
	pos.BundlerID = domain.BundlerIDFromString(dto.BundlerID)
	if pos.Router, err = parseAddress(dto.Router); err != nil {
		return pos, err
	}
	if pos.Token0, err = parseAddress(dto.Token0); err != nil {
		return pos, err
	}
	if pos.Token1, err = parseAddress(dto.Token1); err != nil {
		return pos, err
	}
	if dto.LPToken != "" {
		if pos.LPToken, err = parseAddress(dto.LPToken); err != nil {
			return pos, err
		}
	}
	if pos.NFTTokenID, err = parseAmount(dto.NFTTokenID); err != nil {
		return pos, err
	}
	if pos.Amount, err = parseAmount(dto.Amount); err != nil {
		return pos, err
	}
	if pos.PoolID, err = parsePoolID(dto.PoolID); err != nil {
		return pos, err
	}
	if dto.PositionManager != "" {
		if pos.PositionManager, err = parseAddress(dto.PositionManager); err != nil {
			return pos, err
		}
	}
	pos.RouterType = domain.RouterType(dto.RouterType)
	pos.Stable = dto.Stable
	pos.ExitOnUnbundle = dto.ExitOnUnbundle
	return pos, nil
}

func positionDTO(pos domain.LiquidityPosition) LiquidityPositionDTO {
	dto := LiquidityPositionDTO{
		BundlerID:       pos.BundlerID.String(),
		Router:          pos.Router.Hex(),
		RouterType:      uint8(pos.RouterType),
		Token0:          pos.Token0.Hex(),
		Token1:          pos.Token1.Hex(),
		LPToken:         pos.LPToken.Hex(),
		PoolID:          pos.PoolID.Hex(),
		Stable:          pos.Stable,
		PositionManager: pos.PositionManager.Hex(),
		ExitOnUnbundle:  pos.ExitOnUnbundle,
	}
	if pos.NFTTokenID != nil {
		dto.NFTTokenID = pos.NFTTokenID.String()
	}
	if pos.Amount != nil {
		dto.Amount = pos.Amount.String()
	}
	return dto
}

func packDTO(p *domain.Pack) PackDTO {
	ids := make([]string, 0, len(p.BundlerIDs))
	for _, id := range p.BundlerIDs {
		ids = append(ids, id.String())
	}
	positions := make([]LiquidityPositionDTO, 0, len(p.Positions))
	for _, pos := range p.Positions {
		positions = append(positions, positionDTO(pos))
	}
	return PackDTO{
		TokenID:    p.TokenID.String(),
		Collection: p.Collection.Hex(),
		PackType:   p.PackType.String(),
		PriceWei:   p.PriceWei.String(),
		BundlerIDs: ids,
		Positions:  positions,
		CreatedAt:  p.CreatedAt,
	}
}

func packFromDTO(dto PackDTO) (*domain.Pack, error) {
	collection, err := parseAddress(dto.Collection)
	if err != nil {
		return nil, err
	}
	tokenID, err := parseAmount(dto.TokenID)
	if err != nil || tokenID == nil {
		return nil, fmt.Errorf("invalid token id %q", dto.TokenID)
	}
	price, err := parseAmount(dto.PriceWei)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.BundlerID, 0, len(dto.BundlerIDs))
	for _, s := range dto.BundlerIDs {
		ids = append(ids, domain.BundlerIDFromString(s))
	}
	positions := make([]domain.LiquidityPosition, 0, len(dto.Positions))
	for _, p := range dto.Positions {
		pos, err := parsePosition(p)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return &domain.Pack{
		TokenID:    tokenID,
		Collection: collection,
		PackType:   domain.BundlerIDFromString(dto.PackType),
		PriceWei:   price,
		BundlerIDs: ids,
		Positions:  positions,
		CreatedAt:  dto.CreatedAt,
	}, nil
}

func buildBundleRequest(body *BundleHandlerRequest) (*domain.BundleRequest, error) {
	req := &domain.BundleRequest{
		MetadataURI: body.MetadataURI,
		PackType:    domain.BundlerIDFromString(body.PackType),
		Timelocks: domain.LockState{
			ERC20Timelock:  body.ERC20TimelockBlock,
			ERC721Timelock: body.ERC721TimelockBlock,
		},
	}
	var err error
	if req.Payer, err = parseAddress(body.Payer); err != nil {
		return nil, err
	}
	if req.PaymentWei, err = parseAmount(body.PaymentWei); err != nil {
		return nil, err
	}
	if req.PriceWei, err = parseAmount(body.PriceWei); err != nil {
		return nil, err
	}
	for _, r := range body.Referrals {
		addr, err := parseAddress(r)
		if err != nil {
			return nil, err
		}
		req.Referrals = append(req.Referrals, addr)
	}
	for _, chunk := range body.Chunks {
		req.Chunks = append(req.Chunks, domain.BundleChunk{
			BundlerID:          domain.BundlerIDFromString(chunk.BundlerID),
			PercentBasisPoints: chunk.PercentBasisPoints,
		})
	}
	for _, call := range body.ContractCalls {
		target, err := parseAddress(call.Target)
		if err != nil {
			return nil, err
		}
		value, err := parseAmount(call.ValueWei)
		if err != nil {
			return nil, err
		}
		data, err := parseCallData(call.CallData)
		if err != nil {
			return nil, err
		}
		req.ContractCalls = append(req.ContractCalls, domain.ContractCall{
			Target: target, ValueWei: value, CallData: data,
		})
	}
	for _, dto := range body.SwapOrders {
		order, err := parseSwapOrder(dto)
		if err != nil {
			return nil, err
		}
		req.SwapOrders = append(req.SwapOrders, order)
	}
	for _, dto := range body.LiquidityOrders {
		order, err := parseLiquidityOrder(dto)
		if err != nil {
			return nil, err
		}
		req.LiquidityOrders = append(req.LiquidityOrders, order)
	}
	return req, nil
}

func buildUnbundleRequest(body *UnbundleHandlerRequest) (*domain.UnbundleRequest, error) {
	req := &domain.UnbundleRequest{SellAll: body.SellAll}
	var err error
	if req.Caller, err = parseAddress(body.Caller); err != nil {
		return nil, err
	}
	if body.Receiver != "" {
		if req.Receiver, err = parseAddress(body.Receiver); err != nil {
			return nil, err
		}
	}
	if req.Collection, err = parseAddress(body.Collection); err != nil {
		return nil, err
	}
	if req.TokenID, err = parseAmount(body.TokenID); err != nil || req.TokenID == nil {
		return nil, fmt.Errorf("invalid token id %q", body.TokenID)
	}
	if req.PaymentWei, err = parseAmount(body.PaymentWei); err != nil {
		return nil, err
	}
	for _, dto := range body.SwapOrders {
		order, err := parseSwapOrder(dto)
		if err != nil {
			return nil, err
		}
		req.SwapOrders = append(req.SwapOrders, order)
	}
	for _, dto := range body.LiquidityPairs {
		pos, err := parsePosition(dto)
		if err != nil {
			return nil, err
		}
		req.LiquidityPairs = append(req.LiquidityPairs, pos)
	}
	return req, nil
}

// settlementStatus maps engine errors onto HTTP statuses: caller mistakes
// are 4xx, reverted settlements are 422, everything else is 500.
func settlementStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInsufficientPayment),
		errors.Is(err, engine.ErrEmptyBundle),
		errors.Is(err, domain.ErrUnknownBundler):
		return gohttp.StatusBadRequest
	case errors.Is(err, engine.ErrNotPackOwner),
		errors.Is(err, allowlist.ErrNotAllowed):
		return gohttp.StatusForbidden
	case errors.Is(err, domain.ErrPackNotFound):
		return gohttp.StatusNotFound
	case errors.Is(err, engine.ErrReentrantCall):
		return gohttp.StatusTooManyRequests
	default:
		return gohttp.StatusUnprocessableEntity
	}
}
