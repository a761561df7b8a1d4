package http

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/http/httputil"
	"github.com/packlabs/packvault/internal/services/engine"
	"github.com/packlabs/packvault/internal/services/registry"
)

// PackHandler serves the settlement endpoints and pack introspection.
type PackHandler struct {
	engineSvc   *engine.Service
	registrySvc *registry.Service
}

func NewPackHandler(engineSvc *engine.Service, registrySvc *registry.Service) *PackHandler {
	return &PackHandler{engineSvc: engineSvc, registrySvc: registrySvc}
}

func (h *PackHandler) Root() string {
	return "/packs"
}

func (h *PackHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("", h.listPacks)
	pub.GET("/:collection/:tokenId/balances", h.getBalances)
	pub.GET("/:collection/:tokenId/price", h.getPrice)

	private.POST("/bundle", h.bundle)
	private.POST("/unbundle", h.unbundle)

	admin.POST("/import", h.importPacks)
}

type BundleChunkDTO struct {
	BundlerID          string `json:"bundlerId" binding:"required"`
	PercentBasisPoints uint16 `json:"percentBasisPoints" binding:"required"`
}

type BundleHandlerRequest struct {
	// Payer funds the bundle and receives the minted pack NFT.
	Payer string `json:"payer" binding:"required"`

	// PaymentWei must cover priceWei plus the protocol fee; the excess is
	// refunded.
	PaymentWei string `json:"paymentWei" binding:"required"`
	PriceWei   string `json:"priceWei" binding:"required"`

	PackType    string   `json:"packType"`
	MetadataURI string   `json:"metadataUri"`
	Referrals   []string `json:"referrals"`

	ERC20TimelockBlock  uint64 `json:"erc20TimelockBlock"`
	ERC721TimelockBlock uint64 `json:"erc721TimelockBlock"`

	Chunks          []BundleChunkDTO    `json:"chunks"`
	ContractCalls   []ContractCallDTO   `json:"contractCalls"`
	SwapOrders      []SwapOrderDTO      `json:"swapOrders"`
	LiquidityOrders []LiquidityOrderDTO `json:"liquidityOrders"`
}

type BundleHandlerResponse struct {
	TokenID   string         `json:"tokenId"`
	FeeWei    string         `json:"feeWei"`
	RefundWei string         `json:"refundWei"`
	Bonded    []PackAssetDTO `json:"bonded"`
}

func (h *PackHandler) bundle(c *gin.Context) {
	var body BundleHandlerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	req, err := buildBundleRequest(&body)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	receipt, err := h.engineSvc.Bundle(c.Request.Context(), req)
	if err != nil {
		httputil.Error(c, settlementStatus(err), err.Error())
		return
	}

	httputil.Success(c, BundleHandlerResponse{
		TokenID:   receipt.TokenID.String(),
		FeeWei:    receipt.FeeWei.String(),
		RefundWei: receipt.RefundWei.String(),
		Bonded:    assetDTOs(receipt.Bonded),
	})
}

type UnbundleHandlerRequest struct {
	Caller     string `json:"caller" binding:"required"`
	Receiver   string `json:"receiver"`
	Collection string `json:"collection" binding:"required"`
	TokenID    string `json:"tokenId" binding:"required"`
	PaymentWei string `json:"paymentWei" binding:"required"`
	SellAll    bool   `json:"sellAll"`

	SwapOrders     []SwapOrderDTO         `json:"swapOrders"`
	LiquidityPairs []LiquidityPositionDTO `json:"liquidityPairs"`
}

type UnbundleHandlerResponse struct {
	TokenID      string         `json:"tokenId"`
	FeeWei       string         `json:"feeWei"`
	ProceedsWei  string         `json:"proceedsWei"`
	Released     []PackAssetDTO `json:"released"`
	SkippedSwaps int            `json:"skippedSwaps"`
}

func (h *PackHandler) unbundle(c *gin.Context) {
	var body UnbundleHandlerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	req, err := buildUnbundleRequest(&body)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	receipt, err := h.engineSvc.Unbundle(c.Request.Context(), req)
	if err != nil {
		httputil.Error(c, settlementStatus(err), err.Error())
		return
	}

	httputil.Success(c, UnbundleHandlerResponse{
		TokenID:      receipt.TokenID.String(),
		FeeWei:       receipt.FeeWei.String(),
		ProceedsWei:  receipt.ProceedsWei.String(),
		Released:     assetDTOs(receipt.Released),
		SkippedSwaps: receipt.SkippedSwaps,
	})
}

type PackDTO struct {
	TokenID    string                 `json:"tokenId"`
	Collection string                 `json:"collection"`
	PackType   string                 `json:"packType"`
	PriceWei   string                 `json:"priceWei"`
	BundlerIDs []string               `json:"bundlerIds"`
	Positions  []LiquidityPositionDTO `json:"positions,omitempty"`
	CreatedAt  int64                  `json:"createdAt"`
}

func (h *PackHandler) listPacks(c *gin.Context) {
	packs := h.registrySvc.ListPacks()
	out := make([]PackDTO, 0, len(packs))
	for _, p := range packs {
		out = append(out, packDTO(p))
	}
	httputil.Success(c, out)
}

func (h *PackHandler) getBalances(c *gin.Context) {
	collection, tokenID, ok := h.packParams(c)
	if !ok {
		return
	}
	assets, err := h.engineSvc.PackBalances(c.Request.Context(), collection, tokenID)
	if err != nil {
		httputil.NotFound(c, err.Error())
		return
	}
	httputil.Success(c, assetDTOs(assets))
}

func (h *PackHandler) getPrice(c *gin.Context) {
	collection, tokenID, ok := h.packParams(c)
	if !ok {
		return
	}
	price, err := h.engineSvc.PackPrice(collection, tokenID)
	if err != nil {
		httputil.NotFound(c, err.Error())
		return
	}
	httputil.Success(c, gin.H{"priceWei": price.String()})
}

// importPacks bulk-loads pack records, for migrating state from a previous
// deployment.
func (h *PackHandler) importPacks(c *gin.Context) {
	var body []PackDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	packs := make([]*domain.Pack, 0, len(body))
	for _, dto := range body {
		pack, err := packFromDTO(dto)
		if err != nil {
			httputil.BadRequest(c, err.Error())
			return
		}
		packs = append(packs, pack)
	}
	imported, err := h.registrySvc.ImportPacks(packs)
	if err != nil {
		httputil.InternalError(c, err.Error())
		return
	}
	httputil.Success(c, gin.H{"imported": imported})
}

func (h *PackHandler) packParams(c *gin.Context) (common.Address, *big.Int, bool) {
	collection, err := parseAddress(c.Param("collection"))
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return common.Address{}, nil, false
	}
	tokenID, ok := new(big.Int).SetString(c.Param("tokenId"), 10)
	if !ok {
		httputil.BadRequest(c, "invalid token id")
		return common.Address{}, nil, false
	}
	return collection, tokenID, true
}
