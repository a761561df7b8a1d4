package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Structured event records for off-chain consumers. The engine logs each as
// a zerolog record and bumps the matching metric; handlers may additionally
// surface them in receipts.

type PackBundledEvent struct {
	TokenID    *big.Int       `json:"tokenId"`
	Payer      common.Address `json:"payer"`
	PackType   string         `json:"packType"`
	PriceWei   *big.Int       `json:"priceWei"`
	BundlerIDs []string       `json:"bundlerIds"`
}

type PackUnbundledEvent struct {
	TokenID     *big.Int       `json:"tokenId"`
	Receiver    common.Address `json:"receiver"`
	SellAll     bool           `json:"sellAll"`
	ProceedsWei *big.Int       `json:"proceedsWei"`
}

type SwapExecutedEvent struct {
	Router    common.Address `json:"router"`
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  *big.Int       `json:"amountIn"`
	AmountOut *big.Int       `json:"amountOut"`
	Reverse   bool           `json:"reverse"`
}

// SwapSkippedEvent records a tolerated per-order failure during sell-all.
type SwapSkippedEvent struct {
	Router  common.Address `json:"router"`
	TokenIn common.Address `json:"tokenIn"`
	Reason  string         `json:"reason"`
}

type LiquidityAddedEvent struct {
	Router  common.Address   `json:"router"`
	Token0  common.Address   `json:"token0"`
	Token1  common.Address   `json:"token1"`
	Receipt LiquidityReceipt `json:"receipt"`
}

type LiquidityRemovedEvent struct {
	Router  common.Address `json:"router"`
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	Amount0 *big.Int       `json:"amount0"`
	Amount1 *big.Int       `json:"amount1"`
	Exited  bool           `json:"exited"`
}

type FeeCollectedEvent struct {
	Treasury  common.Address `json:"treasury"`
	AmountWei *big.Int       `json:"amountWei"`
	Operation string         `json:"operation"`
}

type ReferralCreditedEvent struct {
	Referrer  common.Address `json:"referrer"`
	Tier      int            `json:"tier"`
	AmountWei *big.Int       `json:"amountWei"`
}

type RefundIssuedEvent struct {
	To        common.Address `json:"to"`
	AmountWei *big.Int       `json:"amountWei"`
}
