package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PackType is an informational bytes32 tag ("ECOSYSTEM", "DEFI", "AI", ...).
type PackType = BundlerID

// LockState carries the custody timelocks applied at bundle time.
type LockState struct {
	ERC20Timelock  uint64 `json:"erc20Timelock"`
	ERC721Timelock uint64 `json:"erc721Timelock"`
}

// BundlerPreset binds a bundler tag to one fixed venue/pair combination.
// It is the registry-side template the engine expands into concrete orders
// when a bundle chunk references the tag.
type BundlerPreset struct {
	ID         BundlerID      `json:"id"`
	Router     common.Address `json:"router"`
	RouterType RouterType     `json:"routerType"`

	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`

	// SingleSided presets swap the whole allocation into Token1 and bond it;
	// two-sided presets split per PercentToken0/PercentToken1 and add
	// liquidity.
	SingleSided bool `json:"singleSided"`

	PercentToken0 uint16 `json:"percentToken0,omitempty"`
	PercentToken1 uint16 `json:"percentToken1,omitempty"`

	Route        []RouteHop `json:"route,omitempty"`
	ReverseRoute []RouteHop `json:"reverseRoute,omitempty"`

	PoolID common.Hash `json:"poolId,omitempty"`
	Stable bool        `json:"stable,omitempty"`

	TickLower       int32          `json:"tickLower,omitempty"`
	TickUpper       int32          `json:"tickUpper,omitempty"`
	PositionManager common.Address `json:"positionManager,omitempty"`

	SlippageBps uint16 `json:"slippageBps"`

	// ExitPositionOnUnbundle false leaves the position intact on unbundle
	// and forwards the LP token or NFT itself to the receiver (governance
	// packs that must stay staked for voting).
	ExitPositionOnUnbundle bool `json:"exitPositionOnUnbundle"`
}

// LiquidityPosition is one liquidity holding recorded against a pack so the
// teardown knows what to unwind.
type LiquidityPosition struct {
	BundlerID       BundlerID      `json:"bundlerId"`
	Router          common.Address `json:"router"`
	RouterType      RouterType     `json:"routerType"`
	Token0          common.Address `json:"token0"`
	Token1          common.Address `json:"token1"`
	LPToken         common.Address `json:"lpToken"`
	NFTTokenID      *big.Int       `json:"nftTokenId,omitempty"`
	Amount          *big.Int       `json:"amount"`
	PoolID          common.Hash    `json:"poolId,omitempty"`
	Stable          bool           `json:"stable,omitempty"`
	PositionManager common.Address `json:"positionManager,omitempty"`
	ExitOnUnbundle  bool           `json:"exitOnUnbundle"`
}

// Pack is the persisted record of one bundled position. The identity is the
// externally minted NFT token id; the engine never destroys it.
type Pack struct {
	TokenID    *big.Int            `json:"tokenId"`
	Collection common.Address      `json:"collection"`
	PackType   PackType            `json:"packType"`
	PriceWei   *big.Int            `json:"priceWei"`
	BundlerIDs []BundlerID         `json:"bundlerIds"`
	Positions  []LiquidityPosition `json:"positions,omitempty"`
	CreatedAt  int64               `json:"createdAt"`
}

// PackAsset is one entry of a pack balance query.
type PackAsset struct {
	TokenAddress common.Address `json:"tokenAddress"`
	Balance      *big.Int       `json:"balance"`
	NFTTokenID   *big.Int       `json:"nftTokenId"`
}

// BundleRequest is the full input of a bundle operation. Chunks reference
// registered presets; ContractCalls/SwapOrders/LiquidityOrders may carry a
// pre-resolved plan alongside or instead of chunks.
type BundleRequest struct {
	Payer      common.Address   `json:"payer"`
	PaymentWei *big.Int         `json:"paymentWei"`
	Chunks     []BundleChunk    `json:"chunks"`
	Referrals  []common.Address `json:"referrals,omitempty"`

	MetadataURI string    `json:"metadataUri,omitempty"`
	Timelocks   LockState `json:"timelocks"`
	PackType    PackType  `json:"packType"`
	PriceWei    *big.Int  `json:"priceWei"`

	ContractCalls   []ContractCall   `json:"contractCalls,omitempty"`
	SwapOrders      []SwapOrder      `json:"swapOrders,omitempty"`
	LiquidityOrders []LiquidityOrder `json:"liquidityOrders,omitempty"`
}

// BundleReceipt reports the settled outcome of a bundle.
type BundleReceipt struct {
	TokenID   *big.Int    `json:"tokenId"`
	FeeWei    *big.Int    `json:"feeWei"`
	RefundWei *big.Int    `json:"refundWei"`
	Bonded    []PackAsset `json:"bonded"`
}

// UnbundleRequest tears a pack down. SellAll liquidates every fungible
// holding back to the native currency's wrapped form before paying out.
type UnbundleRequest struct {
	Caller     common.Address `json:"caller"`
	Receiver   common.Address `json:"receiver"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"tokenId"`
	PaymentWei *big.Int       `json:"paymentWei"`
	SellAll    bool           `json:"sellAll"`

	// Explicit teardown descriptors; when empty the registry record for the
	// pack drives the teardown.
	SwapOrders     []SwapOrder         `json:"swapOrders,omitempty"`
	LiquidityPairs []LiquidityPosition `json:"liquidityPairs,omitempty"`
}

// UnbundleReceipt reports the settled outcome of an unbundle.
type UnbundleReceipt struct {
	TokenID      *big.Int    `json:"tokenId"`
	FeeWei       *big.Int    `json:"feeWei"`
	ProceedsWei  *big.Int    `json:"proceedsWei"`
	Released     []PackAsset `json:"released"`
	SkippedSwaps int         `json:"skippedSwaps"`
}
