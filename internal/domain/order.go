package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BundlerID is the fixed-size byte tag a bundler preset is registered under,
// e.g. "SS-WETH-IONX" or "LP-WETH-USDC" padded to 32 bytes.
type BundlerID [32]byte

func BundlerIDFromString(s string) BundlerID {
	var id BundlerID
	copy(id[:], s)
	return id
}

func (id BundlerID) String() string {
	end := len(id)
	for end > 0 && id[end-1] == 0 {
		end--
	}
	return string(id[:end])
}

type RouterType uint8

const (
	RouterConstantProduct RouterType = iota
	RouterConcentratedSingleHop
	RouterVelodromeMultihop
	RouterPooledVault
)

func (t RouterType) String() string {
	switch t {
	case RouterConstantProduct:
		return "ConstantProduct"
	case RouterConcentratedSingleHop:
		return "ConcentratedSingleHop"
	case RouterVelodromeMultihop:
		return "VelodromeMultihop"
	case RouterPooledVault:
		return "PooledVault"
	default:
		return "UNKNOWN"
	}
}

// RouteHop is one hop of a multi-hop swap route. Stable is only meaningful
// on venues that distinguish stable from volatile pools.
type RouteHop struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Stable bool           `json:"stable"`
}

// BundleChunk allocates a slice of the pack price to one registered bundler.
// PercentBasisPoints is not required to sum to 10000 across a bundle; the
// caller owns the allocation.
type BundleChunk struct {
	BundlerID          BundlerID `json:"bundlerId"`
	PercentBasisPoints uint16    `json:"percentBasisPoints"`
}

// ContractCall is a raw preparatory call (native wrapping and the like).
// The target must be allow-listed.
type ContractCall struct {
	Target   common.Address `json:"target"`
	ValueWei *big.Int       `json:"valueWei"`
	CallData []byte         `json:"callData"`
}

// SwapOrder describes one swap against an external router. The realized
// output is always measured by balance diff, never taken from return data.
type SwapOrder struct {
	Router            common.Address `json:"router"`
	RouterType        RouterType     `json:"routerType"`
	TokenIn           common.Address `json:"tokenIn"`
	TokenOut          common.Address `json:"tokenOut"`
	TokenAmountIn     *big.Int       `json:"tokenAmountIn"`
	TokenAmountOutMin *big.Int       `json:"tokenAmountOutMin"`

	// PayableAmountIn is the native-currency portion attached to the call.
	// May be zero; when set it covers TokenAmountIn for wrapped-native entry.
	PayableAmountIn *big.Int `json:"payableAmountIn"`

	// CallData is the caller-prepared payload for PooledVault venues, which
	// have no canonical call shape the adapter could derive.
	CallData []byte `json:"callData,omitempty"`

	// PoolID addresses the pool on PooledVault venues. The zero hash is a
	// skip sentinel.
	PoolID common.Hash `json:"poolId,omitempty"`

	// Route is the hop sequence for multihop venues. Empty means the single
	// TokenIn/TokenOut hop.
	Route []RouteHop `json:"route,omitempty"`

	// ReverseRoute is the caller-supplied unwind route used when the order
	// is executed in the reverse direction. The engine never re-derives it.
	ReverseRoute []RouteHop `json:"reverseRoute,omitempty"`

	// LiquidityUUID correlates this swap's output with a later liquidity
	// order consuming it.
	LiquidityUUID uuid.UUID `json:"liquidityUuid,omitempty"`

	Stable bool `json:"stable,omitempty"`
}

// LiquidityOrder commits basis-point shares of the engine's held balances
// to a liquidity venue. Token0 < Token1 by address ordering is enforced for
// venues requiring canonical pair ordering.
type LiquidityOrder struct {
	Router     common.Address `json:"router"`
	RouterType RouterType     `json:"routerType"`
	Token0     common.Address `json:"token0"`
	Token1     common.Address `json:"token1"`

	PercentToken0 uint16 `json:"percentToken0"`
	PercentToken1 uint16 `json:"percentToken1"`

	MinimumLPTokens *big.Int `json:"minimumLpTokens,omitempty"`
	SlippageBps     uint16   `json:"slippageBps"`

	// Tick bounds for concentrated-liquidity venues. Callers pre-align them
	// to the venue's tick spacing.
	TickLower int32 `json:"tickLower,omitempty"`
	TickUpper int32 `json:"tickUpper,omitempty"`

	PoolID common.Hash `json:"poolId,omitempty"`

	// PositionManager is the NFT position manager for concentrated venues.
	PositionManager common.Address `json:"positionManager,omitempty"`

	LiquidityUUIDToken0 uuid.UUID `json:"liquidityUuidToken0,omitempty"`
	LiquidityUUIDToken1 uuid.UUID `json:"liquidityUuidToken1,omitempty"`

	Stable bool `json:"stable,omitempty"`
}

// LiquidityReceipt is what a venue hands back for an executed add.
type LiquidityReceipt struct {
	LPToken    common.Address `json:"lpToken"`
	NFTTokenID *big.Int       `json:"nftTokenId,omitempty"`
	Amount     *big.Int       `json:"amount"`
	IsNFT      bool           `json:"isNft"`
}
