// Package common contains common constants and variables used across services
package common

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// NativeToken is the conventional sentinel address for the chain's
	// native currency in asset lists.
	NativeToken = ethcommon.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

	// ZeroAddress is the uninitialized address, used as an absent-value
	// marker in stored records.
	ZeroAddress = ethcommon.Address{}

	WeiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// DefaultProtocolFeeWei is the flat per-operation fee, 0.0001 ether.
	DefaultProtocolFeeWei = big.NewInt(100_000_000_000_000)
)

const (
	// FullBasisPoints is the denominator for all basis-point math.
	FullBasisPoints = 10_000

	// WalletManagerID selects the custody vault's smart-wallet
	// implementation for deposited assets.
	WalletManagerID = "generic.B"
)

// BpsOf returns amount*bps/10000, rounding down.
func BpsOf(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Div(out, big.NewInt(FullBasisPoints))
}
