package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
)

var (
	selBalanceOf    = selector("balanceOf(address)")
	selTransfer     = selector("transfer(address,uint256)")
	selTransferFrom = selector("transferFrom(address,address,uint256)")
	selApprove      = selector("approve(address,uint256)")
	selDeposit      = selector("deposit()")
	selWithdraw     = selector("withdraw(uint256)")
)

func selector(sig string) [4]byte {
	var s [4]byte
	copy(s[:], chain.MethodID(sig))
	return s
}

func sel(input []byte) [4]byte {
	var s [4]byte
	copy(s[:], input)
	return s
}

// Token is a fake ERC-20 backed by the backend's token balance map.
// Allowances are not modeled; approve always succeeds.
type Token struct {
	Addr common.Address
	// Wrapped marks the token as the wrapped-native token with
	// deposit/withdraw support.
	Wrapped bool
}

func NewToken(b *Backend, addr common.Address) *Token {
	t := &Token{Addr: addr}
	b.RegisterContract(addr, t)
	return t
}

func NewWrappedNative(b *Backend, addr common.Address) *Token {
	t := &Token{Addr: addr, Wrapped: true}
	b.RegisterContract(addr, t)
	return t
}

func (t *Token) Run(b *Backend, caller common.Address, value *big.Int, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	args := input[4:]
	switch sel(input) {
	case selBalanceOf:
		out, err := abi.Arguments{{Type: chain.TypeAddress}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		bal := b.tokenBal(t.Addr, out[0].(common.Address))
		return abi.Arguments{{Type: chain.TypeUint256}}.Pack(new(big.Int).Set(bal))

	case selTransfer:
		out, err := abi.Arguments{{Type: chain.TypeAddress}, {Type: chain.TypeUint256}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		if err := b.moveToken(t.Addr, caller, out[0].(common.Address), out[1].(*big.Int)); err != nil {
			return nil, err
		}
		return packBool(true)

	case selTransferFrom:
		out, err := abi.Arguments{{Type: chain.TypeAddress}, {Type: chain.TypeAddress}, {Type: chain.TypeUint256}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		if err := b.moveToken(t.Addr, out[0].(common.Address), out[1].(common.Address), out[2].(*big.Int)); err != nil {
			return nil, err
		}
		return packBool(true)

	case selApprove:
		return packBool(true)

	case selDeposit:
		if !t.Wrapped {
			return nil, fmt.Errorf("deposit on non-wrapped token")
		}
		// Attached value already sits on the token address.
		b.creditToken(t.Addr, caller, value)
		return nil, nil

	case selWithdraw:
		if !t.Wrapped {
			return nil, fmt.Errorf("withdraw on non-wrapped token")
		}
		out, err := abi.Arguments{{Type: chain.TypeUint256}}.Unpack(args)
		if err != nil {
			return nil, err
		}
		amount := out[0].(*big.Int)
		if err := b.debitToken(t.Addr, caller, amount); err != nil {
			return nil, err
		}
		return nil, b.moveNative(t.Addr, caller, amount)

	default:
		return nil, fmt.Errorf("token %s: unknown selector %x", t.Addr.Hex(), input[:4])
	}
}

func packBool(v bool) ([]byte, error) {
	return abi.Arguments{{Type: chain.TypeBool}}.Pack(v)
}
