package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Canonical ERC-20 and WETH calldata builders. Kept here so adapters and the
// engine encode token calls one way.

var (
	argsAddress        = abi.Arguments{{Type: TypeAddress}}
	argsAddressUint    = abi.Arguments{{Type: TypeAddress}, {Type: TypeUint256}}
	argsUint           = abi.Arguments{{Type: TypeUint256}}
	argsTransferFrom   = abi.Arguments{{Type: TypeAddress}, {Type: TypeAddress}, {Type: TypeUint256}}
	argsSetApprovalAll = abi.Arguments{{Type: TypeAddress}, {Type: TypeBool}}
)

func PackBalanceOf(holder common.Address) []byte {
	data, _ := PackCall("balanceOf(address)", argsAddress, holder)
	return data
}

func PackApprove(spender common.Address, amount *big.Int) []byte {
	data, _ := PackCall("approve(address,uint256)", argsAddressUint, spender, amount)
	return data
}

func PackTransfer(to common.Address, amount *big.Int) []byte {
	data, _ := PackCall("transfer(address,uint256)", argsAddressUint, to, amount)
	return data
}

func PackTransferFrom(from, to common.Address, amount *big.Int) []byte {
	data, _ := PackCall("transferFrom(address,address,uint256)", argsTransferFrom, from, to, amount)
	return data
}

func PackSetApprovalForAll(operator common.Address, approved bool) []byte {
	data, _ := PackCall("setApprovalForAll(address,bool)", argsSetApprovalAll, operator, approved)
	return data
}

func PackDeposit() []byte {
	return MethodID("deposit()")
}

func PackWithdraw(amount *big.Int) []byte {
	data, _ := PackCall("withdraw(uint256)", argsUint, amount)
	return data
}
