package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Shared ABI argument types. Building these is fallible only on malformed
// type strings, so a failure here is a programming error.
var (
	TypeAddress = mustType("address")
	TypeUint256 = mustType("uint256")
	TypeUint128 = mustType("uint128")
	TypeInt24   = mustType("int24")
	TypeBool    = mustType("bool")
	TypeBytes   = mustType("bytes")
	TypeBytes32 = mustType("bytes32")
	TypeString  = mustType("string")

	TypeAddressSlice = mustType("address[]")
	TypeUint256Slice = mustType("uint256[]")
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("chain: bad abi type %q: %v", t, err))
	}
	return typ
}

// MustTupleType builds a tuple (struct) ABI type from components.
func MustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(fmt.Sprintf("chain: bad tuple type: %v", err))
	}
	return typ
}

// MustTupleSliceType builds a tuple[] ABI type from components.
func MustTupleSliceType(components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType("tuple[]", "", components)
	if err != nil {
		panic(fmt.Sprintf("chain: bad tuple slice type: %v", err))
	}
	return typ
}

// MethodID returns the 4-byte selector for a canonical method signature,
// e.g. "transfer(address,uint256)".
func MethodID(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// PackCall abi-encodes a call: selector followed by packed arguments.
func PackCall(signature string, args abi.Arguments, values ...interface{}) ([]byte, error) {
	packed, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", signature, err)
	}
	return append(MethodID(signature), packed...), nil
}

// UnpackUint256 decodes a single uint256 return value.
func UnpackUint256(data []byte) (*big.Int, error) {
	out, err := abi.Arguments{{Type: TypeUint256}}.Unpack(data)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T", out[0])
	}
	return v, nil
}

// UnpackAddress decodes a single address return value.
func UnpackAddress(data []byte) (common.Address, error) {
	out, err := abi.Arguments{{Type: TypeAddress}}.Unpack(data)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected return type %T", out[0])
	}
	return addr, nil
}
