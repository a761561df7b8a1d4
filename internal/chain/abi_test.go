package chain

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Known selector vectors from the ERC-20 and WETH ABIs.
func TestMethodID(t *testing.T) {
	cases := []struct {
		sig  string
		want string
	}{
		{"transfer(address,uint256)", "a9059cbb"},
		{"transferFrom(address,address,uint256)", "23b872dd"},
		{"approve(address,uint256)", "095ea7b3"},
		{"balanceOf(address)", "70a08231"},
		{"deposit()", "d0e30db0"},
		{"withdraw(uint256)", "2e1a7d4d"},
	}
	for _, tc := range cases {
		got := hex.EncodeToString(MethodID(tc.sig))
		if got != tc.want {
			t.Errorf("MethodID(%s) = %s, want %s", tc.sig, got, tc.want)
		}
	}
}

func TestPackCall(t *testing.T) {
	to := common.HexToAddress("0x1000000000000000000000000000000000000001")
	amount := big.NewInt(12345)

	data, err := PackCall("transfer(address,uint256)", abi.Arguments{
		{Type: TypeAddress}, {Type: TypeUint256},
	}, to, amount)
	if err != nil {
		t.Fatalf("PackCall: %v", err)
	}
	if !bytes.Equal(data[:4], MethodID("transfer(address,uint256)")) {
		t.Fatalf("selector %x, want transfer selector", data[:4])
	}
	if len(data) != 4+2*32 {
		t.Fatalf("calldata length %d, want %d", len(data), 4+2*32)
	}
	if !bytes.Equal(data, PackTransfer(to, amount)) {
		t.Fatal("PackCall and PackTransfer disagree")
	}
}

func TestUnpackUint256(t *testing.T) {
	want := big.NewInt(987654321)
	data, err := abi.Arguments{{Type: TypeUint256}}.Pack(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnpackUint256(data)
	if err != nil {
		t.Fatalf("UnpackUint256: %v", err)
	}
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestUnpackAddress(t *testing.T) {
	want := common.HexToAddress("0x2000000000000000000000000000000000000002")
	data, err := abi.Arguments{{Type: TypeAddress}}.Pack(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnpackAddress(data)
	if err != nil {
		t.Fatalf("UnpackAddress: %v", err)
	}
	if got != want {
		t.Fatalf("got %s, want %s", got.Hex(), want.Hex())
	}
}
