package http

import (
	"errors"
	"fmt"
	gohttp "net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/services/allowlist"
	"github.com/packlabs/packvault/internal/services/engine"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantNil bool
		wantErr bool
	}{
		{in: "", wantNil: true},
		{in: "0", want: "0"},
		{in: "1000000000000000000", want: "1000000000000000000"},
		{in: "-5", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "0x10", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseAmount(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAmount(%q): %v", tc.in, err)
			continue
		}
		if tc.wantNil {
			if got != nil {
				t.Errorf("parseAmount(%q) = %s, want nil", tc.in, got)
			}
			continue
		}
		if got.String() != tc.want {
			t.Errorf("parseAmount(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseAddress(t *testing.T) {
	addr := "0x1000000000000000000000000000000000000001"
	got, err := parseAddress(addr)
	if err != nil {
		t.Fatalf("parseAddress: %v", err)
	}
	if got != common.HexToAddress(addr) {
		t.Fatalf("got %s, want %s", got.Hex(), addr)
	}
	for _, bad := range []string{"", "0x123", "hello", "0xzz00000000000000000000000000000000000000"} {
		if _, err := parseAddress(bad); err == nil {
			t.Errorf("parseAddress(%q): expected error", bad)
		}
	}
}

func TestParsePoolID(t *testing.T) {
	id, err := parsePoolID("0x01")
	if err != nil {
		t.Fatalf("parsePoolID: %v", err)
	}
	if id != common.HexToHash("0x01") {
		t.Fatalf("got %s", id.Hex())
	}
	empty, err := parsePoolID("")
	if err != nil || empty != (common.Hash{}) {
		t.Fatalf("empty pool id: %s, %v", empty.Hex(), err)
	}
	if _, err := parsePoolID("0x" + strings.Repeat("11", 33)); err == nil {
		t.Error("expected error for oversized pool id")
	}
}

func TestParseCallData(t *testing.T) {
	data, err := parseCallData("0xdeadbeef")
	if err != nil {
		t.Fatalf("parseCallData: %v", err)
	}
	if len(data) != 4 || data[0] != 0xde {
		t.Fatalf("got %x", data)
	}
	if _, err := parseCallData("0xzz"); err == nil {
		t.Error("expected error for bad hex")
	}
	none, err := parseCallData("")
	if err != nil || none != nil {
		t.Fatalf("empty call data: %x, %v", none, err)
	}
}

func TestSettlementStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{engine.ErrInsufficientPayment, gohttp.StatusBadRequest},
		{engine.ErrEmptyBundle, gohttp.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrUnknownBundler), gohttp.StatusBadRequest},
		{engine.ErrNotPackOwner, gohttp.StatusForbidden},
		{fmt.Errorf("wrap: %w", allowlist.ErrNotAllowed), gohttp.StatusForbidden},
		{domain.ErrPackNotFound, gohttp.StatusNotFound},
		{engine.ErrReentrantCall, gohttp.StatusTooManyRequests},
		{errors.New("venue exploded"), gohttp.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		if got := settlementStatus(tc.err); got != tc.want {
			t.Errorf("settlementStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
