package allowlist

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	listed   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	unlisted = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func TestRequire(t *testing.T) {
	svc := New([]common.Address{listed}, false)

	if err := svc.Require(listed); err != nil {
		t.Fatalf("listed contract rejected: %v", err)
	}
	if err := svc.Require(unlisted); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("got %v, want ErrNotAllowed", err)
	}
	if svc.IsAllowed(unlisted) {
		t.Fatal("unlisted contract reported allowed")
	}
}

func TestAllowDisallow(t *testing.T) {
	svc := New(nil, false)

	if err := svc.Allow(unlisted); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !svc.IsAllowed(unlisted) {
		t.Fatal("contract not allowed after Allow")
	}
	if got := len(svc.List()); got != 1 {
		t.Fatalf("List returned %d entries, want 1", got)
	}

	if err := svc.Disallow(unlisted); err != nil {
		t.Fatalf("Disallow: %v", err)
	}
	if svc.IsAllowed(unlisted) {
		t.Fatal("contract still allowed after Disallow")
	}
	if got := len(svc.List()); got != 0 {
		t.Fatalf("List returned %d entries, want 0", got)
	}
}

func TestAllowUnlistedBypass(t *testing.T) {
	svc := New(nil, true)

	if err := svc.Require(unlisted); err != nil {
		t.Fatalf("enforcement disabled but Require failed: %v", err)
	}
	if !svc.IsAllowed(unlisted) {
		t.Fatal("enforcement disabled but IsAllowed returned false")
	}
}
