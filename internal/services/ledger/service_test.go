package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain/chaintest"
	pvcommon "github.com/packlabs/packvault/internal/common"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newTestLedger(t *testing.T) (*Service, *chaintest.Backend) {
	t.Helper()
	backend := chaintest.NewBackend(operator)
	backend.SetNative(operator, new(big.Int).Mul(pvcommon.WeiPerEther, big.NewInt(100)))
	return New(backend, treasury, pvcommon.DefaultProtocolFeeWei), backend
}

func TestReferralShares(t *testing.T) {
	price := new(big.Int).Set(pvcommon.WeiPerEther)
	addr := func(b byte) common.Address {
		return common.BytesToAddress([]byte{b})
	}
	wei := func(bps int64) *big.Int {
		return pvcommon.BpsOf(price, bps)
	}

	cases := []struct {
		name      string
		referrers []common.Address
		want      []*big.Int
	}{
		{"none", nil, nil},
		{"single takes full pool", []common.Address{addr(1)}, []*big.Int{wei(330)}},
		{"pair splits relay and remainder", []common.Address{addr(1), addr(2)}, []*big.Int{wei(30), wei(300)}},
		{"triple", []common.Address{addr(1), addr(2), addr(3)}, []*big.Int{wei(30), wei(30), wei(270)}},
		{"deep chain truncated", []common.Address{addr(1), addr(2), addr(3), addr(4)}, []*big.Int{wei(30), wei(30), wei(270)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ReferralShares(price, tc.referrers)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d shares, want %d", len(got), len(tc.want))
			}
			total := new(big.Int)
			for i := range got {
				if got[i].Cmp(tc.want[i]) != 0 {
					t.Errorf("share[%d] = %s, want %s", i, got[i], tc.want[i])
				}
				total.Add(total, got[i])
			}
			if len(got) > 0 && total.Cmp(wei(330)) != 0 {
				t.Errorf("shares sum to %s, want %s", total, wei(330))
			}
		})
	}

	if got := ReferralShares(nil, []common.Address{addr(1)}); got != nil {
		t.Errorf("nil price: got %v, want nil", got)
	}
	if got := ReferralShares(big.NewInt(0), []common.Address{addr(1)}); got != nil {
		t.Errorf("zero price: got %v, want nil", got)
	}
}

func TestCreditAndClaim(t *testing.T) {
	svc, backend := newTestLedger(t)
	ctx := context.Background()
	referrer := common.HexToAddress("0x0000000000000000000000000000000000000011")
	price := new(big.Int).Set(pvcommon.WeiPerEther)

	if err := svc.CreditReferrals(price, []common.Address{referrer}); err != nil {
		t.Fatalf("CreditReferrals: %v", err)
	}

	want := pvcommon.BpsOf(price, TotalReferralBps)
	balance, earned, claimed := svc.Balance(referrer)
	if balance.Cmp(want) != 0 || earned.Cmp(want) != 0 || claimed.Sign() != 0 {
		t.Fatalf("after credit: balance=%s earned=%s claimed=%s, want balance=earned=%s claimed=0",
			balance, earned, claimed, want)
	}

	paid, err := svc.Claim(ctx, referrer)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if paid.Cmp(want) != 0 {
		t.Fatalf("paid %s, want %s", paid, want)
	}
	if got := backend.Native(referrer); got.Cmp(want) != 0 {
		t.Fatalf("referrer native balance %s, want %s", got, want)
	}

	balance, earned, claimed = svc.Balance(referrer)
	if balance.Sign() != 0 || earned.Cmp(want) != 0 || claimed.Cmp(want) != 0 {
		t.Fatalf("after claim: balance=%s earned=%s claimed=%s", balance, earned, claimed)
	}

	if _, err := svc.Claim(ctx, referrer); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("second claim: got %v, want ErrNothingToClaim", err)
	}
}

func TestClaimUnknownAddress(t *testing.T) {
	svc, _ := newTestLedger(t)
	if _, err := svc.Claim(context.Background(), common.HexToAddress("0x1234")); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("got %v, want ErrNothingToClaim", err)
	}
}

func TestCollectFee(t *testing.T) {
	svc, backend := newTestLedger(t)
	ctx := context.Background()
	fee := svc.ProtocolFee()

	if err := svc.CollectFee(ctx, fee); err != nil {
		t.Fatalf("CollectFee: %v", err)
	}
	if err := svc.CollectFee(ctx, fee); err != nil {
		t.Fatalf("CollectFee: %v", err)
	}

	wantTotal := new(big.Int).Mul(fee, big.NewInt(2))
	if got := svc.TotalFees(); got.Cmp(wantTotal) != 0 {
		t.Fatalf("TotalFees = %s, want %s", got, wantTotal)
	}
	if got := backend.Native(treasury); got.Cmp(wantTotal) != 0 {
		t.Fatalf("treasury balance = %s, want %s", got, wantTotal)
	}

	// Nil and zero amounts are no-ops.
	if err := svc.CollectFee(ctx, nil); err != nil {
		t.Fatalf("CollectFee(nil): %v", err)
	}
	if err := svc.CollectFee(ctx, big.NewInt(0)); err != nil {
		t.Fatalf("CollectFee(0): %v", err)
	}
	if got := svc.TotalFees(); got.Cmp(wantTotal) != 0 {
		t.Fatalf("TotalFees after no-ops = %s, want %s", got, wantTotal)
	}
}

func BenchmarkReferralShares(b *testing.B) {
	price := new(big.Int).Set(pvcommon.WeiPerEther)
	referrers := []common.Address{
		common.BytesToAddress([]byte{1}),
		common.BytesToAddress([]byte{2}),
		common.BytesToAddress([]byte{3}),
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ReferralShares(price, referrers)
	}
}
