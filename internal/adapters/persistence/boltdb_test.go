package persistence

import (
	"math/big"
	"path/filepath"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/domain"
)

var (
	collection = ethcommon.HexToAddress("0x1000000000000000000000000000000000000001")
	router     = ethcommon.HexToAddress("0x2000000000000000000000000000000000000002")
	token0     = ethcommon.HexToAddress("0x3000000000000000000000000000000000000003")
	token1     = ethcommon.HexToAddress("0x4000000000000000000000000000000000000004")
	lpToken    = ethcommon.HexToAddress("0x5000000000000000000000000000000000000005")
	referrer   = ethcommon.HexToAddress("0x6000000000000000000000000000000000000006")
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "packvault.db"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPackRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	pack := &domain.Pack{
		TokenID:    big.NewInt(42),
		Collection: collection,
		PackType:   domain.BundlerIDFromString("DEFI"),
		PriceWei:   big.NewInt(1_000_000),
		BundlerIDs: []domain.BundlerID{domain.BundlerIDFromString("LP-A")},
		Positions: []domain.LiquidityPosition{{
			BundlerID:      domain.BundlerIDFromString("LP-A"),
			Router:         router,
			RouterType:     domain.RouterConcentratedSingleHop,
			Token0:         token0,
			Token1:         token1,
			NFTTokenID:     big.NewInt(7),
			Amount:         big.NewInt(5555),
			ExitOnUnbundle: true,
		}},
		CreatedAt: 1_700_000_000,
	}
	if err := s.SavePack(pack); err != nil {
		t.Fatalf("SavePack: %v", err)
	}

	got, err := s.LoadPack(collection, big.NewInt(42))
	if err != nil {
		t.Fatalf("LoadPack: %v", err)
	}
	if got == nil {
		t.Fatal("LoadPack returned nil for saved pack")
	}
	if got.PriceWei.Cmp(pack.PriceWei) != 0 {
		t.Fatalf("price %s, want %s", got.PriceWei, pack.PriceWei)
	}
	if got.PackType != pack.PackType {
		t.Fatalf("pack type %s, want %s", got.PackType, pack.PackType)
	}
	if len(got.Positions) != 1 {
		t.Fatalf("positions %d, want 1", len(got.Positions))
	}
	pos := got.Positions[0]
	if pos.NFTTokenID == nil || pos.NFTTokenID.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("nft token id %v, want 7", pos.NFTTokenID)
	}
	if !pos.ExitOnUnbundle || pos.RouterType != domain.RouterConcentratedSingleHop {
		t.Fatalf("position lost fields: %+v", pos)
	}

	all, err := s.LoadAllPacks()
	if err != nil {
		t.Fatalf("LoadAllPacks: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("LoadAllPacks returned %d, want 1", len(all))
	}

	if err := s.DeletePack(collection, big.NewInt(42)); err != nil {
		t.Fatalf("DeletePack: %v", err)
	}
	got, err = s.LoadPack(collection, big.NewInt(42))
	if err != nil {
		t.Fatalf("LoadPack after delete: %v", err)
	}
	if got != nil {
		t.Fatal("pack still present after delete")
	}
}

func TestBundlerRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	preset := &domain.BundlerPreset{
		ID:            domain.BundlerIDFromString("LP-T0-T1"),
		Router:        router,
		RouterType:    domain.RouterVelodromeMultihop,
		Token0:        token0,
		Token1:        token1,
		PercentToken0: 2500,
		PercentToken1: 7500,
		Route: []domain.RouteHop{
			{From: token0, To: token1, Stable: true},
		},
		PoolID:                 ethcommon.BytesToHash(lpToken.Bytes()),
		Stable:                 true,
		SlippageBps:            150,
		ExitPositionOnUnbundle: true,
	}
	if err := s.SaveBundler(preset); err != nil {
		t.Fatalf("SaveBundler: %v", err)
	}

	single := &domain.BundlerPreset{
		ID:          domain.BundlerIDFromString("SS-T1"),
		Router:      router,
		RouterType:  domain.RouterConstantProduct,
		Token0:      token0,
		Token1:      token1,
		SingleSided: true,
	}
	if err := s.SaveBundlerBatch([]*domain.BundlerPreset{single}); err != nil {
		t.Fatalf("SaveBundlerBatch: %v", err)
	}

	presets, err := s.LoadAllBundlers()
	if err != nil {
		t.Fatalf("LoadAllBundlers: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("loaded %d presets, want 2", len(presets))
	}
	byID := make(map[domain.BundlerID]*domain.BundlerPreset)
	for _, p := range presets {
		byID[p.ID] = p
	}
	got, ok := byID[preset.ID]
	if !ok {
		t.Fatal("two-sided preset missing after reload")
	}
	if got.PercentToken0 != 2500 || got.PercentToken1 != 7500 {
		t.Fatalf("percents %d/%d, want 2500/7500", got.PercentToken0, got.PercentToken1)
	}
	if len(got.Route) != 1 || !got.Route[0].Stable || got.Route[0].From != token0 {
		t.Fatalf("route lost fields: %+v", got.Route)
	}
	if got.PoolID != preset.PoolID {
		t.Fatalf("pool id %s, want %s", got.PoolID.Hex(), preset.PoolID.Hex())
	}
	if !got.ExitPositionOnUnbundle {
		t.Fatal("exit flag lost")
	}
	if ss, ok := byID[single.ID]; !ok || !ss.SingleSided {
		t.Fatalf("single-sided preset lost: %+v", ss)
	}
}

func TestAllowlistRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SetAllowed(router, true); err != nil {
		t.Fatalf("SetAllowed: %v", err)
	}
	if err := s.SetAllowed(token0, true); err != nil {
		t.Fatalf("SetAllowed: %v", err)
	}
	if err := s.SetAllowed(token0, false); err != nil {
		t.Fatalf("SetAllowed false: %v", err)
	}

	entries, err := s.LoadAllowlist()
	if err != nil {
		t.Fatalf("LoadAllowlist: %v", err)
	}
	if len(entries) != 1 || entries[0] != router {
		t.Fatalf("allowlist %v, want just the router", entries)
	}
}

func TestReferralRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SaveReferral(referrer, big.NewInt(100), big.NewInt(250), big.NewInt(150)); err != nil {
		t.Fatalf("SaveReferral: %v", err)
	}
	referrals, err := s.LoadAllReferrals()
	if err != nil {
		t.Fatalf("LoadAllReferrals: %v", err)
	}
	stored, ok := referrals[referrer]
	if !ok {
		t.Fatal("referral missing after reload")
	}
	if stored.BalanceWei != "100" || stored.EarnedWei != "250" || stored.ClaimedWei != "150" {
		t.Fatalf("referral fields %+v", stored)
	}
}
