package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/packlabs/packvault/internal/chain"
	"github.com/packlabs/packvault/internal/chain/chaintest"
	pvcommon "github.com/packlabs/packvault/internal/common"
	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/services/allowlist"
	"github.com/packlabs/packvault/internal/services/ledger"
	"github.com/packlabs/packvault/internal/services/registry"
	"github.com/packlabs/packvault/internal/services/venues"
)

var (
	opAddr       = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	payerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000BB")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000CC")
	receiverAddr = common.HexToAddress("0x00000000000000000000000000000000000000DD")
	strangerAddr = common.HexToAddress("0x00000000000000000000000000000000000000EE")

	wnative        = common.HexToAddress("0x0000000000000000000000000000000000001111")
	ionx           = common.HexToAddress("0x0000000000000000000000000000000000002222")
	lpToken        = common.HexToAddress("0x0000000000000000000000000000000000003333")
	routerAddr     = common.HexToAddress("0x0000000000000000000000000000000000004444")
	vaultAddr      = common.HexToAddress("0x0000000000000000000000000000000000005555")
	collectionAddr = common.HexToAddress("0x0000000000000000000000000000000000006666")
	deadRouter     = common.HexToAddress("0x0000000000000000000000000000000000007777")
)

func etherWei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pvcommon.WeiPerEther)
}

// fakeCustody books masses and bonds in memory while moving the real token
// balances onto a dedicated vault address, so the engine's balance-diff
// accounting sees the same movements a live vault would produce.
type fakeCustody struct {
	backend    *chaintest.Backend
	collection common.Address
	vault      common.Address

	nextID    int64
	owners    map[string]common.Address
	masses    map[string]map[common.Address]*big.Int
	bonds     map[string][]fakeBond
	timelocks map[string]domain.LockState
}

type fakeBond struct {
	contract common.Address
	nftID    *big.Int
	holder   common.Address
}

func newFakeCustody(backend *chaintest.Backend) *fakeCustody {
	return &fakeCustody{
		backend:    backend,
		collection: collectionAddr,
		vault:      vaultAddr,
		owners:     make(map[string]common.Address),
		masses:     make(map[string]map[common.Address]*big.Int),
		bonds:      make(map[string][]fakeBond),
		timelocks:  make(map[string]domain.LockState),
	}
}

func (c *fakeCustody) Collection() common.Address { return c.collection }

func (c *fakeCustody) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	owner, ok := c.owners[tokenID.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("no pack token %s", tokenID)
	}
	return owner, nil
}

func (c *fakeCustody) MintPackToken(ctx context.Context, receiver common.Address, metadataURI string) (*big.Int, error) {
	c.nextID++
	id := big.NewInt(c.nextID)
	c.owners[id.String()] = receiver
	return id, nil
}

func (c *fakeCustody) Energize(ctx context.Context, tokenID *big.Int, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if _, err := c.backend.Execute(ctx, asset, nil, chain.PackTransfer(c.vault, amount)); err != nil {
		return err
	}
	held, ok := c.masses[tokenID.String()]
	if !ok {
		held = make(map[common.Address]*big.Int)
		c.masses[tokenID.String()] = held
	}
	if existing, ok := held[asset]; ok {
		existing.Add(existing, amount)
	} else {
		held[asset] = new(big.Int).Set(amount)
	}
	return nil
}

func (c *fakeCustody) Release(ctx context.Context, receiver common.Address, tokenID *big.Int, asset common.Address) error {
	held := c.masses[tokenID.String()]
	amount, ok := held[asset]
	if !ok || amount.Sign() == 0 {
		return nil
	}
	if _, err := c.backend.Execute(ctx, asset, nil, chain.PackTransferFrom(c.vault, receiver, amount)); err != nil {
		return err
	}
	delete(held, asset)
	return nil
}

func (c *fakeCustody) Bond(ctx context.Context, tokenID *big.Int, nftContract common.Address, nftTokenID *big.Int) error {
	key := tokenID.String()
	c.bonds[key] = append(c.bonds[key], fakeBond{contract: nftContract, nftID: nftTokenID, holder: c.vault})
	return nil
}

func (c *fakeCustody) BreakBond(ctx context.Context, receiver common.Address, tokenID *big.Int, nftContract common.Address, nftTokenID *big.Int) error {
	key := tokenID.String()
	for i, bond := range c.bonds[key] {
		if bond.contract == nftContract && bond.nftID.Cmp(nftTokenID) == 0 {
			c.bonds[key] = append(c.bonds[key][:i], c.bonds[key][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no bond for nft %s on pack %s", nftTokenID, tokenID)
}

func (c *fakeCustody) Mass(ctx context.Context, tokenID *big.Int, asset common.Address) (*big.Int, error) {
	held := c.masses[tokenID.String()]
	if amount, ok := held[asset]; ok {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int), nil
}

func (c *fakeCustody) SetTimelocks(ctx context.Context, tokenID *big.Int, releaseBlock, bondBlock uint64) error {
	c.timelocks[tokenID.String()] = domain.LockState{ERC20Timelock: releaseBlock, ERC721Timelock: bondBlock}
	return nil
}

type engineFixture struct {
	backend  *chaintest.Backend
	svc      *Service
	registry *registry.Service
	ledger   *ledger.Service
	custody  *fakeCustody
}

// newFixture seeds a wrapped-native/IONX pair at 1000/1000 and two presets
// against it: a single-sided IONX buy and a 50/50 two-sided pool position.
func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	backend := chaintest.NewBackend(opAddr)
	chaintest.NewWrappedNative(backend, wnative)
	chaintest.NewToken(backend, ionx)
	chaintest.NewToken(backend, lpToken)
	router := chaintest.NewPairRouter(backend, routerAddr)
	router.AddPool(backend, wnative, ionx, false, lpToken, etherWei(1000), etherWei(1000))
	backend.SetNative(payerAddr, etherWei(100))

	reg := registry.New()
	if err := reg.RegisterBundler(&domain.BundlerPreset{
		ID:          domain.BundlerIDFromString("SS-IONX"),
		Router:      routerAddr,
		RouterType:  domain.RouterConstantProduct,
		Token0:      wnative,
		Token1:      ionx,
		SingleSided: true,
		SlippageBps: 100,
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterBundler(&domain.BundlerPreset{
		ID:                     domain.BundlerIDFromString("LP-WN-IONX"),
		Router:                 routerAddr,
		RouterType:             domain.RouterConstantProduct,
		Token0:                 wnative,
		Token1:                 ionx,
		PercentToken0:          5000,
		PercentToken1:          5000,
		SlippageBps:            500,
		PoolID:                 common.BytesToHash(lpToken.Bytes()),
		ExitPositionOnUnbundle: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterBundler(&domain.BundlerPreset{
		ID:            domain.BundlerIDFromString("GOV-WN-IONX"),
		Router:        routerAddr,
		RouterType:    domain.RouterConstantProduct,
		Token0:        wnative,
		Token1:        ionx,
		PercentToken0: 5000,
		PercentToken1: 5000,
		SlippageBps:   500,
		PoolID:        common.BytesToHash(lpToken.Bytes()),
	}); err != nil {
		t.Fatal(err)
	}

	cust := newFakeCustody(backend)
	led := ledger.New(backend, treasuryAddr, pvcommon.DefaultProtocolFeeWei)
	svc := New(Deps{
		Backend:       backend,
		Venues:        venues.NewDefaultRegistry(backend),
		Registry:      reg,
		Allowlist:     allowlist.New([]common.Address{routerAddr, deadRouter}, false),
		Ledger:        led,
		Custody:       cust,
		WrappedNative: wnative,
	})
	return &engineFixture{backend: backend, svc: svc, registry: reg, ledger: led, custody: cust}
}

func singleSidedBundle(payment *big.Int) *domain.BundleRequest {
	return &domain.BundleRequest{
		Payer:      payerAddr,
		PaymentWei: payment,
		PriceWei:   etherWei(10),
		PackType:   domain.BundlerIDFromString("DEFI"),
		Chunks: []domain.BundleChunk{
			{BundlerID: domain.BundlerIDFromString("SS-IONX"), PercentBasisPoints: 10000},
		},
	}
}

func TestBundlePaymentConservation(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	fee := pvcommon.DefaultProtocolFeeWei

	// Overpay by half an ether; the excess must come back as refund.
	payment := new(big.Int).Add(etherWei(10), fee)
	payment.Add(payment, new(big.Int).Div(pvcommon.WeiPerEther, big.NewInt(2)))

	receipt, err := fix.svc.Bundle(ctx, singleSidedBundle(payment))
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if receipt.TokenID.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("token id %s, want 1", receipt.TokenID)
	}
	wantRefund := new(big.Int).Div(pvcommon.WeiPerEther, big.NewInt(2))
	if receipt.RefundWei.Cmp(wantRefund) != 0 {
		t.Fatalf("refund %s, want %s", receipt.RefundWei, wantRefund)
	}

	// payer paid exactly price + fee net of refund
	spent := new(big.Int).Add(etherWei(10), fee)
	wantPayer := new(big.Int).Sub(etherWei(100), spent)
	if got := fix.backend.Native(payerAddr); got.Cmp(wantPayer) != 0 {
		t.Fatalf("payer native %s, want %s", got, wantPayer)
	}
	if got := fix.backend.Native(treasuryAddr); got.Cmp(fee) != 0 {
		t.Fatalf("treasury native %s, want %s", got, fee)
	}

	if len(receipt.Bonded) != 1 || receipt.Bonded[0].TokenAddress != ionx {
		t.Fatalf("bonded assets %+v, want one ionx entry", receipt.Bonded)
	}
	if got := fix.backend.TokenBalance(ionx, vaultAddr); got.Cmp(receipt.Bonded[0].Balance) != 0 {
		t.Fatalf("vault ionx %s, receipt %s", got, receipt.Bonded[0].Balance)
	}
	if _, err := fix.registry.GetPack(collectionAddr, receipt.TokenID); err != nil {
		t.Fatalf("pack not recorded: %v", err)
	}
}

func TestBundleRejections(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	if _, err := fix.svc.Bundle(ctx, singleSidedBundle(etherWei(10))); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("got %v, want ErrInsufficientPayment", err)
	}

	empty := singleSidedBundle(etherWei(11))
	empty.Chunks = nil
	if _, err := fix.svc.Bundle(ctx, empty); !errors.Is(err, ErrEmptyBundle) {
		t.Fatalf("got %v, want ErrEmptyBundle", err)
	}

	noPrice := singleSidedBundle(etherWei(11))
	noPrice.PriceWei = nil
	if _, err := fix.svc.Bundle(ctx, noPrice); err == nil {
		t.Fatal("expected error for missing price")
	}
}

func TestBundleDisallowedTargetLeavesNoTrace(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	payerBefore := fix.backend.Native(payerAddr)

	req := singleSidedBundle(etherWei(11))
	req.ContractCalls = []domain.ContractCall{
		{Target: strangerAddr, CallData: []byte{0x01, 0x02, 0x03, 0x04}},
	}
	_, err := fix.svc.Bundle(ctx, req)
	if !errors.Is(err, allowlist.ErrNotAllowed) {
		t.Fatalf("got %v, want ErrNotAllowed", err)
	}
	if got := fix.backend.Native(payerAddr); got.Cmp(payerBefore) != 0 {
		t.Fatalf("payer balance moved on rejected request: %s -> %s", payerBefore, got)
	}
	if packs := fix.registry.ListPacks(); len(packs) != 0 {
		t.Fatalf("rejected request recorded %d packs", len(packs))
	}
}

func TestBundleRevertReturnsPayment(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	// Preset targeting a pair the router does not hold; the swap fails mid
	// settlement and the snapshot revert must hand the payment back.
	orphan := common.HexToAddress("0x0000000000000000000000000000000000008888")
	chaintest.NewToken(fix.backend, orphan)
	if err := fix.registry.RegisterBundler(&domain.BundlerPreset{
		ID:          domain.BundlerIDFromString("SS-ORPHAN"),
		Router:      routerAddr,
		RouterType:  domain.RouterConstantProduct,
		Token0:      wnative,
		Token1:      orphan,
		SingleSided: true,
	}); err != nil {
		t.Fatal(err)
	}

	payerBefore := fix.backend.Native(payerAddr)
	req := singleSidedBundle(etherWei(11))
	req.Chunks = []domain.BundleChunk{
		{BundlerID: domain.BundlerIDFromString("SS-ORPHAN"), PercentBasisPoints: 10000},
	}
	if _, err := fix.svc.Bundle(ctx, req); err == nil {
		t.Fatal("expected settlement failure")
	}
	if got := fix.backend.Native(payerAddr); got.Cmp(payerBefore) != 0 {
		t.Fatalf("payer native %s after revert, want %s", got, payerBefore)
	}
	if got := fix.backend.TokenBalance(ionx, vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault holds %s ionx after revert", got)
	}
	if packs := fix.registry.ListPacks(); len(packs) != 0 {
		t.Fatalf("reverted settlement recorded %d packs", len(packs))
	}
}

func TestBundleTwoSidedCreatesPosition(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	req := singleSidedBundle(etherWei(11))
	req.Chunks = []domain.BundleChunk{
		{BundlerID: domain.BundlerIDFromString("LP-WN-IONX"), PercentBasisPoints: 10000},
	}
	receipt, err := fix.svc.Bundle(ctx, req)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}

	pack, err := fix.registry.GetPack(collectionAddr, receipt.TokenID)
	if err != nil {
		t.Fatalf("GetPack: %v", err)
	}
	if len(pack.Positions) != 1 {
		t.Fatalf("pack has %d positions, want 1", len(pack.Positions))
	}
	pos := pack.Positions[0]
	if pos.LPToken != lpToken || pos.Amount.Sign() <= 0 {
		t.Fatalf("bad position: %+v", pos)
	}
	if !pos.ExitOnUnbundle {
		t.Fatal("preset exit flag not carried onto the position")
	}
	if got := fix.backend.TokenBalance(lpToken, vaultAddr); got.Cmp(pos.Amount) != 0 {
		t.Fatalf("vault lp balance %s, position says %s", got, pos.Amount)
	}
}

func TestBundleResidueEnergized(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	// A correlated swap with no liquidity order consuming it leaves its
	// output in the tracker; the residue must land inside the pack.
	req := singleSidedBundle(etherWei(11))
	req.Chunks = nil
	req.SwapOrders = []domain.SwapOrder{{
		Router:        routerAddr,
		RouterType:    domain.RouterConstantProduct,
		TokenIn:       wnative,
		TokenOut:      ionx,
		TokenAmountIn: etherWei(10),
		LiquidityUUID: uuid.New(),
	}}
	receipt, err := fix.svc.Bundle(ctx, req)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if len(receipt.Bonded) != 1 || receipt.Bonded[0].TokenAddress != ionx {
		t.Fatalf("bonded %+v, want the residue ionx entry", receipt.Bonded)
	}
	if got := fix.backend.TokenBalance(ionx, vaultAddr); got.Cmp(receipt.Bonded[0].Balance) != 0 {
		t.Fatalf("vault ionx %s, receipt %s", got, receipt.Bonded[0].Balance)
	}
}

func TestUnbundleOwnerCheck(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	receipt, err := fix.svc.Bundle(ctx, singleSidedBundle(etherWei(11)))
	if err != nil {
		t.Fatal(err)
	}

	fix.backend.SetNative(strangerAddr, etherWei(1))
	_, err = fix.svc.Unbundle(ctx, &domain.UnbundleRequest{
		Caller:     strangerAddr,
		Collection: collectionAddr,
		TokenID:    receipt.TokenID,
		PaymentWei: pvcommon.DefaultProtocolFeeWei,
	})
	if !errors.Is(err, ErrNotPackOwner) {
		t.Fatalf("got %v, want ErrNotPackOwner", err)
	}
}

func TestUnbundleReleasesAssets(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	bundled, err := fix.svc.Bundle(ctx, singleSidedBundle(etherWei(11)))
	if err != nil {
		t.Fatal(err)
	}
	bondedAmount := bundled.Bonded[0].Balance

	receipt, err := fix.svc.Unbundle(ctx, &domain.UnbundleRequest{
		Caller:     payerAddr,
		Receiver:   receiverAddr,
		Collection: collectionAddr,
		TokenID:    bundled.TokenID,
		PaymentWei: pvcommon.DefaultProtocolFeeWei,
	})
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	if receipt.ProceedsWei.Sign() != 0 {
		t.Fatalf("proceeds %s without sell-all, want 0", receipt.ProceedsWei)
	}
	if got := fix.backend.TokenBalance(ionx, receiverAddr); got.Cmp(bondedAmount) != 0 {
		t.Fatalf("receiver ionx %s, want %s", got, bondedAmount)
	}
	if _, err := fix.registry.GetPack(collectionAddr, bundled.TokenID); !errors.Is(err, domain.ErrPackNotFound) {
		t.Fatalf("got %v, want ErrPackNotFound after teardown", err)
	}
}

func TestUnbundlePositionExit(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	req := singleSidedBundle(etherWei(11))
	req.Chunks = []domain.BundleChunk{
		{BundlerID: domain.BundlerIDFromString("LP-WN-IONX"), PercentBasisPoints: 10000},
	}
	bundled, err := fix.svc.Bundle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	receipt, err := fix.svc.Unbundle(ctx, &domain.UnbundleRequest{
		Caller:     payerAddr,
		Receiver:   receiverAddr,
		Collection: collectionAddr,
		TokenID:    bundled.TokenID,
		PaymentWei: pvcommon.DefaultProtocolFeeWei,
	})
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	if len(receipt.Released) == 0 {
		t.Fatal("exit released nothing")
	}
	if got := fix.backend.TokenBalance(ionx, receiverAddr); got.Sign() <= 0 {
		t.Fatal("receiver got no ionx from the exited position")
	}
	if got := fix.backend.TokenBalance(wnative, receiverAddr); got.Sign() <= 0 {
		t.Fatal("receiver got no wrapped native from the exited position")
	}
	if got := fix.backend.TokenBalance(lpToken, vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault still holds %s lp after exit", got)
	}
}

func TestUnbundleSellAll(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	bundled, err := fix.svc.Bundle(ctx, singleSidedBundle(etherWei(11)))
	if err != nil {
		t.Fatal(err)
	}

	receipt, err := fix.svc.Unbundle(ctx, &domain.UnbundleRequest{
		Caller:     payerAddr,
		Receiver:   receiverAddr,
		Collection: collectionAddr,
		TokenID:    bundled.TokenID,
		PaymentWei: pvcommon.DefaultProtocolFeeWei,
		SellAll:    true,
		SwapOrders: []domain.SwapOrder{{
			Router:     routerAddr,
			RouterType: domain.RouterConstantProduct,
			TokenIn:    wnative,
			TokenOut:   ionx,
		}},
	})
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	if receipt.SkippedSwaps != 0 {
		t.Fatalf("skipped %d swaps, want 0", receipt.SkippedSwaps)
	}
	// Selling ~9.9 ionx back into the pool realizes a bit under the 10
	// ether that went in; two 30bp fees and price impact bound it.
	if receipt.ProceedsWei.Cmp(etherWei(9)) < 0 || receipt.ProceedsWei.Cmp(etherWei(10)) >= 0 {
		t.Fatalf("proceeds %s outside (9,10) ether", receipt.ProceedsWei)
	}
	if got := fix.backend.Native(receiverAddr); got.Cmp(receipt.ProceedsWei) != 0 {
		t.Fatalf("receiver native %s, proceeds %s", got, receipt.ProceedsWei)
	}
	if got := fix.backend.TokenBalance(ionx, vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault still holds %s ionx", got)
	}
}

func TestUnbundleSellAllSkipsBrokenVenue(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	bundled, err := fix.svc.Bundle(ctx, singleSidedBundle(etherWei(11)))
	if err != nil {
		t.Fatal(err)
	}
	bondedAmount := bundled.Bonded[0].Balance

	// deadRouter is allow-listed but no contract lives there; the sale
	// fails and the raw token is forwarded instead.
	receipt, err := fix.svc.Unbundle(ctx, &domain.UnbundleRequest{
		Caller:     payerAddr,
		Receiver:   receiverAddr,
		Collection: collectionAddr,
		TokenID:    bundled.TokenID,
		PaymentWei: pvcommon.DefaultProtocolFeeWei,
		SellAll:    true,
		SwapOrders: []domain.SwapOrder{{
			Router:     deadRouter,
			RouterType: domain.RouterConstantProduct,
			TokenIn:    wnative,
			TokenOut:   ionx,
		}},
	})
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	if receipt.SkippedSwaps != 1 {
		t.Fatalf("skipped %d swaps, want 1", receipt.SkippedSwaps)
	}
	if receipt.ProceedsWei.Sign() != 0 {
		t.Fatalf("proceeds %s, want 0 when the only sale failed", receipt.ProceedsWei)
	}
	if got := fix.backend.TokenBalance(ionx, receiverAddr); got.Cmp(bondedAmount) != 0 {
		t.Fatalf("receiver raw ionx %s, want %s", got, bondedAmount)
	}
}

func TestUnbundleKeepsGovernancePosition(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	req := singleSidedBundle(etherWei(11))
	req.Chunks = []domain.BundleChunk{
		{BundlerID: domain.BundlerIDFromString("GOV-WN-IONX"), PercentBasisPoints: 10000},
	}
	bundled, err := fix.svc.Bundle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	pack, err := fix.registry.GetPack(collectionAddr, bundled.TokenID)
	if err != nil {
		t.Fatal(err)
	}
	lpAmount := pack.Positions[0].Amount

	receipt, err := fix.svc.Unbundle(ctx, &domain.UnbundleRequest{
		Caller:     payerAddr,
		Receiver:   receiverAddr,
		Collection: collectionAddr,
		TokenID:    bundled.TokenID,
		PaymentWei: pvcommon.DefaultProtocolFeeWei,
		SellAll:    true,
	})
	if err != nil {
		t.Fatalf("Unbundle: %v", err)
	}
	// The position itself is forwarded, staked as it is; nothing to sell.
	if got := fix.backend.TokenBalance(lpToken, receiverAddr); got.Cmp(lpAmount) != 0 {
		t.Fatalf("receiver lp %s, want %s", got, lpAmount)
	}
	found := false
	for _, asset := range receipt.Released {
		if asset.TokenAddress == lpToken {
			found = true
		}
	}
	if !found {
		t.Fatalf("released %+v does not name the lp token", receipt.Released)
	}
}

func TestGuardRejectsConcurrentSettlement(t *testing.T) {
	fix := newFixture(t)
	if err := fix.svc.guard.acquire(); err != nil {
		t.Fatal(err)
	}
	defer fix.svc.guard.release()

	_, err := fix.svc.Bundle(context.Background(), singleSidedBundle(etherWei(11)))
	if !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("got %v, want ErrReentrantCall", err)
	}
}

func TestQuoteMatchesRealizedSwap(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	quote, err := fix.svc.QuoteSwap(ctx, domain.SwapOrder{
		Router:        routerAddr,
		RouterType:    domain.RouterConstantProduct,
		TokenIn:       wnative,
		TokenOut:      ionx,
		TokenAmountIn: etherWei(10),
	})
	if err != nil {
		t.Fatalf("QuoteSwap: %v", err)
	}
	if quote.Sign() <= 0 {
		t.Fatalf("quote %s, want > 0", quote)
	}

	receipt, err := fix.svc.Bundle(ctx, singleSidedBundle(etherWei(11)))
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Bonded[0].Balance.Cmp(quote) != 0 {
		t.Fatalf("realized %s differs from quote %s", receipt.Bonded[0].Balance, quote)
	}
}

func TestBundleEmitsEvents(t *testing.T) {
	fix := newFixture(t)
	if _, err := fix.svc.Bundle(context.Background(), singleSidedBundle(etherWei(11))); err != nil {
		t.Fatal(err)
	}
	events := fix.svc.RecentEvents()
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	kinds := make(map[string]bool)
	for _, ev := range events {
		kinds[ev.Kind] = true
	}
	for _, want := range []string{"SwapExecuted", "FeeCollected", "PackBundled"} {
		if !kinds[want] {
			t.Fatalf("missing %s event, got %v", want, kinds)
		}
	}
}
