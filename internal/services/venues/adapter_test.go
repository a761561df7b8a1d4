package venues

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
	"github.com/packlabs/packvault/internal/chain/chaintest"
	"github.com/packlabs/packvault/internal/domain"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000AA")

	tokenA  = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	tokenB  = common.HexToAddress("0x0000000000000000000000000000000000000B02")
	lpAddr  = common.HexToAddress("0x0000000000000000000000000000000000000C03")
	pairAdr = common.HexToAddress("0x0000000000000000000000000000000000000D04")
	pmAddr  = common.HexToAddress("0x0000000000000000000000000000000000000E05")
	bptAddr = common.HexToAddress("0x0000000000000000000000000000000000000F06")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// pairFixture seeds a backend with two tokens and a pair router holding a
// 1000/1000 pool, volatile and stable both.
func pairFixture(t *testing.T) (*chaintest.Backend, *Registry) {
	t.Helper()
	backend := chaintest.NewBackend(operator)
	chaintest.NewToken(backend, tokenA)
	chaintest.NewToken(backend, tokenB)
	chaintest.NewToken(backend, lpAddr)
	router := chaintest.NewPairRouter(backend, pairAdr)
	router.AddPool(backend, tokenA, tokenB, false, lpAddr, ether(1000), ether(1000))
	router.AddPool(backend, tokenA, tokenB, true, lpAddr, ether(1000), ether(1000))
	return backend, NewDefaultRegistry(backend)
}

func TestConstantProductSwap(t *testing.T) {
	backend, registry := pairFixture(t)
	ctx := context.Background()
	backend.SetToken(tokenA, operator, ether(10))

	order := domain.SwapOrder{
		Router:        pairAdr,
		RouterType:    domain.RouterConstantProduct,
		TokenIn:       tokenA,
		TokenOut:      tokenB,
		TokenAmountIn: ether(10),
	}
	out, err := registry.ExecuteSwap(ctx, order, false)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("swap output %s, want > 0", out)
	}
	// 10 in against 1000/1000 reserves with a 30bp fee lands just under 10.
	if out.Cmp(ether(10)) >= 0 {
		t.Fatalf("swap output %s exceeds input against balanced reserves", out)
	}
	if got := backend.TokenBalance(tokenB, operator); got.Cmp(out) != 0 {
		t.Fatalf("operator holds %s of token out, reported %s", got, out)
	}
	if got := backend.TokenBalance(tokenA, operator); got.Sign() != 0 {
		t.Fatalf("operator still holds %s of token in", got)
	}
}

func TestConstantProductSwapReverse(t *testing.T) {
	backend, registry := pairFixture(t)
	ctx := context.Background()
	backend.SetToken(tokenB, operator, ether(5))

	// reverse sells TokenOut back toward TokenIn.
	order := domain.SwapOrder{
		Router:        pairAdr,
		RouterType:    domain.RouterConstantProduct,
		TokenIn:       tokenA,
		TokenOut:      tokenB,
		TokenAmountIn: ether(5),
	}
	out, err := registry.ExecuteSwap(ctx, order, true)
	if err != nil {
		t.Fatalf("ExecuteSwap reverse: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("reverse output %s, want > 0", out)
	}
	if got := backend.TokenBalance(tokenA, operator); got.Cmp(out) != 0 {
		t.Fatalf("operator holds %s of token in, reported %s", got, out)
	}
}

func TestConstantProductLiquidityRoundTrip(t *testing.T) {
	backend, registry := pairFixture(t)
	ctx := context.Background()
	backend.SetToken(tokenA, operator, ether(100))
	backend.SetToken(tokenB, operator, ether(100))

	order := domain.LiquidityOrder{
		Router:      pairAdr,
		RouterType:  domain.RouterConstantProduct,
		Token0:      tokenA,
		Token1:      tokenB,
		PoolID:      common.BytesToHash(lpAddr.Bytes()),
		SlippageBps: 100,
	}
	receipt, err := registry.ExecuteLiquidityAdd(ctx, order, ether(100), ether(100))
	if err != nil {
		t.Fatalf("ExecuteLiquidityAdd: %v", err)
	}
	if receipt.IsNFT {
		t.Fatal("pair add reported an NFT receipt")
	}
	if receipt.LPToken != lpAddr {
		t.Fatalf("lp token %s, want %s", receipt.LPToken.Hex(), lpAddr.Hex())
	}
	if receipt.Amount.Sign() <= 0 {
		t.Fatalf("lp minted %s, want > 0", receipt.Amount)
	}
	if got := backend.TokenBalance(lpAddr, operator); got.Cmp(receipt.Amount) != 0 {
		t.Fatalf("operator lp balance %s, receipt %s", got, receipt.Amount)
	}

	pos := domain.LiquidityPosition{
		Router:     pairAdr,
		RouterType: domain.RouterConstantProduct,
		Token0:     tokenA,
		Token1:     tokenB,
		LPToken:    lpAddr,
		Amount:     receipt.Amount,
	}
	out0, out1, err := registry.ExecuteLiquidityRemove(ctx, pos)
	if err != nil {
		t.Fatalf("ExecuteLiquidityRemove: %v", err)
	}
	if out0.Sign() <= 0 || out1.Sign() <= 0 {
		t.Fatalf("remove returned %s / %s, want both > 0", out0, out1)
	}
	if got := backend.TokenBalance(lpAddr, operator); got.Sign() != 0 {
		t.Fatalf("operator still holds %s lp after remove", got)
	}
}

func TestLiquidityAddRejectsUnorderedTokens(t *testing.T) {
	_, registry := pairFixture(t)
	order := domain.LiquidityOrder{
		Router:     pairAdr,
		RouterType: domain.RouterConstantProduct,
		Token0:     tokenB,
		Token1:     tokenA,
	}
	_, err := registry.ExecuteLiquidityAdd(context.Background(), order, ether(1), ether(1))
	if !errors.Is(err, ErrTokenOrder) {
		t.Fatalf("got %v, want ErrTokenOrder", err)
	}
}

func TestMultihopStableSwapAndLiquidity(t *testing.T) {
	backend, registry := pairFixture(t)
	ctx := context.Background()
	backend.SetToken(tokenA, operator, ether(60))
	backend.SetToken(tokenB, operator, ether(50))

	swap := domain.SwapOrder{
		Router:        pairAdr,
		RouterType:    domain.RouterVelodromeMultihop,
		TokenIn:       tokenA,
		TokenOut:      tokenB,
		TokenAmountIn: ether(10),
		Stable:        true,
	}
	out, err := registry.ExecuteSwap(ctx, swap, false)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("swap output %s, want > 0", out)
	}

	add := domain.LiquidityOrder{
		Router:      pairAdr,
		RouterType:  domain.RouterVelodromeMultihop,
		Token0:      tokenA,
		Token1:      tokenB,
		PoolID:      common.BytesToHash(lpAddr.Bytes()),
		Stable:      true,
		SlippageBps: 100,
	}
	receipt, err := registry.ExecuteLiquidityAdd(ctx, add, ether(50), ether(50))
	if err != nil {
		t.Fatalf("ExecuteLiquidityAdd: %v", err)
	}
	if receipt.Amount.Sign() <= 0 {
		t.Fatalf("lp minted %s, want > 0", receipt.Amount)
	}

	pos := domain.LiquidityPosition{
		Router:     pairAdr,
		RouterType: domain.RouterVelodromeMultihop,
		Token0:     tokenA,
		Token1:     tokenB,
		LPToken:    lpAddr,
		Amount:     receipt.Amount,
		Stable:     true,
	}
	out0, out1, err := registry.ExecuteLiquidityRemove(ctx, pos)
	if err != nil {
		t.Fatalf("ExecuteLiquidityRemove: %v", err)
	}
	if out0.Sign() <= 0 || out1.Sign() <= 0 {
		t.Fatalf("remove returned %s / %s, want both > 0", out0, out1)
	}
}

func TestMultihopRouteHops(t *testing.T) {
	backend := chaintest.NewBackend(operator)
	mid := common.HexToAddress("0x0000000000000000000000000000000000000AB0")
	chaintest.NewToken(backend, tokenA)
	chaintest.NewToken(backend, tokenB)
	chaintest.NewToken(backend, mid)
	chaintest.NewToken(backend, lpAddr)
	router := chaintest.NewPairRouter(backend, pairAdr)
	router.AddPool(backend, tokenA, mid, false, lpAddr, ether(1000), ether(1000))
	router.AddPool(backend, mid, tokenB, false, lpAddr, ether(1000), ether(1000))
	registry := NewDefaultRegistry(backend)

	backend.SetToken(tokenA, operator, ether(10))
	order := domain.SwapOrder{
		Router:        pairAdr,
		RouterType:    domain.RouterVelodromeMultihop,
		TokenIn:       tokenA,
		TokenOut:      tokenB,
		TokenAmountIn: ether(10),
		Route: []domain.RouteHop{
			{From: tokenA, To: mid},
			{From: mid, To: tokenB},
		},
	}
	out, err := registry.ExecuteSwap(context.Background(), order, false)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if got := backend.TokenBalance(tokenB, operator); got.Cmp(out) != 0 {
		t.Fatalf("operator holds %s, reported %s", got, out)
	}

	order.Route[1].From = tokenA // break hop continuity
	if _, err := registry.ExecuteSwap(context.Background(), order, false); !errors.Is(err, ErrEmptyRoute) {
		t.Fatalf("got %v, want ErrEmptyRoute for discontinuous hops", err)
	}
}

func TestConcentratedMintAndRemove(t *testing.T) {
	backend := chaintest.NewBackend(operator)
	chaintest.NewToken(backend, tokenA)
	chaintest.NewToken(backend, tokenB)
	chaintest.NewPositionManager(backend, pmAddr)
	registry := NewDefaultRegistry(backend)
	ctx := context.Background()

	backend.SetToken(tokenA, operator, ether(40))
	backend.SetToken(tokenB, operator, ether(60))

	order := domain.LiquidityOrder{
		Router:          pairAdr,
		RouterType:      domain.RouterConcentratedSingleHop,
		Token0:          tokenA,
		Token1:          tokenB,
		PositionManager: pmAddr,
		TickLower:       -600,
		TickUpper:       600,
		SlippageBps:     100,
	}
	receipt, err := registry.ExecuteLiquidityAdd(ctx, order, ether(40), ether(60))
	if err != nil {
		t.Fatalf("ExecuteLiquidityAdd: %v", err)
	}
	if !receipt.IsNFT {
		t.Fatal("concentrated add must report an NFT receipt")
	}
	if receipt.NFTTokenID == nil || receipt.NFTTokenID.Sign() == 0 {
		t.Fatalf("missing nft token id in receipt: %v", receipt.NFTTokenID)
	}
	if got := backend.TokenBalance(tokenA, operator); got.Sign() != 0 {
		t.Fatalf("operator still holds %s token0 after mint", got)
	}

	pos := domain.LiquidityPosition{
		Router:          pairAdr,
		RouterType:      domain.RouterConcentratedSingleHop,
		Token0:          tokenA,
		Token1:          tokenB,
		NFTTokenID:      receipt.NFTTokenID,
		Amount:          receipt.Amount,
		PositionManager: pmAddr,
	}
	out0, out1, err := registry.ExecuteLiquidityRemove(ctx, pos)
	if err != nil {
		t.Fatalf("ExecuteLiquidityRemove: %v", err)
	}
	if out0.Cmp(ether(40)) != 0 || out1.Cmp(ether(60)) != 0 {
		t.Fatalf("remove returned %s / %s, want full deposits back", out0, out1)
	}
}

func TestPooledVaultJoinSwapExit(t *testing.T) {
	backend := chaintest.NewBackend(operator)
	chaintest.NewToken(backend, tokenA)
	chaintest.NewToken(backend, tokenB)
	chaintest.NewToken(backend, bptAddr)
	vaultAddr := common.HexToAddress("0x0000000000000000000000000000000000000F10")
	vault := chaintest.NewVaultRouter(backend, vaultAddr)
	poolID := common.HexToHash("0x01")
	vault.AddPool(backend, poolID, tokenA, tokenB, bptAddr, ether(1000), ether(1000))
	registry := NewDefaultRegistry(backend)
	ctx := context.Background()

	backend.SetToken(tokenA, operator, ether(30))
	backend.SetToken(tokenB, operator, ether(20))

	add := domain.LiquidityOrder{
		Router:          vaultAddr,
		RouterType:      domain.RouterPooledVault,
		Token0:          tokenA,
		Token1:          tokenB,
		PoolID:          poolID,
		PositionManager: bptAddr,
	}
	receipt, err := registry.ExecuteLiquidityAdd(ctx, add, ether(20), ether(20))
	if err != nil {
		t.Fatalf("ExecuteLiquidityAdd: %v", err)
	}
	if receipt.LPToken != bptAddr || receipt.Amount.Sign() <= 0 {
		t.Fatalf("bad join receipt: %+v", receipt)
	}

	// Vault swaps are caller-prepared payloads.
	noPayload := domain.SwapOrder{
		Router:        vaultAddr,
		RouterType:    domain.RouterPooledVault,
		TokenIn:       tokenA,
		TokenOut:      tokenB,
		TokenAmountIn: ether(10),
	}
	if _, err := registry.ExecuteSwap(ctx, noPayload, false); !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("got %v, want ErrMissingPayload", err)
	}

	calldata, err := chain.PackCall("swap(bytes32,address,address,uint256,uint256)", abi.Arguments{
		{Type: chain.TypeBytes32}, {Type: chain.TypeAddress}, {Type: chain.TypeAddress},
		{Type: chain.TypeUint256}, {Type: chain.TypeUint256},
	}, [32]byte(poolID), tokenA, tokenB, ether(10), new(big.Int))
	if err != nil {
		t.Fatal(err)
	}
	withPayload := noPayload
	withPayload.CallData = calldata
	out, err := registry.ExecuteSwap(ctx, withPayload, false)
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("vault swap output %s, want > 0", out)
	}

	pos := domain.LiquidityPosition{
		Router:     vaultAddr,
		RouterType: domain.RouterPooledVault,
		Token0:     tokenA,
		Token1:     tokenB,
		LPToken:    bptAddr,
		Amount:     receipt.Amount,
		PoolID:     poolID,
	}
	out0, out1, err := registry.ExecuteLiquidityRemove(ctx, pos)
	if err != nil {
		t.Fatalf("ExecuteLiquidityRemove: %v", err)
	}
	if out0.Sign() <= 0 || out1.Sign() <= 0 {
		t.Fatalf("exit returned %s / %s, want both > 0", out0, out1)
	}
}

func TestNoAdapter(t *testing.T) {
	registry := NewRegistry()
	order := domain.SwapOrder{RouterType: domain.RouterConstantProduct, TokenAmountIn: ether(1)}
	if _, err := registry.ExecuteSwap(context.Background(), order, false); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("got %v, want ErrNoAdapter", err)
	}
}
