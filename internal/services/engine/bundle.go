package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/packlabs/packvault/internal/chain"
	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/metrics"
	"github.com/packlabs/packvault/internal/services/registry"
)

// Bundle settles one bundle request: mints the pack token, wraps the pack
// price, executes the resolved orders and deposits every outcome into the
// pack's custody wallet. Settlement is all-or-nothing; any failure rolls
// the chain back to the pre-settlement snapshot and returns the attached
// payment to the payer.
func (svc *Service) Bundle(ctx context.Context, req *domain.BundleRequest) (*domain.BundleReceipt, error) {
	if err := svc.guard.acquire(); err != nil {
		return nil, err
	}
	defer svc.guard.release()

	start := time.Now()
	defer func() { metrics.BundleDuration.Observe(time.Since(start).Seconds()) }()

	price := bigOrZero(req.PriceWei)
	payment := bigOrZero(req.PaymentWei)
	fee := svc.ledger.ProtocolFee()

	if price.Sign() <= 0 {
		metrics.BundleRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("pack price must be positive")
	}
	if len(req.Chunks) == 0 && len(req.SwapOrders) == 0 && len(req.LiquidityOrders) == 0 {
		metrics.BundleRequests.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyBundle
	}

	required := new(big.Int).Add(price, fee)
	if payment.Cmp(required) < 0 {
		metrics.BundleRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: need %s, got %s", ErrInsufficientPayment, required, payment)
	}
	refund := new(big.Int).Sub(payment, required)

	plans, err := svc.registry.ResolveChunks(req.Chunks, svc.wrappedNative, price)
	if err != nil {
		metrics.BundleRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// Every external target is validated before any state moves, so a
	// disallowed contract rejects the request without touching the chain.
	if err := svc.checkBundleTargets(req, plans); err != nil {
		metrics.BundleRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := svc.backend.Collect(ctx, req.Payer, payment); err != nil {
		metrics.BundleRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	var receipt *domain.BundleReceipt
	err = svc.withSnapshot(ctx, "bundle", func() error {
		var settleErr error
		receipt, settleErr = svc.settleBundle(ctx, req, plans, price, fee, refund)
		return settleErr
	})
	if err != nil {
		metrics.BundleRequests.WithLabelValues("reverted").Inc()
		metrics.SettlementReverts.WithLabelValues("bundle", revertReason(err)).Inc()
		// The snapshot restored pre-settlement balances; the collected
		// payment goes straight back.
		if refundErr := svc.backend.TransferNative(ctx, req.Payer, payment); refundErr != nil {
			svc.logger.Error().Err(refundErr).
				Str("payer", req.Payer.Hex()).
				Msg("[engine] payment return after revert FAILED")
		}
		return nil, err
	}

	metrics.BundleRequests.WithLabelValues("settled").Inc()
	svc.events.push("PackBundled", domain.PackBundledEvent{
		TokenID:    receipt.TokenID,
		Payer:      req.Payer,
		PackType:   req.PackType.String(),
		PriceWei:   price,
		BundlerIDs: bundlerIDStrings(req.Chunks),
	})
	svc.logger.Info().
		Str("token_id", receipt.TokenID.String()).
		Str("payer", req.Payer.Hex()).
		Str("price_wei", price.String()).
		Str("refund_wei", receipt.RefundWei.String()).
		Int("assets", len(receipt.Bonded)).
		Msg("[engine] pack bundled")
	return receipt, nil
}

func (svc *Service) settleBundle(ctx context.Context, req *domain.BundleRequest, plans []registry.ChunkPlan, price, fee, refund *big.Int) (*domain.BundleReceipt, error) {
	operator := svc.backend.Operator()
	wrappedBefore, err := svc.backend.BalanceOf(ctx, svc.wrappedNative, operator)
	if err != nil {
		return nil, err
	}

	tokenID, err := svc.custody.MintPackToken(ctx, req.Payer, req.MetadataURI)
	if err != nil {
		return nil, fmt.Errorf("mint pack token: %w", err)
	}

	// The whole pack price is wrapped up front; all venue legs trade the
	// wrapped form.
	if _, err := svc.backend.Execute(ctx, svc.wrappedNative, price, chain.PackDeposit()); err != nil {
		return nil, fmt.Errorf("wrap pack price: %w", err)
	}

	for _, call := range req.ContractCalls {
		if _, err := svc.backend.Execute(ctx, call.Target, bigOrZero(call.ValueWei), call.CallData); err != nil {
			return nil, fmt.Errorf("contract call %s: %w", call.Target.Hex(), err)
		}
	}

	tracker := newBalanceTracker()
	var bonded []domain.PackAsset
	var positions []domain.LiquidityPosition

	for i := range plans {
		assets, pos, err := svc.settleChunk(ctx, tokenID, &plans[i], tracker)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", plans[i].Preset.ID.String(), err)
		}
		bonded = append(bonded, assets...)
		if pos != nil {
			positions = append(positions, *pos)
		}
	}

	for _, order := range req.SwapOrders {
		asset, err := svc.settleSwap(ctx, tokenID, order, tracker)
		if err != nil {
			return nil, err
		}
		if asset != nil {
			bonded = append(bonded, *asset)
		}
	}
	for _, order := range req.LiquidityOrders {
		asset, pos, err := svc.settleLiquidity(ctx, tokenID, domain.BundlerID{}, order, nil, nil, tracker, true)
		if err != nil {
			return nil, err
		}
		bonded = append(bonded, asset)
		positions = append(positions, pos)
	}

	// Swap outputs no liquidity order consumed stay in the pack rather
	// than stranding on the operator account.
	for key, amount := range tracker.amounts {
		if amount.Sign() == 0 {
			continue
		}
		if err := svc.custody.Energize(ctx, tokenID, key.token, amount); err != nil {
			return nil, fmt.Errorf("energize residue %s: %w", key.token.Hex(), err)
		}
		bonded = append(bonded, domain.PackAsset{TokenAddress: key.token, Balance: amount})
	}

	// Unspent wrapped native, slippage leftovers mostly, is unwrapped and
	// added to the payer's refund.
	totalRefund := new(big.Int).Set(refund)
	wrappedAfter, err := svc.backend.BalanceOf(ctx, svc.wrappedNative, operator)
	if err != nil {
		return nil, err
	}
	if leftover := new(big.Int).Sub(wrappedAfter, wrappedBefore); leftover.Sign() > 0 {
		if _, err := svc.backend.Execute(ctx, svc.wrappedNative, nil, chain.PackWithdraw(leftover)); err != nil {
			return nil, fmt.Errorf("unwrap leftover: %w", err)
		}
		totalRefund.Add(totalRefund, leftover)
	}

	if err := svc.custody.SetTimelocks(ctx, tokenID, req.Timelocks.ERC20Timelock, req.Timelocks.ERC721Timelock); err != nil {
		return nil, fmt.Errorf("set timelocks: %w", err)
	}

	pack := &domain.Pack{
		TokenID:    tokenID,
		Collection: svc.custody.Collection(),
		PackType:   req.PackType,
		PriceWei:   price,
		BundlerIDs: chunkBundlerIDs(req.Chunks),
		Positions:  positions,
	}
	if err := svc.registry.RecordPack(pack); err != nil {
		return nil, fmt.Errorf("record pack: %w", err)
	}

	if err := svc.ledger.CollectFee(ctx, fee); err != nil {
		return nil, fmt.Errorf("collect fee: %w", err)
	}
	svc.events.push("FeeCollected", domain.FeeCollectedEvent{AmountWei: fee, Operation: "bundle"})

	if err := svc.ledger.CreditReferrals(price, req.Referrals); err != nil {
		return nil, fmt.Errorf("credit referrals: %w", err)
	}

	if totalRefund.Sign() > 0 {
		if err := svc.backend.TransferNative(ctx, req.Payer, totalRefund); err != nil {
			return nil, fmt.Errorf("refund: %w", err)
		}
		refundFloat, _ := new(big.Float).SetInt(totalRefund).Float64()
		metrics.RefundsWei.Add(refundFloat)
		svc.events.push("RefundIssued", domain.RefundIssuedEvent{To: req.Payer, AmountWei: totalRefund})
	}

	return &domain.BundleReceipt{
		TokenID:   tokenID,
		FeeWei:    fee,
		RefundWei: totalRefund,
		Bonded:    bonded,
	}, nil
}

// settleChunk executes one resolved preset allocation: its swaps, then its
// liquidity order if the preset is two-sided.
func (svc *Service) settleChunk(ctx context.Context, tokenID *big.Int, plan *registry.ChunkPlan, tracker *balanceTracker) ([]domain.PackAsset, *domain.LiquidityPosition, error) {
	var bonded []domain.PackAsset
	for _, order := range plan.Swaps {
		asset, err := svc.settleSwap(ctx, tokenID, order, tracker)
		if err != nil {
			return nil, nil, err
		}
		if asset != nil {
			bonded = append(bonded, *asset)
		}
	}
	if plan.Liquidity == nil {
		return bonded, nil, nil
	}

	preset := plan.Preset
	asset, pos, err := svc.settleLiquidity(ctx, tokenID, preset.ID, *plan.Liquidity,
		plan.Amount0Wei, plan.Amount1Wei, tracker, preset.ExitPositionOnUnbundle)
	if err != nil {
		return nil, nil, err
	}
	bonded = append(bonded, asset)
	return bonded, &pos, nil
}

// settleSwap executes one swap order and routes the realized output either
// into the tracker (for a downstream liquidity order) or straight into the
// pack. An order whose in and out token coincide is a plain pass-through.
func (svc *Service) settleSwap(ctx context.Context, tokenID *big.Int, order domain.SwapOrder, tracker *balanceTracker) (*domain.PackAsset, error) {
	var out *big.Int
	if order.TokenIn == order.TokenOut {
		out = bigOrZero(order.TokenAmountIn)
	} else {
		var err error
		out, err = svc.venues.ExecuteSwap(ctx, order, false)
		if err != nil {
			metrics.SwapExecutions.WithLabelValues(order.RouterType.String(), "error").Inc()
			return nil, fmt.Errorf("swap %s->%s: %w", order.TokenIn.Hex(), order.TokenOut.Hex(), err)
		}
		metrics.SwapExecutions.WithLabelValues(order.RouterType.String(), "ok").Inc()
		svc.events.push("SwapExecuted", domain.SwapExecutedEvent{
			Router:    order.Router,
			TokenIn:   order.TokenIn,
			TokenOut:  order.TokenOut,
			AmountIn:  bigOrZero(order.TokenAmountIn),
			AmountOut: out,
		})
	}

	if order.LiquidityUUID != uuid.Nil {
		tracker.record(order.TokenOut, order.LiquidityUUID, out)
		return nil, nil
	}
	if err := svc.custody.Energize(ctx, tokenID, order.TokenOut, out); err != nil {
		return nil, fmt.Errorf("energize %s: %w", order.TokenOut.Hex(), err)
	}
	return &domain.PackAsset{TokenAddress: order.TokenOut, Balance: out}, nil
}

// settleLiquidity executes one liquidity add and bonds the resulting LP
// token or position NFT into the pack. Direct amounts win over tracked
// swap outputs.
func (svc *Service) settleLiquidity(ctx context.Context, tokenID *big.Int, bundlerID domain.BundlerID, order domain.LiquidityOrder, amount0, amount1 *big.Int, tracker *balanceTracker, exitOnUnbundle bool) (domain.PackAsset, domain.LiquidityPosition, error) {
	var err error
	if amount0 == nil {
		if amount0, err = tracker.take(order.Token0, order.LiquidityUUIDToken0); err != nil {
			return domain.PackAsset{}, domain.LiquidityPosition{}, err
		}
	}
	if amount1 == nil {
		if amount1, err = tracker.take(order.Token1, order.LiquidityUUIDToken1); err != nil {
			return domain.PackAsset{}, domain.LiquidityPosition{}, err
		}
	}

	receipt, err := svc.venues.ExecuteLiquidityAdd(ctx, order, amount0, amount1)
	if err != nil {
		metrics.LiquidityAdds.WithLabelValues(order.RouterType.String(), "error").Inc()
		return domain.PackAsset{}, domain.LiquidityPosition{}, fmt.Errorf("add liquidity %s/%s: %w", order.Token0.Hex(), order.Token1.Hex(), err)
	}
	metrics.LiquidityAdds.WithLabelValues(order.RouterType.String(), "ok").Inc()
	svc.events.push("LiquidityAdded", domain.LiquidityAddedEvent{
		Router:  order.Router,
		Token0:  order.Token0,
		Token1:  order.Token1,
		Receipt: receipt,
	})

	if receipt.IsNFT {
		if err := svc.custody.Bond(ctx, tokenID, order.PositionManager, receipt.NFTTokenID); err != nil {
			return domain.PackAsset{}, domain.LiquidityPosition{}, fmt.Errorf("bond position nft: %w", err)
		}
	} else {
		if err := svc.custody.Energize(ctx, tokenID, receipt.LPToken, receipt.Amount); err != nil {
			return domain.PackAsset{}, domain.LiquidityPosition{}, fmt.Errorf("energize lp token: %w", err)
		}
	}

	asset := domain.PackAsset{
		TokenAddress: receipt.LPToken,
		Balance:      receipt.Amount,
		NFTTokenID:   receipt.NFTTokenID,
	}
	if receipt.IsNFT {
		asset.TokenAddress = order.PositionManager
	}
	pos := domain.LiquidityPosition{
		BundlerID:       bundlerID,
		Router:          order.Router,
		RouterType:      order.RouterType,
		Token0:          order.Token0,
		Token1:          order.Token1,
		LPToken:         receipt.LPToken,
		NFTTokenID:      receipt.NFTTokenID,
		Amount:          receipt.Amount,
		PoolID:          order.PoolID,
		Stable:          order.Stable,
		PositionManager: order.PositionManager,
		ExitOnUnbundle:  exitOnUnbundle,
	}
	return asset, pos, nil
}

// checkBundleTargets allow-list-validates every contract the settlement
// would touch.
func (svc *Service) checkBundleTargets(req *domain.BundleRequest, plans []registry.ChunkPlan) error {
	seen := make(map[common.Address]struct{})
	check := func(addr common.Address) error {
		if addr == (common.Address{}) {
			return nil
		}
		if _, ok := seen[addr]; ok {
			return nil
		}
		seen[addr] = struct{}{}
		return svc.allowlist.Require(addr)
	}

	for _, call := range req.ContractCalls {
		if err := check(call.Target); err != nil {
			return err
		}
	}
	for _, order := range req.SwapOrders {
		if err := check(order.Router); err != nil {
			return err
		}
	}
	for _, order := range req.LiquidityOrders {
		if err := check(order.Router); err != nil {
			return err
		}
		if err := check(order.PositionManager); err != nil {
			return err
		}
	}
	for i := range plans {
		preset := plans[i].Preset
		if err := check(preset.Router); err != nil {
			return err
		}
		if err := check(preset.PositionManager); err != nil {
			return err
		}
	}
	return nil
}

func revertReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case strings.Contains(err.Error(), "swap"), strings.Contains(err.Error(), "liquidity"):
		return "venue"
	default:
		return "settlement"
	}
}

func bundlerIDStrings(chunks []domain.BundleChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, chunk.BundlerID.String())
	}
	return out
}

func chunkBundlerIDs(chunks []domain.BundleChunk) []domain.BundlerID {
	out := make([]domain.BundlerID, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, chunk.BundlerID)
	}
	return out
}
