package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/packlabs/packvault/internal/chain"
	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/metrics"
)

// Unbundle tears a pack down: liquidity positions are exited (or forwarded
// intact when their preset keeps them staked), fungible holdings are
// released, and with SellAll everything fungible is sold back to wrapped
// native and paid out unwrapped. Individual sell swaps may fail and are
// skipped with the raw token forwarded instead; a failed liquidity removal
// aborts the whole teardown.
func (svc *Service) Unbundle(ctx context.Context, req *domain.UnbundleRequest) (*domain.UnbundleReceipt, error) {
	if err := svc.guard.acquire(); err != nil {
		return nil, err
	}
	defer svc.guard.release()

	start := time.Now()
	defer func() { metrics.UnbundleDuration.Observe(time.Since(start).Seconds()) }()
	sellAllLabel := fmt.Sprintf("%t", req.SellAll)

	payment := bigOrZero(req.PaymentWei)
	fee := svc.ledger.ProtocolFee()
	if payment.Cmp(fee) < 0 {
		metrics.UnbundleRequests.WithLabelValues("rejected", sellAllLabel).Inc()
		return nil, fmt.Errorf("%w: need %s, got %s", ErrInsufficientPayment, fee, payment)
	}

	pack, err := svc.registry.GetPack(req.Collection, req.TokenID)
	if err != nil {
		metrics.UnbundleRequests.WithLabelValues("rejected", sellAllLabel).Inc()
		return nil, err
	}

	owner, err := svc.custody.OwnerOf(ctx, req.TokenID)
	if err != nil {
		metrics.UnbundleRequests.WithLabelValues("rejected", sellAllLabel).Inc()
		return nil, err
	}
	if owner != req.Caller {
		metrics.UnbundleRequests.WithLabelValues("rejected", sellAllLabel).Inc()
		return nil, ErrNotPackOwner
	}

	receiver := req.Receiver
	if receiver == (common.Address{}) {
		receiver = req.Caller
	}

	for _, order := range req.SwapOrders {
		if err := svc.allowlist.Require(order.Router); err != nil {
			metrics.UnbundleRequests.WithLabelValues("rejected", sellAllLabel).Inc()
			return nil, err
		}
	}

	if err := svc.backend.Collect(ctx, req.Caller, payment); err != nil {
		metrics.UnbundleRequests.WithLabelValues("rejected", sellAllLabel).Inc()
		return nil, err
	}

	var receipt *domain.UnbundleReceipt
	err = svc.withSnapshot(ctx, "unbundle", func() error {
		var settleErr error
		receipt, settleErr = svc.settleUnbundle(ctx, req, pack, receiver, fee, payment)
		return settleErr
	})
	if err != nil {
		metrics.UnbundleRequests.WithLabelValues("reverted", sellAllLabel).Inc()
		metrics.SettlementReverts.WithLabelValues("unbundle", revertReason(err)).Inc()
		if refundErr := svc.backend.TransferNative(ctx, req.Caller, payment); refundErr != nil {
			svc.logger.Error().Err(refundErr).
				Str("caller", req.Caller.Hex()).
				Msg("[engine] payment return after revert FAILED")
		}
		return nil, err
	}

	metrics.UnbundleRequests.WithLabelValues("settled", sellAllLabel).Inc()
	svc.events.push("PackUnbundled", domain.PackUnbundledEvent{
		TokenID:     req.TokenID,
		Receiver:    receiver,
		SellAll:     req.SellAll,
		ProceedsWei: receipt.ProceedsWei,
	})
	svc.logger.Info().
		Str("token_id", req.TokenID.String()).
		Str("receiver", receiver.Hex()).
		Bool("sell_all", req.SellAll).
		Str("proceeds_wei", receipt.ProceedsWei.String()).
		Int("skipped_swaps", receipt.SkippedSwaps).
		Msg("[engine] pack unbundled")
	return receipt, nil
}

// teardownState tracks what the settlement has pulled onto the operator
// account so sell-all can size each sale by realized balance diff.
type teardownState struct {
	before map[common.Address]*big.Int
}

func (s *teardownState) noteBefore(ctx context.Context, backend chain.Backend, token common.Address) error {
	if _, ok := s.before[token]; ok {
		return nil
	}
	bal, err := backend.BalanceOf(ctx, token, backend.Operator())
	if err != nil {
		return err
	}
	s.before[token] = bal
	return nil
}

func (s *teardownState) gain(ctx context.Context, backend chain.Backend, token common.Address) (*big.Int, error) {
	before, ok := s.before[token]
	if !ok {
		return new(big.Int), nil
	}
	after, err := backend.BalanceOf(ctx, token, backend.Operator())
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(after, before), nil
}

func (svc *Service) settleUnbundle(ctx context.Context, req *domain.UnbundleRequest, pack *domain.Pack, receiver common.Address, fee, payment *big.Int) (*domain.UnbundleReceipt, error) {
	operator := svc.backend.Operator()
	state := &teardownState{before: make(map[common.Address]*big.Int)}
	if err := state.noteBefore(ctx, svc.backend, svc.wrappedNative); err != nil {
		return nil, err
	}

	var released []domain.PackAsset
	skipped := 0

	positions := pack.Positions
	if len(req.LiquidityPairs) > 0 {
		positions = req.LiquidityPairs
	}

	for _, pos := range positions {
		assets, err := svc.teardownPosition(ctx, req, pos, receiver, state)
		if err != nil {
			return nil, err
		}
		released = append(released, assets...)
	}

	for _, asset := range svc.teardownAssets(pack, req.SwapOrders) {
		mass, err := svc.custody.Mass(ctx, req.TokenID, asset)
		if err != nil {
			return nil, err
		}
		if mass.Sign() == 0 {
			continue
		}
		if req.SellAll {
			if err := state.noteBefore(ctx, svc.backend, asset); err != nil {
				return nil, err
			}
			if err := svc.custody.Release(ctx, operator, req.TokenID, asset); err != nil {
				return nil, fmt.Errorf("release %s: %w", asset.Hex(), err)
			}
			continue
		}
		if err := svc.custody.Release(ctx, receiver, req.TokenID, asset); err != nil {
			return nil, fmt.Errorf("release %s: %w", asset.Hex(), err)
		}
		released = append(released, domain.PackAsset{TokenAddress: asset, Balance: mass})
	}

	if req.SellAll {
		sellReleased, sellSkipped, err := svc.sellAll(ctx, req.SwapOrders, receiver, state)
		if err != nil {
			return nil, err
		}
		released = append(released, sellReleased...)
		skipped = sellSkipped
	}

	// Everything sold (and any wrapped-native side of exited positions) sits
	// as the operator's wrapped gain; pay it out unwrapped.
	proceeds, err := state.gain(ctx, svc.backend, svc.wrappedNative)
	if err != nil {
		return nil, err
	}
	if proceeds.Sign() > 0 {
		if _, err := svc.backend.Execute(ctx, svc.wrappedNative, nil, chain.PackWithdraw(proceeds)); err != nil {
			return nil, fmt.Errorf("unwrap proceeds: %w", err)
		}
		if err := svc.backend.TransferNative(ctx, receiver, proceeds); err != nil {
			return nil, fmt.Errorf("pay out proceeds: %w", err)
		}
	}

	if err := svc.ledger.CollectFee(ctx, fee); err != nil {
		return nil, fmt.Errorf("collect fee: %w", err)
	}
	svc.events.push("FeeCollected", domain.FeeCollectedEvent{AmountWei: fee, Operation: "unbundle"})

	if excess := new(big.Int).Sub(payment, fee); excess.Sign() > 0 {
		if err := svc.backend.TransferNative(ctx, req.Caller, excess); err != nil {
			return nil, fmt.Errorf("refund excess payment: %w", err)
		}
	}

	if err := svc.registry.RemovePack(req.Collection, req.TokenID); err != nil {
		return nil, fmt.Errorf("remove pack record: %w", err)
	}

	return &domain.UnbundleReceipt{
		TokenID:      req.TokenID,
		FeeWei:       fee,
		ProceedsWei:  proceeds,
		Released:     released,
		SkippedSwaps: skipped,
	}, nil
}

// teardownPosition unwinds one liquidity position. Positions flagged to stay
// intact are handed to the receiver as-is; exiting positions are pulled back
// to the operator and removed from the venue, which must succeed.
func (svc *Service) teardownPosition(ctx context.Context, req *domain.UnbundleRequest, pos domain.LiquidityPosition, receiver common.Address, state *teardownState) ([]domain.PackAsset, error) {
	operator := svc.backend.Operator()

	if !pos.ExitOnUnbundle {
		if pos.NFTTokenID != nil {
			if err := svc.custody.BreakBond(ctx, receiver, req.TokenID, pos.PositionManager, pos.NFTTokenID); err != nil {
				return nil, fmt.Errorf("forward position nft: %w", err)
			}
			svc.events.push("LiquidityRemoved", domain.LiquidityRemovedEvent{
				Router: pos.Router, Token0: pos.Token0, Token1: pos.Token1, Exited: false,
			})
			return []domain.PackAsset{{TokenAddress: pos.PositionManager, NFTTokenID: pos.NFTTokenID}}, nil
		}
		if err := svc.custody.Release(ctx, receiver, req.TokenID, pos.LPToken); err != nil {
			return nil, fmt.Errorf("forward lp token: %w", err)
		}
		svc.events.push("LiquidityRemoved", domain.LiquidityRemovedEvent{
			Router: pos.Router, Token0: pos.Token0, Token1: pos.Token1, Exited: false,
		})
		return []domain.PackAsset{{TokenAddress: pos.LPToken, Balance: pos.Amount}}, nil
	}

	if err := state.noteBefore(ctx, svc.backend, pos.Token0); err != nil {
		return nil, err
	}
	if err := state.noteBefore(ctx, svc.backend, pos.Token1); err != nil {
		return nil, err
	}

	if pos.NFTTokenID != nil {
		if err := svc.custody.BreakBond(ctx, operator, req.TokenID, pos.PositionManager, pos.NFTTokenID); err != nil {
			return nil, fmt.Errorf("break bond: %w", err)
		}
	} else {
		if err := svc.custody.Release(ctx, operator, req.TokenID, pos.LPToken); err != nil {
			return nil, fmt.Errorf("release lp token: %w", err)
		}
	}

	amount0, amount1, err := svc.venues.ExecuteLiquidityRemove(ctx, pos)
	if err != nil {
		metrics.LiquidityRemovals.WithLabelValues(pos.RouterType.String(), "error").Inc()
		return nil, fmt.Errorf("remove liquidity %s/%s: %w", pos.Token0.Hex(), pos.Token1.Hex(), err)
	}
	metrics.LiquidityRemovals.WithLabelValues(pos.RouterType.String(), "ok").Inc()
	svc.events.push("LiquidityRemoved", domain.LiquidityRemovedEvent{
		Router: pos.Router, Token0: pos.Token0, Token1: pos.Token1,
		Amount0: amount0, Amount1: amount1, Exited: true,
	})

	if req.SellAll {
		// Outputs stay on the operator for the sell pass.
		return nil, nil
	}

	var released []domain.PackAsset
	for _, leg := range []struct {
		token  common.Address
		amount *big.Int
	}{{pos.Token0, amount0}, {pos.Token1, amount1}} {
		if leg.amount == nil || leg.amount.Sign() == 0 {
			continue
		}
		if _, err := svc.backend.Execute(ctx, leg.token, nil, chain.PackTransfer(receiver, leg.amount)); err != nil {
			return nil, fmt.Errorf("transfer %s: %w", leg.token.Hex(), err)
		}
		released = append(released, domain.PackAsset{TokenAddress: leg.token, Balance: leg.amount})
	}
	return released, nil
}

// sellAll runs the caller's unwind orders in reverse over whatever the
// teardown accumulated on the operator. A failed sale forwards the raw
// token instead of aborting. Tokens with no matching order fall through
// raw as well.
func (svc *Service) sellAll(ctx context.Context, orders []domain.SwapOrder, receiver common.Address, state *teardownState) ([]domain.PackAsset, int, error) {
	var released []domain.PackAsset
	skipped := 0
	sold := map[common.Address]bool{svc.wrappedNative: true}

	for _, order := range orders {
		asset := order.TokenOut
		if sold[asset] {
			continue
		}
		amount, err := state.gain(ctx, svc.backend, asset)
		if err != nil {
			return nil, 0, err
		}
		if amount.Sign() == 0 {
			sold[asset] = true
			continue
		}

		order.TokenAmountIn = amount
		out, err := svc.venues.ExecuteSwap(ctx, order, true)
		if err != nil {
			metrics.SwapExecutions.WithLabelValues(order.RouterType.String(), "error").Inc()
			metrics.SwapsSkipped.Inc()
			skipped++
			svc.events.push("SwapSkipped", domain.SwapSkippedEvent{
				Router: order.Router, TokenIn: asset, Reason: err.Error(),
			})
			svc.logger.Warn().Err(err).
				Str("token", asset.Hex()).
				Msg("[engine] sell-all swap failed, forwarding raw token")
			if _, err := svc.backend.Execute(ctx, asset, nil, chain.PackTransfer(receiver, amount)); err != nil {
				return nil, 0, fmt.Errorf("forward unsold %s: %w", asset.Hex(), err)
			}
			released = append(released, domain.PackAsset{TokenAddress: asset, Balance: amount})
			sold[asset] = true
			continue
		}
		metrics.SwapExecutions.WithLabelValues(order.RouterType.String(), "ok").Inc()
		svc.events.push("SwapExecuted", domain.SwapExecutedEvent{
			Router:    order.Router,
			TokenIn:   asset,
			TokenOut:  order.TokenIn,
			AmountIn:  amount,
			AmountOut: out,
			Reverse:   true,
		})
		sold[asset] = true
	}

	// Anything accumulated but not named by an order goes out raw.
	for token := range state.before {
		if sold[token] {
			continue
		}
		amount, err := state.gain(ctx, svc.backend, token)
		if err != nil {
			return nil, 0, err
		}
		if amount.Sign() == 0 {
			continue
		}
		if _, err := svc.backend.Execute(ctx, token, nil, chain.PackTransfer(receiver, amount)); err != nil {
			return nil, 0, fmt.Errorf("forward %s: %w", token.Hex(), err)
		}
		released = append(released, domain.PackAsset{TokenAddress: token, Balance: amount})
	}

	return released, skipped, nil
}

// teardownAssets derives the fungible holdings to release: the single-sided
// targets of the pack's presets plus anything the unwind orders name.
func (svc *Service) teardownAssets(pack *domain.Pack, orders []domain.SwapOrder) []common.Address {
	seen := make(map[common.Address]struct{})
	var assets []common.Address
	add := func(addr common.Address) {
		if addr == (common.Address{}) {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		assets = append(assets, addr)
	}

	for _, id := range pack.BundlerIDs {
		preset, err := svc.registry.GetBundler(id)
		if err != nil {
			continue
		}
		if preset.SingleSided {
			add(preset.Token1)
		}
	}
	for _, order := range orders {
		add(order.TokenOut)
	}
	return assets
}
