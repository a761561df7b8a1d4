// Package registry holds the bundler presets packs are assembled from and
// the per-pack position records the teardown path depends on.
package registry

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/adapters/persistence"
	pvcommon "github.com/packlabs/packvault/internal/common"
	"github.com/packlabs/packvault/internal/domain"
	"github.com/packlabs/packvault/internal/metrics"
	"github.com/packlabs/packvault/internal/services"
	"github.com/packlabs/packvault/internal/services/storage"
)

const REGISTRY_SERVICE = "registry-service"

// ChunkPlan is one bundle chunk expanded against its preset: the swaps to
// run and, for two-sided presets, the liquidity order consuming their
// outputs. Amount0Wei/Amount1Wei carry funding committed directly when a
// side needs no swap.
type ChunkPlan struct {
	Preset    *domain.BundlerPreset
	AmountWei *big.Int

	Swaps     []domain.SwapOrder
	Liquidity *domain.LiquidityOrder

	Amount0Wei *big.Int
	Amount1Wei *big.Int
}

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	mu       sync.RWMutex
	bundlers map[domain.BundlerID]*domain.BundlerPreset
	packs    map[string]*domain.Pack

	storage *persistence.Storage
}

// New builds a standalone registry; the DI path goes through
// Configure/Start.
func New() *Service {
	svc := &Service{
		bundlers: make(map[domain.BundlerID]*domain.BundlerPreset),
		packs:    make(map[string]*domain.Pack),
	}
	svc.logger = services.NewServiceLogger(svc)
	return svc
}

func (svc *Service) ID() string {
	return REGISTRY_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.bundlers = make(map[domain.BundlerID]*domain.BundlerPreset)
	svc.packs = make(map[string]*domain.Pack)
	svc.storage = c.Instance(storage.STORAGE_SERVICE).(*storage.Service).Store()
	return nil
}

func (svc *Service) Start() error {
	if svc.storage == nil {
		return nil
	}
	presets, err := svc.storage.LoadAllBundlers()
	if err != nil {
		return fmt.Errorf("load bundlers: %w", err)
	}
	packs, err := svc.storage.LoadAllPacks()
	if err != nil {
		return fmt.Errorf("load packs: %w", err)
	}

	svc.mu.Lock()
	for _, preset := range presets {
		svc.bundlers[preset.ID] = preset
	}
	for _, pack := range packs {
		svc.packs[packKey(pack.Collection, pack.TokenID)] = pack
	}
	bundlerCount, packCount := len(svc.bundlers), len(svc.packs)
	svc.mu.Unlock()

	metrics.BundlerCount.Set(float64(bundlerCount))
	metrics.PackCount.Set(float64(packCount))
	svc.logger.Info().
		Int("bundlers", bundlerCount).
		Int("packs", packCount).
		Msg("[registry] loaded")
	return nil
}

func (svc *Service) Stop() error {
	return nil
}

func packKey(collection common.Address, tokenID *big.Int) string {
	return collection.Hex() + "/" + tokenID.String()
}

// RegisterBundler validates and installs a preset, replacing any previous
// registration under the same id.
func (svc *Service) RegisterBundler(preset *domain.BundlerPreset) error {
	if preset.ID == (domain.BundlerID{}) {
		return fmt.Errorf("bundler preset missing id")
	}
	if preset.Router == (common.Address{}) {
		return fmt.Errorf("bundler %s missing router", preset.ID)
	}
	if !preset.SingleSided {
		if preset.Token0.Cmp(preset.Token1) >= 0 {
			return fmt.Errorf("bundler %s: %w", preset.ID, domain.ErrTokenOrder)
		}
		if int(preset.PercentToken0)+int(preset.PercentToken1) != pvcommon.FullBasisPoints {
			return fmt.Errorf("bundler %s: side percents must sum to %d", preset.ID, pvcommon.FullBasisPoints)
		}
	}

	svc.mu.Lock()
	svc.bundlers[preset.ID] = preset
	count := len(svc.bundlers)
	svc.mu.Unlock()

	metrics.BundlerCount.Set(float64(count))
	if svc.storage != nil {
		if err := svc.storage.SaveBundler(preset); err != nil {
			return fmt.Errorf("persist bundler: %w", err)
		}
	}
	svc.logger.Info().
		Str("id", preset.ID.String()).
		Str("router_type", preset.RouterType.String()).
		Msg("[registry] bundler registered")
	return nil
}

func (svc *Service) GetBundler(id domain.BundlerID) (*domain.BundlerPreset, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	preset, ok := svc.bundlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBundler, id)
	}
	return preset, nil
}

func (svc *Service) ListBundlers() []*domain.BundlerPreset {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]*domain.BundlerPreset, 0, len(svc.bundlers))
	for _, preset := range svc.bundlers {
		out = append(out, preset)
	}
	return out
}

// ResolveChunks expands bundle chunks into executable plans. fundingToken is
// the wrapped-native token the total allocation sits in; each chunk gets its
// basis-point share of totalWei.
func (svc *Service) ResolveChunks(chunks []domain.BundleChunk, fundingToken common.Address, totalWei *big.Int) ([]ChunkPlan, error) {
	plans := make([]ChunkPlan, 0, len(chunks))
	for _, chunk := range chunks {
		preset, err := svc.GetBundler(chunk.BundlerID)
		if err != nil {
			return nil, err
		}
		amount := pvcommon.BpsOf(totalWei, int64(chunk.PercentBasisPoints))
		if amount.Sign() == 0 {
			continue
		}
		plan, err := expandPreset(preset, fundingToken, amount)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// expandPreset turns one preset allocation into concrete orders. Single
// sided presets swap the whole amount into the target token; two-sided
// presets swap each side's share and stitch the outputs into a liquidity
// order via correlation uuids.
func expandPreset(preset *domain.BundlerPreset, fundingToken common.Address, amount *big.Int) (ChunkPlan, error) {
	plan := ChunkPlan{Preset: preset, AmountWei: amount}

	if preset.SingleSided {
		order := swapFromPreset(preset, fundingToken, preset.Token1, amount)
		plan.Swaps = append(plan.Swaps, order)
		return plan, nil
	}

	amount0 := pvcommon.BpsOf(amount, int64(preset.PercentToken0))
	amount1 := new(big.Int).Sub(amount, amount0)

	liq := &domain.LiquidityOrder{
		Router:          preset.Router,
		RouterType:      preset.RouterType,
		Token0:          preset.Token0,
		Token1:          preset.Token1,
		PercentToken0:   preset.PercentToken0,
		PercentToken1:   preset.PercentToken1,
		SlippageBps:     preset.SlippageBps,
		TickLower:       preset.TickLower,
		TickUpper:       preset.TickUpper,
		PoolID:          preset.PoolID,
		PositionManager: preset.PositionManager,
		Stable:          preset.Stable,
	}

	if preset.Token0 == fundingToken {
		plan.Amount0Wei = amount0
	} else {
		order := swapFromPreset(preset, fundingToken, preset.Token0, amount0)
		order.LiquidityUUID = uuid.New()
		liq.LiquidityUUIDToken0 = order.LiquidityUUID
		plan.Swaps = append(plan.Swaps, order)
	}
	if preset.Token1 == fundingToken {
		plan.Amount1Wei = amount1
	} else {
		order := swapFromPreset(preset, fundingToken, preset.Token1, amount1)
		order.LiquidityUUID = uuid.New()
		liq.LiquidityUUIDToken1 = order.LiquidityUUID
		plan.Swaps = append(plan.Swaps, order)
	}

	plan.Liquidity = liq
	return plan, nil
}

func swapFromPreset(preset *domain.BundlerPreset, tokenIn, tokenOut common.Address, amount *big.Int) domain.SwapOrder {
	return domain.SwapOrder{
		Router:        preset.Router,
		RouterType:    preset.RouterType,
		TokenIn:       tokenIn,
		TokenOut:      tokenOut,
		TokenAmountIn: amount,
		Route:         routeFor(preset, tokenIn, tokenOut),
		ReverseRoute:  preset.ReverseRoute,
		PoolID:        preset.PoolID,
		Stable:        preset.Stable,
	}
}

// routeFor uses the preset route when it matches the requested direction;
// otherwise the single direct hop.
func routeFor(preset *domain.BundlerPreset, tokenIn, tokenOut common.Address) []domain.RouteHop {
	if len(preset.Route) > 0 &&
		preset.Route[0].From == tokenIn &&
		preset.Route[len(preset.Route)-1].To == tokenOut {
		return preset.Route
	}
	return nil
}

// RecordPack persists a settled pack.
func (svc *Service) RecordPack(pack *domain.Pack) error {
	if pack.CreatedAt == 0 {
		pack.CreatedAt = time.Now().Unix()
	}
	svc.mu.Lock()
	svc.packs[packKey(pack.Collection, pack.TokenID)] = pack
	count := len(svc.packs)
	svc.mu.Unlock()

	metrics.PackCount.Set(float64(count))
	if svc.storage != nil {
		if err := svc.storage.SavePack(pack); err != nil {
			return fmt.Errorf("persist pack: %w", err)
		}
	}
	return nil
}

func (svc *Service) GetPack(collection common.Address, tokenID *big.Int) (*domain.Pack, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	pack, ok := svc.packs[packKey(collection, tokenID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s #%s", domain.ErrPackNotFound, collection.Hex(), tokenID)
	}
	return pack, nil
}

func (svc *Service) ListPacks() []*domain.Pack {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]*domain.Pack, 0, len(svc.packs))
	for _, pack := range svc.packs {
		out = append(out, pack)
	}
	return out
}

// RemovePack drops a torn-down pack from the registry.
func (svc *Service) RemovePack(collection common.Address, tokenID *big.Int) error {
	svc.mu.Lock()
	delete(svc.packs, packKey(collection, tokenID))
	count := len(svc.packs)
	svc.mu.Unlock()

	metrics.PackCount.Set(float64(count))
	if svc.storage != nil {
		if err := svc.storage.DeletePack(collection, tokenID); err != nil {
			return fmt.Errorf("remove pack: %w", err)
		}
	}
	return nil
}

// ImportPacks migrates pack records from a previous registry generation in
// one batch. Existing records under the same key are overwritten.
func (svc *Service) ImportPacks(packs []*domain.Pack) (int, error) {
	imported := 0
	for _, pack := range packs {
		if pack.TokenID == nil || pack.PriceWei == nil {
			return imported, fmt.Errorf("pack record missing token id or price")
		}
		if err := svc.RecordPack(pack); err != nil {
			return imported, err
		}
		imported++
	}
	svc.logger.Info().Int("count", imported).Msg("[registry] imported pack records")
	return imported, nil
}
