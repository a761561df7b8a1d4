// Package engine is the settlement core: it executes bundle and unbundle
// operations atomically against the chain, routing orders through venue
// adapters and depositing outcomes into custody.
package engine

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/chain"
	"github.com/packlabs/packvault/internal/config"
	"github.com/packlabs/packvault/internal/services"
	"github.com/packlabs/packvault/internal/services/allowlist"
	"github.com/packlabs/packvault/internal/services/chainsvc"
	"github.com/packlabs/packvault/internal/services/custody"
	"github.com/packlabs/packvault/internal/services/ledger"
	"github.com/packlabs/packvault/internal/services/registry"
	"github.com/packlabs/packvault/internal/services/venues"
)

const ENGINE_SERVICE = "engine-service"

var (
	ErrInsufficientPayment = errors.New("payment does not cover price and fee")
	ErrEmptyBundle         = errors.New("bundle has no chunks or orders")
	ErrNotPackOwner        = errors.New("caller does not own the pack")
)

// Custody is the engine's view of the deposit vault.
type Custody interface {
	Collection() common.Address
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
	MintPackToken(ctx context.Context, receiver common.Address, metadataURI string) (*big.Int, error)
	Energize(ctx context.Context, tokenID *big.Int, asset common.Address, amount *big.Int) error
	Release(ctx context.Context, receiver common.Address, tokenID *big.Int, asset common.Address) error
	Bond(ctx context.Context, tokenID *big.Int, nftContract common.Address, nftTokenID *big.Int) error
	BreakBond(ctx context.Context, receiver common.Address, tokenID *big.Int, nftContract common.Address, nftTokenID *big.Int) error
	Mass(ctx context.Context, tokenID *big.Int, asset common.Address) (*big.Int, error)
	SetTimelocks(ctx context.Context, tokenID *big.Int, releaseBlock, bondBlock uint64) error
}

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	guard  guard
	events *eventLog

	backend       chain.Backend
	venues        *venues.Registry
	registry      *registry.Service
	allowlist     *allowlist.Service
	ledger        *ledger.Service
	custody       Custody
	wrappedNative common.Address
}

// Deps carries the engine's collaborators for direct construction outside
// the DI container.
type Deps struct {
	Backend       chain.Backend
	Venues        *venues.Registry
	Registry      *registry.Service
	Allowlist     *allowlist.Service
	Ledger        *ledger.Service
	Custody       Custody
	WrappedNative common.Address
}

func New(deps Deps) *Service {
	svc := &Service{
		events:        newEventLog(),
		backend:       deps.Backend,
		venues:        deps.Venues,
		registry:      deps.Registry,
		allowlist:     deps.Allowlist,
		ledger:        deps.Ledger,
		custody:       deps.Custody,
		wrappedNative: deps.WrappedNative,
	}
	svc.logger = services.NewServiceLogger(svc)
	return svc
}

func (svc *Service) ID() string {
	return ENGINE_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.events = newEventLog()
	chainConfig := c.GetConfig(config.CHAIN_CONFIG_KEY).(*config.ChainConfig)

	svc.backend = c.Instance(chainsvc.CHAIN_SERVICE).(*chainsvc.Service).Backend()
	svc.registry = c.Instance(registry.REGISTRY_SERVICE).(*registry.Service)
	svc.allowlist = c.Instance(allowlist.ALLOWLIST_SERVICE).(*allowlist.Service)
	svc.ledger = c.Instance(ledger.LEDGER_SERVICE).(*ledger.Service)
	svc.custody = c.Instance(custody.CUSTODY_SERVICE).(*custody.Service)
	svc.wrappedNative = chainConfig.WrappedNativeAddress()

	svc.venues = venues.NewDefaultRegistry(svc.backend)
	return nil
}

func (svc *Service) Start() error {
	svc.logger.Info().
		Str("wrapped_native", svc.wrappedNative.Hex()).
		Msg("[engine] settlement engine ready")
	return nil
}

func (svc *Service) Stop() error {
	return nil
}

// RecentEvents returns the engine's buffered settlement events, oldest
// first.
func (svc *Service) RecentEvents() []EventRecord {
	return svc.events.Recent()
}

// revertOnError rolls the chain back to the snapshot when settle failed.
// Backends without snapshots settle inside a transaction boundary instead,
// so ErrSnapshotUnsupported is not fatal.
func (svc *Service) withSnapshot(ctx context.Context, operation string, settle func() error) error {
	snapID, err := svc.backend.Snapshot(ctx)
	snapshotted := err == nil
	if err != nil && !errors.Is(err, chain.ErrSnapshotUnsupported) {
		return err
	}

	if err := settle(); err != nil {
		if snapshotted {
			if revertErr := svc.backend.RevertToSnapshot(ctx, snapID); revertErr != nil {
				svc.logger.Error().Err(revertErr).Str("operation", operation).
					Msg("[engine] snapshot revert FAILED, manual intervention required")
			}
		}
		return err
	}
	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
