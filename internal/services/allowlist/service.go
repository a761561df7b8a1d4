// Package allowlist gates which tokens and contracts the settlement engine
// may touch. The list lives in memory and is mirrored to storage on every
// change.
package allowlist

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/adapters/persistence"
	"github.com/packlabs/packvault/internal/config"
	"github.com/packlabs/packvault/internal/metrics"
	"github.com/packlabs/packvault/internal/services"
	"github.com/packlabs/packvault/internal/services/storage"
)

const ALLOWLIST_SERVICE = "allowlist-service"

var ErrNotAllowed = errors.New("contract not allow-listed")

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	mu      sync.RWMutex
	allowed map[common.Address]struct{}

	// allowUnlisted disables enforcement. Dev environments only.
	allowUnlisted bool

	storage *persistence.Storage
}

// New builds a standalone service over pre-loaded entries. The DI container
// path goes through Configure/Start instead.
func New(entries []common.Address, allowUnlisted bool) *Service {
	svc := &Service{
		allowed:       make(map[common.Address]struct{}, len(entries)),
		allowUnlisted: allowUnlisted,
	}
	svc.logger = services.NewServiceLogger(svc)
	for _, addr := range entries {
		svc.allowed[addr] = struct{}{}
	}
	return svc
}

func (svc *Service) ID() string {
	return ALLOWLIST_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.allowed = make(map[common.Address]struct{})

	protocolConfig := c.GetConfig(config.PROTOCOL_CONFIG_KEY).(*config.ProtocolConfig)
	svc.allowUnlisted = protocolConfig.AllowUnlisted

	svc.storage = c.Instance(storage.STORAGE_SERVICE).(*storage.Service).Store()
	return nil
}

func (svc *Service) Start() error {
	if svc.storage == nil {
		return nil
	}
	entries, err := svc.storage.LoadAllowlist()
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}
	svc.mu.Lock()
	for _, addr := range entries {
		svc.allowed[addr] = struct{}{}
	}
	size := len(svc.allowed)
	svc.mu.Unlock()

	metrics.AllowlistSize.Set(float64(size))
	svc.logger.Info().Int("entries", size).Msg("[allowlist] loaded")
	if svc.allowUnlisted {
		svc.logger.Warn().Msg("[allowlist] enforcement DISABLED, unlisted contracts accepted")
	}
	return nil
}

func (svc *Service) Stop() error {
	return nil
}

// IsAllowed reports whether the engine may interact with the contract.
func (svc *Service) IsAllowed(addr common.Address) bool {
	if svc.allowUnlisted {
		return true
	}
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	_, ok := svc.allowed[addr]
	return ok
}

// Require returns ErrNotAllowed when the contract is not listed.
func (svc *Service) Require(addr common.Address) error {
	if !svc.IsAllowed(addr) {
		return fmt.Errorf("%w: %s", ErrNotAllowed, addr.Hex())
	}
	return nil
}

func (svc *Service) Allow(addr common.Address) error {
	svc.mu.Lock()
	svc.allowed[addr] = struct{}{}
	size := len(svc.allowed)
	svc.mu.Unlock()

	metrics.AllowlistSize.Set(float64(size))
	if svc.storage != nil {
		if err := svc.storage.SetAllowed(addr, true); err != nil {
			return fmt.Errorf("persist allowlist entry: %w", err)
		}
	}
	svc.logger.Info().Str("address", addr.Hex()).Msg("[allowlist] added")
	return nil
}

func (svc *Service) Disallow(addr common.Address) error {
	svc.mu.Lock()
	delete(svc.allowed, addr)
	size := len(svc.allowed)
	svc.mu.Unlock()

	metrics.AllowlistSize.Set(float64(size))
	if svc.storage != nil {
		if err := svc.storage.SetAllowed(addr, false); err != nil {
			return fmt.Errorf("remove allowlist entry: %w", err)
		}
	}
	svc.logger.Info().Str("address", addr.Hex()).Msg("[allowlist] removed")
	return nil
}

// List returns the current entries in no particular order.
func (svc *Service) List() []common.Address {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]common.Address, 0, len(svc.allowed))
	for addr := range svc.allowed {
		out = append(out, addr)
	}
	return out
}
