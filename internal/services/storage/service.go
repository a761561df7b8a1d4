// Package storage owns the process-wide BoltDB handle. Bolt takes an
// exclusive file lock, so every service shares this one instance.
package storage

import (
	"fmt"

	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/adapters/persistence"
	"github.com/packlabs/packvault/internal/config"
	"github.com/packlabs/packvault/internal/services"
)

const STORAGE_SERVICE = "storage-service"

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	store *persistence.Storage
}

func (svc *Service) ID() string {
	return STORAGE_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	protocolConfig := c.GetConfig(config.PROTOCOL_CONFIG_KEY).(*config.ProtocolConfig)

	store, err := persistence.NewStorage(protocolConfig.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	svc.store = store
	return nil
}

func (svc *Service) Start() error {
	return nil
}

func (svc *Service) Stop() error {
	if svc.store != nil {
		return svc.store.Close()
	}
	return nil
}

func (svc *Service) Store() *persistence.Storage {
	return svc.store
}
