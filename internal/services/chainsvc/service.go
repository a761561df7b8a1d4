// Package chainsvc owns the signing chain backend shared by every service
// that touches the chain.
package chainsvc

import (
	"context"
	"fmt"
	"time"

	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/chain"
	"github.com/packlabs/packvault/internal/config"
	"github.com/packlabs/packvault/internal/services"
)

const CHAIN_SERVICE = "chain-service"

const dialTimeout = 15 * time.Second

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	backend *chain.EthBackend
}

func (svc *Service) ID() string {
	return CHAIN_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	chainConfig := c.GetConfig(config.CHAIN_CONFIG_KEY).(*config.ChainConfig)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	backend, err := chain.NewEthBackend(ctx, chainConfig.RPCUrl, chainConfig.OperatorKey)
	if err != nil {
		return fmt.Errorf("connect chain backend: %w", err)
	}
	svc.backend = backend
	return nil
}

func (svc *Service) Start() error {
	svc.logger.Info().
		Str("operator", svc.backend.Operator().Hex()).
		Str("chain_id", svc.backend.ChainID().String()).
		Msg("[chain] backend connected")
	return nil
}

func (svc *Service) Stop() error {
	if svc.backend != nil {
		svc.backend.Close()
	}
	return nil
}

func (svc *Service) Backend() chain.Backend {
	return svc.backend
}
