package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/packlabs/packvault/internal/common"
	"github.com/packlabs/packvault/internal/config"
	"github.com/packlabs/packvault/internal/http"
	"github.com/packlabs/packvault/internal/services/allowlist"
	"github.com/packlabs/packvault/internal/services/chainsvc"
	"github.com/packlabs/packvault/internal/services/custody"
	"github.com/packlabs/packvault/internal/services/engine"
	"github.com/packlabs/packvault/internal/services/ledger"
	"github.com/packlabs/packvault/internal/services/registry"
	"github.com/packlabs/packvault/internal/services/storage"
)

func main() {
	// GOGC / GOMAXPROCS / GOMEMLIMIT tuning before anything allocates.
	common.InitRuntime()

	// load env
	err := godotenv.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load env")
		return
	}

	// di container config
	conf := container.NewConf(
		&config.GeneralConfig{},
		&config.ChainConfig{},
		&config.ProtocolConfig{},
	)

	// di container
	dic, err := container.New(
		conf,

		// services
		&storage.Service{},
		&chainsvc.Service{},
		&allowlist.Service{},
		&ledger.Service{},
		&registry.Service{},
		&custody.Service{},
		&engine.Service{},

		&http.HTTPService{},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create di container")
		return
	}

	// Run() waits for SIGINT/SIGTERM
	if err := dic.Run(); err != nil {
		log.Error().Err(err).Msg("failed to run di container")
		return
	}

	// Run() doesn't call Stop(), we must do it manually
	log.Info().Msg("Shutting down services...")
	if err := dic.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Msg("Shutdown complete")
}
