package services

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceIdentifier is satisfied by every DI service; the ID doubles as the
// log component tag.
type ServiceIdentifier interface {
	ID() string
}

// ServiceLogger tags every event with the owning service so engine, ledger
// and registry output stays separable in one stream.
type ServiceLogger struct {
	logger zerolog.Logger
}

func NewServiceLogger(svc ServiceIdentifier) *ServiceLogger {
	return &ServiceLogger{logger: log.With().Str("service", svc.ID()).Logger()}
}

func (l *ServiceLogger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *ServiceLogger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *ServiceLogger) Error() *zerolog.Event { return l.logger.Error() }
func (l *ServiceLogger) Debug() *zerolog.Event { return l.logger.Debug() }
