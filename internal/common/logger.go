package common

import (
	"github.com/rs/zerolog/log"
	container "github.com/thehyperflames/dicontainer-go"
)

// ServiceLogger provides structured logging for DI services. Debug output is
// gated per service so a noisy settlement run can be narrowed to one
// component.
type ServiceLogger struct {
	svc container.IInstance

	debug        bool
	whiteListSvc map[string]struct{}
}

// NewServiceLogger creates a new logger for a service
func NewServiceLogger(svc container.IInstance) *ServiceLogger {
	return &ServiceLogger{svc: svc, whiteListSvc: make(map[string]struct{})}
}

func (l *ServiceLogger) SetDebugMode(debug bool) {
	l.debug = debug
}

func (l *ServiceLogger) EnableLogForServices(svc []string) {
	for _, s := range svc {
		l.whiteListSvc[s] = struct{}{}
	}
}

func (l *ServiceLogger) enabled() bool {
	if !l.debug {
		return false
	}
	if len(l.whiteListSvc) == 0 {
		return true
	}
	_, ok := l.whiteListSvc[l.svc.ID()]
	return ok
}

func (l *ServiceLogger) Info(msg string, method string) string {
	if l.enabled() {
		log.Info().Str("service", l.svc.ID()).Str("method", method).Msg(msg)
	}
	return msg
}

func (l *ServiceLogger) Error(err error, msg string, method string) string {
	if l.enabled() {
		log.Error().Str("service", l.svc.ID()).Str("method", method).Err(err).Msg(msg)
	}
	return msg
}
