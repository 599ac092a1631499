package http

import (
	"github.com/ecothreads-notify/internal/application/mail"
	"github.com/ecothreads-notify/internal/application/router"
	jwtinfra "github.com/ecothreads-notify/internal/infrastructure/jwt"
	"github.com/ecothreads-notify/internal/pkg/metrics"
)

// Deps holds the application services the HTTP surface is built on.
type Deps struct {
	Router   router.Service
	Mail     mail.Service
	Verifier *jwtinfra.Verifier
	Metrics  *metrics.Metrics
}
