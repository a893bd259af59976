package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/health"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
)

const (
	DefaultPort = 8080

	// DefaultMaxBodyBytes bounds every request body on the public
	// listener. Webhook handlers apply their own, smaller limit.
	DefaultMaxBodyBytes = 1 << 20
)

type Options struct {
	Logger log.Logger
	Port   int

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes mounts application routes on the router.
	APIRoutes func(chi.Router)

	MetricsMW    func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// SettingsInfo adds X-Settings-Hash to responses.
	SettingsInfo httpmw.SettingsInfo

	MaxBodyBytes int64

	UseRecoverMW bool
	OnPanic      func()
}
