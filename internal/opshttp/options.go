package opshttp

import (
	"context"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/health"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
)

const DefaultPort = 9000

// SettingsReloader forces a settings fetch outside the poll schedule.
type SettingsReloader interface {
	Reload(ctx context.Context) (settings.ReloadResult, error)
}

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Reloader enables POST /-/reload-settings.
	Reloader SettingsReloader

	UseRecoverMW bool
	// OnPanic runs after a recovered panic is logged.
	OnPanic func()
}
