package opshttp

import (
	"encoding/json"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
)

type reloadResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// reloadHandler runs one settings reload and reports what it did. A fetch
// or parse failure answers 502; the previous snapshot stays active.
func reloadHandler(L log.Logger, rl SettingsReloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		res, err := rl.Reload(ctx)

		status := http.StatusOK
		body := reloadResponse{Result: res.String()}
		if err != nil {
			status = http.StatusBadGateway
			body.Error = err.Error()
			L.Error(ctx, err, "manual settings reload failed", "result", res.String())
		} else {
			L.Info(ctx, "manual settings reload", "result", res.String(), "swapped", res == settings.ReloadSwapped)
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
