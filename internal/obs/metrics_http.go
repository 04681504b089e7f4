package obs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Probe is a named readiness dependency, e.g. the database pool.
type Probe struct {
	Name  string
	Check func(context.Context) error
}

// BootstrapMetricsServer serves /metrics, /healthz (process alive) and /readyz
// (every probe passes) on addr in the background.
func BootstrapMetricsServer(addr string, l *zap.Logger, probes ...Probe) *http.Server {
	ms := &http.Server{
		Addr:         addr,
		Handler:      opsMux(probes),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		l.Info("ops server listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("ops server failed", zap.Error(err))
		}
	}()
	return ms
}

func opsMux(probes []Probe) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		failed := map[string]string{}
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				failed[p.Name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ready": len(failed) == 0, "failed": failed})
	})
	return mux
}
