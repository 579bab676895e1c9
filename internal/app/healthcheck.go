package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vk/trainforge/internal/ctxlog"
)

// Run phases reported by the health check endpoint.
const (
	phaseStarting = "starting"
	phaseBuilding = "building"
	phaseScanning = "scanning"
	phaseDone     = "done"
)

type health struct {
	phase  atomic.Value
	server *http.Server
}

func newHealth() *health {
	h := &health{}
	h.phase.Store(phaseStarting)
	return h
}

func (h *health) set(phase string) { h.phase.Store(phase) }

func (h *health) current() string { return h.phase.Load().(string) }

// healthHandler reports the current run phase.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK %s\n", a.health.current())
}

// startHealthcheckServer initializes and runs the health check HTTP server.
func (a *App) startHealthcheckServer(ctx context.Context, port int) {
	logger := ctxlog.FromContext(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)

	addr := fmt.Sprintf(":%d", port)
	a.health.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.health.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeHealthcheckServer(ctx context.Context) {
	if a.health.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.health.server.Shutdown(ctx); err != nil {
		ctxlog.FromContext(ctx).Error("Health check server shutdown failed", "error", err)
	}
}
