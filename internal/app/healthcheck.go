package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/xjson"
)

type healthReport struct {
	Status     string `json:"status"`
	Connection string `json:"connection"`
	Pending    int    `json:"pending"`
	Error      string `json:"error,omitempty"`
}

// healthHandler reports the event feed state and the pending task count.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())
	logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)

	report := healthReport{Status: "ok", Connection: a.engine.ConnectionStatus().String()}
	code := http.StatusOK
	pending, err := a.store.ListPending(r.Context())
	if err != nil {
		report.Status, report.Error = "error", err.Error()
		code = http.StatusServiceUnavailable
	} else {
		report.Pending = len(pending)
	}

	body, err := xjson.Marshal(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// serveHealth runs the health check server until ctx is done.
func (a *App) serveHealth(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.healthHandler)

	addr := fmt.Sprintf(":%d", a.cfg.HealthcheckPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Health check server starting.", "address", fmt.Sprintf("http://localhost%s/health", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health check server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	logger.Debug("Shutting down health check server.")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health check server shutdown failed.", "error", err)
		return err
	}
	return nil
}
