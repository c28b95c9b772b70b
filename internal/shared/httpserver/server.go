package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	// RequestIDHeader is honoured on ingress and echoed on every response.
	RequestIDHeader = "X-Request-ID"
)

// New builds the server with the ingress middleware chain:
// tracing, request ids, then a blocking concurrency limit.
func New(ctx context.Context, port, maxConcurrent int, service string, mux http.Handler, log *logger.Logger) *http.Server {
	handler := withConcurrencyLimit(maxConcurrent, mux)
	handler = withRequestID(log, handler)
	handler = otelhttp.NewHandler(handler, service)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// request contexts keep the process values but outlive the signal
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
}

// Serve runs srv until ctx is cancelled, then drains in-flight requests.
// It returns nil on a clean shutdown and the listen error otherwise.
func Serve(ctx context.Context, srv *http.Server, log *logger.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(ctx, "http_listening", "HTTP server listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info(ctx, "http_stopped", "HTTP server drained", nil)
		return nil
	})

	return g.Wait()
}

// withConcurrencyLimit blocks until one of n slots is free, which gives natural backpressure.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
		case <-r.Context().Done():
			return
		}
		defer func() { <-sem }()
		next.ServeHTTP(w, r)
	})
}

// withRequestID takes X-Request-ID from the request or generates one, and stores it for logging.
func withRequestID(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(RequestIDHeader)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(log.WithRequestID(r.Context(), rid)))
	})
}
