package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"git.platform.alem.school/amibragim/order-intake/internal/ports"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
)

const (
	maxBodyBytes   = 1 << 20 // 1 MiB
	requestTimeout = 5 * time.Second
)

// HTTPHandler adapts POST /api/billing to the IntakeService.
type HTTPHandler struct {
	svc    ports.IntakeService
	logger *logger.Logger
}

// NewHTTPHandler wires an HTTP handler around the IntakeService.
func NewHTTPHandler(svc ports.IntakeService, logger *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Register mounts the intake route on the provided mux.
func (handler *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/billing", handler.handleSubmit)
}

type submitResponse struct {
	Status string                 `json:"status"`
	Order  contracts.OrderMessage `json:"order"`
}

func (handler *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", errors.New("unsupported content type: "+ct))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handler.httpError(ctx, w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return
		}
		handler.httpError(ctx, w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msg, err := handler.svc.SubmitOrder(ctxWithTimeout, body)
	if err != nil {
		var verr *contracts.ValidationError
		switch {
		case errors.As(err, &verr):
			handler.httpError(ctx, w, http.StatusBadRequest, verr.Error(), err)
		case errors.Is(err, rabbitmq.ErrUnavailable):
			handler.httpError(ctx, w, http.StatusServiceUnavailable, "queue unavailable", err)
		default:
			handler.httpError(ctx, w, http.StatusInternalServerError, "publish failed", err)
		}
		return
	}

	handler.jsonResponse(ctx, w, http.StatusAccepted, submitResponse{Status: "queued", Order: msg})
}

// httpError logs and sends a JSON {"error": msg} response.
func (handler *HTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	switch {
	case status >= 500:
		action = "http_internal_error"
		if status == http.StatusServiceUnavailable {
			action = "broker_unavailable"
		}
	case status == http.StatusBadRequest:
		action = "validation_failed"
	case status == http.StatusUnsupportedMediaType:
		action = "unsupported_media_type"
	}
	handler.logger.Error(ctx, action, msg, err)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// jsonResponse encodes data before writing so a marshal failure can still become a 500.
func (handler *HTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		handler.logger.Error(ctx, "response_encode_failed", "failed to encode response", err)
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
