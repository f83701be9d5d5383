package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"linebot-bridge/internal/domain"
	"linebot-bridge/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Replier answers a single webhook event.
type Replier interface {
	Handle(ctx context.Context, ev domain.WebhookEvent) (usecase.HandleOutput, error)
}

type Handler struct {
	svc    Replier
	logger *slog.Logger
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(svc Replier, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}, nil
}

// Handle decodes the webhook body and runs the first event through the
// pipeline. Every failure, including a panic, is reported as a 500 with the
// underlying message; Lambda itself never sees an error.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling webhook", "panic", r)
			resp, err = respondJSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprint(r)}, correlationID), nil
		}
	}()

	body, err := requestBody(req)
	if err != nil {
		logger.Error("failed to decode request body", "err", err)
		return respondJSON(http.StatusInternalServerError, errorResponse{Error: err.Error()}, correlationID), nil
	}

	var webhook domain.WebhookRequest
	if err := json.Unmarshal(body, &webhook); err != nil {
		logger.Error("failed to parse webhook body", "err", err)
		return respondJSON(http.StatusInternalServerError, errorResponse{Error: err.Error()}, correlationID), nil
	}

	ev, ok := webhook.FirstEvent()
	if !ok {
		logger.Info("webhook without events")
		return respondJSON(http.StatusOK, messageResponse{Message: "no text"}, correlationID), nil
	}

	out, err := h.svc.Handle(ctx, ev)
	if err != nil {
		var usecaseErr *usecase.Error
		if errors.As(err, &usecaseErr) {
			logger.Error("webhook failed", "code", usecaseErr.Code, "reason", usecaseErr.Reason, "err", err)
			return respondJSON(http.StatusInternalServerError, errorResponse{Error: usecaseErr.Message()}, correlationID), nil
		}
		logger.Error("webhook failed", "code", usecase.ErrorInternal, "err", err)
		return respondJSON(http.StatusInternalServerError, errorResponse{Error: err.Error()}, correlationID), nil
	}

	if out.Outcome == usecase.OutcomeSkipped {
		logger.Info("event skipped", "reason", out.Reason)
		return respondJSON(http.StatusOK, messageResponse{Message: "no text"}, correlationID), nil
	}
	return respondJSON(http.StatusOK, messageResponse{Message: "ok"}, correlationID), nil
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if strings.TrimSpace(req.Body) == "" {
		return []byte("{}"), nil
	}
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	if len(strings.TrimSpace(string(decoded))) == 0 {
		return []byte("{}"), nil
	}
	return decoded, nil
}

// headerValue looks a header up case-insensitively; API Gateway and Function
// URLs disagree on casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respondJSON(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
