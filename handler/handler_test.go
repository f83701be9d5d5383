package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"linebot-bridge/internal/domain"
	"linebot-bridge/internal/usecase"
)

type stubReplier struct {
	out   usecase.HandleOutput
	err   error
	in    domain.WebhookEvent
	calls int
	panic any
}

func (s *stubReplier) Handle(_ context.Context, ev domain.WebhookEvent) (usecase.HandleOutput, error) {
	s.calls++
	s.in = ev
	if s.panic != nil {
		panic(s.panic)
	}
	return s.out, s.err
}

const webhookBody = `{"destination":"Ubot","events":[
	{"type":"message","replyToken":"rt-1","message":{"type":"text","text":"how are you"},"source":{"type":"user","userId":"U1"}},
	{"type":"message","replyToken":"rt-2","message":{"type":"text","text":"ignored"},"source":{"type":"user","userId":"U2"}}
]}`

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, svc Replier) *Handler {
	t.Helper()
	h, err := NewHandler(svc, nil)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	svc := &stubReplier{out: usecase.HandleOutput{Outcome: usecase.OutcomeCompleted, ConversationKey: "U1", Answer: "I'm good"}}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(webhookBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, 1, svc.calls, "only the first event is processed")
	require.Equal(t, "rt-1", svc.in.ReplyToken)
	require.Equal(t, "how are you", svc.in.MessageText())
	require.Equal(t, "U1", svc.in.Source.UserID)

	out := parseBody[messageResponse](t, resp.Body)
	require.Equal(t, "ok", out.Message)
}

func TestHandle_NoText(t *testing.T) {
	cases := map[string]string{
		"empty body":   "",
		"empty object": "{}",
		"no events":    `{"events":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubReplier{}
			h := newTestHandler(t, svc)

			resp, err := h.Handle(context.Background(), makeEvent(body))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "no text", parseBody[messageResponse](t, resp.Body).Message)
			require.Zero(t, svc.calls)
		})
	}
}

func TestHandle_SkippedOutcome(t *testing.T) {
	svc := &stubReplier{out: usecase.HandleOutput{Outcome: usecase.OutcomeSkipped, Reason: usecase.ErrorMalformedEvent}}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(`{"events":[{"replyToken":"rt-1","message":{"text":" "}}]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no text", parseBody[messageResponse](t, resp.Body).Message)
}

func TestHandle_InvalidBody(t *testing.T) {
	svc := &stubReplier{}
	h := newTestHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotEmpty(t, parseBody[errorResponse](t, resp.Body).Error)
	require.Zero(t, svc.calls)
}

func TestHandle_Base64Body(t *testing.T) {
	svc := &stubReplier{out: usecase.HandleOutput{Outcome: usecase.OutcomeCompleted}}
	h := newTestHandler(t, svc)

	req := makeEvent(base64.StdEncoding.EncodeToString([]byte(webhookBody)))
	req.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "rt-1", svc.in.ReplyToken)

	req = makeEvent("%%%")
	req.IsBase64Encoded = true
	resp, err = h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandle_MapsErrorsTo500(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "model",
			err:  &usecase.Error{Code: usecase.ErrorModelInvocation, Reason: "model_invoke", Err: errors.New("ThrottlingException")},
			want: "ThrottlingException",
		},
		{
			name: "store",
			err:  &usecase.Error{Code: usecase.ErrorStoreUnavailable, Reason: "history_load", Err: errors.New("ResourceNotFoundException")},
			want: "ResourceNotFoundException",
		},
		{
			name: "reply without cause",
			err:  &usecase.Error{Code: usecase.ErrorReplyDelivery, Reason: "reply_send"},
			want: "reply_send",
		},
		{name: "unexpected", err: errors.New("boom"), want: "boom"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubReplier{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(webhookBody))
			require.NoError(t, err)
			require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			require.Equal(t, "application/json", resp.Headers["Content-Type"])
			require.Equal(t, tc.want, parseBody[errorResponse](t, resp.Body).Error)
		})
	}
}

func TestHandle_RecoversPanic(t *testing.T) {
	h := newTestHandler(t, &stubReplier{panic: "nil map write"})

	resp, err := h.Handle(context.Background(), makeEvent(webhookBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "nil map write", parseBody[errorResponse](t, resp.Body).Error)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubReplier{out: usecase.HandleOutput{Outcome: usecase.OutcomeCompleted}})

	event := makeEvent(webhookBody)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesDistinctCorrelationIDs(t *testing.T) {
	h := newTestHandler(t, &stubReplier{out: usecase.HandleOutput{Outcome: usecase.OutcomeCompleted}})

	first, err := h.Handle(context.Background(), makeEvent(webhookBody))
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), makeEvent(webhookBody))
	require.NoError(t, err)
	require.NotEqual(t, first.Headers["X-Correlation-Id"], second.Headers["X-Correlation-Id"])
}
