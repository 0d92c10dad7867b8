package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sfu/internal/adapters/signal"
	"github.com/dkeye/sfu/internal/app/orch"
	"github.com/dkeye/sfu/internal/app/sfu"
	"github.com/dkeye/sfu/internal/config"
)

type submitFunc func(ctx context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error)

func (f submitFunc) Submit(ctx context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
	return f(ctx, req)
}

const testAnswer = `{"type":"answer","sdp":"v=0\r\n"}`

func testRouter(t *testing.T, sub signal.Submitter, limit int) *gin.Engine {
	t.Helper()
	cfg := &config.Config{Mode: "test", Secret: "test-secret", ReadLimit: 1 << 16, PingPeriod: time.Second}
	s := signal.NewSignaler(sub, signal.NewOfferRateLimiter(limit, time.Minute), 200*time.Millisecond)
	return SetupRouter(context.Background(), cfg, s)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	r.ServeHTTP(w, req)
	return w
}

func TestOfferHandler(t *testing.T) {
	var got orch.SignalingProtocolMessage
	ok := submitFunc(func(_ context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
		got = req
		return orch.SignalingProtocolMessage{Kind: orch.KindAnswer, Payload: []byte(testAnswer)}, nil
	})

	tests := []struct {
		name        string
		sub         signal.Submitter
		path        string
		body        string
		wantStatus  int
		wantBody    string
		wantPayload string
	}{
		{
			name:        "json offer",
			sub:         ok,
			path:        "/offer/10/2",
			body:        `{"type":"offer","sdp":"v=0"}`,
			wantStatus:  http.StatusOK,
			wantBody:    testAnswer,
			wantPayload: `{"type":"offer","sdp":"v=0"}`,
		},
		{
			name:        "raw sdp offer",
			sub:         ok,
			path:        "/offer/10/2",
			body:        "v=0\r\n",
			wantStatus:  http.StatusOK,
			wantBody:    testAnswer,
			wantPayload: `{"type":"offer","sdp":"v=0\r\n"}`,
		},
		{
			name:       "bad session id",
			sub:        ok,
			path:       "/offer/abc/2",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad endpoint id",
			sub:        ok,
			path:       "/offer/1/-2",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			sub:        ok,
			path:       "/offer/1/2",
			body:       "  ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "rejected offer",
			sub: submitFunc(func(_ context.Context, _ orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
				return orch.SignalingProtocolMessage{Kind: orch.KindErr, Payload: []byte("remote description without mid value")}, nil
			}),
			path:       "/offer/1/2",
			body:       `{"type":"offer","sdp":"v=0"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"remote description without mid value"}`,
		},
		{
			name: "no route",
			sub: submitFunc(func(_ context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
				return orch.SignalingProtocolMessage{}, fmt.Errorf("%w %d", sfu.ErrNoRoute, req.SessionID)
			}),
			path:       "/offer/1/2",
			body:       `{"type":"offer","sdp":"v=0"}`,
			wantStatus: http.StatusNotAcceptable,
		},
		{
			name: "timeout",
			sub: submitFunc(func(ctx context.Context, _ orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
				<-ctx.Done()
				return orch.SignalingProtocolMessage{}, ctx.Err()
			}),
			path:       "/offer/1/2",
			body:       `{"type":"offer","sdp":"v=0"}`,
			wantStatus: http.StatusGatewayTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = orch.SignalingProtocolMessage{}
			w := do(testRouter(t, tt.sub, 5), http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
			if tt.wantPayload != "" {
				assert.Equal(t, orch.KindOffer, got.Kind)
				assert.EqualValues(t, 10, got.SessionID)
				assert.EqualValues(t, 2, got.EndpointID)
				assert.JSONEq(t, tt.wantPayload, string(got.Payload))
			}
		})
	}
}

func TestOfferHandler_RateLimited(t *testing.T) {
	sub := submitFunc(func(_ context.Context, _ orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
		return orch.SignalingProtocolMessage{Kind: orch.KindAnswer, Payload: []byte(testAnswer)}, nil
	})
	r := testRouter(t, sub, 1)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/offer/1/1", `{"type":"offer","sdp":"v=0"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/offer/1/1", `{"type":"offer","sdp":"v=0"}`).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/offer/1/2", `{"type":"offer","sdp":"v=0"}`).Code)
}

func TestOfferHandler_BodyTooLarge(t *testing.T) {
	called := false
	sub := submitFunc(func(_ context.Context, _ orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
		called = true
		return orch.SignalingProtocolMessage{Kind: orch.KindAnswer, Payload: []byte(testAnswer)}, nil
	})
	r := testRouter(t, sub, 5)

	body := "v=0\r\n" + strings.Repeat("a=x-pad:0123456789abcdef\r\n", maxOfferBytes/16)
	require.Greater(t, len(body), maxOfferBytes)

	w := do(r, http.MethodPost, "/offer/1/1", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, called, "oversized offers are never submitted")

	w = do(r, http.MethodPost, "/offer/1/1", body[:maxOfferBytes])
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestLeaveHandler(t *testing.T) {
	var kinds []orch.MessageKind
	sub := submitFunc(func(_ context.Context, req orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
		kinds = append(kinds, req.Kind)
		return orch.SignalingProtocolMessage{Kind: orch.KindOk}, nil
	})
	r := testRouter(t, sub, 5)

	w := do(r, http.MethodPost, "/leave/3/4", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, []orch.MessageKind{orch.KindLeave}, kinds)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/leave/x/4", "").Code)
}

func TestRouter_Misc(t *testing.T) {
	r := testRouter(t, submitFunc(func(context.Context, orch.SignalingProtocolMessage) (orch.SignalingProtocolMessage, error) {
		return orch.SignalingProtocolMessage{Kind: orch.KindOk}, nil
	}), 5)

	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	_, err := uuid.Parse(w.Header().Get(requestIDHeader))
	assert.NoError(t, err, "request id header is set")
	assert.Contains(t, w.Header().Get("Set-Cookie"), "SFUSessions=")

	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sfu_leaves_total")

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/offer/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/leave/1/2/3", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/nope", "").Code)
}

func TestRequestIDMiddleware_KeepsValidID(t *testing.T) {
	r := testRouter(t, nil, 5)
	id := uuid.NewString()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	r.ServeHTTP(w, req)

	assert.Equal(t, id, w.Header().Get(requestIDHeader))
}
