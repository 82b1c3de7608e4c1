package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		URL:         server.URL,
		DeviceID:    "kiosk-lobby",
		DeviceToken: "device-token",
		Timeout:     time.Second,
	})
}

func TestSubmitTicketSendsIdentityHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/kiosk/tickets", r.URL.Path)
		assert.Equal(t, "Bearer device-token", r.Header.Get("Authorization"))
		assert.Equal(t, "kiosk-lobby", r.Header.Get(HeaderDeviceID))
		assert.Equal(t, "sub-1", r.Header.Get(HeaderIdempotencyKey))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Printer jammed", payload["subject"])
		w.WriteHeader(http.StatusCreated)
	})

	err := client.SubmitTicket(context.Background(), "sub-1", map[string]any{"subject": "Printer jammed"})
	assert.NoError(t, err)
}

func TestSubmitTicketNon2xxIsStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	err := client.SubmitTicket(context.Background(), "sub-1", map[string]any{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestTransportFailureIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(Config{URL: server.URL, Timeout: time.Second})

	err := client.SubmitTicket(context.Background(), "sub-1", map[string]any{})
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = client.FetchConfig(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestFetchConfig(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":7,"currentStatus":"open","features":{"printing":true},
			"pinHashes":[{"scope":"global","hash":"$2a$10$x","permissions":["queue:view"]}]}`))
	})

	cfg, err := client.FetchConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Version)
	assert.Equal(t, "open", cfg.CurrentStatus)
	assert.True(t, cfg.Features["printing"])
	require.Len(t, cfg.PinHashes, 1)
	assert.Equal(t, ScopeGlobal, cfg.PinHashes[0].Scope)
}

func TestPushConfig(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantVersion int64
		wantErr     error
	}{
		{name: "accepted", status: http.StatusOK, body: `{"version":8}`, wantVersion: 8},
		{name: "stale", status: http.StatusConflict, body: `{"error":"stale"}`, wantErr: ErrVersionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				var req ConfigPushRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, int64(7), req.BaseVersion)
				assert.Equal(t, "closed", req.Fields["currentStatus"])
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			version, err := client.PushConfig(context.Background(), 7, map[string]any{"currentStatus": "closed"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestValidatePIN(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req PINValidateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.PIN {
		case "1234":
			w.Write([]byte(`{"valid":true,"token":"online-token","permissions":["queue:view"],"expires_at":"2026-03-01T13:00:00Z"}`))
		case "0000":
			w.Write([]byte(`{"valid":false}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	ctx := context.Background()

	result, err := client.ValidatePIN(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "online-token", result.Token)
	assert.Equal(t, []string{"queue:view"}, result.Permissions)

	_, err = client.ValidatePIN(ctx, "0000")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = client.ValidatePIN(ctx, "9999")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCheckActivationKeepsStatusCode(t *testing.T) {
	status := http.StatusOK
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"status":"activated","message":"ok"}`))
		}
	})
	ctx := context.Background()

	resp, err := client.CheckActivation(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "activated", resp.Status)

	status = http.StatusForbidden
	resp, err = client.CheckActivation(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Status)
}
