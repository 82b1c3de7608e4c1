package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-kiosk/internal/api/http/dto"
	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/configsync"
	"github.com/EternisAI/silo-kiosk/internal/connectivity"
	"github.com/EternisAI/silo-kiosk/internal/devbackend"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
	"github.com/EternisAI/silo-kiosk/internal/securestore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store  *devbackend.Store
	kiosk  *kiosk.Kiosk
	engine *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := devbackend.NewStore(devbackend.Config{
		Devices: []devbackend.DeviceConfig{{ID: "kiosk-lobby", Token: "device-token"}},
		PINs: []devbackend.PINConfig{
			{PIN: "1111", Scope: "global", Permissions: []string{"queue:view", "queue:retry", "config:view", "config:edit"}},
			{PIN: "2222", Scope: "device", Permissions: []string{"queue:view", "config:edit"}},
		},
		InitialState: devbackend.ConfigSeed{CurrentStatus: "open", BrandingName: "Lobby"},
	})
	require.NoError(t, err)

	backendEngine := gin.New()
	devbackend.SetupRoute(backendEngine, devbackend.NewHandler(store, ""))
	server := httptest.NewServer(backendEngine)
	t.Cleanup(server.Close)

	k, err := kiosk.New(kiosk.Config{
		Backend: backend.Config{
			URL:         server.URL,
			DeviceID:    "kiosk-lobby",
			DeviceToken: "device-token",
			Timeout:     2 * time.Second,
		},
		Storage:      kiosk.StorageConfig{DataDir: t.TempDir()},
		Connectivity: connectivity.Config{Interval: 10 * time.Second},
	}, kiosk.WithClock(clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))),
		kiosk.WithSecureStorage(securestore.NewMemory()))
	require.NoError(t, err)

	engine := gin.New()
	SetupRoute(engine, &Services{Kiosk: k})
	return &fixture{store: store, kiosk: k, engine: engine}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.kiosk.Start(context.Background())
	t.Cleanup(f.kiosk.Stop)
	require.Eventually(t, func() bool {
		return f.kiosk.Activation.CanOperate() && f.kiosk.Sync.Status() == configsync.StatusSynced
	}, 3*time.Second, 5*time.Millisecond)
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := nethttp.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T, pin string) dto.LoginResponse {
	t.Helper()
	w := f.do(nethttp.MethodPost, "/api/v1/admin/login", "", dto.LoginRequest{PIN: pin})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())

	var resp dto.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(nethttp.MethodGet, "/health", "", nil)

	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSubmitTicketRequiresActivation(t *testing.T) {
	f := newFixture(t)

	w := f.do(nethttp.MethodPost, "/api/v1/tickets", "", map[string]any{"subject": "Printer jam"})

	assert.Equal(t, nethttp.StatusForbidden, w.Code)
	assert.Zero(t, f.kiosk.Queue.Len())
}

func TestSubmitTicketDelivers(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	w := f.do(nethttp.MethodPost, "/api/v1/tickets", "", map[string]any{"subject": "Printer jam"})
	require.Equal(t, nethttp.StatusAccepted, w.Code)

	var resp dto.SubmitTicketResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)

	require.Eventually(t, func() bool { return len(f.store.Tickets()) == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, resp.ID, f.store.Tickets()[0].ID)
}

func TestSubmitTicketRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	assert.Equal(t, nethttp.StatusBadRequest, f.do(nethttp.MethodPost, "/api/v1/tickets", "", map[string]any{}).Code)
	assert.Equal(t, nethttp.StatusBadRequest, f.do(nethttp.MethodPost, "/api/v1/tickets", "", []string{"x"}).Code)
}

func TestQueueRoutesRequireSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	assert.Equal(t, nethttp.StatusUnauthorized, f.do(nethttp.MethodGet, "/api/v1/queue", "", nil).Code)
	assert.Equal(t, nethttp.StatusUnauthorized, f.do(nethttp.MethodGet, "/api/v1/queue", "forged", nil).Code)

	session := f.login(t, "1111")
	assert.True(t, session.Offline)
	assert.Equal(t, "global", session.PinType)

	w := f.do(nethttp.MethodGet, "/api/v1/queue", session.Token, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var queue dto.QueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &queue))
	assert.Zero(t, queue.Count)

	w = f.do(nethttp.MethodPost, "/api/v1/queue/retry", session.Token, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var retry dto.RetryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &retry))
	assert.Zero(t, retry.Pending)
}

func TestDevicePINCannotEditConfig(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	session := f.login(t, "2222")
	assert.Equal(t, "device", session.PinType)
	assert.NotContains(t, session.Permissions, "config:edit")

	w := f.do(nethttp.MethodPatch, "/api/v1/config", session.Token, map[string]any{"currentStatus": "closed"})
	assert.Equal(t, nethttp.StatusForbidden, w.Code)
	assert.Equal(t, nethttp.StatusOK, f.do(nethttp.MethodGet, "/api/v1/queue", session.Token, nil).Code)
}

func TestConfigEdit(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	session := f.login(t, "1111")

	w := f.do(nethttp.MethodPatch, "/api/v1/config", session.Token, map[string]any{"colour": "red"})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	w = f.do(nethttp.MethodPatch, "/api/v1/config", session.Token, map[string]any{"currentStatus": "closed"})
	require.Equal(t, nethttp.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		return f.kiosk.Sync.Status() == configsync.StatusSynced
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, "closed", f.store.Config().CurrentStatus)

	w = f.do(nethttp.MethodGet, "/api/v1/config", "", nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	var cfg dto.ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, "closed", cfg.CurrentStatus)
	assert.Equal(t, "synced", cfg.SyncStatus)
	assert.NotContains(t, w.Body.String(), "pinHashes")
}

func TestLogoutEndsSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	session := f.login(t, "1111")

	assert.Equal(t, nethttp.StatusOK, f.do(nethttp.MethodGet, "/api/v1/admin/session", session.Token, nil).Code)
	assert.Equal(t, nethttp.StatusNoContent, f.do(nethttp.MethodPost, "/api/v1/admin/logout", "", nil).Code)
	assert.Equal(t, nethttp.StatusUnauthorized, f.do(nethttp.MethodGet, "/api/v1/admin/session", session.Token, nil).Code)
}

func TestLoginRejectsWrongPIN(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	w := f.do(nethttp.MethodPost, "/api/v1/admin/login", "", dto.LoginRequest{PIN: "9999"})
	assert.Equal(t, nethttp.StatusUnauthorized, w.Code)

	w = f.do(nethttp.MethodPost, "/api/v1/admin/login", "", map[string]string{})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestActivationCheckReportsRevocation(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	require.NoError(t, f.store.SetDeviceStatus("kiosk-lobby", devbackend.DeviceStatusRevoked))

	w := f.do(nethttp.MethodPost, "/api/v1/activation/check", "", nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"revoked"`)

	w = f.do(nethttp.MethodPost, "/api/v1/tickets", "", map[string]any{"subject": "Printer jam"})
	assert.Equal(t, nethttp.StatusForbidden, w.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, server.URL+"/api/v1/events", nil)
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), "event:") {
				return strings.TrimPrefix(lines.Text(), "event:")
			}
		}
		return ""
	}

	require.Equal(t, "status", next())

	_, err = f.kiosk.SubmitTicket(context.Background(), map[string]any{"subject": "Printer jam"})
	require.NoError(t, err)
	for {
		event := next()
		require.NotEmpty(t, event, "stream ended before the queue event")
		if event == kiosk.EventQueue {
			break
		}
	}
}
