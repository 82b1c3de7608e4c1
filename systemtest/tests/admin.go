package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-kiosk/internal/activation"
	"github.com/EternisAI/silo-kiosk/internal/api/http/dto"
	"github.com/EternisAI/silo-kiosk/internal/configsync"
	"github.com/EternisAI/silo-kiosk/internal/devbackend"
)

func TestOfflineAdmin(t *testing.T, env *Env) {
	env.Backend.SetDown(true)
	defer env.Backend.SetDown(false)
	require.Eventually(t, func() bool { return !env.Kiosk.Monitor.Reachable() }, 3*time.Second, 10*time.Millisecond)

	rr := doJSON(env.Router, http.MethodPost, "/api/v1/admin/login", "", dto.LoginRequest{PIN: env.PIN})
	require.Equal(t, http.StatusOK, rr.Code)

	var session dto.LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))
	assert.True(t, session.Offline)

	rr = doJSON(env.Router, http.MethodGet, "/api/v1/queue", session.Token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(env.Router, http.MethodPatch, "/api/v1/config", session.Token, map[string]any{"currentStatus": "closed"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEqual(t, string(configsync.StatusSynced), decodeEdit(t, rr.Body.Bytes()).SyncStatus)

	rr = doJSON(env.Router, http.MethodPost, "/api/v1/admin/login", "", dto.LoginRequest{PIN: "0000"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	env.Backend.SetDown(false)
	require.Eventually(t, func() bool {
		return env.Kiosk.Sync.Status() == configsync.StatusSynced
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "closed", env.Backend.Store.Config().CurrentStatus)

	rr = doJSON(env.Router, http.MethodPost, "/api/v1/admin/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRevocation(t *testing.T, env *Env) {
	require.NoError(t, env.Backend.Store.SetDeviceStatus(env.DeviceID, devbackend.DeviceStatusRevoked))

	rr := doJSON(env.Router, http.MethodPost, "/api/v1/activation/check", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var status activation.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, activation.StateRevoked, status.State)

	env.Backend.SetDown(true)
	defer env.Backend.SetDown(false)

	rr = doJSON(env.Router, http.MethodPost, "/api/v1/tickets", "", map[string]any{"subject": "Still broken"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func decodeEdit(t *testing.T, body []byte) dto.ConfigEditResponse {
	t.Helper()
	var resp dto.ConfigEditResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}
