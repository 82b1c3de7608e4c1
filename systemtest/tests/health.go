package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-kiosk/internal/kiosk"
)

func TestHealthCheck(t *testing.T, env *Env) {
	rr := doJSON(env.Router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(env.Router, http.MethodGet, "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var status kiosk.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.CanOperate)
	assert.True(t, status.Reachable)
	assert.True(t, status.CanOperateOffline)
}
