package tests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-kiosk/internal/kiosk"
	"github.com/EternisAI/silo-kiosk/systemtest/backend"
)

type Env struct {
	Router   *gin.Engine
	Kiosk    *kiosk.Kiosk
	Backend  *backend.Server
	DeviceID string
	PIN      string
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
