package systemtest

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/EternisAI/silo-kiosk/internal/api/http"
	kioskbackend "github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/configsync"
	"github.com/EternisAI/silo-kiosk/internal/connectivity"
	"github.com/EternisAI/silo-kiosk/internal/devbackend"
	"github.com/EternisAI/silo-kiosk/internal/dispatch"
	"github.com/EternisAI/silo-kiosk/internal/kiosk"
	"github.com/EternisAI/silo-kiosk/systemtest/backend"
	"github.com/EternisAI/silo-kiosk/systemtest/tests"
)

const (
	deviceID    = "kiosk-system"
	deviceToken = "system-device-token"
	adminPIN    = "4321"
	passphrase  = "system-test-passphrase"
)

func TestSystemIntegration(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv, err := backend.Start(devbackend.Config{
		Devices: []devbackend.DeviceConfig{{ID: deviceID, Token: deviceToken}},
		PINs: []devbackend.PINConfig{{
			PIN:         adminPIN,
			Scope:       "global",
			Permissions: []string{"queue:view", "queue:retry", "config:view", "config:edit"},
		}},
		InitialState: devbackend.ConfigSeed{CurrentStatus: "open", BrandingName: "System"},
	})
	require.NoError(t, err)
	defer srv.Close()

	dataDir := t.TempDir()
	cfg := kiosk.Config{
		Backend: kioskbackend.Config{
			URL:         srv.URL,
			DeviceID:    deviceID,
			DeviceToken: deviceToken,
			Timeout:     time.Second,
		},
		Storage:      kiosk.StorageConfig{DataDir: dataDir, Passphrase: passphrase, WorkFactor: 10},
		Connectivity: connectivity.Config{Interval: 50 * time.Millisecond},
		Dispatch:     dispatch.Config{SweepInterval: 100 * time.Millisecond},
	}

	k, err := kiosk.New(cfg)
	require.NoError(t, err)
	k.Start(context.Background())
	defer k.Stop()

	require.Eventually(t, func() bool {
		return k.Activation.CanOperate() && k.Sync.Status() == configsync.StatusSynced
	}, 5*time.Second, 10*time.Millisecond)

	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{Kiosk: k})

	env := &tests.Env{
		Router:   engine,
		Kiosk:    k,
		Backend:  srv,
		DeviceID: deviceID,
		PIN:      adminPIN,
	}

	t.Run("HealthCheck", func(t *testing.T) { tests.TestHealthCheck(t, env) })
	t.Run("OfflineDelivery", func(t *testing.T) { tests.TestOfflineDelivery(t, env) })
	t.Run("OfflineAdmin", func(t *testing.T) { tests.TestOfflineAdmin(t, env) })
	t.Run("Revocation", func(t *testing.T) { tests.TestRevocation(t, env) })
}
