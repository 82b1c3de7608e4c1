package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-kiosk/internal/api/http/dto"
)

func TestOfflineDelivery(t *testing.T, env *Env) {
	before := len(env.Backend.Store.Tickets())

	env.Backend.SetDown(true)
	require.Eventually(t, func() bool { return !env.Kiosk.Monitor.Reachable() }, 3*time.Second, 10*time.Millisecond)

	ids := make([]string, 0, 3)
	for _, subject := range []string{"Badge printer offline", "Door stuck", "Screen flicker"} {
		rr := doJSON(env.Router, http.MethodPost, "/api/v1/tickets", "", map[string]any{"subject": subject})
		require.Equal(t, http.StatusAccepted, rr.Code)

		var resp dto.SubmitTicketResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		ids = append(ids, resp.ID)
	}

	// sweeps keep running while down and must not lose anything
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 3, env.Kiosk.Queue.Len())
	assert.Len(t, env.Backend.Store.Tickets(), before)

	env.Backend.SetDown(false)
	require.Eventually(t, func() bool { return env.Kiosk.Queue.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	delivered := env.Backend.Store.Tickets()[before:]
	require.Len(t, delivered, 3)
	for i, ticket := range delivered {
		assert.Equal(t, ids[i], ticket.ID)
	}
}
