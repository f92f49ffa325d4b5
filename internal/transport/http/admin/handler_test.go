package adminhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quorum/internal/budget"
	"quorum/internal/config/loader"
	"quorum/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeControls struct {
	enabled bool
}

func (f *fakeControls) Snapshot() loader.Controls { return loader.Controls{Enabled: f.enabled} }
func (f *fakeControls) SetEnabled(enabled bool)   { f.enabled = enabled }

type fakeStore struct {
	store.Store
	agents    []store.AgentRecord
	positions map[string][]store.PositionRecord
}

func (f *fakeStore) ListAgents(context.Context) ([]store.AgentRecord, error) {
	return f.agents, nil
}

func (f *fakeStore) ListPositions(_ context.Context, name string) ([]store.PositionRecord, error) {
	return f.positions[name], nil
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.Register(router.Group("/api"))
	return router
}

func TestHandleStatus(t *testing.T) {
	gov := budget.NewGovernor(0.80)
	controls := &fakeControls{enabled: true}
	router := newTestRouter(NewHandler(&fakeStore{}, gov, controls, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, gjson.Get(body, "trading_enabled").Bool())
	assert.Equal(t, 0.80, gjson.Get(body, "budget.ceiling_usd").Float())
}

func TestHandleSetBudget_ClampsToFloor(t *testing.T) {
	gov := budget.NewGovernor(0.80)
	router := newTestRouter(NewHandler(&fakeStore{}, gov, &fakeControls{}, nil))

	payload, _ := json.Marshal(map[string]float64{"daily_ceiling_usd": 0.01})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/budget", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, budget.MinCeilingUSD, gjson.Get(w.Body.String(), "applied_usd").Float())
	assert.Equal(t, budget.MinCeilingUSD, gov.Snapshot().CeilingUSD)
}

func TestHandleAgents_ComputesEquityAtCost(t *testing.T) {
	st := &fakeStore{
		agents: []store.AgentRecord{{Name: "momentum", Cash: 500, InitialCapital: 1000}},
		positions: map[string][]store.PositionRecord{
			"momentum": {{AgentName: "momentum", Symbol: "AAPL", Quantity: 2, AvgEntryPrice: 150}},
		},
	}
	router := newTestRouter(NewHandler(st, budget.NewGovernor(0.80), &fakeControls{}, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "momentum", gjson.Get(body, "agents.0.name").String())
	assert.Equal(t, 800.0, gjson.Get(body, "agents.0.equity").Float())
	assert.Equal(t, int64(1), gjson.Get(body, "agents.0.positions.#").Int())
}

func TestHandleTradingToggle(t *testing.T) {
	controls := &fakeControls{enabled: true}
	router := newTestRouter(NewHandler(&fakeStore{}, budget.NewGovernor(0.80), controls, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/trading/disable", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, controls.enabled)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/trading/enable", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, controls.enabled)
}
