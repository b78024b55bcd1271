package listener

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/tagwatch/pkg/reader"
	"github.com/HerbHall/tagwatch/pkg/reader/readertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMux(t *testing.T, h *harness) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(h.c, zaptest.NewLogger(t)).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_StartStatusStop(t *testing.T) {
	h := newHarness(t, Config{Port: 10010})
	mux := newTestMux(t, h)

	rec := do(t, mux, http.MethodGet, "/api/v1/listener/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, 10010, st.Port)
	assert.Equal(t, VariantNotify, st.Variant)

	rec = do(t, mux, http.MethodPost, "/api/v1/listener/start")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "listening", st.State)

	rec = do(t, mux, http.MethodPost, "/api/v1/listener/start")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = do(t, mux, http.MethodPost, "/api/v1/listener/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	var stop StopResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stop))
	assert.Equal(t, "idle", stop.Status.State)
	assert.Empty(t, stop.TeardownErrors)
}

func TestHandler_StartFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, Config{})
	h.sess.Fail(readertest.CallStartListenerThread, reader.StatusListenFailed, "bind: address already in use")
	mux := newTestMux(t, h)

	rec := do(t, mux, http.MethodPost, "/api/v1/listener/start")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var problem map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	assert.Equal(t, float64(http.StatusBadGateway), problem["status"])
	assert.Contains(t, problem["detail"], "bind: address already in use")
	assert.Equal(t, "/api/v1/listener/start", problem["instance"])
}

func TestHandler_StopReportsTeardownErrors(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.sess.Fail(readertest.CallStopNotification, reader.StatusNotRunning, "notification not running")
	mux := newTestMux(t, h)

	rec := do(t, mux, http.MethodPost, "/api/v1/listener/stop")

	require.Equal(t, http.StatusOK, rec.Code)
	var stop StopResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stop))
	assert.Equal(t, "idle", stop.Status.State)
	require.Len(t, stop.TeardownErrors, 1)
	assert.Contains(t, stop.TeardownErrors[0], "notification")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, Config{})
	rec := do(t, newTestMux(t, h), http.MethodGet, "/api/v1/listener/start")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
