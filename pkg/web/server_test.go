package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/store"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

type testEnv struct {
	server     *Server
	controller *race.Controller
	store      *store.Store
}

type fixedTiming struct {
	mode timing.Mode
	gps  timing.GPSStatus
}

func (f fixedTiming) Mode() timing.Mode           { return f.mode }
func (f fixedTiming) GPSStatus() timing.GPSStatus { return f.gps }

func newTestEnv(t *testing.T, tm TimingStatus) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctrl := race.NewController(race.Config{Clock: clockwork.NewFakeClock(), Logger: logger})

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	srv := NewServer(Config{
		Live:              ctrl,
		Store:             st,
		Timing:            tm,
		AdminUser:         "admin",
		AdminPasswordHash: string(hash),
		Logger:            logger,
	})
	return &testEnv{server: srv, controller: ctrl, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLiveData(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.controller.AssignRunner(model.Runner{ID: 1, Name: "Alice"}))

	rec := env.do(t, http.MethodGet, "/api/live_data", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap race.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "Alice", snap.CurrentRunner)
	assert.Equal(t, "ARMED", snap.State)
	assert.Equal(t, "SYSTEM", snap.TimingMode)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"current_runner", "elapsed_time", "last_run", "timing_mode", "gps_status"} {
		assert.Contains(t, raw, key)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/stats", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fastest_single_run":null,"fastest_average_time":null,"most_runs":null,"top_10_fastest":[]}`, rec.Body.String())

	ctx := t.Context()
	id, err := env.store.AddRunner(ctx, "Alice")
	require.NoError(t, err)
	_, err = env.store.AddRunTime(ctx, id, 7.4)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/stats", nil, false)
	var lb store.Leaderboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lb))
	require.NotNil(t, lb.FastestSingle)
	assert.Equal(t, "Alice", lb.FastestSingle.Name)
	assert.Len(t, lb.Top, 1)
}

func TestTimingStatus(t *testing.T) {
	tests := []struct {
		name      string
		timing    TimingStatus
		precision string
		mode      string
	}{
		{"gps", fixedTiming{timing.ModeGPS, timing.GPSStatus{Status: "LOCKED", Satellites: 8}}, "nanosecond", "GPS"},
		{"wired", fixedTiming{timing.ModeWired, timing.GPSStatus{Status: "UNAVAILABLE"}}, "nanosecond", "WIRED"},
		{"system", fixedTiming{timing.ModeSystem, timing.GPSStatus{Status: "SEARCHING", Satellites: 2}}, "millisecond", "SYSTEM"},
		{"from snapshot", nil, "millisecond", "SYSTEM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.timing)
			rec := env.do(t, http.MethodGet, "/api/timing_status", nil, false)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp TimingStatusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.mode, resp.TimingMode)
			assert.Equal(t, tt.precision, resp.Precision)
		})
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/admin/runners", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/admin/runners", nil)
	req.SetBasicAuth("admin", "wrong")
	wrong := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(wrong, req)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)

	rec = env.do(t, http.MethodGet, "/admin/runners", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	srv := NewServer(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	req := httptest.NewRequest(http.MethodGet, "/admin/runners", nil)
	req.SetBasicAuth("admin", "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminEditTimes(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/admin/runners", map[string]string{"name": "Alice"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var added struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))

	timeID, err := env.store.AddRunTime(t.Context(), added.ID, 7.4)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/admin/update_time", map[string]any{"id": timeID, "time": 7.1}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/admin/runners", nil, true)
	var runners []RunnerTimes
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runners))
	require.Len(t, runners, 1)
	require.Len(t, runners[0].Times, 1)
	assert.InDelta(t, 7.1, runners[0].Times[0].Time, 1e-9)

	rec = env.do(t, http.MethodPost, "/admin/update_time", map[string]any{"id": timeID, "time": -3}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/update_time", map[string]any{"id": timeID}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/delete_time", map[string]any{"id": timeID}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/delete_time", map[string]any{"id": timeID}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/delete_time", strings.NewReader("{"))
	req.SetBasicAuth("admin", "secret")
	bad := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestLiveStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var snap race.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "IDLE", snap.State)

	require.NoError(t, env.controller.AssignRunner(model.Runner{ID: 2, Name: "Bob"}))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "ARMED", snap.State)
	assert.Equal(t, "Bob", snap.CurrentRunner)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))
}
