package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/reachd/internal/reachmgr"
	"github.com/dmdmdm-nz/reachd/pkg/reachability"
	"github.com/dmdmdm-nz/reachd/pkg/reachability/reachabilitytest"
)

func newTestService(t *testing.T) (*Service, *reachmgr.Service, *reachabilitytest.Platform) {
	t.Helper()
	p := reachabilitytest.NewPlatform()
	p.SetInitialFlags(reachability.FlagReachable)
	rm := reachmgr.NewService(reachability.WithPlatform(p))
	t.Cleanup(func() { _ = rm.Close() })

	s := NewService("127.0.0.1", 0)
	s.AttachReachMgr(rm)
	return s, rm, p
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func waitObserved(t *testing.T, rm *reachmgr.Service, target reachability.Target) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := rm.Get(target)
		return ok && st.Observed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestService(t)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/health").Code)
}

func TestVersion(t *testing.T) {
	s, _, _ := newTestService(t)

	w := do(t, s.Handler(), http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, w.Code)

	var info VersionInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.NotEmpty(t, info.Version)
}

func TestAddAndGetTarget(t *testing.T) {
	s, rm, _ := newTestService(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/targets/Example.com")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var created reachmgr.TargetStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "example.com", created.Target)

	waitObserved(t, rm, reachability.HostTarget("example.com"))

	w = do(t, h, http.MethodGet, "/status/example.com")
	require.Equal(t, http.StatusOK, w.Code)
	var st reachmgr.TargetStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, reachability.Reachable(reachability.EthernetOrWiFi), st.Status)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/targets/example.com").Code)
}

func TestStatusBodyUsesStatusNames(t *testing.T) {
	s, rm, _ := newTestService(t)
	_, err := rm.AddTarget(reachability.AnyTarget)
	require.NoError(t, err)
	waitObserved(t, rm, reachability.AnyTarget)

	w := do(t, s.Handler(), http.MethodGet, "/status/_any")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"reachable-ethernet-or-wifi"`)
	assert.Contains(t, w.Body.String(), `"target":"_any"`)
}

func TestListStatus(t *testing.T) {
	s, rm, _ := newTestService(t)
	for _, host := range []string{"b.example", "a.example"} {
		_, err := rm.AddTarget(reachability.HostTarget(host))
		require.NoError(t, err)
	}

	w := do(t, s.Handler(), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var list []reachmgr.TargetStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "a.example", list[0].Target)
}

func TestGetTarget_NotFound(t *testing.T) {
	s, _, _ := newTestService(t)

	w := do(t, s.Handler(), http.MethodGet, "/status/nonexistent.example")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "nonexistent.example")
}

func TestAddTarget_Invalid(t *testing.T) {
	s, _, _ := newTestService(t)

	w := do(t, s.Handler(), http.MethodPost, "/targets/bad%20host")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveTarget(t *testing.T) {
	s, rm, p := newTestService(t)
	h := s.Handler()

	_, err := rm.AddTarget(reachability.HostTarget("example.com"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/targets/example.com").Code)
	assert.Equal(t, 1, p.Last().Releases())
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/targets/example.com").Code)
}

func TestReady(t *testing.T) {
	s, rm, _ := newTestService(t)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready").Code)

	_, err := rm.AddTarget(reachability.AnyTarget)
	require.NoError(t, err)
	waitObserved(t, rm, reachability.AnyTarget)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready").Code)
}

func TestReady_UnobservedTarget(t *testing.T) {
	s := NewService("127.0.0.1", 0)
	s.AttachReachMgr(&staticService{statuses: []reachmgr.TargetStatus{{Target: "example.com"}}})

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Handler(), http.MethodGet, "/ready").Code)
}

func TestMetricsRoute(t *testing.T) {
	s, _, _ := newTestService(t)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/metrics").Code)

	s.AttachMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("reachd_targets 0\n"))
	}))
	w := do(t, s.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reachd_targets 0\n", w.Body.String())
}

func TestStatusStream(t *testing.T) {
	s, rm, p := newTestService(t)
	_, err := rm.AddTarget(reachability.HostTarget("example.com"))
	require.NoError(t, err)
	sub := p.Last()
	waitObserved(t, rm, reachability.HostTarget("example.com"))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/status", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	var ev reachmgr.StatusEvent
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, reachmgr.TargetAdded, ev.Type)
	assert.Equal(t, "example.com", ev.Target.Target)

	sub.Emit(reachability.FlagReachable | reachability.FlagIsWWAN)
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, reachmgr.StatusChanged, ev.Type)
	assert.Equal(t, reachability.Reachable(reachability.Cellular), ev.Target.Status)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
}

func TestStatusStream_Filter(t *testing.T) {
	s, rm, _ := newTestService(t)
	for _, host := range []string{"a.example", "b.example"} {
		_, err := rm.AddTarget(reachability.HostTarget(host))
		require.NoError(t, err)
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/status?target=B.example", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	var ev reachmgr.StatusEvent
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, "b.example", ev.Target.Target)
}

func TestStatusStream_BadFilter(t *testing.T) {
	s, _, _ := newTestService(t)

	w := do(t, s.Handler(), http.MethodGet, "/ws/status?target=bad%20host")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartAndClose(t *testing.T) {
	s, _, _ := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.NoError(t, s.Close())
}

type staticService struct {
	statuses []reachmgr.TargetStatus
}

func (s *staticService) Snapshot() []reachmgr.TargetStatus { return s.statuses }

func (s *staticService) Get(reachability.Target) (reachmgr.TargetStatus, bool) {
	return reachmgr.TargetStatus{}, false
}

func (s *staticService) AddTarget(reachability.Target) (reachmgr.TargetStatus, error) {
	return reachmgr.TargetStatus{}, reachmgr.ErrClosed
}

func (s *staticService) RemoveTarget(reachability.Target) error {
	return reachmgr.ErrTargetNotFound
}

func (s *staticService) Subscribe() (<-chan reachmgr.StatusEvent, func()) {
	ch := make(chan reachmgr.StatusEvent)
	close(ch)
	return ch, func() {}
}
