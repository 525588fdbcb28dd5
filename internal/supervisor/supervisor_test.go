// ABOUTME: Tests for the supervisory client against a fake controller
// ABOUTME: Covers enablement, metrics, heartbeat payloads, and restart handling

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-runtime/internal/config"
)

type fakeController struct {
	mu         sync.Mutex
	heartbeats []Heartbeat
	rawBodies  [][]byte
	polls      int
	update     ConfigUpdate
	status     int
}

func (f *fakeController) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /instances/inst-1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var hb Heartbeat
		assert.NoError(t, json.Unmarshal(body, &hb))
		f.mu.Lock()
		f.heartbeats = append(f.heartbeats, hb)
		f.rawBodies = append(f.rawBodies, body)
		status := f.status
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	})
	mux.HandleFunc("GET /instances/inst-1/config", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.polls++
		update := f.update
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(update)
	})
	return mux
}

func newTestClient(t *testing.T, ctrl *fakeController, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(ctrl.handler(t))
	t.Cleanup(srv.Close)

	c := New(config.PlatformConfig{
		Endpoint:          srv.URL + "/",
		InstanceID:        "inst-1",
		HeartbeatInterval: config.Duration(20 * time.Millisecond),
		ActiveSessionTTL:  config.Seconds(60),
		ActiveSessionMax:  100,
	}, nil, opts...)
	t.Cleanup(c.Close)
	return c
}

func TestClient_DisabledIsNoop(t *testing.T) {
	c := New(config.PlatformConfig{Endpoint: "http://controller"}, nil)
	defer c.Close()

	assert.False(t, c.Enabled())
	c.RecordRequest("s1")
	assert.Equal(t, int64(0), c.Snapshot().TotalRequests)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx))
}

func TestClient_RecordRequest(t *testing.T) {
	c := newTestClient(t, &fakeController{})

	c.RecordRequest("s1")
	c.RecordRequest("s1")
	c.RecordRequest("s2")

	m := c.Snapshot()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, 2, m.ActiveSessions)
	assert.Greater(t, m.MemoryUsageMB, 0)
}

func TestClient_SendHeartbeat(t *testing.T) {
	ctrl := &fakeController{}
	c := newTestClient(t, ctrl)
	c.RecordRequest("s1")

	require.NoError(t, c.SendHeartbeat(context.Background()))

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Len(t, ctrl.heartbeats, 1)
	hb := ctrl.heartbeats[0]
	assert.Equal(t, "running", hb.Status)
	assert.Equal(t, int64(1), hb.Metrics.TotalRequests)
	assert.Equal(t, 1, hb.Metrics.ActiveSessions)
	_, err := time.Parse(time.RFC3339, hb.Timestamp)
	assert.NoError(t, err)

	// Controllers decode memory_usage_mb as an integer.
	var wire struct {
		Metrics struct {
			MemoryUsageMB json.RawMessage `json:"memory_usage_mb"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(ctrl.rawBodies[0], &wire))
	assert.NotContains(t, string(wire.Metrics.MemoryUsageMB), ".")
	var mb int
	assert.NoError(t, json.Unmarshal(wire.Metrics.MemoryUsageMB, &mb))
	assert.Greater(t, mb, 0)
}

func TestClient_SendHeartbeatNon200(t *testing.T) {
	ctrl := &fakeController{status: http.StatusServiceUnavailable}
	c := newTestClient(t, ctrl)
	assert.Error(t, c.SendHeartbeat(context.Background()))
}

func TestClient_RestartExits(t *testing.T) {
	var exitCode atomic.Int32
	exitCode.Store(-1)
	exited := make(chan struct{}, 1)

	ctrl := &fakeController{update: ConfigUpdate{Updated: true, Action: ActionRestart}}
	c := newTestClient(t, ctrl, WithExitFunc(func(code int) {
		exitCode.Store(int32(code))
		select {
		case exited <- struct{}{}:
		default:
		}
	}))

	c.Start(context.Background())
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("restart action did not trigger exit")
	}
	c.Stop()
	assert.Equal(t, int32(0), exitCode.Load())
}

func TestNew_DefaultExitIsProcessExit(t *testing.T) {
	c := New(config.PlatformConfig{}, nil)
	assert.Equal(t, reflect.ValueOf(os.Exit).Pointer(), reflect.ValueOf(c.exit).Pointer())
}

func TestClient_RestartExitsWithoutCancelling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ctxErrAtExit atomic.Value
	runReturned := make(chan struct{})
	exited := make(chan struct{}, 1)

	ctrl := &fakeController{update: ConfigUpdate{Updated: true, Action: ActionRestart}}
	c := newTestClient(t, ctrl, WithExitFunc(func(int) {
		select {
		case <-runReturned:
			ctxErrAtExit.Store("run returned before exit")
		default:
			ctxErrAtExit.Store(fmt.Sprint(ctx.Err()))
		}
		select {
		case exited <- struct{}{}:
		default:
		}
	}))

	go func() {
		defer close(runReturned)
		_ = c.Run(ctx)
	}()

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("restart action did not trigger exit")
	}
	assert.Equal(t, "<nil>", ctxErrAtExit.Load(), "exit must happen while the loop is still live")
	cancel()
	<-runReturned
}

func TestClient_NonRestartActionsIgnored(t *testing.T) {
	for _, update := range []ConfigUpdate{
		{Updated: true, Action: ActionReload},
		{Updated: false, Action: ActionRestart},
		{Updated: true, Action: ActionNone},
	} {
		var exits atomic.Int32
		ctrl := &fakeController{update: update}
		c := newTestClient(t, ctrl, WithExitFunc(func(int) { exits.Add(1) }))

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		require.NoError(t, c.Run(ctx))
		cancel()

		assert.Equal(t, int32(0), exits.Load(), "update %+v should not exit", update)
		ctrl.mu.Lock()
		assert.GreaterOrEqual(t, ctrl.polls, 1)
		assert.GreaterOrEqual(t, len(ctrl.heartbeats), 1)
		ctrl.mu.Unlock()
	}
}

func TestClient_UnreachableControllerKeepsRunning(t *testing.T) {
	c := New(config.PlatformConfig{
		Endpoint:          "http://127.0.0.1:1",
		InstanceID:        "inst-1",
		HeartbeatInterval: config.Duration(10 * time.Millisecond),
	}, nil)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, c.Run(ctx))
}

func TestClient_StopWithoutStart(t *testing.T) {
	c := New(config.PlatformConfig{}, nil)
	c.Stop()
	c.Close()
}
