package remote

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockModelServer answers every request with handler's response.
type mockModelServer struct {
	server   *httptest.Server
	requests atomic.Int32
	conns    atomic.Int32
}

func newMockModelServer(t *testing.T, handler func(req detectRequest) (*detectResponse, bool)) *mockModelServer {
	t.Helper()
	m := &mockModelServer{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.conns.Add(1)
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req detectRequest
			if err := msgpack.Unmarshal(data, &req); err != nil {
				return
			}
			m.requests.Add(1)

			resp, ok := handler(req)
			if !ok {
				return // drop the connection
			}
			if resp == nil {
				continue // never answer
			}
			out, _ := msgpack.Marshal(resp)
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockModelServer) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func testFrame() *detect.Frame {
	return &detect.Frame{Image: image.NewRGBA(image.Rect(0, 0, 64, 48)), Width: 64, Height: 48}
}

func score(v float64) *float64 { return &v }

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestClient_Detect(t *testing.T) {
	srv := newMockModelServer(t, func(req detectRequest) (*detectResponse, bool) {
		if req.Format != "jpeg" || len(req.Data) == 0 || req.Width != 64 || req.Height != 48 {
			return &detectResponse{Seq: req.Seq, Error: "bad request"}, true
		}
		return &detectResponse{Seq: req.Seq, Detections: []detect.Detection{
			{Label: "chair", Box: detect.Box{X: 1, Y: 2, Width: 10, Height: 20}, Confidence: score(0.9)},
			{Label: "person", Box: detect.Box{X: 30, Y: 2, Width: 10, Height: 40}},
		}}, true
	})

	c, err := New(Config{URL: srv.url()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	dets, err := c.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2", len(dets))
	}
	if dets[0].Label != "chair" || dets[0].Box.Height != 20 || dets[0].Confidence == nil || *dets[0].Confidence != 0.9 {
		t.Errorf("first detection = %+v", dets[0])
	}
	if dets[1].Confidence != nil {
		t.Error("missing confidence should decode as nil")
	}
}

func TestClient_ReusesConnection(t *testing.T) {
	srv := newMockModelServer(t, func(req detectRequest) (*detectResponse, bool) {
		return &detectResponse{Seq: req.Seq}, true
	})
	c, _ := New(Config{URL: srv.url()})
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Detect(context.Background(), testFrame()); err != nil {
			t.Fatalf("Detect %d: %v", i, err)
		}
	}
	if n := srv.conns.Load(); n != 1 {
		t.Errorf("dialled %d times, want 1", n)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := newMockModelServer(t, func(req detectRequest) (*detectResponse, bool) {
		return &detectResponse{Seq: req.Seq, Error: "model not loaded"}, true
	})
	c, _ := New(Config{URL: srv.url()})
	defer c.Close()

	_, err := c.Detect(context.Background(), testFrame())
	if !errors.Is(err, ErrServer) {
		t.Errorf("err = %v, want ErrServer", err)
	}
}

func TestClient_MinConfidence(t *testing.T) {
	srv := newMockModelServer(t, func(req detectRequest) (*detectResponse, bool) {
		return &detectResponse{Seq: req.Seq, Detections: []detect.Detection{
			{Label: "low", Confidence: score(0.2)},
			{Label: "high", Confidence: score(0.8)},
			{Label: "unscored"},
		}}, true
	})
	c, _ := New(Config{URL: srv.url(), MinConfidence: 0.5})
	defer c.Close()

	dets, err := c.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 2 || dets[0].Label != "high" || dets[1].Label != "unscored" {
		t.Errorf("filtered detections = %+v", dets)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := newMockModelServer(t, func(req detectRequest) (*detectResponse, bool) {
		return nil, true // never answers
	})
	c, _ := New(Config{URL: srv.url()})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Detect(ctx, testFrame())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestClient_CancelUnblocksRead(t *testing.T) {
	srv := newMockModelServer(t, func(req detectRequest) (*detectResponse, bool) {
		return nil, true
	})
	c, _ := New(Config{URL: srv.url()})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := c.Detect(ctx, testFrame())
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Detect did not return after cancel")
	}
}

func TestClient_RedialsAfterDrop(t *testing.T) {
	var calls atomic.Int32
	srv := newMockModelServer(t, func(req detectRequest) (*detectResponse, bool) {
		if calls.Add(1) == 1 {
			return nil, false // hang up on the first request
		}
		return &detectResponse{Seq: req.Seq}, true
	})
	c, _ := New(Config{URL: srv.url()})
	defer c.Close()

	if _, err := c.Detect(context.Background(), testFrame()); err == nil {
		t.Fatal("first Detect should fail when the server hangs up")
	}
	if _, err := c.Detect(context.Background(), testFrame()); err != nil {
		t.Fatalf("second Detect should redial: %v", err)
	}
	if n := srv.conns.Load(); n != 2 {
		t.Errorf("conns = %d, want 2", n)
	}
}

func TestClient_EmptyFrame(t *testing.T) {
	c, _ := New(Config{URL: "ws://127.0.0.1:1/unused"})
	if _, err := c.Detect(context.Background(), &detect.Frame{}); err == nil {
		t.Error("expected error for frame without image")
	}
}

func TestClient_DialFailure(t *testing.T) {
	c, _ := New(Config{URL: "ws://127.0.0.1:1/unreachable"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Detect(ctx, testFrame()); err == nil {
		t.Error("expected dial error")
	}
}
