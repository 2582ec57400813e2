// Package remote talks to an object-detection model server over WebSocket.
//
// Each request is one binary message holding a msgpack-encoded
// detectRequest (a JPEG frame plus its dimensions); the server answers with
// one binary msgpack detectResponse carrying the same sequence number.
//
//	client                         model server
//	  |--- {seq, width, height, jpeg} -->|
//	  |<-- {seq, detections, error} -----|
//
// The connection is dialled lazily and re-dialled after any transport
// error, so a restarted model server is picked up on the next frame.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
	"github.com/ironsheep/nav-assist-mcp/internal/imaging"
)

// ErrServer wraps errors reported by the model server itself.
var ErrServer = errors.New("model server error")

const (
	defaultJPEGQuality = 80
	defaultDialTimeout = 5 * time.Second
)

type detectRequest struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Format string `msgpack:"format"`
	Data   []byte `msgpack:"data"`
}

type detectResponse struct {
	Seq        uint64             `msgpack:"seq"`
	Detections []detect.Detection `msgpack:"detections"`
	Error      string             `msgpack:"error,omitempty"`
}

// Config configures a Client.
type Config struct {
	// URL of the model server, e.g. ws://localhost:8765/detect.
	URL string

	// JPEGQuality for frame encoding (1-100). Default 80.
	JPEGQuality int

	// MinConfidence drops detections scoring below it. Detections without a
	// score are always kept.
	MinConfidence float64

	Logger *slog.Logger
}

// Client is a detect.Detector backed by a remote model server. Calls are
// serialized; the detection loop never overlaps them anyway.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	seq  uint64
}

var _ detect.Detector = (*Client)(nil)

// New creates a client. No connection is made until the first Detect.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote detector: url is required")
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = defaultJPEGQuality
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		logger: logger.With("component", "remote-detector", "url", cfg.URL),
	}, nil
}

// Detect sends frame to the model server and waits for its detections.
func (c *Client) Detect(ctx context.Context, frame *detect.Frame) ([]detect.Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("remote detector: empty frame")
	}

	var jpeg bytes.Buffer
	if err := imaging.EncodeJPEG(&jpeg, frame.Image, c.cfg.JPEGQuality); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	c.seq++
	req := detectRequest{
		Seq:    c.seq,
		Width:  frame.Width,
		Height: frame.Height,
		Format: "jpeg",
		Data:   jpeg.Bytes(),
	}

	resp, err := c.roundTrip(ctx, conn, req)
	if err != nil {
		c.dropConn()
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrServer, resp.Error)
	}
	return c.filter(resp.Detections), nil
}

func (c *Client) roundTrip(ctx context.Context, conn *websocket.Conn, req detectRequest) (*detectResponse, error) {
	payload, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack request: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	// Unblock the read when ctx is cancelled before its deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return nil, fmt.Errorf("failed to send frame: %w", ctxErr(ctx, err))
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read detections: %w", ctxErr(ctx, err))
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		var resp detectResponse
		if err := msgpack.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal msgpack response: %w", err)
		}
		if resp.Seq != req.Seq {
			// Late answer to an abandoned request.
			c.logger.Debug("discarding stale response", "got_seq", resp.Seq, "want_seq", req.Seq)
			continue
		}
		return &resp, nil
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model server: %w", err)
	}
	c.logger.Info("connected to model server")
	c.conn = conn
	return conn, nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) filter(dets []detect.Detection) []detect.Detection {
	if c.cfg.MinConfidence <= 0 {
		return dets
	}
	out := dets[:0]
	for _, d := range dets {
		if d.Confidence == nil || *d.Confidence >= c.cfg.MinConfidence {
			out = append(out, d)
		}
	}
	return out
}

// Close closes the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ctxErr prefers the context's error when the context ended, so callers can
// match context.DeadlineExceeded.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
