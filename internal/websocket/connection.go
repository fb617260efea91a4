package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FrameHandler receives every inbound text frame in arrival order.
// It runs on the read goroutine, so it must not block for long.
type FrameHandler func(frame []byte)

// Options tunes a Connection. Zero values fall back to DefaultOptions.
type Options struct {
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration // 0 disables the read deadline
	HandshakeTimeout time.Duration
	BufferSize       int
	MaxMessageSize   int64
}

// DefaultOptions returns the settings used when a field is left zero
func DefaultOptions() Options {
	return Options{
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       100,
		MaxMessageSize:   1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// Connection wraps a gorilla websocket with a single writer goroutine and an
// ordered read loop. It is used on both ends: dialed by client sessions and
// accepted by the fake service.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent races;
// every write goes through writeCh and only writeLoop touches NextWriter.
type Connection struct {
	conn       *websocket.Conn
	opts       Options
	writeCh    chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	startOnce  sync.Once

	mu          sync.RWMutex
	err         error
	readTimeout time.Duration
}

// NewConnection wraps an established websocket and starts its writer
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:        conn,
		opts:        opts,
		writeCh:     make(chan []byte, opts.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
		writerDone:  make(chan struct{}),
		done:        make(chan struct{}),
		readTimeout: opts.ReadTimeout,
	}
	conn.SetReadLimit(opts.MaxMessageSize)

	go c.writeLoop()
	return c
}

// Dial opens a client websocket to rawURL. The handshake is bounded by ctx
// and Options.HandshakeTimeout, whichever ends first.
func Dial(ctx context.Context, rawURL string, header http.Header, opts Options) (*Connection, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: http %d", ErrDialFailed, rawURL, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, rawURL, err)
	}
	return NewConnection(conn, opts), nil
}

// Start launches the read loop. Subsequent calls are no-ops.
func (c *Connection) Start(handler FrameHandler) {
	c.startOnce.Do(func() {
		go c.readLoop(handler)
	})
}

func (c *Connection) readLoop(handler FrameHandler) {
	for {
		if rt := c.currentReadTimeout(); rt > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(rt)); err != nil {
				c.terminate(fmt.Errorf("%w: %v", ErrConnectionDropped, err))
				return
			}
		}
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.terminate(fmt.Errorf("%w: %v", ErrConnectionDropped, err))
			return
		}
		// TECHNICAL DISCOVERY: Engine.IO over websocket only uses text frames
		// once binary attachments are excluded
		if mt != websocket.TextMessage {
			continue
		}
		handler(data)
	}
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// On shutdown it flushes what is already queued so a final DISCONNECT
// packet still reaches the peer.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				c.setErr(fmt.Errorf("%w: %v", ErrWriteFailed, err))
				_ = c.conn.Close()
				return
			}
		case <-c.ctx.Done():
			for {
				select {
				case data := <-c.writeCh:
					if c.write(data) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteText queues a text frame for the writer goroutine
func (c *Connection) WriteText(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// SetReadTimeout changes the read deadline applied before each frame.
// Sessions call it once the heartbeat interval is known.
func (c *Connection) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

func (c *Connection) currentReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readTimeout
}

// Done is closed once the connection has terminated for any reason
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection terminated. It is nil after a local Close.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Connection) setErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Close shuts the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	return c.terminate(nil)
}

func (c *Connection) terminate(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.setErr(cause)
		c.cancel()

		// Give the writer a bounded chance to flush queued frames
		select {
		case <-c.writerDone:
		case <-time.After(c.opts.WriteTimeout):
		}

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
		close(c.done)
	})
	return err
}
