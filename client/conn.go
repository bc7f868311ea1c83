// Package client talks to a relay server over one framed connection.
//
// Any number of goroutines may share a Conn. Each request gets a short random
// id, replies are matched back to their request by that id, whatever order the
// server answers in.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
)

const (
	// DefaultRequestTimeout bounds a Request whose context has no deadline
	DefaultRequestTimeout = 10 * time.Second

	deliveryBuffer = 255
	idLength       = 8
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrClosed         = errors.New("connection closed")
	ErrNotConnected   = errors.New("not connected")
	ErrStarted        = errors.New("connection already started")
	ErrNoCallback     = errors.New("callback is required")
)

// Callback receives the reply to a request sent with SendAsync. It runs on the
// receiver goroutine, so a slow callback delays every other reply.
type Callback func(id protocol.RequestID, content string)

type pending struct {
	id       protocol.RequestID
	content  string
	issuedAt time.Time

	// exactly one of cell or callback is set for Request and SendAsync; Send
	// leaves both nil and its reply goes to Deliveries
	cell     *future
	callback Callback
}

type Conn struct {
	conn net.Conn
	w    *protocol.FrameWriter

	mu      sync.Mutex
	pending map[protocol.RequestID]*pending

	deliveries chan *protocol.Response

	// done is closed when the receiver exits, err holds the reason
	done  chan struct{}
	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	closeErr  error

	startMu sync.Mutex

	MaxFrameSize int
	Timeout      time.Duration

	newID func() protocol.RequestID
	now   func() time.Time

	log *zap.Logger
}

func New(log *zap.Logger) *Conn {
	return &Conn{
		log:        log.Named("client"),
		pending:    make(map[protocol.RequestID]*pending),
		deliveries: make(chan *protocol.Response, deliveryBuffer),
		done:       make(chan struct{}),
		Timeout:    DefaultRequestTimeout,
		newID:      randomID,
		now:        time.Now,
	}
}

// Connect dials addr and starts the receiver. A nil tlsConfig gives a plain TCP
// connection.
func (c *Conn) Connect(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	var dialer net.Dialer

	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("Failed to dial %s: %w", addr, err)
	}

	conn := raw
	if tlsConfig != nil {
		cfg := tlsConfig.Clone()
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			host, _, _ := net.SplitHostPort(addr)
			cfg.ServerName = host
		}

		tlsConn := tls.Client(raw, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return fmt.Errorf("TLS handshake with %s failed: %w", addr, err)
		}

		conn = tlsConn
	}

	if err := c.Start(conn); err != nil {
		conn.Close()
		return err
	}

	return nil
}

// Start takes ownership of an established stream and starts the receiver.
func (c *Conn) Start(conn net.Conn) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.conn != nil {
		return ErrStarted
	}

	c.conn = conn
	c.w = protocol.NewFrameWriter(conn)
	c.log = c.log.With(zap.String("remoteAddr", conn.RemoteAddr().String()))

	go c.readLoop()

	return nil
}

// Request sends content and waits for its reply. When ctx has no deadline
// Timeout applies.
func (c *Conn) Request(ctx context.Context, content string) (*protocol.Response, error) {
	if _, ok := ctx.Deadline(); !ok && c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cell := newFuture()

	id, err := c.send(content, &pending{cell: cell})
	if err != nil {
		return nil, err
	}

	select {
	case <-cell.Done():
		resp, _ := cell.Result()
		return resp, nil

	case <-ctx.Done():
		c.forget(id)

		// The receiver may have settled the cell just before we removed it
		if resp, ok := cell.Result(); ok {
			return resp, nil
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("request %s: %w: %w", id, ErrRequestTimeout, ctx.Err())
		}

		return nil, ctx.Err()
	}
}

// RequestTimeout is Request bounded by d.
func (c *Conn) RequestTimeout(content string, d time.Duration) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	return c.Request(ctx, content)
}

// SendAsync sends content and returns at once. cb is called with the reply,
// if one ever arrives.
func (c *Conn) SendAsync(content string, cb Callback) (protocol.RequestID, error) {
	if cb == nil {
		return "", ErrNoCallback
	}

	return c.send(content, &pending{callback: cb})
}

// Send sends content without waiting. A reply, if any, is queued on
// Deliveries.
func (c *Conn) Send(content string) (protocol.RequestID, error) {
	return c.send(content, &pending{})
}

// Deliveries returns replies to requests made with Send. It is closed when the
// receiver exits. Replies are dropped while the channel is full.
func (c *Conn) Deliveries() <-chan *protocol.Response {
	return c.deliveries
}

// Quit says bye, waits for the goodbye and closes the connection.
func (c *Conn) Quit(ctx context.Context) error {
	resp, err := c.Request(ctx, protocol.ByeCommand)
	if err != nil {
		return multierr.Append(err, c.Close())
	}

	if resp.Content != protocol.GoodbyeReply {
		err = fmt.Errorf("unexpected reply to %s: %q", protocol.ByeCommand, resp.Content)
	}

	return multierr.Append(err, c.Close())
}

// Done is closed when the receiver has stopped. No pending request can be
// answered after that.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the receiver stopped, or nil while it is running.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	return c.err
}

// Close closes the stream and waits for the receiver to exit.
func (c *Conn) Close() error {
	c.startMu.Lock()
	conn := c.conn
	c.startMu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.closeOnce.Do(func() {
		err := conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}

		<-c.done

		if recvErr := c.Err(); recvErr != nil && !errors.Is(recvErr, protocol.ErrTransportClosed) {
			err = multierr.Append(err, recvErr)
		}

		c.closeErr = err
	})

	return c.closeErr
}

func (c *Conn) send(content string, p *pending) (protocol.RequestID, error) {
	c.startMu.Lock()
	w := c.w
	c.startMu.Unlock()

	if w == nil {
		return "", ErrNotConnected
	}

	if !c.isRunning() {
		return "", ErrClosed
	}

	c.mu.Lock()
	p.id = c.uniqueID()
	p.content = content
	p.issuedAt = c.now()
	c.pending[p.id] = p
	c.mu.Unlock()

	req := &protocol.Request{
		ID:        p.id,
		Content:   content,
		Timestamp: float64(p.issuedAt.UnixNano()) / float64(time.Second),
	}

	if err := protocol.WriteRequest(w, req); err != nil {
		c.forget(p.id)
		return "", err
	}

	return p.id, nil
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")

	for {
		payload, err := protocol.ReadFrame(c.conn, c.MaxFrameSize)
		if err != nil {
			if errors.Is(err, protocol.ErrTransportClosed) {
				log.Info("Connection closed, exiting...")
			} else {
				log.Warn("Failed to read server frame, exiting...", zap.Error(err))
			}

			c.stop(err)
			return
		}

		resp, err := protocol.ParseResponse(payload)
		if err != nil {
			log.Warn("Failed to decode server response, exiting...", zap.Error(err))
			c.stop(err)
			return
		}

		if resp.IsWelcome() {
			log.Debug("Server greeting", zap.String("content", resp.Content))
			continue
		}

		c.resolve(log, resp)
	}
}

// resolve hands resp to whoever is waiting for it. The entry is removed and a
// sync waiter signalled under the table lock; callbacks and deliveries happen
// after it is released.
func (c *Conn) resolve(log *zap.Logger, resp *protocol.Response) {
	c.mu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)

		if p.cell != nil {
			p.cell.settle(resp)
		}
	}
	c.mu.Unlock()

	if !ok {
		log.Info("Dropping reply to unknown request", zap.String("requestID", resp.ID.String()))
		return
	}

	switch {
	case p.cell != nil:

	case p.callback != nil:
		c.invoke(log, p, resp)

	default:
		select {
		case c.deliveries <- resp:
		default:
			log.Warn("Delivery queue is full, dropping reply", zap.String("requestID", resp.ID.String()))
		}
	}
}

func (c *Conn) invoke(log *zap.Logger, p *pending, resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Callback panicked",
				zap.String("requestID", p.id.String()),
				zap.Any("panic", r))
		}
	}()

	p.callback(resp.ID, resp.Content)
}

func (c *Conn) forget(id protocol.RequestID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// uniqueID returns an id no pending request uses. Callers must hold mu.
func (c *Conn) uniqueID() protocol.RequestID {
	for {
		id := c.newID()
		if id == protocol.WelcomeID || id == protocol.UnknownID {
			continue
		}

		if _, taken := c.pending[id]; !taken {
			return id
		}
	}
}

func (c *Conn) stop(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()

	close(c.deliveries)
	close(c.done)
}

// isRunning returns true until the receiver exits
func (c *Conn) isRunning() bool {
	select {
	case <-c.done:
		return false

	default:
		return true
	}
}

func randomID() protocol.RequestID {
	return protocol.RequestID(uuid.NewString()[:idLength])
}
