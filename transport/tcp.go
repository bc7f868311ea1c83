package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luma/relay/command"
	"github.com/luma/relay/storage"
)

var (
	ErrNotStarted     = errors.New("server is not started")
	ErrAlreadyStarted = errors.New("server is already started")
)

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	reuseport    bool

	mu        sync.Mutex
	listeners []*TCPListener

	tlsConfig        *tls.Config
	handshakeTimeout time.Duration

	dispatch *dispatchConfig
	store    storage.Store

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	// Sharing a port between listeners only works with SO_REUSEPORT
	if numListeners > 1 {
		options.Reuseport = true
	}

	handshakeTimeout := options.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:             net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners:     numListeners,
		reuseport:        options.Reuseport,
		listeners:        make([]*TCPListener, 0, numListeners),
		tlsConfig:        options.TLSConfig,
		handshakeTimeout: handshakeTimeout,
		store:            options.Store,
		log:              log,
		dispatch: &dispatchConfig{
			registry:     command.NewRegistry(options.Store, log.Named("command")),
			maxFrameSize: options.MaxFrameSize,
			serverName:   options.ServerName,
			commandRate:  rate.Limit(options.CommandRate),
			commandBurst: options.CommandBurst,
			metrics:      options.Metrics,
			trace:        options.Trace,
		},
	}
}

// Start binds every listener and serves them in the background. It fails if
// any listener cannot bind, closing the ones that did.
func (w *TCP) Start(parentCtx context.Context) error {
	w.mu.Lock()
	started := w.cancel != nil
	w.mu.Unlock()

	if started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parentCtx)

	w.log.Info("Starting tcp listeners",
		zap.Int("count", w.numListeners),
		zap.String("addr", w.addr),
		zap.Bool("tls", w.tlsConfig != nil))

	addr := w.addr
	bound := make([]net.Listener, 0, w.numListeners)

	for i := 0; i < w.numListeners; i++ {
		ln, err := w.listen(addr)
		if err != nil {
			cancel()

			for _, l := range bound {
				err = multierr.Append(err, l.Close())
			}

			return fmt.Errorf("Failed to listen on %s: %w", addr, err)
		}

		// With port 0 the remaining listeners join whatever port the first got
		if i == 0 {
			addr = ln.Addr().String()
		}

		bound = append(bound, ln)
	}

	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		cancel()

		var err error
		for _, l := range bound {
			err = multierr.Append(err, l.Close())
		}

		return multierr.Append(ErrAlreadyStarted, err)
	}

	w.cancel = cancel
	for _, ln := range bound {
		w.startListener(ctx, ln)
	}
	w.mu.Unlock()

	return nil
}

// Addr is the address the listeners are bound to.
func (w *TCP) Addr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.listeners) == 0 {
		return nil
	}

	return w.listeners[0].Addr()
}

func (t *TCP) Store() storage.Store {
	return t.store
}

func (w *TCP) listen(addr string) (net.Listener, error) {
	if w.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

// startListener must be called with mu held
func (w *TCP) startListener(ctx context.Context, ln net.Listener) {
	listener := newTCPListener(
		ctx,
		ln,
		w,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	w.listeners = append(w.listeners, listener)

	w.stopWaiter.Add(1)
	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Serve(); err != nil {
			w.log.Error("Listener stopped accepting", zap.Error(err))
		}
	}()
}

// Close immediately closes all listeners and connections, then waits for
// every dispatcher to exit.
func (w *TCP) Close() error {
	w.mu.Lock()
	cancel := w.cancel
	listeners := w.listeners
	w.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}

	w.log.Info("Stopping TCP server")
	cancel()

	var err error
	for _, listener := range listeners {
		err = multierr.Append(err, listener.Close())
	}

	w.log.Info("Waiting for listeners")
	w.stopWaiter.Wait()
	w.log.Info("Listeners stopped")

	return err
}

// secure runs the TLS handshake on a freshly accepted connection. Plain
// connections are returned as they are.
func (w *TCP) secure(ctx context.Context, conn net.Conn) (net.Conn, error) {
	if w.tlsConfig == nil {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.handshakeTimeout)
	defer cancel()

	tlsConn := tls.Server(conn, w.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	return tlsConn, nil
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	server   *TCP
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	loopWaiter  sync.WaitGroup
}

func newTCPListener(
	ctx context.Context,
	listener net.Listener,
	server *TCP,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		server:      server,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting and closes every active connection.
func (t *TCPListener) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	t.mu.Lock()
	for conn := range t.activeConns {
		err = multierr.Append(err, ignoreClosed(conn.Close()))
	}
	t.mu.Unlock()

	return err
}

// Serve accepts connections until the listener is closed. Each connection is
// served on its own goroutine; Serve waits for all of them before returning.
func (t *TCPListener) Serve() error {
	defer func() {
		t.log.Info("Waiting for connections to finish")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				t.log.Info("Stopped accepting new connections")
				return nil
			}

			return err
		}

		t.loopWaiter.Add(1)

		go func() {
			defer t.loopWaiter.Done()
			t.handle(conn)
		}()
	}
}

func (t *TCPListener) handle(raw net.Conn) {
	log := t.log.Named("conn").With(zap.String("remoteAddr", raw.RemoteAddr().String()))

	conn, err := t.server.secure(t.ctx, raw)
	if err != nil {
		log.Warn("TLS handshake failed", zap.Error(err))
		t.server.dispatch.metrics.handshakeFailed()

		if cerr := raw.Close(); cerr != nil {
			log.Debug("Failed to close connection after handshake failure", zap.Error(cerr))
		}
		return
	}

	tcpConn := newTCPConn(t.ctx, conn, t.server.dispatch, log)

	if !t.addConn(tcpConn) {
		tcpConn.Close()
		return
	}
	defer t.removeConn(tcpConn)

	log.Info("Client connected")
	tcpConn.Serve()
}

// addConn returns false if the listener is already shutting down
func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil {
		return false
	}

	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}
