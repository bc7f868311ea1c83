package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luma/relay/command"
	"github.com/luma/relay/protocol"
)

const RateLimitedReply = "error: rate limit exceeded"

// dispatchConfig is shared by every connection of a server.
type dispatchConfig struct {
	registry     *command.Registry
	maxFrameSize int
	serverName   string
	commandRate  rate.Limit
	commandBurst int
	metrics      *Metrics
	trace        bool
}

// TCPConn serves one client stream. Frames are handled strictly one after
// another; only a transport failure, a bye or server shutdown ends the loop.
type TCPConn struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn    net.Conn
	w       *protocol.FrameWriter
	cfg     *dispatchConfig
	limiter *rate.Limiter

	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

func newTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	cfg *dispatchConfig,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	t := &TCPConn{
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		w:      protocol.NewFrameWriter(conn),
		cfg:    cfg,
		log:    log,
	}

	if cfg.commandRate > 0 {
		burst := cfg.commandBurst
		if burst < 1 {
			burst = 1
		}

		t.limiter = rate.NewLimiter(cfg.commandRate, burst)
	}

	return t
}

// Close stops the connection. A blocked read returns at once.
func (t *TCPConn) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.conn.Close()
	})

	return t.closeErr
}

// Serve runs the dispatch loop until the connection ends, then closes it.
func (t *TCPConn) Serve() {
	log := t.log.Named("readLoop")

	t.cfg.metrics.connOpened()

	defer func() {
		if err := t.Close(); err != nil {
			log.Warn("Connection did not close cleanly", zap.Error(err))
		}

		t.cfg.metrics.connClosed()
		log.Info("Connection closed")
	}()

	// Unblock the read when the server shuts down
	go func() {
		<-t.ctx.Done()
		t.Close()
	}()

	if t.cfg.serverName != "" {
		if err := protocol.WriteWelcome(t.w, t.cfg.serverName); err != nil {
			log.Warn("Failed to send greeting", zap.Error(err))
			return
		}
	}

	for {
		payload, err := protocol.ReadFrame(t.conn, t.cfg.maxFrameSize)
		if err != nil {
			switch {
			case !t.isRunning():
				log.Info("Context cancelled, exiting...")

			case errors.Is(err, protocol.ErrTransportClosed):
				log.Info("Client went away, exiting...")

			default:
				log.Warn("Failed to read client frame, exiting...", zap.Error(err))
			}

			return
		}

		if t.cfg.trace {
			log.Debug("Frame", zap.ByteString("payload", payload))
		}

		if !t.handle(log, payload) {
			return
		}
	}
}

// handle answers one frame. It returns false when the connection should end.
func (t *TCPConn) handle(log *zap.Logger, payload []byte) bool {
	req, err := protocol.ParseRequest(payload)
	if err != nil {
		return t.handleLegacy(log, payload)
	}

	if req.IsBye() {
		if err := protocol.WriteGoodbye(t.w, req.ID); err != nil {
			log.Warn("Failed to say goodbye", zap.String("requestID", req.ID.String()), zap.Error(err))
		}

		log.Info("Client said bye, exiting...")
		return false
	}

	body := t.dispatch(req)

	if err := protocol.WriteResponse(t.w, req.ID, body); err != nil {
		log.Warn("Failed to reply",
			zap.String("requestID", req.ID.String()),
			zap.Error(err))
		return false
	}

	return true
}

// handleLegacy serves frames from clients that do not use envelopes: a raw
// bye closes the connection, anything else is echoed back unchanged.
func (t *TCPConn) handleLegacy(log *zap.Logger, payload []byte) bool {
	t.cfg.metrics.legacyFrame()

	if string(payload) == protocol.ByeCommand {
		log.Info("Legacy client said bye, exiting...")
		return false
	}

	if err := t.w.WriteFrame(payload); err != nil {
		log.Warn("Failed to echo legacy frame", zap.Error(err))
		return false
	}

	return true
}

func (t *TCPConn) dispatch(req *protocol.Request) string {
	if t.limiter != nil && !t.limiter.Allow() {
		t.cfg.metrics.command("rate_limited", "error")
		return RateLimitedReply
	}

	out := t.cfg.registry.Execute(t.ctx, protocol.Tokenize(req.Content))

	outcome := "ok"
	if !out.OK {
		outcome = "error"
	}
	t.cfg.metrics.command(out.Kind.String(), outcome)

	return out.Body
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}
