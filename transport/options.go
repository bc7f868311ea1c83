package transport

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	"github.com/luma/relay/storage"
)

const DefaultHandshakeTimeout = 10 * time.Second

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT. It is required when more than
	// one listener shares the port.
	Reuseport bool

	// Trace logs every frame at debug level. This is only useful in local debugging
	Trace bool

	NumListeners int

	// TLSConfig secures every accepted connection. Nil serves plain TCP.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the TLS handshake of a new connection
	HandshakeTimeout time.Duration

	// MaxFrameSize caps the declared length of an incoming frame
	MaxFrameSize int

	// ServerName is announced in the welcome frame. No greeting is sent when
	// it is empty.
	ServerName string

	// CommandRate limits each connection to this many commands per second,
	// with bursts of up to CommandBurst. Zero disables the limit.
	CommandRate  float64
	CommandBurst int

	Metrics *Metrics

	Store storage.Store

	Log *zap.Logger
}
