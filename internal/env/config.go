package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/relay/internal/tlsutil"
)

type Config struct {
	DebugHTTP bool   `env:"RELAY_DEBUG_HTTP"`
	LogLevel  string `env:"RELAY_LOG_LEVEL,default=info"`

	// ServerName is sent to clients in the welcome frame, leave empty to
	// skip the greeting
	ServerName string `env:"RELAY_SERVER_NAME"`

	MaxFrameSize     int           `env:"RELAY_MAX_FRAME_SIZE,default=16777216"`
	HandshakeTimeout time.Duration `env:"RELAY_HANDSHAKE_TIMEOUT,default=10s"`
	RequestTimeout   time.Duration `env:"RELAY_REQUEST_TIMEOUT,default=10s"`

	// Per connection command rate, 0 disables limiting
	CommandRate  float64 `env:"RELAY_COMMAND_RATE,default=0"`
	CommandBurst int     `env:"RELAY_COMMAND_BURST,default=20"`

	// SnapshotPath is where the user store is restored from at start and
	// written to at shutdown
	SnapshotPath string `env:"RELAY_SNAPSHOT_PATH"`

	TLSCertFile      string   `env:"RELAY_TLS_CERT_FILE"`
	TLSKeyFile       string   `env:"RELAY_TLS_KEY_FILE"`
	TLSCAFiles       []string `env:"RELAY_TLS_CA_FILES"`
	TLSClientCAFiles []string `env:"RELAY_TLS_CLIENT_CA_FILES"`
	TLSMinVersion    string   `env:"RELAY_TLS_MIN_VERSION,default=1.2"`

	// Client side only
	TLSClientCertFile string `env:"RELAY_TLS_CLIENT_CERT_FILE"`
	TLSClientKeyFile  string `env:"RELAY_TLS_CLIENT_KEY_FILE"`
	TLSServerName     string `env:"RELAY_TLS_SERVER_NAME"`
	TLSInsecure       bool   `env:"RELAY_TLS_INSECURE"`
	TLSDisabled       bool   `env:"RELAY_TLS_DISABLED"`
}

func (c *Config) ServerTLS() tlsutil.ServerConfig {
	return tlsutil.ServerConfig{
		CertFile:      c.TLSCertFile,
		KeyFile:       c.TLSKeyFile,
		ClientCAFiles: c.TLSClientCAFiles,
		MinVersion:    c.TLSMinVersion,
	}
}

// ClientTLS presents RELAY_TLS_CLIENT_CERT_FILE/KEY_FILE to servers that ask
// for a client certificate, never the server's own key pair.
func (c *Config) ClientTLS() tlsutil.ClientConfig {
	return tlsutil.ClientConfig{
		CAFiles:            c.TLSCAFiles,
		CertFile:           c.TLSClientCertFile,
		KeyFile:            c.TLSClientKeyFile,
		ServerName:         c.TLSServerName,
		InsecureSkipVerify: c.TLSInsecure,
		MinVersion:         c.TLSMinVersion,
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Failed to load .env.local: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}
