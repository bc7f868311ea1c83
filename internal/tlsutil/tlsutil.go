// Package tlsutil builds tls.Configs for the relay server and client from
// certificate files on disk.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var ErrInvalidPEM = errors.New("no certificates found in PEM data")

type ServerConfig struct {
	CertFile string
	KeyFile  string

	// ClientCAFiles, when set, turns on mutual TLS: clients must present a
	// certificate signed by one of these CAs
	ClientCAFiles []string

	// MinVersion is "1.2" or "1.3"
	MinVersion string
}

type ClientConfig struct {
	// CAFiles are trusted in addition to the system pool
	CAFiles []string

	// CertFile and KeyFile are presented to servers that ask for a client
	// certificate
	CertFile string
	KeyFile  string

	ServerName         string
	InsecureSkipVerify bool
	MinVersion         string
}

// Enabled returns true if a certificate has been configured.
func (c ServerConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// LoadServerConfig returns nil when no certificate is configured, so the
// server runs in plain TCP.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("Failed to load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) > 0 {
		clientCAs := x509.NewCertPool()
		if err := appendCAFiles(clientCAs, cfg.ClientCAFiles); err != nil {
			return nil, err
		}

		tlsConfig.ClientCAs = clientCAs
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

// LoadClientConfig starts from the system CA bundle and adds cfg.CAFiles.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}

	if err := appendCAFiles(rootCAs, cfg.CAFiles); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("Failed to load client certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func appendCAFiles(pool *x509.CertPool, files []string) error {
	for _, caFile := range files {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("Failed to read CA file %s: %w", caFile, err)
		}

		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("CA file %s: %w", caFile, ErrInvalidPEM)
		}
	}

	return nil
}

// parseTLSVersion returns tls.VersionTLS12 for anything but "1.3"
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13

	default:
		return tls.VersionTLS12
	}
}
