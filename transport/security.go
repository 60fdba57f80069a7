package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

var (
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired   = errors.New("transport: tls ca file required")
	ErrTLSBadCA            = errors.New("transport: no certificates in ca file")
)

// DefaultServerNameOverride is the name the interop test certificates are issued for.
const DefaultServerNameOverride = "foo.test.google.com"

// TLSConfig is the certificate material for one side of a connection. It is loaded
// once at startup and handed to Dial or the server.
type TLSConfig struct {
	Enabled            bool
	CAFile             string // client: roots used to verify the server
	CertFile           string // server: certificate chain
	KeyFile            string // server: private key
	ServerNameOverride string // client: name checked against the server certificate
	InsecureSkipVerify bool
}

// ValidateClient reports missing material for a client-side TLS config.
func (c TLSConfig) ValidateClient() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CAFile) == "" && !c.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	return nil
}

// ValidateServer reports missing material for a server-side TLS config.
func (c TLSConfig) ValidateServer() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}

// ClientConfig builds the crypto/tls client configuration. host is used as the server
// name when no override is set.
func (c TLSConfig) ClientConfig(host string) (*tls.Config, error) {
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         host,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if c.ServerNameOverride != "" {
		cfg.ServerName = c.ServerNameOverride
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrTLSBadCA, c.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// ServerConfig builds the crypto/tls server configuration.
func (c TLSConfig) ServerConfig() (*tls.Config, error) {
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// Dial connects to addr, wrapping the connection in TLS when c is enabled. The TLS
// handshake completes before Dial returns so certificate errors surface here.
func Dial(ctx context.Context, addr string, c TLSConfig) (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !c.Enabled {
		return d.DialContext(ctx, "tcp", addr)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	cfg, err := c.ClientConfig(host)
	if err != nil {
		return nil, err
	}
	td := &tls.Dialer{NetDialer: d, Config: cfg}
	return td.DialContext(ctx, "tcp", addr)
}
