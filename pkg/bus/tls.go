package bus

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSOptions describes how to secure the broker connection.
type TLSOptions struct {
	// CAFile is a PEM bundle of trusted broker CAs. Empty uses the system pool.
	CAFile string

	// CertFile and KeyFile hold an optional client certificate for mutual TLS.
	// Both must be set together.
	CertFile string
	KeyFile  string

	// InsecureSkipVerify disables broker certificate verification.
	InsecureSkipVerify bool
}

// IsZero reports whether no TLS option is set.
func (o TLSOptions) IsZero() bool {
	return o == TLSOptions{}
}

// NewTLSConfig builds a client TLS configuration from opts.
func NewTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		cfg.RootCAs = pool
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, fmt.Errorf("client certificate and key must be set together")
	}
	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
