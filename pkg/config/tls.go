package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLS names the PEM files of one side of an admin connection. On the server
// CA verifies client certificates; on the console it verifies the server.
type TLS struct {
	Cert string
	Key  string
	CA   string
}

func (t TLS) Enabled() bool {
	return t.Cert != "" || t.CA != ""
}

// Server requires a key pair and enforces client certificates when CA is set.
func (t TLS) Server() (*tls.Config, error) {
	if t.Cert == "" || t.Key == "" {
		return nil, fmt.Errorf("tls: both cert and key are required")
	}
	cfg, err := t.base()
	if err != nil {
		return nil, err
	}
	if cfg.RootCAs != nil {
		cfg.ClientCAs, cfg.RootCAs = cfg.RootCAs, nil
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// Client trusts CA (the system pool when empty) and presents Cert when set.
func (t TLS) Client() (*tls.Config, error) {
	if (t.Cert == "") != (t.Key == "") {
		return nil, fmt.Errorf("tls: cert and key must be set together")
	}
	return t.base()
}

func (t TLS) base() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.Cert != "" {
		cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			return nil, fmt.Errorf("load cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if t.CA != "" {
		data, err := os.ReadFile(t.CA)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("%s: no certificates found", t.CA)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
