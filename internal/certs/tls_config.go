package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Files names the optional PEM files used to reach the result collector.
// CertFile and KeyFile enable mutual TLS and must be set together. CAFile
// replaces the system roots.
type Files struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (f Files) Empty() bool {
	return f.CertFile == "" && f.KeyFile == "" && f.CAFile == ""
}

// LoadClientTLSConfig builds the TLS configuration for the collector at
// serverURL.
func LoadClientTLSConfig(files Files, serverURL string) (*tls.Config, error) {
	if (files.CertFile == "") != (files.KeyFile == "") {
		return nil, fmt.Errorf("client certificate and key must be configured together")
	}
	if serverURL == "" {
		return nil, fmt.Errorf("server URL must be provided")
	}

	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("server URL missing hostname")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: parsed.Hostname(),
	}

	if files.CertFile != "" {
		certificate, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{certificate}
	}

	if files.CAFile != "" {
		data, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("invalid CA bundle")
		}
		tlsConfig.RootCAs = roots
	}
	return tlsConfig, nil
}

// NewHTTPClient returns an HTTP client for the collector using tlsConfig.
func NewHTTPClient(tlsConfig *tls.Config, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:     tlsConfig,
			ForceAttemptHTTP2:   true,
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
		},
	}
}
