package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Options carries the transport settings supplied by the host at startup.
// Every field is optional.
type Options struct {
	// Cert is the path to a PEM client certificate.
	Cert string
	// Key is the path to the PEM private key for Cert.
	Key string
	// Passphrase decrypts an encrypted PEM Key.
	Passphrase string
	// CA is the path to a PEM bundle of trusted roots.
	CA string
	// Proxy is an http(s) proxy URL.
	Proxy string
	// RejectUnauthorized toggles server certificate validation. Nil keeps
	// validation on.
	RejectUnauthorized *bool
	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
}

// newHTTPClient builds the http.Client described by opts.
func newHTTPClient(opts Options) (*http.Client, error) {
	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", opts.Proxy, err)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{Timeout: timeout, Transport: tr}, nil
}

func buildTLSConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.RejectUnauthorized != nil && !*opts.RejectUnauthorized {
		cfg.InsecureSkipVerify = true
	}

	if opts.CA != "" {
		caPEM, err := os.ReadFile(opts.CA)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", opts.CA)
		}
		cfg.RootCAs = pool
	}

	if opts.Cert == "" && (opts.Key != "" || opts.Passphrase != "") {
		return nil, errors.New("client key or passphrase given without a client certificate")
	}

	if opts.Cert != "" {
		cert, err := loadClientCertificate(opts.Cert, opts.Key, opts.Passphrase)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// loadClientCertificate reads a certificate/key pair. When keyPath is empty
// the key is expected in the certificate file.
func loadClientCertificate(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read client certificate: %w", err)
	}

	keyPEM := certPEM
	if keyPath != "" {
		keyPEM, err = os.ReadFile(keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to read client key: %w", err)
		}
	}

	if passphrase != "" {
		keyPEM, err = decryptKey(keyPEM, passphrase)
		if err != nil {
			return tls.Certificate{}, err
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load client key pair: %w", err)
	}
	return cert, nil
}

// decryptKey decrypts the first legacy encrypted PEM private key block.
// Unencrypted keys are returned unchanged.
func decryptKey(keyPEM []byte, passphrase string) ([]byte, error) {
	rest := keyPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return keyPEM, nil
		}
		//nolint:staticcheck // RFC 1423 encrypted keys
		if !x509.IsEncryptedPEMBlock(block) {
			continue
		}
		//nolint:staticcheck
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			if errors.Is(err, x509.IncorrectPasswordError) {
				return nil, fmt.Errorf("client key passphrase is incorrect")
			}
			return nil, fmt.Errorf("failed to decrypt client key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
	}
}
