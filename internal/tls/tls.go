// Package tls builds the *tls.Config for fleetd's optional HTTP mirror,
// generating a self-signed certificate on first run when none is
// configured on disk yet.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arcflow/fleetd/internal/app"
)

// safeReadFile reads file content after confirming it resolves inside
// baseDir, guarding the dynamic GetCertificate callback against a
// maliciously rewritten symlink swapping in a file outside the cert dir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("tls: file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		key, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(cert, key)
		return &certificate, err
	}
}

// Setup returns nil, nil when cfg has no TLS configured (the HTTP mirror
// then serves plain HTTP). When TLSCert/TLSKey are set but don't exist on
// disk yet, a self-signed certificate is generated in their directory.
func Setup(cfg app.HTTPConfig) (*tls.Config, error) {
	if cfg.TLSCert == "" && cfg.TLSKey == "" {
		return nil, nil
	}
	if cfg.TLSCert == "" || cfg.TLSKey == "" {
		return nil, errors.New("tls: both tls_cert and tls_key must be set, or neither")
	}

	certPath, keyPath := cfg.TLSCert, cfg.TLSKey
	if !certificatesExist(certPath, keyPath) {
		var err error
		certPath, keyPath, err = GenerateDevCert(filepath.Dir(certPath))
		if err != nil {
			return nil, fmt.Errorf("tls: auto-generate certificate: %w", err)
		}
	}

	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     tls.VersionTLS12,
	}, nil
}
