package tls

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GenerateDevCert writes a self-signed certificate and key under dir for
// localhost/127.0.0.1, used when an app.HTTPConfig names cert/key paths
// that don't exist yet so the optional HTTP mirror always has something
// to serve TLS with in development.
func GenerateDevCert(dir string) (certPath, keyPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("tls: create cert dir: %w", err)
	}
	certPath = filepath.Join(dir, "tls.crt")
	keyPath = filepath.Join(dir, "tls.key")
	caPath := filepath.Join(dir, "tls_ca.crt")

	if certificatesExist(certPath, keyPath) {
		return certPath, keyPath, nil
	}

	cfg := CertConfig{
		CommonName:   "localhost",
		Organization: "fleetd",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(5, 0, 0),
		CertPath:     certPath,
		KeyPath:      keyPath,
		CACertPath:   caPath,
	}
	if err := GenerateSelfSignedCert(cfg); err != nil {
		return "", "", fmt.Errorf("tls: generate self-signed cert: %w", err)
	}
	return certPath, keyPath, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
