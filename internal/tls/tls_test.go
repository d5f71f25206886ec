package tls

import (
	"path/filepath"
	"testing"

	"github.com/arcflow/fleetd/internal/app"
)

func TestSetupReturnsNilWithoutTLSConfig(t *testing.T) {
	cfg, err := Setup(app.HTTPConfig{Listen: ":8080"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected a nil *tls.Config when no cert/key is configured")
	}
}

func TestSetupRejectsOnlyOneOfCertAndKey(t *testing.T) {
	if _, err := Setup(app.HTTPConfig{TLSCert: "cert.pem"}); err == nil {
		t.Fatal("expected an error when only tls_cert is set")
	}
}

func TestSetupAutoGeneratesMissingCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")

	cfg, err := Setup(app.HTTPConfig{TLSCert: certPath, TLSKey: keyPath})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg == nil || cfg.GetCertificate == nil {
		t.Fatal("expected a usable TLS config with an auto-generated certificate")
	}
	if _, err := cfg.GetCertificate(nil); err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
}
