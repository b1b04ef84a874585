package certforge

import (
	"os"
	"path/filepath"
	"testing"
)

func testCA(t *testing.T) *CA {
	t.Helper()
	dir := t.TempDir()
	ca, err := LoadOrGenerateCA(filepath.Join(dir, "ca.pem"), filepath.Join(dir, "ca.key"))
	if err != nil {
		t.Fatalf("LoadOrGenerateCA: %v", err)
	}
	return ca
}

func TestIdentityForIsCachedPerHost(t *testing.T) {
	forge := New(testCA(t))

	first, err := forge.IdentityFor("example.com")
	if err != nil {
		t.Fatalf("IdentityFor: %v", err)
	}
	second, err := forge.IdentityFor("example.com")
	if err != nil {
		t.Fatalf("IdentityFor (cached): %v", err)
	}
	if first != second {
		t.Fatalf("expected cached identity to be returned by pointer identity")
	}
	if forge.Count() != 1 {
		t.Fatalf("expected 1 cached host, got %d", forge.Count())
	}

	if _, err := forge.IdentityFor("other.example.com"); err != nil {
		t.Fatalf("IdentityFor other host: %v", err)
	}
	if forge.Count() != 2 {
		t.Fatalf("expected 2 cached hosts, got %d", forge.Count())
	}
}

func TestIdentityForRejectsEmptyHost(t *testing.T) {
	forge := New(testCA(t))
	if _, err := forge.IdentityFor(""); err == nil {
		t.Fatal("expected error for empty hostname")
	}
}

func TestIdentityForIPAddress(t *testing.T) {
	forge := New(testCA(t))
	cert, err := forge.IdentityFor("127.0.0.1")
	if err != nil {
		t.Fatalf("IdentityFor: %v", err)
	}
	if len(cert.Leaf.IPAddresses) != 1 {
		t.Fatalf("expected leaf to carry an IP SAN, got %v", cert.Leaf.IPAddresses)
	}
}

func TestLoadOrGenerateCAPersists(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.pem")
	keyPath := filepath.Join(dir, "ca.key")

	first, err := LoadOrGenerateCA(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadOrGenerateCA: %v", err)
	}

	if _, err := os.Stat(certPath); err != nil {
		t.Fatalf("expected cert file to be written: %v", err)
	}

	second, err := LoadOrGenerateCA(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadOrGenerateCA (reload): %v", err)
	}

	if first.Cert.SerialNumber.Cmp(second.Cert.SerialNumber) != 0 {
		t.Fatal("expected reloaded CA to have the same serial number as the persisted one")
	}
}
