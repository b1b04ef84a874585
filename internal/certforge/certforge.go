// Package certforge mints per-host leaf TLS certificates signed by a
// locally provisioned CA, for use as the proxy's MITM server identity.
package certforge

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"intercept/internal/interr"
)

// leafValidity bounds how far past "now" a forged leaf may be valid,
// independent of the CA's own remaining lifetime.
const leafValidity = 825 * 24 * time.Hour

// CA holds the provisioned certificate authority keypair. Provisioning
// (generating or loading it) is out of core scope; LoadOrGenerateCA
// in ca.go is a convenience for standalone runs.
type CA struct {
	Cert    *x509.Certificate
	PrivKey *ecdsa.PrivateKey
	certPEM []byte
}

// CertPEM returns the CA certificate in PEM form, for export via
// /proxy/certificate.
func (ca *CA) CertPEM() []byte { return ca.certPEM }

// Forge mints and caches per-host leaf identities.
type Forge struct {
	ca *CA

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

func New(ca *CA) *Forge {
	return &Forge{ca: ca, cache: make(map[string]*tls.Certificate)}
}

// CA returns the certificate authority this Forge signs leaves with, for
// export via /proxy/certificate.
func (f *Forge) CA() *CA { return f.ca }

// IdentityFor returns a TLS identity for host, generating and caching it
// on first use. Idempotent per host for the process lifetime.
func (f *Forge) IdentityFor(host string) (*tls.Certificate, error) {
	if host == "" {
		return nil, interr.New("certforge.IdentityFor", interr.KindInvalidHostname, fmt.Errorf("empty hostname"))
	}

	f.mu.RLock()
	if cert, ok := f.cache[host]; ok {
		f.mu.RUnlock()
		return cert, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	// Re-check: another goroutine may have won the race to forge this host.
	if cert, ok := f.cache[host]; ok {
		return cert, nil
	}

	cert, err := f.forge(host)
	if err != nil {
		return nil, err
	}
	f.cache[host] = cert
	return cert, nil
}

func (f *Forge) forge(host string) (*tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, interr.New("certforge.forge", interr.KindInternal, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, interr.New("certforge.forge", interr.KindInternal, err)
	}

	notBefore := time.Now().Add(-24 * time.Hour)
	notAfter := time.Now().Add(leafValidity)
	if notAfter.After(f.ca.Cert.NotAfter) {
		notAfter = f.ca.Cert.NotAfter
	}
	if notBefore.Before(f.ca.Cert.NotBefore) {
		notBefore = f.ca.Cert.NotBefore
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, f.ca.Cert, &priv.PublicKey, f.ca.PrivKey)
	if err != nil {
		return nil, interr.New("certforge.forge", interr.KindInternal, err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, interr.New("certforge.forge", interr.KindInternal, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, f.ca.Cert.Raw},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

// Count returns the number of hosts with a cached identity. Used by
// status/diagnostics endpoints.
func (f *Forge) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}
