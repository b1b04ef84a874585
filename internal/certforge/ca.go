package certforge

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"time"

	"intercept/internal/interr"
)

const caValidity = 10 * 365 * 24 * time.Hour

// LoadOrGenerateCA loads a CA keypair from certFile/keyFile, generating and
// persisting a fresh one on first run, so a standalone binary always has
// something to sign leaves with.
func LoadOrGenerateCA(certFile, keyFile string) (*CA, error) {
	if certPEM, err := os.ReadFile(certFile); err == nil {
		keyPEM, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, interr.New("certforge.LoadOrGenerateCA", interr.KindInternal, err)
		}
		return parseCA(certPEM, keyPEM)
	}

	ca, certPEM, keyPEM, err := generateCA()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return nil, interr.New("certforge.LoadOrGenerateCA", interr.KindInternal, err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return nil, interr.New("certforge.LoadOrGenerateCA", interr.KindInternal, err)
	}
	return ca, nil
}

func generateCA() (*CA, []byte, []byte, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, interr.New("certforge.generateCA", interr.KindInternal, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, nil, interr.New("certforge.generateCA", interr.KindInternal, err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "Web Intercept CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, nil, interr.New("certforge.generateCA", interr.KindInternal, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, interr.New("certforge.generateCA", interr.KindInternal, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, nil, interr.New("certforge.generateCA", interr.KindInternal, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return &CA{Cert: cert, PrivKey: priv, certPEM: certPEM}, certPEM, keyPEM, nil
}

func parseCA(certPEM, keyPEM []byte) (*CA, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, interr.New("certforge.parseCA", interr.KindInvalidConfig, errBadPEM("certificate"))
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, interr.New("certforge.parseCA", interr.KindInvalidConfig, err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, interr.New("certforge.parseCA", interr.KindInvalidConfig, errBadPEM("private key"))
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, interr.New("certforge.parseCA", interr.KindInvalidConfig, err)
	}

	return &CA{Cert: cert, PrivKey: key, certPEM: certPEM}, nil
}

type errBadPEM string

func (e errBadPEM) Error() string { return "no PEM block found in " + string(e) }
