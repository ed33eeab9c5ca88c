// Package tlstest writes a throwaway CA and loopback certificates for
// mutual-TLS transport tests.
package tlstest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ServerName is the name every listener certificate is valid for.
const ServerName = "localhost"

// Files holds PEM paths for one CA, one listener and one client identity.
type Files struct {
	CA         string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
}

// Loopback issues a CA, a listener certificate valid for localhost,
// 127.0.0.1 and ::1, and a client certificate, all under t.TempDir().
func Loopback(t testing.TB) Files {
	t.Helper()
	dir := t.TempDir()
	root := newRoot(t, "amqpengine test root")

	var f Files
	f.CA = filepath.Join(dir, "ca.pem")
	writePEM(t, f.CA, "CERTIFICATE", root.cert.Raw)

	f.ServerCert, f.ServerKey = root.issue(t, dir, "listener", &x509.Certificate{
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{ServerName},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	})
	f.ClientCert, f.ClientKey = root.issue(t, dir, "client", &x509.Certificate{
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	return f
}

type signer struct {
	cert *x509.Certificate
	key  crypto.Signer
}

func newRoot(t testing.TB, name string) signer {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		Subject:               pkix.Name{CommonName: name},
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	return signer{cert: sign(t, tmpl, nil, key), key: key}
}

// issue signs tmpl for role and writes "<role>.pem" and "<role>-key.pem".
func (s signer) issue(t testing.TB, dir, role string, tmpl *x509.Certificate) (string, string) {
	t.Helper()
	key := newKey(t)
	tmpl.Subject = pkix.Name{CommonName: role}
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	cert := sign(t, tmpl, &s, key)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal %s key: %v", role, err)
	}
	certPath := filepath.Join(dir, role+".pem")
	keyPath := filepath.Join(dir, role+"-key.pem")
	writePEM(t, certPath, "CERTIFICATE", cert.Raw)
	writePEM(t, keyPath, "PRIVATE KEY", der)
	return certPath, keyPath
}

// sign self-signs tmpl when parent is nil.
func sign(t testing.TB, tmpl *x509.Certificate, parent *signer, key *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	tmpl.SerialNumber = serial
	tmpl.NotBefore = time.Now().Add(-time.Minute)
	tmpl.NotAfter = time.Now().Add(time.Hour)

	issuer, issuerKey := tmpl, crypto.Signer(key)
	if parent != nil {
		issuer, issuerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, key.Public(), issuerKey)
	if err != nil {
		t.Fatalf("sign %s: %v", tmpl.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse %s: %v", tmpl.Subject.CommonName, err)
	}
	return cert
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func writePEM(t testing.TB, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
