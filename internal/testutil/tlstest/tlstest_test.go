package tlstest

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"testing"
)

func TestLoopbackChainsVerify(t *testing.T) {
	f := Loopback(t)

	caPEM, err := os.ReadFile(f.CA)
	if err != nil {
		t.Fatalf("read ca: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatalf("expected ca to parse")
	}

	server, err := tls.LoadX509KeyPair(f.ServerCert, f.ServerKey)
	if err != nil {
		t.Fatalf("load listener pair: %v", err)
	}
	leaf, err := x509.ParseCertificate(server.Certificate[0])
	if err != nil {
		t.Fatalf("parse listener cert: %v", err)
	}
	for _, name := range []string{ServerName, "127.0.0.1", "::1"} {
		opts := x509.VerifyOptions{DNSName: name, Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}}
		if _, err := leaf.Verify(opts); err != nil {
			t.Fatalf("expected listener cert valid for %s, got %v", name, err)
		}
	}

	client, err := tls.LoadX509KeyPair(f.ClientCert, f.ClientKey)
	if err != nil {
		t.Fatalf("load client pair: %v", err)
	}
	cleaf, err := x509.ParseCertificate(client.Certificate[0])
	if err != nil {
		t.Fatalf("parse client cert: %v", err)
	}
	if _, err := cleaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}}); err != nil {
		t.Fatalf("expected client cert to verify, got %v", err)
	}
	if _, err := cleaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}}); err == nil {
		t.Fatalf("expected client cert rejected for server auth, got nil")
	}
}
