package certgen

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeCA(t *testing.T) (certPath, keyPath string, ca *Authority) {
	t.Helper()
	ca, certPEM, keyPEM, err := NewCA("PLMSync Test CA", 24*time.Hour)
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	dir := t.TempDir()
	certPath = filepath.Join(dir, "ca.crt")
	keyPath = filepath.Join(dir, "ca.key")
	if err := WritePair(certPath, keyPath, certPEM, keyPEM); err != nil {
		t.Fatalf("WritePair: %v", err)
	}
	return certPath, keyPath, ca
}

func parseCert(t *testing.T, certPEM []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("cert PEM invalid")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	return cert
}

func TestLoadAuthority_Success(t *testing.T) {
	certPath, keyPath, want := writeCA(t)

	a, err := LoadAuthority(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadAuthority error: %v", err)
	}
	if a.Cert.Subject.CommonName != "PLMSync Test CA" {
		t.Errorf("CommonName = %q", a.Cert.Subject.CommonName)
	}
	got, ok := a.Key.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("key type = %T; want *ecdsa.PrivateKey", a.Key)
	}
	if !got.PublicKey.Equal(want.Key.Public()) {
		t.Error("public key mismatch")
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %v; want 0600", info.Mode().Perm())
	}
}

func TestLoadCACredentials_Errors(t *testing.T) {
	certPath, keyPath, _ := writeCA(t)
	junk := filepath.Join(t.TempDir(), "junk.pem")
	if err := os.WriteFile(junk, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name, cert, key, want string
	}{
		{"missing cert", "/no/such/file.pem", keyPath, "read ca cert"},
		{"missing key", certPath, "/no/such/key.pem", "read ca key"},
		{"bad cert", junk, keyPath, "invalid CA cert PEM"},
		{"bad key", certPath, junk, "invalid CA key PEM"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := LoadCACredentials(tc.cert, tc.key)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("got %v; want error containing %q", err, tc.want)
			}
		})
	}
}

func TestIssue_UserCertificate(t *testing.T) {
	_, _, ca := writeCA(t)

	certPEM, keyPEM, err := ca.Issue("alice")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	cert := parseCert(t, certPEM)
	if cert.Subject.CommonName != "alice" {
		t.Errorf("CommonName = %q; want alice", cert.Subject.CommonName)
	}
	if err := cert.CheckSignatureFrom(ca.Cert); err != nil {
		t.Errorf("signature check failed: %v", err)
	}
	if len(cert.ExtKeyUsage) != 1 || cert.ExtKeyUsage[0] != x509.ExtKeyUsageClientAuth {
		t.Errorf("ExtKeyUsage = %v; want client auth", cert.ExtKeyUsage)
	}
	if d := cert.NotAfter.Sub(cert.NotBefore); d < DefaultUserValidity {
		t.Errorf("validity = %v", d)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		t.Fatalf("key PEM invalid")
	}
	if _, err := x509.ParseECPrivateKey(block.Bytes); err != nil {
		t.Errorf("parse private key failed: %v", err)
	}
}

func TestGenerateUserCertificate(t *testing.T) {
	_, _, ca := writeCA(t)
	certPEM, _, err := GenerateUserCertificate("bob", ca.Cert, ca.Key)
	if err != nil {
		t.Fatalf("GenerateUserCertificate error: %v", err)
	}
	if cn := parseCert(t, certPEM).Subject.CommonName; cn != "bob" {
		t.Errorf("CommonName = %q; want bob", cn)
	}
}

func TestIssueServer(t *testing.T) {
	_, _, ca := writeCA(t)

	certPEM, _, err := ca.IssueServer([]string{"localhost", "127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueServer error: %v", err)
	}
	cert := parseCert(t, certPEM)
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 1 || cert.IPAddresses[0].String() != "127.0.0.1" {
		t.Errorf("IPAddresses = %v", cert.IPAddresses)
	}
	if err := cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("VerifyHostname: %v", err)
	}

	if _, _, err := ca.IssueServer(nil, time.Hour); err == nil {
		t.Error("expected error for no hosts")
	}
}
