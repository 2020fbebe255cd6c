package replycrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

// selfSignedChain builds a minimal self-signed P-256 certificate chain for
// tests, returning its PEM chain and the matching private key.
func selfSignedChain(t *testing.T) ([]string, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return []string{string(certPEM)}, priv
}

func TestSealForCertChain_RoundTrip(t *testing.T) {
	chain, priv := selfSignedChain(t)
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		t.Fatalf("converting private key: %v", err)
	}

	payload := map[string]string{"feed_id": "abc", "name": "secret view name"}
	sealed, err := SealForCertChain(chain, payload)
	if err != nil {
		t.Fatalf("SealForCertChain: %v", err)
	}
	if sealed.Ciphertext == "" || sealed.Nonce == "" || sealed.EphemeralPublicKey == "" {
		t.Fatalf("expected non-empty sealed fields, got %+v", sealed)
	}

	opened, err := Open(sealed, ecdhPriv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(opened, &out); err != nil {
		t.Fatalf("unmarshal opened payload: %v", err)
	}
	if out["feed_id"] != "abc" || out["name"] != "secret view name" {
		t.Errorf("opened payload = %v, want round-tripped original", out)
	}
}

func TestSealForCertChain_EmptyChain(t *testing.T) {
	if _, err := SealForCertChain(nil, map[string]string{"a": "b"}); err == nil {
		t.Fatal("expected an error for an empty certificate chain")
	}
}

func TestSealForCertChain_UnparseableCert(t *testing.T) {
	if _, err := SealForCertChain([]string{"not a pem block"}, map[string]string{}); err == nil {
		t.Fatal("expected an error for an unparseable certificate")
	}
}
