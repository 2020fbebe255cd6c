// Package replycrypto seals a reply body so only the calling client can read
// it, for the two request handlers (§4.5: getFeedViews, getFeedViewData)
// whose spec requires the whole reply — not just the attached key bundle —
// to be encrypted for the caller's certificate chain. It never inspects or
// decrypts any stored feed/data-item ciphertext; it only wraps an
// already-assembled response DTO on the way out, so it does not touch the
// "no payload decryption" non-goal (§1).
package replycrypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Sealed is the wire envelope for a reply body encrypted for one recipient:
// an ephemeral ECDH public key, a nonce, and the AEAD ciphertext. Only the
// holder of the recipient certificate's private key can derive the shared
// secret and open it.
type Sealed struct {
	EphemeralPublicKey string `json:"ephemeral_public_key"`
	Nonce              string `json:"nonce"`
	Ciphertext         string `json:"ciphertext"`
}

// leafPublicKey extracts the ECDH-capable public key from the leaf (first)
// certificate of a chain.
func leafPublicKey(certChain []string) (*ecdh.PublicKey, error) {
	if len(certChain) == 0 {
		return nil, fmt.Errorf("replycrypto: empty certificate chain")
	}
	block, _ := pem.Decode([]byte(certChain[0]))
	if block == nil {
		return nil, fmt.Errorf("replycrypto: no PEM block in leaf certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: parsing leaf certificate: %w", err)
	}
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("replycrypto: unsupported certificate public key type %T", cert.PublicKey)
	}
	return ecdsaKey.ECDH()
}

// sharedSecret runs ECDH between a local ephemeral key and a peer public key,
// then stretches the result through HKDF-SHA256 into a chacha20poly1305 key.
func sharedSecret(local *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	raw, err := local.ECDH(peer)
	if err != nil {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte("datacollector-reply-seal")), key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealForCertChain marshals payload to JSON and encrypts it so that only the
// holder of certChain's leaf private key can read it.
func SealForCertChain(certChain []string, payload any) (*Sealed, error) {
	peerPub, err := leafPublicKey(certChain)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: marshaling payload: %w", err)
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: generating ephemeral key: %w", err)
	}
	key, err := sharedSecret(ephemeral, peerPub)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: deriving shared secret: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("replycrypto: generating nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Sealed{
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(ephemeral.PublicKey().Bytes()),
		Nonce:              base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:         base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Open reverses SealForCertChain given the recipient's private key. It is
// the client-side counterpart, kept here only to round-trip test the wire
// format this service produces — the real client SDK lives outside this
// repository.
func Open(sealed *Sealed, recipient *ecdh.PrivateKey) ([]byte, error) {
	ephemeralBytes, err := base64.StdEncoding.DecodeString(sealed.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: decoding ephemeral public key: %w", err)
	}
	ephemeralPub, err := ecdh.P256().NewPublicKey(ephemeralBytes)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: parsing ephemeral public key: %w", err)
	}
	key, err := sharedSecret(recipient, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: deriving shared secret: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("replycrypto: decoding ciphertext: %w", err)
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}
