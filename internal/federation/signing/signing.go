// Package signing implements the domain-separated Ed25519/HMAC
// signing scheme federation RPCs use: every signed message excludes
// its own auth field from the bytes it signs, so a verifier can
// recompute the same canonical view the signer produced.
package signing

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

var ErrAuth = errors.New("auth/verify failed")

// domainTag separates federation signatures from any other protocol
// that might reuse the same keys.
const domainTag = "ASWARM-FEDERATION-V1"

// CanonicalMessage is implemented by every sign-view type: a
// deterministic, field-ordered byte encoding of the fields being
// signed. protoc is not available in this build, so this stands in
// for proto.Message's deterministic marshalling.
type CanonicalMessage interface {
	CanonicalBytes() []byte
}

func addDomain(b []byte) []byte {
	out := make([]byte, 0, len(domainTag)+1+len(b))
	out = append(out, domainTag...)
	out = append(out, 0)
	out = append(out, b...)
	return out
}

// Ed25519Sign signs the canonical bytes of a sign view (with domain tag).
func Ed25519Sign(priv ed25519.PrivateKey, m CanonicalMessage) ([]byte, error) {
	return ed25519.Sign(priv, addDomain(m.CanonicalBytes())), nil
}

// Ed25519Verify verifies an Ed25519 signature (with domain tag).
func Ed25519Verify(pub ed25519.PublicKey, m CanonicalMessage, sig []byte) error {
	if !ed25519.Verify(pub, addDomain(m.CanonicalBytes()), sig) {
		return ErrAuth
	}
	return nil
}

// HMACSign creates HMAC-SHA256 over the canonical bytes (with domain tag).
func HMACSign(key []byte, m CanonicalMessage) ([]byte, error) {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(addDomain(m.CanonicalBytes()))
	return h.Sum(nil), nil
}

// HMACVerify verifies HMAC-SHA256 (with domain tag).
func HMACVerify(key []byte, m CanonicalMessage, mac []byte) error {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(addDomain(m.CanonicalBytes()))
	if !hmac.Equal(mac, h.Sum(nil)) {
		return ErrAuth
	}
	return nil
}
