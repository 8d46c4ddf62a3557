// Package envelope implements the cryptographic envelope: XChaCha20-Poly1305
// (XC20P) AEAD over a key derived from an X25519 ECDH exchange, with a
// detached Ed25519 signature minted fresh per Seal call. This is the Go
// rendition of the originating implementation's encrypt_message/
// decrypt_message pair, generalized from a fixed AES-256-GCM + HKDF scheme
// into the named XC20P construction while keeping the same derivation
// shape (raw ECDH output, HKDF-SHA256, domain-separated info string).
package envelope

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/agentmesh/didcomm-engine/internal/metrics"
)

// hkdfInfo domain-separates the envelope's key derivation from any other
// use of the same ECDH shared secret.
const hkdfInfo = "didcomm-engine/envelope/xc20p"

// ErrInvalid is wrapped by Open when signature verification or AEAD
// decryption fails; the engine classifies it as an EnvelopeInvalid error.
var ErrInvalid = errors.New("envelope: invalid")

// SigningKeys overrides the ephemeral Ed25519 keypair Seal would otherwise
// mint, letting callers pin down a signing identity (§6 options.signing_keys).
type SigningKeys struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// EncryptionKeys pairs an X25519 secret with the other party's public key
// (§6 options.encryption_keys). Seal and Open take these keys as plain
// arguments and never read a keystore themselves.
type EncryptionKeys struct {
	MySecret     []byte
	OthersPublic []byte
}

// Sealed is the output of Seal: ciphertext, nonce, and the signing material
// needed to verify it, matching the Encrypted Envelope data model.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	// SignerPublic is the ephemeral (or pinned) Ed25519 public key the
	// signature below verifies against.
	SignerPublic ed25519.PublicKey
	Signature    []byte
}

// Seal derives a shared key from (mySecret, othersPublic), encrypts
// plaintext under XC20P with associated data aad, and signs the resulting
// ciphertext||iv||aad with a fresh Ed25519 keypair (or the one in signing,
// if provided). A fresh signing keypair is minted on every call unless
// signing is non-nil: the signature exists to bind this specific envelope
// to a specific key, not to be reused across messages.
func Seal(mySecret, othersPublic, plaintext, aad []byte, signing *SigningKeys) (sealed *Sealed, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		metrics.EnvelopeOperations.WithLabelValues("seal", status).Inc()
		metrics.EnvelopeOperationDuration.WithLabelValues("seal").Observe(time.Since(start).Seconds())
		metrics.GetGlobalCollector().RecordSeal(err == nil, time.Since(start))
	}()

	key, err := deriveKey(mySecret, othersPublic)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: new xc20p aead: %w", err)
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("envelope: read nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, iv, plaintext, aad)

	signerPub, signerPriv, err := resolveSigningKeys(signing)
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(signerPriv, signingTranscript(ciphertext, iv, aad))

	return &Sealed{
		Ciphertext:   ciphertext,
		IV:           iv,
		SignerPublic: signerPub,
		Signature:    sig,
	}, nil
}

// Open verifies the detached signature over the envelope and, if it
// verifies, decrypts the ciphertext under XC20P using a key derived from
// (mySecret, othersPublic). aad must be identical to the aad passed to Seal.
func Open(mySecret, othersPublic []byte, sealed *Sealed, aad []byte) (plaintext []byte, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		metrics.EnvelopeOperations.WithLabelValues("open", status).Inc()
		metrics.EnvelopeOperationDuration.WithLabelValues("open").Observe(time.Since(start).Seconds())
		metrics.GetGlobalCollector().RecordOpen(err == nil, time.Since(start))
	}()

	if !ed25519.Verify(sealed.SignerPublic, signingTranscript(sealed.Ciphertext, sealed.IV, aad), sealed.Signature) {
		metrics.EnvelopeInvalidTotal.WithLabelValues("signature").Inc()
		return nil, fmt.Errorf("%w: signature verification failed", ErrInvalid)
	}

	key, err := deriveKey(mySecret, othersPublic)
	if err != nil {
		metrics.EnvelopeInvalidTotal.WithLabelValues("key_derivation").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		metrics.EnvelopeInvalidTotal.WithLabelValues("key_derivation").Inc()
		return nil, fmt.Errorf("%w: new xc20p aead: %v", ErrInvalid, err)
	}

	plaintext, err = aead.Open(nil, sealed.IV, sealed.Ciphertext, aad)
	if err != nil {
		metrics.EnvelopeInvalidTotal.WithLabelValues("aead").Inc()
		return nil, fmt.Errorf("%w: decrypt: %v", ErrInvalid, err)
	}
	return plaintext, nil
}

// deriveKey computes the 32-byte XC20P key from a raw X25519 ECDH exchange,
// run through HKDF-SHA256 with a domain-separated info string.
func deriveKey(mySecret, othersPublic []byte) ([]byte, error) {
	curve := ecdh.X25519()

	priv, err := curve.NewPrivateKey(mySecret)
	if err != nil {
		return nil, fmt.Errorf("envelope: parse local private key: %w", err)
	}
	pub, err := curve.NewPublicKey(othersPublic)
	if err != nil {
		return nil, fmt.Errorf("envelope: parse peer public key: %w", err)
	}

	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("envelope: ecdh: %w", err)
	}

	h := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("envelope: hkdf: %w", err)
	}
	return key, nil
}

func resolveSigningKeys(signing *SigningKeys) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if signing != nil {
		return signing.PublicKey, signing.PrivateKey, nil
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: generate ephemeral signing key: %w", err)
	}
	return pub, priv, nil
}

func signingTranscript(ciphertext, iv, aad []byte) []byte {
	buf := make([]byte, 0, len(ciphertext)+len(iv)+len(aad))
	buf = append(buf, ciphertext...)
	buf = append(buf, iv...)
	buf = append(buf, aad...)
	return buf
}

// KeyID returns the always-hex identifier used to route envelope
// decryption, matching keystore.KAK.KeyID.
func KeyID(pub []byte) string {
	return hex.EncodeToString(pub)
}
