// Package keystore persists the two key records the DID-exchange protocol
// and the envelope depend on: the per-local-DID Key-Agreement Key (KAK) and
// the per-(localDID, peerDID) Communication Key Record (CKR). Both are
// stored as JSON blobs in a kvstore.Store under the exact key layout named
// by the engine's external interface (kak_<did>, comm_keypair_<from>_<to>).
package keystore

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentmesh/didcomm-engine/kvstore"
)

// ErrNoKeyMaterial is returned when a KAK or CKR is requested but none has
// been generated or persisted for the given DID(s) yet.
var ErrNoKeyMaterial = errors.New("keystore: no key material")

// KAK is a local DID's X25519 key-agreement keypair.
type KAK struct {
	DID        string `json:"did"`
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
	// KeyID is the always-hex identifier used to route envelope
	// decryption (kid), kept separate from any base58 wire encoding of
	// the same public key.
	KeyID string `json:"key_id"`
}

// CKR is the per-peer Communication Key Record of a DID-exchange. The
// inviter saves it with local key-agreement material only at send-request
// and adds the peer's at receive-response; the invitee saves it complete at
// receive-request.
type CKR struct {
	LocalDID            string `json:"local_did"`
	PeerDID             string `json:"peer_did"`
	LocalPub            []byte `json:"local_pub"`
	LocalSecret         []byte `json:"local_secret"`
	LocalKAKeyID        string `json:"local_ka_key_id"`
	PeerKAKeyID         string `json:"peer_ka_key_id"`
	PeerPub             []byte `json:"peer_pub"`
	PeerServiceEndpoint string `json:"peer_service_endpoint,omitempty"`
}

// Store wraps a kvstore.Store with typed KAK/CKR accessors.
type Store struct {
	kv kvstore.Store
}

// New wraps kv in a keystore.Store.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

func kakKey(did string) string {
	return "kak_" + did
}

func ckrKey(from, to string) string {
	return "comm_keypair_" + from + "_" + to
}

// GenerateKeyAgreementKey creates and persists a fresh X25519 keypair for
// did, overwriting any existing KAK.
func (s *Store) GenerateKeyAgreementKey(ctx context.Context, did string) (*KAK, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate x25519 key: %w", err)
	}
	pub := priv.PublicKey().Bytes()

	kak := &KAK{
		DID:        did,
		PublicKey:  pub,
		PrivateKey: priv.Bytes(),
		KeyID:      hex.EncodeToString(pub),
	}
	if err := s.saveKAK(ctx, kak); err != nil {
		return nil, err
	}
	return kak, nil
}

func (s *Store) saveKAK(ctx context.Context, kak *KAK) error {
	raw, err := json.Marshal(kak)
	if err != nil {
		return fmt.Errorf("keystore: marshal kak: %w", err)
	}
	if err := s.kv.Write(ctx, kakKey(kak.DID), string(raw)); err != nil {
		return fmt.Errorf("keystore: write kak: %w", err)
	}
	return nil
}

// GetKeyAgreementKey returns the persisted KAK for did, or
// ErrNoKeyMaterial if none has been generated.
func (s *Store) GetKeyAgreementKey(ctx context.Context, did string) (*KAK, error) {
	raw, err := s.kv.Read(ctx, kakKey(did))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNoKeyMaterial
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read kak: %w", err)
	}

	var kak KAK
	if err := json.Unmarshal([]byte(raw), &kak); err != nil {
		return nil, fmt.Errorf("keystore: unmarshal kak: %w", err)
	}
	return &kak, nil
}

// SaveCommKeyPair persists (or idempotently overwrites) the CKR for the
// (ckr.LocalDID, ckr.PeerDID) pair.
func (s *Store) SaveCommKeyPair(ctx context.Context, ckr *CKR) error {
	raw, err := json.Marshal(ckr)
	if err != nil {
		return fmt.Errorf("keystore: marshal ckr: %w", err)
	}
	if err := s.kv.Write(ctx, ckrKey(ckr.LocalDID, ckr.PeerDID), string(raw)); err != nil {
		return fmt.Errorf("keystore: write ckr: %w", err)
	}
	return nil
}

// GetCommKeyPair returns the persisted CKR for (from, to), or
// ErrNoKeyMaterial if the pair has never exchanged keys.
func (s *Store) GetCommKeyPair(ctx context.Context, from, to string) (*CKR, error) {
	raw, err := s.kv.Read(ctx, ckrKey(from, to))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNoKeyMaterial
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read ckr: %w", err)
	}

	var ckr CKR
	if err := json.Unmarshal([]byte(raw), &ckr); err != nil {
		return nil, fmt.Errorf("keystore: unmarshal ckr: %w", err)
	}
	return &ckr, nil
}

func invitationKeyKey(did string) string {
	return "invitation_key_" + did
}

// InvitationSigningKey returns the local HMAC signing key used to mint and
// verify a DID's invitation JWTs, generating and persisting one on first
// use. Unlike the KAK, this key never participates in envelope key
// agreement; it exists purely to authenticate the supplemented invitation
// step's out-of-band JWT.
func (s *Store) InvitationSigningKey(ctx context.Context, did string) ([]byte, error) {
	key := invitationKeyKey(did)

	raw, err := s.kv.Read(ctx, key)
	if err == nil {
		return hex.DecodeString(raw)
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("keystore: read invitation key: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("keystore: generate invitation key: %w", err)
	}
	if err := s.kv.Write(ctx, key, hex.EncodeToString(secret)); err != nil {
		return nil, fmt.Errorf("keystore: write invitation key: %w", err)
	}
	return secret, nil
}
