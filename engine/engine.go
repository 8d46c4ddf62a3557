// Package engine is the top-level PREPARE/INGEST surface: it wires the
// protocol registry, key store, and cryptographic envelope together the
// way the originating implementation's vade_didcomm.rs's didcomm_send/
// didcomm_receive pair does (fill id/timestamps -> protocol step ->
// conditional seal/open -> assemble {message, metadata}), generalized
// from that single-plugin entry point into a standalone Go type callers
// construct directly rather than through a plugin host.
package engine

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmesh/didcomm-engine/core/didexchange"
	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/issuecredential"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/core/presentproof"
	"github.com/agentmesh/didcomm-engine/core/trustping"
	"github.com/agentmesh/didcomm-engine/envelope"
	"github.com/agentmesh/didcomm-engine/internal/logger"
	"github.com/agentmesh/didcomm-engine/internal/metrics"
	"github.com/agentmesh/didcomm-engine/keystore"
	"github.com/agentmesh/didcomm-engine/kvstore"
)

// Engine is the embeddable entry point: one instance per kvstore.Store
// backend, shared across every thread and protocol that store serves.
type Engine struct {
	registry *dispatch.Registry
	keys     *keystore.Store
	kv       kvstore.Store
}

// New builds an Engine over kv, registering every protocol this module
// implements. Callers embedding the engine in a larger host register no
// protocols of their own; the registry is a closed set matching §4.3's
// DID-exchange plus the generic instances of §4.2.
func New(kv kvstore.Store) *Engine {
	registry := dispatch.NewRegistry()
	registry.Register(didexchange.ProtocolURI, didexchange.New(kv))
	registry.Register(trustping.ProtocolURI, trustping.New(kv))
	registry.Register(presentproof.ProtocolURI, presentproof.New(kv))
	registry.Register(issuecredential.ProtocolURI, issuecredential.New(kv))

	return &Engine{
		registry: registry,
		keys:     keystore.New(kv),
		kv:       kv,
	}
}

// Result is the {message, metadata} shape both Prepare and Ingest return.
type Result struct {
	Message  json.RawMessage `json:"message"`
	Metadata string          `json:"metadata"`
}

func metadataJSON(md map[string]any) string {
	if md == nil {
		md = map[string]any{}
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// envelopeAAD is the canonical byte form of an envelope's cleartext
// routing headers: it is both the AEAD associated data and part of the
// signed transcript, so altering any of these fields on the wire breaks
// both the signature and the AEAD tag.
type envelopeAAD struct {
	From string   `json:"from"`
	To   []string `json:"to"`
	KID  string   `json:"kid"`
}

func (a envelopeAAD) bytes() []byte {
	raw, _ := json.Marshal(a)
	return raw
}

// Prepare implements §6's prepare(options, plaintext) -> {message, metadata}.
func (e *Engine) Prepare(ctx context.Context, optionsJSON, plaintextJSON []byte) (result *Result, err error) {
	start := time.Now()
	metrics.MessageSize.WithLabelValues("plaintext").Observe(float64(len(plaintextJSON)))
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
			logger.GetDefaultLogger().Warn("prepare failed",
				logger.Error(err),
				logger.Duration("duration", time.Since(start)),
			)
		}
		metrics.MessagesProcessed.WithLabelValues("prepare", status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues("prepare").Observe(time.Since(start).Seconds())
		metrics.GetGlobalCollector().RecordPrepare(err == nil, time.Since(start))
	}()

	opts, err := ParseOptions(optionsJSON)
	if err != nil {
		return nil, err
	}

	var msg message.Plaintext
	if err := json.Unmarshal(plaintextJSON, &msg); err != nil {
		return nil, newError(MalformedMessage, fmt.Errorf("%w: %v", message.ErrMalformed, err), nil)
	}
	message.FillDefaults(&msg)

	var out dispatch.StepOutput
	if opts.SkipProtocolHandling {
		out = dispatch.StepOutput{Encrypt: true, Message: msg, Metadata: map[string]any{}}
	} else {
		result, _, err := e.registry.DispatchSend(ctx, msg)
		if err != nil {
			return nil, classify(err)
		}
		out = result
	}

	if !out.Encrypt || opts.SkipMessagePackaging {
		raw, err := json.Marshal(out.Message)
		if err != nil {
			return nil, newError(MalformedMessage, err, nil)
		}
		return &Result{Message: raw, Metadata: metadataJSON(out.Metadata)}, nil
	}

	sealedMsg, err := e.seal(ctx, opts, out.Message)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(sealedMsg)
	if err != nil {
		return nil, newError(MalformedMessage, err, nil)
	}
	return &Result{Message: raw, Metadata: metadataJSON(out.Metadata)}, nil
}

// Ingest implements §6's ingest(options, wire) -> {message, metadata}.
func (e *Engine) Ingest(ctx context.Context, optionsJSON, wireJSON []byte) (result *Result, err error) {
	start := time.Now()
	metrics.MessageSize.WithLabelValues("wire").Observe(float64(len(wireJSON)))
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
			logger.GetDefaultLogger().Warn("ingest failed",
				logger.Error(err),
				logger.Duration("duration", time.Since(start)),
			)
		}
		metrics.MessagesProcessed.WithLabelValues("ingest", status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
		metrics.GetGlobalCollector().RecordIngest(err == nil, time.Since(start))
	}()

	opts, err := ParseOptions(optionsJSON)
	if err != nil {
		return nil, err
	}

	msg, err := e.open(ctx, opts, wireJSON)
	if err != nil {
		return nil, err
	}
	message.FillDefaults(&msg)

	if opts.SkipProtocolHandling {
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, newError(MalformedMessage, err, nil)
		}
		return &Result{Message: raw, Metadata: "{}"}, nil
	}

	out, _, err := e.registry.DispatchReceive(ctx, msg)
	if err != nil {
		return nil, classify(err)
	}

	raw, err := json.Marshal(out.Message)
	if err != nil {
		return nil, newError(MalformedMessage, err, nil)
	}
	return &Result{Message: raw, Metadata: metadataJSON(out.Metadata)}, nil
}

// seal resolves an encryption key per §4.4 step 1-2, rewriting from/to to
// key-agreement identifiers when the key came from a CKR, then produces
// the sealed envelope.
func (e *Engine) seal(ctx context.Context, opts Options, msg message.Plaintext) (*message.Envelope, error) {
	mySecret, othersPublic, fromKID, toKID, rewrite, err := e.resolveEncryptionKey(ctx, opts, msg)
	if err != nil {
		return nil, err
	}

	if rewrite {
		// The ciphertext itself must name the agreement keys, not the
		// human DIDs: the rewrite happens on the plaintext before it is
		// serialized for sealing, matching the originating
		// implementation's re-serialize-then-encrypt order.
		msg.From = fromKID
		msg.To = []string{toKID}
	}

	var signing *envelope.SigningKeys
	if len(opts.SigningKeys.SigningMySecret) > 0 {
		// An override signing key is used as-is, without minting a fresh
		// ephemeral keypair (the caller has taken responsibility for the
		// anti-correlation property §4.4 otherwise guarantees).
		priv, err := expandSigningKey(opts.SigningKeys.SigningMySecret)
		if err != nil {
			return nil, newError(NoKeyMaterial, err, map[string]string{"direction": "sign"})
		}
		signing = &envelope.SigningKeys{
			PrivateKey: priv,
			PublicKey:  priv.Public().(ed25519.PublicKey),
		}
	}

	aad := envelopeAAD{From: fromKID, To: []string{toKID}, KID: fromKID}.bytes()

	plaintext, err := json.Marshal(msg)
	if err != nil {
		return nil, newError(MalformedMessage, err, nil)
	}

	sealed, err := envelope.Seal(mySecret, othersPublic, plaintext, aad, signing)
	if err != nil {
		return nil, newError(EnvelopeInvalid, err, nil)
	}

	return &message.Envelope{
		Ciphertext:   sealed.Ciphertext,
		IV:           sealed.IV,
		From:         fromKID,
		To:           []string{toKID},
		KID:          fromKID,
		Recipients:   []message.EnvelopeRecipient{{Header: message.RecipientHeader{KID: toKID}}},
		SignerPublic: sealed.SignerPublic,
		Signature:    sealed.Signature,
	}, nil
}

// open parses wire as an Envelope if it looks like one, resolves a
// decryption key per §4.4 step 2, verifies and decrypts it, and falls
// back to treating wire as an already-plaintext message (the did-exchange
// request is always sent cleartext, so INGEST must accept plaintext on
// the wire too).
func (e *Engine) open(ctx context.Context, opts Options, wire []byte) (message.Plaintext, error) {
	var env message.Envelope
	if err := json.Unmarshal(wire, &env); err == nil && len(env.Ciphertext) > 0 {
		if opts.SkipMessagePackaging {
			return message.Plaintext{}, newError(MalformedMessage, fmt.Errorf("engine: skip_message_packaging set but wire message is an envelope"), nil)
		}

		mySecret, othersPublic, err := e.resolveDecryptionKey(ctx, opts, env)
		if err != nil {
			return message.Plaintext{}, err
		}

		aad := envelopeAAD{From: env.From, To: env.To, KID: env.KID}.bytes()
		plaintext, err := envelope.Open(mySecret, othersPublic, &envelope.Sealed{
			Ciphertext:   env.Ciphertext,
			IV:           env.IV,
			SignerPublic: env.SignerPublic,
			Signature:    env.Signature,
		}, aad)
		if err != nil {
			return message.Plaintext{}, newError(EnvelopeInvalid, err, nil)
		}

		var msg message.Plaintext
		if err := json.Unmarshal(plaintext, &msg); err != nil {
			return message.Plaintext{}, newError(MalformedMessage, fmt.Errorf("%w: %v", message.ErrMalformed, err), nil)
		}
		return msg, nil
	}

	var msg message.Plaintext
	if err := json.Unmarshal(wire, &msg); err != nil {
		return message.Plaintext{}, newError(MalformedMessage, fmt.Errorf("%w: %v", message.ErrMalformed, err), nil)
	}
	return msg, nil
}

// resolveEncryptionKey implements §4.4 step 1's key resolution: caller
// override takes precedence on each side independently; otherwise the
// local secret is resolved via KAK(from) then CKR(from,to), and the peer
// public is resolved via CKR(from,to) — the only record that ever holds
// it. Resolving either side from the CKR rewrites from/to to the
// key-agreement identifiers per step 2.
func (e *Engine) resolveEncryptionKey(ctx context.Context, opts Options, msg message.Plaintext) (mySecret, othersPublic []byte, fromKID, toKID string, rewrite bool, err error) {
	from, to, err := message.FromTo(msg.BaseMessage)
	if err != nil {
		return nil, nil, "", "", false, classify(err)
	}

	mySecret = opts.EncryptionKeys.EncryptionMySecret
	othersPublic = opts.EncryptionKeys.EncryptionOthersPublic

	var ckr *keystore.CKR
	if len(mySecret) == 0 || len(othersPublic) == 0 {
		ckr, _ = e.keys.GetCommKeyPair(ctx, from, to)
	}

	if len(mySecret) == 0 {
		if kak, kakErr := e.keys.GetKeyAgreementKey(ctx, from); kakErr == nil {
			mySecret = kak.PrivateKey
			fromKID = kak.KeyID
		} else if ckr != nil {
			mySecret = ckr.LocalSecret
			fromKID = ckr.LocalKAKeyID
			rewrite = true
		} else {
			metrics.NoKeyMaterialTotal.WithLabelValues("encrypt").Inc()
			return nil, nil, "", "", false, newError(NoKeyMaterial, fmt.Errorf("keystore: no encryption secret for %q", from), map[string]string{"direction": "encrypt", "from": from, "to": to})
		}
	} else {
		fromKID = localKID(mySecret)
	}

	if len(othersPublic) == 0 {
		if ckr != nil {
			othersPublic = ckr.PeerPub
			toKID = ckr.PeerKAKeyID
			rewrite = true
		} else {
			metrics.NoKeyMaterialTotal.WithLabelValues("encrypt").Inc()
			return nil, nil, "", "", false, newError(NoKeyMaterial, fmt.Errorf("keystore: no peer public key for (%q, %q)", from, to), map[string]string{"direction": "encrypt", "from": from, "to": to})
		}
	} else {
		toKID = envelope.KeyID(othersPublic)
	}

	return mySecret, othersPublic, fromKID, toKID, rewrite, nil
}

// resolveDecryptionKey implements §4.4 Open step 2: caller override, then
// KAK keyed by the recipient's ka key id, then the CKR keyed by
// (recipient ka key id, sender ka key id).
func (e *Engine) resolveDecryptionKey(ctx context.Context, opts Options, env message.Envelope) (mySecret, othersPublic []byte, err error) {
	if len(env.Recipients) == 0 {
		return nil, nil, newError(EnvelopeInvalid, fmt.Errorf("envelope: missing recipients"), nil)
	}
	recipientKID := env.Recipients[0].Header.KID
	senderKID := env.From

	mySecret = opts.EncryptionKeys.EncryptionMySecret
	othersPublic = opts.EncryptionKeys.EncryptionOthersPublic

	var ckr *keystore.CKR
	needCKR := len(mySecret) == 0 || len(othersPublic) == 0
	if needCKR {
		ckr, _ = e.keys.GetCommKeyPair(ctx, recipientKID, senderKID)
	}

	if len(mySecret) == 0 {
		if kak, kakErr := e.keys.GetKeyAgreementKey(ctx, recipientKID); kakErr == nil {
			mySecret = kak.PrivateKey
		} else if ckr != nil {
			mySecret = ckr.LocalSecret
		} else {
			metrics.NoKeyMaterialTotal.WithLabelValues("decrypt").Inc()
			return nil, nil, newError(NoKeyMaterial, fmt.Errorf("keystore: no decryption secret for %q", recipientKID), map[string]string{"direction": "decrypt", "from": senderKID, "to": recipientKID})
		}
	}

	if len(othersPublic) == 0 {
		if ckr != nil {
			othersPublic = ckr.PeerPub
		} else {
			metrics.NoKeyMaterialTotal.WithLabelValues("decrypt").Inc()
			return nil, nil, newError(NoKeyMaterial, fmt.Errorf("keystore: no sender public key for (%q, %q)", recipientKID, senderKID), map[string]string{"direction": "decrypt", "from": senderKID, "to": recipientKID})
		}
	}

	return mySecret, othersPublic, nil
}

// expandSigningKey accepts either a 32-byte Ed25519 seed or a 64-byte
// expanded private key, matching the two shapes "32 bytes" callers of
// options.signing_keys might reasonably hand in.
func expandSigningKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("engine: signing_my_secret must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// localKID derives the hex key-agreement identifier for a raw X25519
// secret, used to populate the envelope's "kid" header when the caller
// overrides the secret directly rather than resolving it from the store.
func localKID(secret []byte) string {
	priv, err := ecdh.X25519().NewPrivateKey(secret)
	if err != nil {
		return ""
	}
	return envelope.KeyID(priv.PublicKey().Bytes())
}
