package didexchange

// CommunicationDidDocument is the body of every did-exchange request and
// response message: a minimal DID document carrying the sender's
// key-agreement public key and the service endpoint it can be reached at.
//
// PublicKey[0].PublicKeyBase58 is, despite the name, the field the
// originating implementation is inconsistent about: one producer emits
// raw hex there, another emits true base58. This package always emits
// (and expects) true base58 on the wire, and keeps the always-hex
// key-agreement identifier used for envelope routing as a separate,
// internal value (keystore.KAK.KeyID / keystore.CKR.*KAKeyID) that never
// appears in this struct.
type CommunicationDidDocument struct {
	Context        string      `json:"@context"`
	ID             string      `json:"id"`
	Authentication []string    `json:"authentication"`
	PublicKey      []PublicKey `json:"publicKey"`
	Service        []Service   `json:"service"`
}

// PublicKey is one verification method entry of a CommunicationDidDocument.
type PublicKey struct {
	ID              string   `json:"id"`
	Type            []string `json:"type"`
	PublicKeyBase58 string   `json:"publicKeyBase58"`
}

// Service is one service entry of a CommunicationDidDocument, naming where
// the DID's owner can be reached for further DIDComm messages.
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Priority        int      `json:"priority"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	RecipientKeys   []string `json:"recipientKeys"`
}

// newCommunicationDidDoc builds the document a request/response step
// embeds in its message body.
func newCommunicationDidDoc(did, pubKeyBase58, serviceEndpoint string) CommunicationDidDocument {
	keyID := did + "#key-1"
	return CommunicationDidDocument{
		Context:        "https://w3id.org/did/v1",
		ID:             did,
		Authentication: []string{keyID},
		PublicKey: []PublicKey{{
			ID:              keyID,
			Type:            []string{"Ed25519VerificationKey2018"},
			PublicKeyBase58: pubKeyBase58,
		}},
		Service: []Service{{
			ID:              did + "#didcomm",
			Type:            "did-communication",
			Priority:        0,
			ServiceEndpoint: serviceEndpoint,
			RecipientKeys:   []string{pubKeyBase58},
		}},
	}
}

// exchangeInfo is what a receive handler needs out of an incoming
// request/response message: the peer's DID, its key-agreement public key,
// and where to reach it.
type exchangeInfo struct {
	from            string
	to              string
	peerPubKey      []byte
	serviceEndpoint string
}

func parseExchangeInfo(from, to string, doc CommunicationDidDocument) (exchangeInfo, error) {
	if len(doc.PublicKey) == 0 {
		return exchangeInfo{}, errMalformed("no public key attached to communication DID document")
	}
	if len(doc.Service) == 0 {
		return exchangeInfo{}, errMalformed("no service endpoint attached to communication DID document")
	}

	pub, err := decodeBase58PublicKey(doc.PublicKey[0].PublicKeyBase58)
	if err != nil {
		return exchangeInfo{}, err
	}

	return exchangeInfo{
		from:            from,
		to:              to,
		peerPubKey:      pub,
		serviceEndpoint: doc.Service[0].ServiceEndpoint,
	}, nil
}
