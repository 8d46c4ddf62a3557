package engine

import "encoding/json"

// Options is the JSON shape Prepare/Ingest accept as their first argument,
// matching §6's recognized fields.
type Options struct {
	EncryptionKeys struct {
		EncryptionMySecret     hexBytes `json:"encryption_my_secret,omitempty"`
		EncryptionOthersPublic hexBytes `json:"encryption_others_public,omitempty"`
	} `json:"encryption_keys"`
	SigningKeys struct {
		SigningMySecret     hexBytes `json:"signing_my_secret,omitempty"`
		SigningOthersPublic hexBytes `json:"signing_others_public,omitempty"`
	} `json:"signing_keys"`
	SkipMessagePackaging bool `json:"skip_message_packaging"`
	SkipProtocolHandling bool `json:"skip_protocol_handling"`
}

// hexBytes decodes a hex-encoded JSON string into raw bytes, matching
// options' "hex-encoded 32 bytes" fields.
type hexBytes []byte

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = nil
		return nil
	}
	decoded, err := decodeHex(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

func (h hexBytes) MarshalJSON() ([]byte, error) {
	if len(h) == 0 {
		return json.Marshal("")
	}
	return json.Marshal(encodeHex(h))
}

// ParseOptions decodes raw JSON options, treating an empty/nil body as the
// zero-value Options (every field defaults to its documented default).
func ParseOptions(raw []byte) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, newError(MalformedMessage, err, map[string]string{"detail": "options"})
	}
	return opts, nil
}
