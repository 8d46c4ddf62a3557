package didexchange

import (
	"encoding/json"
	"fmt"

	"github.com/agentmesh/didcomm-engine/core/message"
)

// jsonRoundTrip re-encodes a generically-typed value (as produced by
// core/message's permissive body unmarshaling) back into raw JSON bytes
// so it can be decoded into this protocol's concrete body type.
func jsonRoundTrip(v any) ([]byte, error) {
	return json.Marshal(v)
}

func jsonInto(raw []byte, dst any) error {
	return json.Unmarshal(raw, dst)
}

func errMalformed(detail string) error {
	return fmt.Errorf("%w: %s", message.ErrMalformed, detail)
}
