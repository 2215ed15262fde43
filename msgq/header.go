package msgq

import "encoding/json"

// Header is the routing header carried by every frame (spec §3,
// §4.1). Recognized keys become named fields; anything else a client
// sends is preserved in Extra so the broker never has to understand a
// key in order to route around it.
type Header struct {
	Type        string `json:"type,omitempty"`
	Group       string `json:"group,omitempty"`
	Instance    string `json:"instance,omitempty"`
	To          string `json:"to,omitempty"`
	From        string `json:"from,omitempty"`
	Seq         string `json:"seq,omitempty"`
	Reply       string `json:"reply,omitempty"`
	WantAnswer  bool   `json:"want_answer,omitempty"`

	// Extra preserves any routing-header keys this broker doesn't
	// recognize, so forward-compatible clients don't lose data when
	// the broker re-encodes a header it is relaying or replying to.
	Extra map[string]json.RawMessage `json:"-"`
}

// hasReply reports whether the header already carries a reply key,
// used to suppress no-recipient synthesis for messages that are
// themselves replies (prevents reply-to-reply error loops, spec §4.3).
func (h Header) hasReply() bool { return h.Reply != "" }

// encodeHeader serializes a Header to its wire form: a JSON object
// with the recognized fields plus any preserved Extra keys merged in.
func encodeHeader(h Header) ([]byte, error) {
	type alias Header
	base, err := json.Marshal(alias(h))
	if err != nil {
		return nil, err
	}
	if len(h.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage)
	}
	for k, v := range h.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// decodeHeader parses a wire-form routing header. Recognized keys
// populate the named fields; everything else is kept in Extra.
func decodeHeader(data []byte) (Header, error) {
	var h Header
	type alias Header
	a := alias{}
	if err := json.Unmarshal(data, &a); err != nil {
		return Header{}, err
	}
	h = Header(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Header{}, err
	}
	known := map[string]struct{}{
		KeyType: {}, KeyGroup: {}, KeyInstance: {}, KeyTo: {},
		KeyFrom: {}, KeySeq: {}, KeyReply: {}, KeyWantAnswer: {},
	}
	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if h.Extra == nil {
			h.Extra = make(map[string]json.RawMessage)
		}
		h.Extra[k] = v
	}
	return h, nil
}
