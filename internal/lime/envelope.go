// Package lime implements the envelope model of the LIME protocol: the
// tagged union of message/notification/command/session envelopes, node and
// identity addressing, reasons, and the document media-type registry.
package lime

import "encoding/json"

// Envelope carries the fields common to every LIME envelope kind. It is
// embedded by Message, Notification, Command, and Session rather than used
// standalone — there is no "bare envelope" on the wire.
type Envelope struct {
	ID       string            `json:"id,omitempty"`
	From     Node              `json:"from,omitempty"`
	To       Node              `json:"to,omitempty"`
	PP       *Node             `json:"pp,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AnyEnvelope is the discriminated union of the four envelope kinds that can
// flow through a channel. It is modeled as a tagged union with exhaustive
// switches at each consumer, not as a common interface with virtual dispatch.
type AnyEnvelope interface {
	isEnvelope()
}

func (*Message) isEnvelope()      {}
func (*Notification) isEnvelope() {}
func (*Command) isEnvelope()      {}
func (*Session) isEnvelope()      {}

// envelopeProbe is used to sniff which concrete envelope kind a JSON document
// represents, by presence of a discriminating field, before fully decoding it.
type envelopeProbe struct {
	Content json.RawMessage `json:"content"`
	Event   json.RawMessage `json:"event"`
	Method  json.RawMessage `json:"method"`
	State   json.RawMessage `json:"state"`
}

// DecodeEnvelope sniffs and decodes a wire-format JSON envelope into its
// concrete type, matching the discriminator rule from the wire format: a
// "content" field implies Message, "event" implies Notification, "method"
// implies Command, and "state" implies Session.
func DecodeEnvelope(data []byte) (AnyEnvelope, error) {
	var probe envelopeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, NewProtocolError("malformed envelope", err)
	}

	switch {
	case probe.State != nil:
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, NewProtocolError("malformed session envelope", err)
		}
		return &s, nil
	case probe.Method != nil:
		var c Command
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, NewProtocolError("malformed command envelope", err)
		}
		return &c, nil
	case probe.Event != nil:
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, NewProtocolError("malformed notification envelope", err)
		}
		return &n, nil
	case probe.Content != nil:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, NewProtocolError("malformed message envelope", err)
		}
		return &m, nil
	default:
		return nil, NewProtocolError("envelope has no recognizable discriminator field", nil)
	}
}

// EncodeEnvelope serializes any of the four concrete envelope kinds to its
// wire-format JSON representation.
func EncodeEnvelope(e AnyEnvelope) ([]byte, error) {
	return json.Marshal(e)
}
