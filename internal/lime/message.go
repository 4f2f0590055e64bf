package lime

import "encoding/json"

// Message carries a Document addressed to a node. Fire-and-forget messages
// omit ID; messages expecting a notification set it.
type Message struct {
	Envelope

	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Document decodes the message content using the registered Document type
// for the message's media type.
func (m Message) Document() (Document, error) {
	return DecodeDocument(m.Type, m.Content)
}

// SetDocument encodes doc as the message content and sets Type from the
// document's media type.
func (m *Message) SetDocument(doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.Type = doc.MediaType().String()
	m.Content = raw
	return nil
}
