package lime

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MediaType identifies the schema of a Document, as "type/subtype" (plus an
// optional "+suffix", e.g. "application/vnd.lime.ping+json").
type MediaType struct {
	Type    string
	Subtype string
}

func (m MediaType) String() string {
	return fmt.Sprintf("%s/%s", m.Type, m.Subtype)
}

// ParseMediaType parses a "type/subtype" string into a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return MediaType{Type: s[:i], Subtype: s[i+1:]}, nil
		}
	}
	return MediaType{}, fmt.Errorf("lime: invalid media type %q", s)
}

// Document is the payload of a Message or the resource of a Command. The
// original LIME implementations discover document types via assembly
// reflection; this port replaces that with an explicit registration API.
type Document interface {
	MediaType() MediaType
}

// documentFactory constructs a zero-value Document for a registered media
// type, so DecodeDocument can allocate the right concrete type before
// unmarshaling into it.
type documentFactory func() Document

var (
	registryMu sync.RWMutex
	registry   = map[string]documentFactory{}
)

// RegisterDocument adds a media type to the document registry. Call during
// package init for every concrete Document type the node needs to decode.
// Registering the same media type twice panics, since it almost always
// indicates two packages racing to own one wire format.
func RegisterDocument(mediaType string, factory func() Document) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[mediaType]; exists {
		panic(fmt.Sprintf("lime: document type %q already registered", mediaType))
	}
	registry[mediaType] = factory
}

// DecodeDocument decodes raw JSON into the concrete Document type registered
// for mediaType. If no type is registered, it falls back to PlainDocument so
// unrecognized media types still round-trip.
func DecodeDocument(mediaType string, raw json.RawMessage) (Document, error) {
	registryMu.RLock()
	factory, ok := registry[mediaType]
	registryMu.RUnlock()

	if !ok {
		return PlainDocument{MediaTypeValue: mediaType, Raw: raw}, nil
	}

	doc := factory()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, NewProtocolError("malformed document for media type "+mediaType, err)
	}
	return doc, nil
}

// PlainDocument is the fallback Document for media types with no registered
// schema: the raw JSON payload, carried through unchanged.
type PlainDocument struct {
	MediaTypeValue string
	Raw            json.RawMessage
}

func (d PlainDocument) MediaType() MediaType {
	mt, err := ParseMediaType(d.MediaTypeValue)
	if err != nil {
		return MediaType{Type: "application", Subtype: "octet-stream"}
	}
	return mt
}

func (d PlainDocument) MarshalJSON() ([]byte, error) {
	if d.Raw == nil {
		return []byte("null"), nil
	}
	return d.Raw, nil
}

// Ping is the zero-field document used for /ping liveness commands.
type Ping struct{}

func (Ping) MediaType() MediaType {
	return MediaType{Type: "application", Subtype: "vnd.lime.ping+json"}
}

func init() {
	RegisterDocument("application/vnd.lime.ping+json", func() Document { return &Ping{} })
}
