package lime

import (
	"encoding/json"
	"testing"
)

func TestParseMediaType(t *testing.T) {
	got, err := ParseMediaType("application/vnd.lime.ping+json")
	if err != nil {
		t.Fatalf("ParseMediaType: %v", err)
	}
	want := MediaType{Type: "application", Subtype: "vnd.lime.ping+json"}
	if got != want {
		t.Errorf("ParseMediaType = %+v, want %+v", got, want)
	}

	if _, err := ParseMediaType("noslash"); err == nil {
		t.Error("expected error for media type without a slash")
	}
}

func TestMediaTypeString(t *testing.T) {
	mt := MediaType{Type: "text", Subtype: "plain"}
	if got := mt.String(); got != "text/plain" {
		t.Errorf("String() = %q", got)
	}
}

type testDocument struct {
	Value string `json:"value"`
}

func (testDocument) MediaType() MediaType {
	return MediaType{Type: "application", Subtype: "vnd.test+json"}
}

func TestRegisterDocument_DuplicatePanics(t *testing.T) {
	RegisterDocument("application/vnd.test.dup+json", func() Document { return &testDocument{} })

	defer func() {
		if recover() == nil {
			t.Error("expected panic registering a duplicate media type")
		}
	}()
	RegisterDocument("application/vnd.test.dup+json", func() Document { return &testDocument{} })
}

func TestDecodeDocument_RegisteredType(t *testing.T) {
	RegisterDocument("application/vnd.test.decode+json", func() Document { return &testDocument{} })

	doc, err := DecodeDocument("application/vnd.test.decode+json", json.RawMessage(`{"value":"hi"}`))
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	td, ok := doc.(*testDocument)
	if !ok {
		t.Fatalf("type = %T, want *testDocument", doc)
	}
	if td.Value != "hi" {
		t.Errorf("Value = %q", td.Value)
	}
}

func TestDecodeDocument_UnregisteredFallsBackToPlain(t *testing.T) {
	doc, err := DecodeDocument("application/vnd.unregistered+json", json.RawMessage(`{"any":1}`))
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	plain, ok := doc.(PlainDocument)
	if !ok {
		t.Fatalf("type = %T, want PlainDocument", doc)
	}
	if string(plain.Raw) != `{"any":1}` {
		t.Errorf("Raw = %s", plain.Raw)
	}
}

func TestPingRegisteredByInit(t *testing.T) {
	doc, err := DecodeDocument("application/vnd.lime.ping+json", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if _, ok := doc.(*Ping); !ok {
		t.Fatalf("type = %T, want *Ping", doc)
	}
}

func TestPlainDocumentMarshalJSON(t *testing.T) {
	d := PlainDocument{Raw: json.RawMessage(`{"a":1}`)}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != `{"a":1}` {
		t.Errorf("Marshal = %s", raw)
	}

	empty := PlainDocument{}
	raw, err = json.Marshal(empty)
	if err != nil {
		t.Fatalf("Marshal(empty): %v", err)
	}
	if string(raw) != "null" {
		t.Errorf("Marshal(empty) = %s, want null", raw)
	}
}
