// Package storage persists envelopes addressed to an identity so an
// on-demand or currently-disconnected recipient can retrieve them later,
// independent of any live channel.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nugget/lime-node/internal/lime"
)

// EnvelopeStorage stores envelopes keyed by the recipient identity and an
// opaque per-envelope id, per the envelope storage model: store appends,
// get_ids returns a consistent snapshot of keys at call time.
type EnvelopeStorage interface {
	// Store appends envelope under identity, returning the id it was
	// assigned. If the envelope already carries a non-empty ID, that ID is
	// used; otherwise a new one is generated.
	Store(ctx context.Context, identity lime.Identity, envelope lime.AnyEnvelope) (id string, err error)
	// GetIDs returns the ids stored for identity, in insertion order, as a
	// snapshot taken at call time.
	GetIDs(ctx context.Context, identity lime.Identity) ([]string, error)
	// Get returns the envelope stored under identity/id.
	Get(ctx context.Context, identity lime.Identity, id string) (lime.AnyEnvelope, error)
	// Delete removes the envelope stored under identity/id, reporting
	// whether anything was actually removed.
	Delete(ctx context.Context, identity lime.Identity, id string) (bool, error)
	// Close releases any resources held by the backend.
	Close() error
}

// envelopeID extracts the wire ID from an envelope, for use as the default
// storage key when the caller did not supply one explicitly.
func envelopeID(envelope lime.AnyEnvelope) string {
	switch e := envelope.(type) {
	case *lime.Message:
		return e.ID
	case *lime.Notification:
		return e.ID
	case *lime.Command:
		return e.ID
	case *lime.Session:
		return e.ID
	default:
		return ""
	}
}

// newEnvelopeID generates a fresh id for an envelope with no ID of its own.
func newEnvelopeID() string {
	return uuid.NewString()
}

// storedEnvelope is the wire representation used by persistent backends:
// the envelope kind tag plus its JSON encoding, so Get can reconstruct the
// concrete type without a discriminator field of its own (a stored Command
// response, for instance, carries no "state" field to sniff).
type storedEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encodeStoredEnvelope(envelope lime.AnyEnvelope) (storedEnvelope, error) {
	var kind string
	switch envelope.(type) {
	case *lime.Message:
		kind = "message"
	case *lime.Notification:
		kind = "notification"
	case *lime.Command:
		kind = "command"
	case *lime.Session:
		kind = "session"
	default:
		return storedEnvelope{}, fmt.Errorf("storage: unknown envelope type %T", envelope)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return storedEnvelope{}, fmt.Errorf("storage: encode envelope: %w", err)
	}
	return storedEnvelope{Kind: kind, Data: data}, nil
}

func decodeStoredEnvelope(stored storedEnvelope) (lime.AnyEnvelope, error) {
	var envelope lime.AnyEnvelope
	switch stored.Kind {
	case "message":
		envelope = &lime.Message{}
	case "notification":
		envelope = &lime.Notification{}
	case "command":
		envelope = &lime.Command{}
	case "session":
		envelope = &lime.Session{}
	default:
		return nil, fmt.Errorf("storage: unknown stored envelope kind %q", stored.Kind)
	}

	if err := json.Unmarshal(stored.Data, envelope); err != nil {
		return nil, fmt.Errorf("storage: decode envelope: %w", err)
	}
	return envelope, nil
}
