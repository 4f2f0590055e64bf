package lime

import "encoding/json"

// sessionWire mirrors Session but with Authentication typed as raw JSON, so
// MarshalJSON/UnmarshalJSON can resolve the concrete authentication type
// through the Scheme discriminator rather than relying on encoding/json's
// (nonexistent) support for interface fields.
type sessionWire struct {
	Envelope

	State SessionState `json:"state"`

	EncryptionOptions []SessionEncryption `json:"encryptionOptions,omitempty"`
	Encryption        SessionEncryption   `json:"encryption,omitempty"`

	CompressionOptions []SessionCompression `json:"compressionOptions,omitempty"`
	Compression        SessionCompression   `json:"compression,omitempty"`

	SchemeOptions []AuthenticationScheme `json:"schemeOptions,omitempty"`
	Scheme        AuthenticationScheme   `json:"scheme,omitempty"`

	Authentication json.RawMessage `json:"authentication,omitempty"`

	Reason *Reason `json:"reason,omitempty"`
}

// MarshalJSON implements json.Marshaler for Session.
func (s Session) MarshalJSON() ([]byte, error) {
	w := sessionWire{
		Envelope:           s.Envelope,
		State:              s.State,
		EncryptionOptions:  s.EncryptionOptions,
		Encryption:         s.Encryption,
		CompressionOptions: s.CompressionOptions,
		Compression:        s.Compression,
		SchemeOptions:      s.SchemeOptions,
		Scheme:             s.Scheme,
		Reason:             s.Reason,
	}
	if s.Authentication != nil {
		raw, err := json.Marshal(s.Authentication)
		if err != nil {
			return nil, err
		}
		w.Authentication = raw
		if w.Scheme == "" {
			w.Scheme = s.Authentication.Scheme()
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for Session, resolving the
// Authentication field's concrete type from the Scheme discriminator.
func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*s = Session{
		Envelope:           w.Envelope,
		State:              w.State,
		EncryptionOptions:  w.EncryptionOptions,
		Encryption:         w.Encryption,
		CompressionOptions: w.CompressionOptions,
		Compression:        w.Compression,
		SchemeOptions:      w.SchemeOptions,
		Scheme:             w.Scheme,
		Reason:             w.Reason,
	}

	if len(w.Authentication) > 0 {
		auth := newAuthenticationForScheme(w.Scheme)
		if err := json.Unmarshal(w.Authentication, auth); err != nil {
			return NewProtocolError("malformed authentication payload", err)
		}
		s.Authentication = auth
	}

	return nil
}
