package lime

import "encoding/base64"

// Authentication is the credential payload carried by a Session envelope
// during the authenticating state. The concrete type is selected by the
// Session's Scheme field, since the wire format carries no type tag of its
// own for this field.
type Authentication interface {
	Scheme() AuthenticationScheme
}

// GuestAuthentication is the empty, schemeless credential used when a server
// accepts anonymous clients.
type GuestAuthentication struct{}

func (GuestAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemeGuest }

// PlainAuthentication carries a password, optionally base64-encoded per the
// LIME wire convention.
type PlainAuthentication struct {
	Password string `json:"password"`
}

func (PlainAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemePlain }

// SetPasswordAsBase64 stores password encoded as the wire format expects.
func (a *PlainAuthentication) SetPasswordAsBase64(password string) {
	a.Password = base64.StdEncoding.EncodeToString([]byte(password))
}

// GetFromBase64 decodes the stored password, assuming it was base64-encoded.
func (a PlainAuthentication) GetFromBase64() (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(a.Password)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// KeyAuthentication carries a pre-shared key, also base64-encoded.
type KeyAuthentication struct {
	Key string `json:"key"`
}

func (KeyAuthentication) Scheme() AuthenticationScheme { return AuthenticationSchemeKey }

// TransportAuthentication indicates the peer's identity was already
// established by the transport itself (e.g. mutual TLS) and carries no
// additional credential.
type TransportAuthentication struct{}

func (TransportAuthentication) Scheme() AuthenticationScheme {
	return AuthenticationSchemeTransport
}

// ExternalAuthentication carries a bearer token issued by an external
// identity provider.
type ExternalAuthentication struct {
	Token  string `json:"token"`
	Issuer string `json:"issuer"`
}

func (ExternalAuthentication) Scheme() AuthenticationScheme {
	return AuthenticationSchemeExternal
}

// newAuthenticationForScheme constructs a zero-value Authentication of the
// concrete type matching scheme, used when decoding a Session envelope off
// the wire.
func newAuthenticationForScheme(scheme AuthenticationScheme) Authentication {
	switch scheme {
	case AuthenticationSchemePlain:
		return &PlainAuthentication{}
	case AuthenticationSchemeKey:
		return &KeyAuthentication{}
	case AuthenticationSchemeTransport:
		return &TransportAuthentication{}
	case AuthenticationSchemeExternal:
		return &ExternalAuthentication{}
	default:
		return &GuestAuthentication{}
	}
}
