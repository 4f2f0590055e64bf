package lime

// SessionState is one of the states of the session state machine.
type SessionState string

const (
	SessionStateNew            SessionState = "new"
	SessionStateNegotiating    SessionState = "negotiating"
	SessionStateAuthenticating SessionState = "authenticating"
	SessionStateEstablished    SessionState = "established"
	SessionStateFinishing      SessionState = "finishing"
	SessionStateFinished       SessionState = "finished"
	SessionStateFailed         SessionState = "failed"
)

// sessionStateSteps orders the non-terminal happy-path states so that
// setState can reject backward transitions. Finished and Failed are terminal
// and are handled separately since neither precedes the other.
var sessionStateSteps = map[SessionState]int{
	SessionStateNew:            0,
	SessionStateNegotiating:    1,
	SessionStateAuthenticating: 2,
	SessionStateEstablished:    3,
	SessionStateFinishing:      4,
	SessionStateFinished:       5,
	SessionStateFailed:         5,
}

// Step returns the state's position in the forward-only happy-path ordering.
// Finished and Failed share the terminal step since a channel may reach
// either directly from Established without passing through the other.
func (s SessionState) Step() int {
	return sessionStateSteps[s]
}

// IsTerminal reports whether no further session transitions are permitted.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateFinished || s == SessionStateFailed
}

// SessionCompression identifies a transport-level compression scheme offered
// or selected during negotiation.
type SessionCompression string

const (
	SessionCompressionNone SessionCompression = "none"
	SessionCompressionGZip SessionCompression = "gzip"
)

// SessionEncryption identifies a transport-level encryption scheme offered or
// selected during negotiation.
type SessionEncryption string

const (
	SessionEncryptionNone SessionEncryption = "none"
	SessionEncryptionTLS  SessionEncryption = "tls"
)

// AuthenticationScheme identifies an authentication method offered during
// the authenticating state.
type AuthenticationScheme string

const (
	AuthenticationSchemeGuest     AuthenticationScheme = "guest"
	AuthenticationSchemePlain     AuthenticationScheme = "plain"
	AuthenticationSchemeKey       AuthenticationScheme = "key"
	AuthenticationSchemeTransport AuthenticationScheme = "transport"
	AuthenticationSchemeExternal  AuthenticationScheme = "external"
)

// Session carries the negotiation, authentication, and termination state
// exchanged between two peers establishing or tearing down a channel.
type Session struct {
	Envelope

	State SessionState `json:"state"`

	EncryptionOptions []SessionEncryption `json:"encryptionOptions,omitempty"`
	Encryption        SessionEncryption   `json:"encryption,omitempty"`

	CompressionOptions []SessionCompression `json:"compressionOptions,omitempty"`
	Compression        SessionCompression   `json:"compression,omitempty"`

	SchemeOptions []AuthenticationScheme `json:"schemeOptions,omitempty"`
	Scheme        AuthenticationScheme   `json:"scheme,omitempty"`

	Authentication Authentication `json:"authentication,omitempty"`

	Reason *Reason `json:"reason,omitempty"`
}
