package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/lime-node/internal/lime"
)

// ServerChannel drives the server side of the session handshake: offering
// negotiation and authentication options, validating the client's choices,
// and establishing or failing the session.
type ServerChannel struct {
	*channel
}

// NewServerChannel constructs a server-side channel bound to serverNode and
// sessionID, both of which must be set before any session envelope can be
// exchanged.
func NewServerChannel(logger *slog.Logger, t Transport, bufferSize int, serverNode lime.Node, sessionID string) *ServerChannel {
	if !serverNode.IsComplete() {
		panic("channel: server node must be complete")
	}
	if sessionID == "" {
		panic("channel: sessionID cannot be empty")
	}

	c := newChannel(logger, t, bufferSize)
	c.localNode = serverNode
	c.sessionID = sessionID
	return &ServerChannel{channel: c}
}

// ReceiveNewSession receives the client's initial Session{state: new}.
func (c *ServerChannel) ReceiveNewSession(ctx context.Context) (*lime.Session, error) {
	if err := c.ensureState(lime.SessionStateNew, "receive new session"); err != nil {
		return nil, err
	}
	return c.receiveSession(ctx)
}

// calculateNegotiationOptions intersects the server's configured options
// with what the transport actually supports, so the server never offers an
// option the transport cannot apply.
func calculateNegotiationOptions[T comparable](configured, supported []T) []T {
	supportedSet := make(map[T]struct{}, len(supported))
	for _, s := range supported {
		supportedSet[s] = struct{}{}
	}
	var out []T
	for _, c := range configured {
		if _, ok := supportedSet[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// sendNegotiatingOptionsSession offers compOptions/encryptOptions to the
// client and awaits its selection.
func (c *ServerChannel) sendNegotiatingOptionsSession(ctx context.Context, compOptions []lime.SessionCompression, encryptOptions []lime.SessionEncryption) (*lime.Session, error) {
	if len(compOptions) == 0 {
		return nil, errors.New("channel: no available compression options for negotiation")
	}
	if len(encryptOptions) == 0 {
		return nil, errors.New("channel: no available encryption options for negotiation")
	}
	if err := c.ensureState(lime.SessionStateNew, "negotiate session"); err != nil {
		return nil, err
	}

	c.setState(lime.SessionStateNegotiating)

	ses := &lime.Session{
		Envelope:           lime.Envelope{ID: c.sessionID, From: c.localNode},
		State:              lime.SessionStateNegotiating,
		CompressionOptions: compOptions,
		EncryptionOptions:  encryptOptions,
	}
	if err := c.sendSession(ctx, ses); err != nil {
		return nil, err
	}
	return c.receiveSession(ctx)
}

func (c *ServerChannel) sendNegotiatingConfirmationSession(ctx context.Context, comp lime.SessionCompression, encrypt lime.SessionEncryption) error {
	if err := c.ensureState(lime.SessionStateNegotiating, "send negotiating confirmation"); err != nil {
		return err
	}
	ses := &lime.Session{
		Envelope:    lime.Envelope{ID: c.sessionID, From: c.localNode},
		State:       lime.SessionStateNegotiating,
		Compression: comp,
		Encryption:  encrypt,
	}
	return c.sendSession(ctx, ses)
}

func (c *ServerChannel) sendAuthenticatingSession(ctx context.Context, schemeOpts []lime.AuthenticationScheme) (*lime.Session, error) {
	if len(schemeOpts) == 0 {
		return nil, errors.New("channel: no available authentication scheme options")
	}
	if err := c.ensureTransportOK("authenticate session"); err != nil {
		return nil, err
	}
	if state := c.State(); state != lime.SessionStateNew && state != lime.SessionStateNegotiating {
		return nil, fmt.Errorf("channel: cannot authenticate session in the %v state", state)
	}

	c.setState(lime.SessionStateAuthenticating)

	ses := &lime.Session{
		Envelope:      lime.Envelope{ID: c.sessionID, From: c.localNode},
		State:         lime.SessionStateAuthenticating,
		SchemeOptions: schemeOpts,
	}
	if err := c.sendSession(ctx, ses); err != nil {
		return nil, err
	}
	return c.receiveSession(ctx)
}

func (c *ServerChannel) sendAuthenticatingRoundTripSession(ctx context.Context, roundTrip lime.Authentication) (*lime.Session, error) {
	if roundTrip == nil {
		panic("channel: authentication round-trip cannot be nil")
	}
	if err := c.ensureState(lime.SessionStateAuthenticating, "authenticate round trip"); err != nil {
		return nil, err
	}
	ses := &lime.Session{
		Envelope:       lime.Envelope{ID: c.sessionID, From: c.localNode},
		State:          lime.SessionStateAuthenticating,
		Authentication: roundTrip,
	}
	if err := c.sendSession(ctx, ses); err != nil {
		return nil, err
	}
	return c.receiveSession(ctx)
}

func (c *ServerChannel) sendEstablishedSession(ctx context.Context, node lime.Node) error {
	if err := c.ensureTransportOK("send established session"); err != nil {
		return err
	}
	switch c.State() {
	case lime.SessionStateNew, lime.SessionStateNegotiating, lime.SessionStateAuthenticating:
	default:
		return fmt.Errorf("channel: cannot establish session in the %v state", c.State())
	}

	c.setState(lime.SessionStateEstablished)
	c.remoteNode = node

	ses := &lime.Session{
		Envelope: lime.Envelope{ID: c.sessionID, From: c.localNode, To: c.remoteNode},
		State:    lime.SessionStateEstablished,
	}
	return c.sendSession(ctx, ses)
}

// FinishSession sends a Finished session directly: the server only finishes
// in response to a client's Finishing request, so there is no handshake
// round trip on this side.
func (c *ServerChannel) FinishSession(ctx context.Context) error {
	if err := c.ensureState(lime.SessionStateEstablished, "finish session"); err != nil {
		return err
	}
	ses := &lime.Session{
		Envelope: lime.Envelope{ID: c.sessionID, From: c.localNode, To: c.remoteNode},
		State:    lime.SessionStateFinished,
	}
	if err := c.sendSession(ctx, ses); err != nil {
		return err
	}
	c.setState(lime.SessionStateFinished)
	return c.Close()
}

// FailSession sends a Failed session with reason and tears down the
// transport.
func (c *ServerChannel) FailSession(ctx context.Context, reason *lime.Reason) error {
	if err := c.ensureTransportOK("fail session"); err != nil {
		return err
	}
	ses := &lime.Session{
		Envelope: lime.Envelope{ID: c.sessionID, From: c.localNode, To: c.remoteNode},
		State:    lime.SessionStateFailed,
		Reason:   reason,
	}
	if err := c.sendSession(ctx, ses); err != nil {
		return err
	}
	c.setState(lime.SessionStateFailed)
	return c.Close()
}

// DomainRole indicates the role of an authenticated identity in its domain.
type DomainRole string

const (
	DomainRoleUnknown       DomainRole = "unknown"
	DomainRoleMember        DomainRole = "member"
	DomainRoleAuthority     DomainRole = "authority"
	DomainRoleRootAuthority DomainRole = "rootAuthority"
)

// AuthenticationResult is what an Authenticator callback returns: either a
// successful role assignment, or a RoundTrip challenge to send back to the
// client for a further authentication round.
type AuthenticationResult struct {
	Role      DomainRole
	RoundTrip lime.Authentication
}

// SuccessfulAuthenticationResult builds an AuthenticationResult granting role.
func SuccessfulAuthenticationResult(role DomainRole) AuthenticationResult {
	return AuthenticationResult{Role: role}
}

// RoundTripAuthenticationResult builds an AuthenticationResult carrying a
// further challenge.
func RoundTripAuthenticationResult(roundTrip lime.Authentication) AuthenticationResult {
	return AuthenticationResult{RoundTrip: roundTrip}
}

// FailedAuthenticationResult is the zero value: an empty Role with no
// round trip, which EstablishSession treats as a rejected credential.
func FailedAuthenticationResult() AuthenticationResult {
	return AuthenticationResult{}
}

// Authenticator validates credentials presented by identity and returns the
// outcome: a granted role, a round-trip challenge, or rejection.
type Authenticator func(ctx context.Context, identity lime.Identity, authentication lime.Authentication) (AuthenticationResult, error)

// Register is invoked once authentication succeeds, before the session is
// reported Established, so the caller can bind the new node to application
// state (routing tables, presence, etc).
type Register func(ctx context.Context, node lime.Node, c *ServerChannel) error

// EstablishSessionOptions configures one call to EstablishSession.
type EstablishSessionOptions struct {
	CompressionOptions []lime.SessionCompression
	EncryptionOptions  []lime.SessionEncryption
	SchemeOptions      []lime.AuthenticationScheme
	Authenticate       Authenticator
	Register           Register
}

// EstablishSession drives the full server-side handshake: receive the new
// session, negotiate compression/encryption (skipped if only one option
// survives intersection with what the transport supports), authenticate,
// and establish. Returns once the session reaches Established or Failed.
func (c *ServerChannel) EstablishSession(ctx context.Context, opts EstablishSessionOptions) error {
	if opts.Authenticate == nil {
		panic("channel: EstablishSession requires an Authenticate callback")
	}
	if opts.Register == nil {
		panic("channel: EstablishSession requires a Register callback")
	}

	ses, err := c.ReceiveNewSession(ctx)
	if err != nil {
		return err
	}
	if ses.ID != "" {
		_ = c.FailSession(ctx, lime.NewReason(lime.ReasonCodeInvalidSessionID, "invalid session id"))
		return errors.New("channel: client sent a new session envelope with a non-empty id")
	}

	compOptions := calculateNegotiationOptions(opts.CompressionOptions, c.transport.SupportedCompression())
	encryptOptions := calculateNegotiationOptions(opts.EncryptionOptions, c.transport.SupportedEncryption())

	if len(compOptions) == 0 || len(encryptOptions) == 0 {
		_ = c.FailSession(ctx, lime.NewReason(lime.ReasonCodeNegotiationNoOptions, "no mutually supported negotiation options"))
		return errors.New("channel: no mutually supported compression/encryption options")
	}

	if len(compOptions) > 1 || len(encryptOptions) > 1 {
		ses, err = c.sendNegotiatingOptionsSession(ctx, compOptions, encryptOptions)
		if err != nil {
			return err
		}
		if ses.State != lime.SessionStateNegotiating || ses.Compression == "" || ses.Encryption == "" {
			_ = c.FailSession(ctx, lime.NewReason(lime.ReasonCodeValidationError, "invalid negotiation selection"))
			return errors.New("channel: client did not select negotiation options")
		}
		if err := c.sendNegotiatingConfirmationSession(ctx, ses.Compression, ses.Encryption); err != nil {
			return err
		}
		if err := c.transport.SetCompression(ctx, ses.Compression); err != nil {
			return err
		}
		if err := c.transport.SetEncryption(ctx, ses.Encryption); err != nil {
			return err
		}
	} else {
		if err := c.transport.SetCompression(ctx, compOptions[0]); err != nil {
			return err
		}
		if err := c.transport.SetEncryption(ctx, encryptOptions[0]); err != nil {
			return err
		}
	}

	ses, err = c.sendAuthenticatingSession(ctx, opts.SchemeOptions)
	if err != nil {
		return err
	}

	for c.State() == lime.SessionStateAuthenticating {
		if ses.State != lime.SessionStateAuthenticating {
			_ = c.FailSession(ctx, lime.NewReason(lime.ReasonCodeValidationError, "expected authenticating session"))
			return errors.New("channel: expected authenticating session envelope")
		}

		result, err := opts.Authenticate(ctx, ses.From.ToIdentity(), ses.Authentication)
		if err != nil {
			_ = c.FailSession(ctx, lime.NewReason(lime.ReasonCodeAuthenticationFailed, err.Error()))
			return err
		}

		switch {
		case result.Role != "" && result.Role != DomainRoleUnknown:
			if err := opts.Register(ctx, ses.From, c); err != nil {
				_ = c.FailSession(ctx, lime.NewReason(lime.ReasonCodeGeneralError, "registration failed"))
				return err
			}
			return c.sendEstablishedSession(ctx, ses.From)
		case result.RoundTrip != nil:
			ses, err = c.sendAuthenticatingRoundTripSession(ctx, result.RoundTrip)
			if err != nil {
				return err
			}
		default:
			_ = c.FailSession(ctx, lime.NewReason(lime.ReasonCodeAuthenticationFailed, "authentication rejected"))
			return errors.New("channel: authentication rejected")
		}
	}

	return nil
}
