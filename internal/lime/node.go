package lime

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// Identity is a "name@domain" address, the instance-less projection of a Node.
// It is the addressing unit used for envelope storage and authentication.
type Identity struct {
	Name   string
	Domain string
}

// ParseIdentity parses a "name@domain" string into an Identity.
func ParseIdentity(s string) (Identity, error) {
	name, domain, ok := strings.Cut(s, "@")
	if !ok || name == "" {
		return Identity{}, fmt.Errorf("lime: invalid identity %q", s)
	}
	return Identity{Name: name, Domain: domain}, nil
}

// String renders the identity in "name@domain" form. An empty domain yields
// just the name, matching how a domain-less identity is written on the wire.
func (i Identity) String() string {
	if i.Domain == "" {
		return i.Name
	}
	return i.Name + "@" + i.Domain
}

// IsEmpty reports whether the identity has no name.
func (i Identity) IsEmpty() bool {
	return i.Name == ""
}

// Equals compares two identities case-insensitively on name and domain, after
// folding the domain through IDNA so Unicode and ASCII forms of the same
// domain compare equal.
func (i Identity) Equals(other Identity) bool {
	return strings.EqualFold(i.Name, other.Name) &&
		strings.EqualFold(normalizeDomain(i.Domain), normalizeDomain(other.Domain))
}

// Node is a fully qualified "name@domain/instance" endpoint address.
type Node struct {
	Identity
	Instance string
}

// ParseNode parses a "name@domain/instance" string into a Node. The instance
// segment is optional.
func ParseNode(s string) (Node, error) {
	addr, instance, _ := strings.Cut(s, "/")
	identity, err := ParseIdentity(addr)
	if err != nil {
		return Node{}, err
	}
	return Node{Identity: identity, Instance: instance}, nil
}

// String renders the node in "name@domain/instance" form, omitting the
// instance segment when empty.
func (n Node) String() string {
	s := n.Identity.String()
	if n.Instance != "" {
		s += "/" + n.Instance
	}
	return s
}

// ToIdentity returns the instance-less projection of the node.
func (n Node) ToIdentity() Identity {
	return n.Identity
}

// IsComplete reports whether the node has both a name and a domain. Callers
// that require a fully addressable node (e.g. a server's own node) should
// check this and treat an incomplete node as a programmer error.
func (n Node) IsComplete() bool {
	return n.Name != "" && n.Domain != ""
}

// Equals compares two nodes case-insensitively on name, domain, and instance.
func (n Node) Equals(other Node) bool {
	return n.Identity.Equals(other.Identity) && strings.EqualFold(n.Instance, other.Instance)
}

// MarshalText implements encoding.TextMarshaler so Node serializes as a bare
// string in JSON envelopes, matching the wire format.
func (n Node) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Node) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*n = Node{}
		return nil
	}
	parsed, err := ParseNode(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for Identity.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for Identity.
func (i *Identity) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*i = Identity{}
		return nil
	}
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// normalizeDomain folds a domain through IDNA so comparisons treat Unicode
// and punycode forms of the same domain as equal. Domains that fail to
// register (already-ASCII, malformed) are compared as-is.
func normalizeDomain(domain string) string {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return domain
	}
	return ascii
}
