package httpemu

import (
	"encoding/hex"
	"net/http"

	"golang.org/x/crypto/blake2b"

	"github.com/nugget/lime-node/internal/lime"
)

// credentials is what the listener recovers from an HTTP Basic
// Authorization header: the identity the client claims, and the transport
// key derived from its credentials, which doubles as the transport cache
// lookup key so the same (name, password) pair always lands on the same
// accepted session.
type credentials struct {
	identity lime.Identity
	key      string
}

// authenticate extracts HTTP Basic credentials from r and derives the
// transport key. defaultDomain fills in an identity with no "@domain"
// segment, matching how locally registered clients are usually addressed.
func authenticate(r *http.Request, defaultDomain string) (credentials, bool) {
	name, password, ok := r.BasicAuth()
	if !ok || name == "" {
		return credentials{}, false
	}

	identity, err := lime.ParseIdentity(name)
	if err != nil {
		identity = lime.Identity{Name: name, Domain: defaultDomain}
	}

	return credentials{identity: identity, key: transportKey(name, password)}, true
}

// transportKey hashes (name, password) with blake2b so the cache key never
// carries the credential itself in the clear, while staying deterministic
// across requests from the same client.
func transportKey(name, password string) string {
	sum := blake2b.Sum256([]byte(name + ":" + password))
	return hex.EncodeToString(sum[:])
}
