package identity

import (
	"encoding/hex"
	"errors"
)

// Identity is a 32-byte principal. The hosting runtime is responsible for
// verifying that a caller actually controls an identity; this package only
// parses, formats, and compares them.
type Identity [32]byte

// Zero is the all-zero identity, never a valid principal.
var Zero Identity

var errBadIdentity = errors.New("identity: expected 64 hex characters")

// Parse decodes a 64-character hex string into an Identity.
func Parse(s string) (Identity, error) {
	var id Identity
	if len(s) != hex.EncodedLen(len(id)) {
		return Zero, errBadIdentity
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Zero, errBadIdentity
	}
	if id.IsZero() {
		return Zero, errBadIdentity
	}
	return id, nil
}

// String returns the hex form.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Zero
}
