package vault

import (
	"crypto/rand"
	"encoding/hex"
)

// newRevisionToken generates a fresh opaque revision token. Tokens only
// need to be unique; the manifest and the revision log compare them as
// exact strings.
func newRevisionToken() string {
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
