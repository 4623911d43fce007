package oracle

import (
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte block or transaction identifier in internal (little-endian)
// byte order. The String form is the usual big-endian display order, which is
// what Bitcoin Core's RPC interface speaks.
type Hash [32]byte

func (h Hash) String() string {
	var rev [32]byte
	for i, b := range h {
		rev[len(h)-1-i] = b
	}
	return hex.EncodeToString(rev[:])
}

// NewHashFromStr parses a 64-character big-endian hex string into a Hash.
func NewHashFromStr(s string) (Hash, error) {
	var h Hash
	if len(s) != 64 {
		return h, fmt.Errorf("hash hex length %d, want 64", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	for i, v := range b {
		h[len(b)-1-i] = v
	}
	return h, nil
}
