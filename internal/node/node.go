// Package node defines the identifier type for commits and content blobs.
package node

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Size is the length of a node identifier in bytes.
const Size = 20

// HexSize is the length of a node identifier in hex form.
const HexSize = Size * 2

// Node identifies a commit or a content blob.
type Node [Size]byte

// Null is the all-zero node, used as the missing-parent marker.
var Null Node

// Hash derives a node from the given parts. Commit nodes hash the two
// parent nodes followed by the commit text; content nodes hash the raw
// content.
func Hash(parts ...[]byte) Node {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var n Node
	copy(n[:], h.Sum(nil))
	return n
}

// FromHex parses a 40-character hex string into a Node.
func FromHex(s string) (Node, error) {
	var n Node
	if len(s) != HexSize {
		return n, fmt.Errorf("invalid node %q: want %d hex chars", s, HexSize)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("invalid node %q: %w", s, err)
	}
	copy(n[:], b)
	return n, nil
}

// FromBytes copies a 20-byte slice into a Node.
func FromBytes(b []byte) (Node, error) {
	var n Node
	if len(b) != Size {
		return n, fmt.Errorf("invalid node length %d", len(b))
	}
	copy(n[:], b)
	return n, nil
}

func (n Node) Hex() string { return hex.EncodeToString(n[:]) }

func (n Node) IsNull() bool { return n == Null }

func (n Node) String() string { return n.Hex() }

// Short returns the abbreviated form used in human-readable output.
func (n Node) Short() string { return n.Hex()[:12] }

// MarshalJSON encodes the node as its hex string.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Hex())
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
