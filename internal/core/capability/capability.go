// Package capability derives record addresses and publish capability tokens.
//
// Both are the same pure function: SHA2-256 over a tag and a seed, wrapped as a
// CIDv1 (raw codec). Nothing here touches storage.
package capability

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	mh "github.com/multiformats/go-multihash"
)

// Namespaces for deterministic record addressing.
const (
	NamespaceHub    = "hub"
	NamespaceTopics = "topics"
)

// TagPublish is mixed with a hub address to obtain its publish token.
const TagPublish = "publish"

var ErrInvalidToken = errors.New("invalid capability token")

// Derive hashes tag and seed into a CID. The tag is length-prefixed so that
// ("ab", "c") and ("a", "bc") never collide.
func Derive(seed []byte, tag string) cid.Cid {
	buf := make([]byte, 0, 1+len(tag)+len(seed))
	buf = append(buf, byte(len(tag)))
	buf = append(buf, tag...)
	buf = append(buf, seed...)

	// SHA2_256 with default length never fails.
	sum, err := mh.Sum(buf, mh.SHA2_256, -1)
	if err != nil {
		panic(fmt.Sprintf("capability: sha2-256 multihash: %v", err))
	}
	return cid.NewCidV1(cid.Raw, sum)
}

// Address is the record location for an owner within a namespace. The same owner
// always maps to the same address.
func Address(owner peer.ID, namespace string) cid.Cid {
	return Derive([]byte(owner), namespace)
}

// HubAddress is shorthand for Address(owner, NamespaceHub).
func HubAddress(owner peer.ID) cid.Cid {
	return Address(owner, NamespaceHub)
}

// TopicsAddress is shorthand for Address(owner, NamespaceTopics).
func TopicsAddress(owner peer.ID) cid.Cid {
	return Address(owner, NamespaceTopics)
}

// PublishToken returns the capability that authorizes publishing into the hub at addr.
// It is a pure function of the address, so it is not a secret.
func PublishToken(addr cid.Cid) cid.Cid {
	return Derive(addr.Bytes(), TagPublish)
}

// ParseToken decodes a presented token. The empty string yields cid.Undef.
func ParseToken(s string) (cid.Cid, error) {
	if s == "" {
		return cid.Undef, nil
	}
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}

// Check reports whether presented equals the token derived for addr.
func Check(addr, presented cid.Cid) bool {
	if !presented.Defined() {
		return false
	}
	return PublishToken(addr).Equals(presented)
}
