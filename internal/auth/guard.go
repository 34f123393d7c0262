// Package auth decides whether a caller may perform an operation on a record.
package auth

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"HubRelay/internal/core/capability"
	"HubRelay/internal/registry"
)

// PublishPolicy selects who may publish into a hub.
type PublishPolicy string

const (
	// PublishOpen lets any authenticated identity publish.
	PublishOpen PublishPolicy = "open"
	// PublishOwner restricts publishing to the hub owner.
	PublishOwner PublishPolicy = "owner"
	// PublishCapability requires the token derived from the hub address.
	PublishCapability PublishPolicy = "capability"
)

// ParsePublishPolicy validates a configured policy name.
func ParsePublishPolicy(s string) (PublishPolicy, error) {
	switch p := PublishPolicy(s); p {
	case PublishOpen, PublishOwner, PublishCapability:
		return p, nil
	case "":
		return PublishOpen, nil
	default:
		return "", fmt.Errorf("unknown publish policy %q", s)
	}
}

// Guard is the authorization strategy for one deployment.
type Guard struct {
	policy PublishPolicy
}

func NewGuard(policy PublishPolicy) *Guard {
	if policy == "" {
		policy = PublishOpen
	}
	return &Guard{policy: policy}
}

// Policy returns the configured publish policy.
func (g *Guard) Policy() PublishPolicy {
	return g.policy
}

// Owner returns a check that only accepts caller as the stored owner.
func (g *Guard) Owner(caller peer.ID) registry.Check {
	return func(h registry.Header) error {
		return RequireOwner(caller, h)
	}
}

// OwnerOr accepts the stored owner or, additionally, the identity other.
func (g *Guard) OwnerOr(caller, other peer.ID) registry.Check {
	return func(h registry.Header) error {
		if caller != "" && caller == other {
			return nil
		}
		return RequireOwner(caller, h)
	}
}

// Publish authorizes caller to publish into the hub described by h, presenting token
// (cid.Undef when none was supplied).
func (g *Guard) Publish(caller peer.ID, h registry.Header, token cid.Cid) error {
	if caller == "" {
		return registry.ErrUnauthorized
	}
	switch g.policy {
	case PublishOwner:
		return RequireOwner(caller, h)
	case PublishCapability:
		if !capability.Check(h.Address, token) {
			return registry.ErrUnauthorized
		}
		return nil
	default:
		return nil
	}
}

// Issue returns the publish token of the hub described by h. Only the owner gets it
// through this path, but the token is derived from the public hub address and anyone
// can compute it (see capability.PublishToken). It gates publishing and is not a secret.
func (g *Guard) Issue(caller peer.ID, h registry.Header) (cid.Cid, error) {
	if err := RequireOwner(caller, h); err != nil {
		return cid.Undef, err
	}
	return capability.PublishToken(h.Address), nil
}

// RequireOwner is the identity-equality strategy.
func RequireOwner(caller peer.ID, h registry.Header) error {
	if caller == "" || caller != h.Owner {
		return registry.ErrUnauthorized
	}
	return nil
}
