package relayapi

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// RequestTTL is how long a freshly signed request stays valid.
	RequestTTL = 2 * time.Minute
	// MaxRequestTTL bounds how far in the future a request may expire. Seen nonces are
	// remembered for this long, so no accepted request outlives its nonce.
	MaxRequestTTL = 5 * time.Minute

	defaultReplayCapacity = 1 << 16
)

var (
	errMissingNonce   = errors.New("nonce is required")
	errRequestExpired = errors.New("request expired")
	errExpiryTooFar   = errors.New("request expiry too far in the future")
	errReplayed       = errors.New("request already used")
	errReplayFull     = errors.New("too many pending requests")
)

// replayGuard accepts each (caller, nonce) pair once while the request is valid.
type replayGuard struct {
	mu       sync.Mutex
	seen     *expirable.LRU[string, struct{}]
	capacity int
	now      func() time.Time
}

func newReplayGuard(capacity int, now func() time.Time) *replayGuard {
	return &replayGuard{
		seen:     expirable.NewLRU[string, struct{}](capacity, nil, MaxRequestTTL),
		capacity: capacity,
		now:      now,
	}
}

// admit checks the expiry window and records the nonce. A full cache refuses new
// nonces instead of evicting live ones.
func (g *replayGuard) admit(caller peer.ID, nonce string, expires int64) error {
	if nonce == "" {
		return errMissingNonce
	}
	now := g.now()
	exp := time.Unix(expires, 0)
	if !exp.After(now) {
		return errRequestExpired
	}
	if exp.After(now.Add(MaxRequestTTL)) {
		return errExpiryTooFar
	}

	key := caller.String() + "/" + nonce
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen.Contains(key) {
		return errReplayed
	}
	if g.seen.Len() >= g.capacity {
		return errReplayFull
	}
	g.seen.Add(key, struct{}{})
	return nil
}
