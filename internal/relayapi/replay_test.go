package relayapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HubRelay/internal/core/identity"
)

func TestReplayGuardAdmit(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	g := newReplayGuard(8, func() time.Time { return now })
	kp, err := identity.Generate()
	require.NoError(t, err)
	exp := now.Add(RequestTTL).Unix()

	require.NoError(t, g.admit(kp.ID, "n1", exp))
	assert.ErrorIs(t, g.admit(kp.ID, "n1", exp), errReplayed)
	assert.NoError(t, g.admit(kp.ID, "n2", exp))

	// Once the clock passes the expiry the request is refused regardless of the cache.
	now = now.Add(RequestTTL + time.Second)
	assert.ErrorIs(t, g.admit(kp.ID, "n3", exp), errRequestExpired)
}

func TestReplayGuardRefusesWhenFull(t *testing.T) {
	now := time.Now()
	g := newReplayGuard(2, func() time.Time { return now })
	kp, err := identity.Generate()
	require.NoError(t, err)
	exp := now.Add(time.Minute).Unix()

	require.NoError(t, g.admit(kp.ID, "a", exp))
	require.NoError(t, g.admit(kp.ID, "b", exp))
	assert.ErrorIs(t, g.admit(kp.ID, "c", exp), errReplayFull)
	assert.ErrorIs(t, g.admit(kp.ID, "a", exp), errReplayed, "full cache still remembers live nonces")
}
