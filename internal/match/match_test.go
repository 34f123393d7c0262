package match

import (
	"strings"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HubRelay/internal/registry"
)

func TestPrefixMatch(t *testing.T) {
	m, err := New(Prefix)
	require.NoError(t, err)

	assert.True(t, m.Match("orders", "orders"))
	assert.True(t, m.Match("orders", "orders.created"))
	assert.True(t, m.Match("orders", "orders.cancelled"))
	assert.False(t, m.Match("orders", "order"))
	assert.False(t, m.Match("orders.created", "orders"))
	assert.True(t, m.Match("", "anything"))
}

func TestExactMatch(t *testing.T) {
	m, err := New(Exact)
	require.NoError(t, err)

	assert.True(t, m.Match("orders", "orders"))
	assert.False(t, m.Match("orders", "orders.created"))
	assert.False(t, m.Match("orders", "order"))
}

func TestNewDefaultsAndRejects(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	assert.True(t, m.Match("a", "ab"))

	_, err = New("glob")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(strings.Repeat("t", registry.MaxTopicLen), strings.Repeat("m", registry.MaxMessageLen)))
	assert.ErrorIs(t, Validate(strings.Repeat("t", registry.MaxTopicLen+1), "m"), registry.ErrTopicNameTooLong)
	assert.ErrorIs(t, Validate("orders", strings.Repeat("m", registry.MaxMessageLen+1)), registry.ErrMessageTooLong)
}

func TestRecipientsKeepListOrder(t *testing.T) {
	subs := []registry.Subscription{
		{Subscriber: peer.ID("c"), Topic: "orders"},
		{Subscriber: peer.ID("a"), Topic: "payments"},
		{Subscriber: peer.ID("b"), Topic: "orders.created"},
		{Subscriber: peer.ID("a"), Topic: "orders"},
	}
	m, _ := New(Prefix)

	got := Recipients(m, subs, "orders.created")
	assert.Equal(t, []registry.Subscription{subs[0], subs[2], subs[3]}, got)

	assert.Empty(t, Recipients(m, subs, "order"))

	exact, _ := New(Exact)
	assert.Equal(t, []registry.Subscription{subs[0], subs[3]}, Recipients(exact, subs, "orders"))
}
