package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewSessionRegistry()

	_, ok := reg.SessionFor("user-1")
	assert.False(t, ok)

	reg.Register("user-1", "sess-a")
	sid, ok := reg.SessionFor("user-1")
	assert.True(t, ok)
	assert.Equal(t, "sess-a", sid)
}

func TestSessionRegistry_ReconnectOverwrites(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Register("user-1", "sess-a")
	reg.Register("user-1", "sess-b")

	sid, ok := reg.SessionFor("user-1")
	assert.True(t, ok)
	assert.Equal(t, "sess-b", sid)
}

func TestSessionRegistry_RemoveDropsAllUsersOnSession(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Register("user-1", "sess-a")
	reg.Register("user-2", "sess-a")
	reg.Register("user-3", "sess-b")

	reg.Remove("sess-a")

	_, ok := reg.SessionFor("user-1")
	assert.False(t, ok)
	_, ok = reg.SessionFor("user-2")
	assert.False(t, ok)

	sid, ok := reg.SessionFor("user-3")
	assert.True(t, ok)
	assert.Equal(t, "sess-b", sid)
}
