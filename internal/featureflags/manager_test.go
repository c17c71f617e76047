package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, 1), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, 1), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc%")

	assert.True(t, m.Enabled("always", 1))
	assert.False(t, m.Enabled("never", 1))
	assert.False(t, m.Enabled("junk", 1))

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", 42), "rollout evaluation must be deterministic per user")
	}
	assert.False(t, m.Enabled("canary", 0), "percentage rollout requires non-zero userID")
}

func TestDefaults(t *testing.T) {
	m := NewManager("")
	assert.True(t, m.Enabled(MatchRealtime, 1))
	assert.True(t, m.Enabled(TypingEvents, 1))

	m = NewManager("match_realtime=off")
	assert.False(t, m.Enabled(MatchRealtime, 1))
	assert.True(t, m.Enabled(TypingEvents, 1))
}

func TestEnabledForAny(t *testing.T) {
	m := NewManager("match_realtime=off")
	assert.False(t, m.EnabledForAny(MatchRealtime, 1, 2))

	m = NewManager("match_realtime=on")
	assert.True(t, m.EnabledForAny(MatchRealtime, 1, 2))
	assert.False(t, m.EnabledForAny(MatchRealtime))
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off, =on")

	raw := m.Raw()
	assert.Len(t, raw, 3+len(defaults))
	assert.Equal(t, "on", raw["x"])
	assert.Equal(t, "20%", raw["y"])
	assert.Equal(t, "off", raw["z"])

	assert.Len(t, m.Snapshot(123), len(raw))
	assert.Equal(t, []string{MatchRealtime, TypingEvents, "x", "y", "z"}, m.Names())
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(MatchRealtime, 1))
	assert.Empty(t, m.Raw())
	assert.Empty(t, m.Snapshot(1))
}
