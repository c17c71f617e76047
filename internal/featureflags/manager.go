// Package featureflags evaluates the FEATURE_FLAGS list.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flags consulted by the realtime paths.
const (
	// MatchRealtime pushes match_created to both users when a match forms.
	MatchRealtime = "match_realtime"
	// TypingEvents relays typing indicators between participants.
	TypingEvents = "typing_events"
)

// defaults apply when FEATURE_FLAGS does not mention a flag.
var defaults = map[string]string{
	MatchRealtime: "on",
	TypingEvents:  "on",
}

// Manager evaluates feature flags defined in a key=value list.
// Example: "match_realtime=on,typing_events=25%"
type Manager struct {
	flags map[string]string
}

// NewManager parses raw on top of the built-in defaults. Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for a given user.
// Values are on/true/1, off/false/0, or N% for a deterministic per-user
// rollout. A percentage never enables a flag for user 0.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// EnabledForAny reports whether the flag is on for at least one of the users.
// Events that reach both sides of a match use it so neither side is skipped
// while the other receives.
func (m *Manager) EnabledForAny(name string, userIDs ...uint) bool {
	for _, id := range userIDs {
		if m.Enabled(name, id) {
			return true
		}
	}
	return false
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

// Names lists configured flags in stable order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.flags))
	for name := range m.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}
