package features

import (
	"sort"
	"sync/atomic"
)

// Flag names a runtime toggle.
type Flag string

const (
	// Reminders gates advance reminder emails.
	Reminders Flag = "reminders_enabled"
	// Nudges gates post-occasion nudge emails.
	Nudges Flag = "nudges_enabled"
	// SuggestionCache gates the gift idea response cache.
	SuggestionCache Flag = "suggestion_cache_enabled"
)

// Manager holds the process-wide flag states. The set of flags is fixed at
// construction; toggling is lock-free so dispatcher workers can read it per
// occasion. A nil *Manager reports every flag as enabled.
type Manager struct {
	flags map[Flag]*atomic.Bool
}

// NewDefaultManager returns a manager carrying the built-in flags.
func NewDefaultManager(reminders, nudges, suggestionCache bool) *Manager {
	m := &Manager{flags: make(map[Flag]*atomic.Bool, 3)}
	for flag, on := range map[Flag]bool{
		Reminders:       reminders,
		Nudges:          nudges,
		SuggestionCache: suggestionCache,
	} {
		v := new(atomic.Bool)
		v.Store(on)
		m.flags[flag] = v
	}
	return m
}

// IsEnabled reports the state of flag. Unknown flags are disabled.
func (m *Manager) IsEnabled(flag Flag) bool {
	if m == nil {
		return true
	}
	v, ok := m.flags[flag]
	return ok && v.Load()
}

// Set changes a known flag and reports whether it exists.
func (m *Manager) Set(flag Flag, on bool) bool {
	v, ok := m.flags[flag]
	if ok {
		v.Store(on)
	}
	return ok
}

// Snapshot returns the current states keyed by flag name, for logging.
func (m *Manager) Snapshot() map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for flag, v := range m.flags {
		out[string(flag)] = v.Load()
	}
	return out
}

// Names lists the known flags in sorted order.
func (m *Manager) Names() []Flag {
	names := make([]Flag, 0, len(m.flags))
	for flag := range m.flags {
		names = append(names, flag)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
