package features

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_DefaultFlags(t *testing.T) {
	m := NewDefaultManager(true, false, true)

	assert.True(t, m.IsEnabled(Reminders))
	assert.False(t, m.IsEnabled(Nudges))
	assert.True(t, m.IsEnabled(SuggestionCache))
	assert.False(t, m.IsEnabled("unknown"))

	assert.True(t, m.Set(Nudges, true))
	assert.True(t, m.Set(Reminders, false))
	assert.False(t, m.Set("unknown", true))
	assert.True(t, m.IsEnabled(Nudges))
	assert.False(t, m.IsEnabled(Reminders))
	assert.False(t, m.IsEnabled("unknown"), "Set never registers new flags")

	assert.Equal(t, map[string]bool{
		"reminders_enabled":        false,
		"nudges_enabled":           true,
		"suggestion_cache_enabled": true,
	}, m.Snapshot())
	assert.Equal(t, []Flag{Nudges, Reminders, SuggestionCache}, m.Names())
}

func TestManager_NilIsPermissive(t *testing.T) {
	var m *Manager
	assert.True(t, m.IsEnabled(Nudges))
}

func TestManager_ConcurrentToggle(t *testing.T) {
	m := NewDefaultManager(true, true, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(Nudges, i%2 == 0)
			_ = m.IsEnabled(Nudges)
		}(i)
	}
	wg.Wait()
	assert.True(t, m.IsEnabled(Reminders))
}
