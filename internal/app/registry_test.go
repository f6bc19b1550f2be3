package app

import (
	"sync"
	"testing"

	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRegistryBindLookupUnbind(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup("c1")
	assert.False(t, ok)

	r.Bind("c1", Binding{Session: "s1", User: "A"})
	b, ok := r.Lookup("c1")
	assert.True(t, ok)
	assert.Equal(t, Binding{Session: "s1", User: "A"}, b)
	assert.Equal(t, 1, r.Len())

	b, ok = r.Unbind("c1")
	assert.True(t, ok)
	assert.Equal(t, Binding{Session: "s1", User: "A"}, b)

	_, ok = r.Unbind("c1")
	assert.False(t, ok, "second unbind must report nothing")
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRebindOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Bind("c1", Binding{Session: "s1", User: "A"})
	r.Bind("c1", Binding{Session: "s2", User: "A"})

	b, ok := r.Lookup("c1")
	assert.True(t, ok)
	assert.Equal(t, domain.SessionID("s2"), b.Session)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConcurrentUnbindOnlyOnceWins(t *testing.T) {
	r := NewRegistry()
	r.Bind("c1", Binding{Session: "s1", User: "A"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Unbind("c1"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
