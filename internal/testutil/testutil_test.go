package testutil

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), got)
	assert.Equal(t, got, clock.Now())

	later := Epoch.Add(24 * time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestSequenceIDs(t *testing.T) {
	ids := NewSequenceIDs("q")
	assert.Equal(t, "q-0001", ids.Generate())
	assert.Equal(t, "q-0002", ids.Generate())

	assert.Equal(t, "id-0001", NewSequenceIDs("").Generate())
}

func TestSequenceIDs_ConcurrentUnique(t *testing.T) {
	ids := NewSequenceIDs("c")
	const n = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ids.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestFakeCentral_HealthAndClose(t *testing.T) {
	c := NewFakeCentral(t)

	resp, err := http.Get(c.URL() + "/health/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	c.SetHealthy(false)
	resp, err = http.Get(c.URL() + "/health/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	c.Close()
	_, err = http.Get(c.URL() + "/health/")
	assert.Error(t, err)

	assert.Equal(t, []string{"GET /health/", "GET /health/"}, c.Requests())
}
