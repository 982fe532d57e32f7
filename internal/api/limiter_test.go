package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(limit rate.Limit, burst int) (*userLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newUserLimiter(limit, burst)
	l.now = clock.Now
	return l, clock
}

func TestUserLimiter_PerUserBuckets(t *testing.T) {
	l, _ := newClockedLimiter(rate.Every(time.Second), 2)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"), "buckets are per user")
}

func TestUserLimiter_EvictsIdleUsers(t *testing.T) {
	l, clock := newClockedLimiter(rate.Every(time.Second), 2)
	require.Equal(t, time.Minute, l.idle)

	for i := 0; i < 100; i++ {
		l.Allow(fmt.Sprintf("user-%d", i))
	}
	assert.Equal(t, 100, l.Len())

	clock.Advance(30 * time.Second)
	l.Allow("active")
	assert.Equal(t, 101, l.Len())

	clock.Advance(45 * time.Second)
	l.Allow("late")
	assert.Equal(t, 2, l.Len(), "only users seen within the idle window remain")
}

func TestUserLimiter_EvictionKeepsLimits(t *testing.T) {
	l, clock := newClockedLimiter(rate.Every(time.Minute), 2)
	require.Equal(t, 2*time.Minute, l.idle)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))

	clock.Advance(30 * time.Second)
	assert.False(t, l.Allow("alice"), "an active user keeps their drained bucket")
	assert.Equal(t, 1, l.Len())

	clock.Advance(3 * time.Minute)
	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
}
