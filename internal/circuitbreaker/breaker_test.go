package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newBreaker() (*Breaker, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(3, time.Minute).WithClock(c.Now), c
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestNew_Defaults(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
}

func TestUnknownKeyIsClosed(t *testing.T) {
	b, _ := newBreaker()
	assert.True(t, b.Allow("profiles"))
	assert.Equal(t, StateClosed, b.State("profiles"))
	b.RecordSuccess("profiles")
	assert.Empty(t, b.Tripped())
}

func TestOpensAtThreshold(t *testing.T) {
	b, _ := newBreaker()
	b.RecordFailure("suspensions")
	b.RecordFailure("suspensions")
	assert.True(t, b.Allow("suspensions"))

	b.RecordFailure("suspensions")
	assert.Equal(t, StateOpen, b.State("suspensions"))
	assert.False(t, b.Allow("suspensions"))
	assert.Equal(t, []string{"suspensions"}, b.Tripped())
	assert.True(t, b.Allow("licenses"), "other keys are unaffected")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newBreaker()
	b.RecordFailure("accounts")
	b.RecordFailure("accounts")
	b.RecordSuccess("accounts")
	b.RecordFailure("accounts")
	b.RecordFailure("accounts")
	assert.Equal(t, StateClosed, b.State("accounts"))
}

func TestTrialAfterCooldown(t *testing.T) {
	b, c := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("audit")
	}

	c.Advance(59 * time.Second)
	assert.False(t, b.Allow("audit"))

	c.Advance(time.Second)
	assert.True(t, b.Allow("audit"))
	assert.Equal(t, StateHalfOpen, b.State("audit"))
	assert.False(t, b.Allow("audit"), "only one trial at a time")

	b.RecordSuccess("audit")
	assert.Equal(t, StateClosed, b.State("audit"))
	assert.True(t, b.Allow("audit"))
}

func TestFailedTrialReopens(t *testing.T) {
	b, c := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("audit")
	}
	c.Advance(time.Minute)
	require.True(t, b.Allow("audit"))

	b.RecordFailure("audit")
	assert.Equal(t, StateOpen, b.State("audit"))
	assert.False(t, b.Allow("audit"))

	c.Advance(time.Minute)
	assert.True(t, b.Allow("audit"))
}

func TestAbandonReleasesTrial(t *testing.T) {
	b, c := newBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("profiles")
	}
	c.Advance(time.Minute)
	require.True(t, b.Allow("profiles"))

	b.Abandon("profiles")
	assert.Equal(t, StateOpen, b.State("profiles"))
	assert.True(t, b.Allow("profiles"), "cool-down already elapsed")

	b.Abandon("unknown")
	assert.Equal(t, StateClosed, b.State("unknown"))
}

func TestOnTransitionCallback(t *testing.T) {
	b, _ := newBreaker()
	got := make(chan [2]State, 4)
	b.OnTransition(func(key string, from, to State) {
		assert.Equal(t, "licenses", key)
		got <- [2]State{from, to}
	})
	for i := 0; i < 3; i++ {
		b.RecordFailure("licenses")
	}

	select {
	case tr := <-got:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, tr)
	case <-time.After(time.Second):
		t.Fatal("callback not fired")
	}
}

func TestConcurrentUse(t *testing.T) {
	b, _ := newBreaker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if b.Allow("accounts") {
				if i%2 == 0 {
					b.RecordFailure("accounts")
				} else {
					b.RecordSuccess("accounts")
				}
			}
			_ = b.Tripped()
		}(i)
	}
	wg.Wait()
}
