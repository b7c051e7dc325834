package health

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(name string) Checker {
	return func(context.Context) Status { return Status{Name: name, Healthy: true} }
}

func TestRegistryEmpty(t *testing.T) {
	ok, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, ok)
	assert.Empty(t, statuses)
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", healthy("database"))
	r.Register("enroller", func(context.Context) Status {
		return Status{Name: "enroller", Healthy: false, Detail: "queue closed"}
	})

	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "queue closed", statuses[1].Detail)
}

func TestRegistryFillsMissingName(t *testing.T) {
	r := NewRegistry()
	r.Register("sweeper", func(context.Context) Status { return Status{Healthy: true} })

	_, statuses := r.CheckAll(context.Background())
	require.Len(t, statuses, 1)
	assert.Equal(t, "sweeper", statuses[0].Name)
}

func TestRegistryTimesOutSlowChecker(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	r.Register("stuck", func(context.Context) Status {
		<-release
		return Status{Healthy: true}
	})

	start := time.Now()
	ok, statuses := r.CheckAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, ok)
	assert.Equal(t, Status{Name: "stuck", Healthy: false, Detail: "timed out"}, statuses[0])
}

func TestRegistryRunsCheckersConcurrently(t *testing.T) {
	r := NewRegistry()
	var inFlight, peak atomic.Int32
	for i := 0; i < 4; i++ {
		r.Register("slow", func(context.Context) Status {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
			return Status{Healthy: true}
		})
	}
	ok, _ := r.CheckAll(context.Background())
	assert.True(t, ok)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("checker", healthy("checker"))
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}

func TestWorker(t *testing.T) {
	var running atomic.Bool
	check := Worker("janitor", running.Load)

	assert.Equal(t, Status{Name: "janitor", Healthy: false, Detail: "not running"}, check(context.Background()))
	running.Store(true)
	assert.Equal(t, Status{Name: "janitor", Healthy: true}, check(context.Background()))
}

func TestSQL_ClosedPool(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://localhost:1/none?sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := SQL(db)(context.Background())
	assert.Equal(t, "database", s.Name)
	assert.False(t, s.Healthy)
	assert.NotEmpty(t, s.Detail)
}
