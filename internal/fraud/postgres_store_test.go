//go:build integration

package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentinelX-Auth/SentinelX/internal/testutil"
)

func TestPostgresStore_RecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, id := range []string{"fa_old", "fa_new"} {
		require.NoError(t, store.Record(ctx, &Assessment{
			ID:          id,
			Origin:      "198.51.100.9",
			UserAgent:   "curl/8.0",
			FraudScore:  1,
			BotScore:    0.2,
			RiskLevel:   RiskHigh,
			ShouldBlock: true,
			Signals:     Signals{RateLimited: true, BadUserAgent: true, UAReason: "Suspicious User-Agent detected"},
			EvaluatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := store.ListByOrigin(ctx, "198.51.100.9", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fa_new", list[0].ID)
	assert.Equal(t, RiskHigh, list[0].RiskLevel)
	assert.True(t, list[0].Signals.RateLimited)
	assert.InDelta(t, 0.2, list[0].BotScore, 1e-9)

	list, err = store.ListByOrigin(ctx, "203.0.113.1", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
