package dbfake

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
)

func TestStore_ApplyStampsFromClock(t *testing.T) {
	clock := quartz.NewMock(t)
	created := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	clock.Set(created)
	store := NewStore(clock)

	schema := tenant.SchemaRef("dairy_north")
	day := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	collect := func(at time.Time) pulse.MutateFunc {
		return func(cur *pulse.Pulse) (*pulse.Pulse, error) {
			return pulse.ApplyCollection(cur, 5, day, at), nil
		}
	}

	p, written, err := store.Apply(context.Background(), schema, 5, day, collect(created))
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, created, p.CreatedAt)
	assert.Equal(t, created, p.UpdatedAt)

	updated := created.Add(3 * time.Minute)
	clock.Set(updated)
	p, written, err = store.Apply(context.Background(), schema, 5, day, collect(updated))
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, created, p.CreatedAt, "created_at is immutable")
	assert.Equal(t, updated, p.UpdatedAt)
	assert.Equal(t, 2, p.TotalCollections)
}

func TestStore_NilClockUsesRealTime(t *testing.T) {
	store := NewStore(nil)
	day := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

	before := time.Now()
	p, _, err := store.Apply(context.Background(), "dairy_north", 1, day, func(cur *pulse.Pulse) (*pulse.Pulse, error) {
		return pulse.ApplyCollection(cur, 1, day, day.Add(9*time.Hour)), nil
	})
	require.NoError(t, err)
	assert.False(t, p.CreatedAt.Before(before))
}
