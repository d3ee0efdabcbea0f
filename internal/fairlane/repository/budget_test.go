package repository

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairlane-io/fairlane/internal/common/fairlaneerrors"
	"github.com/fairlane-io/fairlane/pkg/api"
)

func TestUpsertAndGetBudget(t *testing.T) {
	withBudgetRepository(func(r *RedisBudgetRepository) {
		require.NoError(t, r.UpsertBudget(&api.TenantBudget{
			TenantId:           "acme",
			Tier:               "business",
			Weight:             3,
			Limits:             map[string]float64{"solver_sec": 100, "gpu_sec": 50},
			RateLimitPerMinute: 60,
		}))

		budget, err := r.GetBudget("acme")
		require.NoError(t, err)
		assert.Equal(t, "business", budget.Tier)
		assert.Equal(t, 3.0, budget.Weight)
		assert.Equal(t, 60.0, budget.RateLimitPerMinute)
		assert.Equal(t, map[string]float64{"solver_sec": 100, "gpu_sec": 50}, budget.Limits)
		// Remaining is replenished to the limits on upsert.
		assert.Equal(t, map[string]float64{"solver_sec": 100, "gpu_sec": 50}, budget.Remaining)
	})
}

func TestGetBudget_Missing(t *testing.T) {
	withBudgetRepository(func(r *RedisBudgetRepository) {
		_, err := r.GetBudget("no-such-tenant")
		var notFound *fairlaneerrors.ErrNotFound
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestCheckAndConsumeRate(t *testing.T) {
	withBudgetRepository(func(r *RedisBudgetRepository) {
		require.NoError(t, r.UpsertBudget(&api.TenantBudget{
			TenantId:           "acme",
			RateLimitPerMinute: 2,
		}))
		now := time.Now()

		// The bucket starts full: two tokens, then empty.
		for i := 0; i < 2; i++ {
			allowed, err := r.CheckAndConsumeRate("acme", now)
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should pass", i)
		}
		allowed, err := r.CheckAndConsumeRate("acme", now)
		require.NoError(t, err)
		assert.False(t, allowed)

		// Half a minute refills one token at 2/min.
		allowed, err = r.CheckAndConsumeRate("acme", now.Add(30*time.Second))
		require.NoError(t, err)
		assert.True(t, allowed)
		allowed, err = r.CheckAndConsumeRate("acme", now.Add(30*time.Second))
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestCheckAndConsumeRate_Unlimited(t *testing.T) {
	withBudgetRepository(func(r *RedisBudgetRepository) {
		// Tenants without a configured rate are not throttled.
		for i := 0; i < 10; i++ {
			allowed, err := r.CheckAndConsumeRate("unknown", time.Now())
			require.NoError(t, err)
			assert.True(t, allowed)
		}
	})
}

func TestHasBudget(t *testing.T) {
	withBudgetRepository(func(r *RedisBudgetRepository) {
		require.NoError(t, r.UpsertBudget(&api.TenantBudget{
			TenantId: "acme",
			Limits:   map[string]float64{"solver_sec": 3},
		}))

		shortfall, err := r.HasBudget("acme", map[string]float64{"solver_sec": 3})
		require.NoError(t, err)
		assert.Nil(t, shortfall)

		shortfall, err = r.HasBudget("acme", map[string]float64{"solver_sec": 5})
		require.NoError(t, err)
		require.NotNil(t, shortfall)
		assert.Equal(t, "solver_sec", shortfall.Dimension)
		assert.Equal(t, 5.0, shortfall.Required)
		assert.Equal(t, 3.0, shortfall.Remaining)

		// Dimensions without a ledger entry are unconstrained.
		shortfall, err = r.HasBudget("acme", map[string]float64{"llm_tokens": 1e6})
		require.NoError(t, err)
		assert.Nil(t, shortfall)
	})
}

func TestSettle_FlooredAtZero(t *testing.T) {
	withBudgetRepository(func(r *RedisBudgetRepository) {
		require.NoError(t, r.UpsertBudget(&api.TenantBudget{
			TenantId: "acme",
			Limits:   map[string]float64{"solver_sec": 10, "gpu_sec": 5},
		}))

		overspent, err := r.Settle("acme", map[string]float64{"solver_sec": 4})
		require.NoError(t, err)
		assert.Empty(t, overspent)

		// Actual usage above remaining drains the dimension to zero and is
		// reported, never driven negative.
		overspent, err = r.Settle("acme", map[string]float64{"solver_sec": 100})
		require.NoError(t, err)
		assert.Equal(t, []string{"solver_sec"}, overspent)

		budget, err := r.GetBudget("acme")
		require.NoError(t, err)
		assert.Equal(t, 0.0, budget.Remaining["solver_sec"])
		assert.Equal(t, 5.0, budget.Remaining["gpu_sec"])
	})
}

func TestWeight(t *testing.T) {
	withBudgetRepository(func(r *RedisBudgetRepository) {
		_, found, err := r.Weight("no-such-tenant")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, r.UpsertBudget(&api.TenantBudget{TenantId: "acme", Weight: 2.5}))
		weight, found, err := r.Weight("acme")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 2.5, weight)

		// An upsert without a weight leaves the tier default in force.
		require.NoError(t, r.UpsertBudget(&api.TenantBudget{TenantId: "globex"}))
		_, found, err = r.Weight("globex")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func withBudgetRepository(action func(r *RedisBudgetRepository)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()
	action(NewRedisBudgetRepository(client))
}
