package repository

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/fairlane-io/fairlane/internal/common/fairlaneerrors"
	"github.com/fairlane-io/fairlane/pkg/api"
)

const (
	budgetPrefix = "Budget:"

	fieldTier            = "tier"
	fieldWeight          = "weight"
	fieldRatePerMinute   = "ratePerMinute"
	fieldRateTokens      = "rateTokens"
	fieldRateLastRefill  = "rateLastRefill"
	remainingFieldPrefix = "remaining:"
	limitFieldPrefix     = "limit:"
)

// BudgetShortfall describes the first cost dimension that failed an
// admission check.
type BudgetShortfall struct {
	Dimension string
	Required  float64
	Remaining float64
}

// BudgetRepository is the per-tenant resource ledger: fairness weight,
// remaining budget per resource dimension and enqueue rate-limit state.
// Entries are created by tenant onboarding (the admin endpoint) and mutated
// only by enqueue rate checks and completion settlement.
type BudgetRepository interface {
	GetBudget(tenantId string) (*api.TenantBudget, error)
	UpsertBudget(budget *api.TenantBudget) error
	// CheckAndConsumeRate runs the tenant's token bucket. Atomic per tenant:
	// two concurrent enqueues can not both take the last token. Tenants
	// without a configured rate are not throttled.
	CheckAndConsumeRate(tenantId string, now time.Time) (bool, error)
	// HasBudget reports whether every dimension of the estimate fits in the
	// tenant's remaining budget. Dimensions without a ledger entry are
	// unconstrained. On failure the first shortfall is returned.
	HasBudget(tenantId string, estimate map[string]float64) (*BudgetShortfall, error)
	// Settle decrements remaining budget by actual usage, floored at zero.
	// Dimensions driven below zero are returned so the caller can log the
	// estimate/actual drift; the ledger itself never goes negative.
	Settle(tenantId string, usage map[string]float64) (overspent []string, err error)
	// Weight returns the tenant's configured fairness weight, or found=false
	// when the tenant has no explicit weight and the tier default applies.
	Weight(tenantId string) (weight float64, found bool, err error)
}

type RedisBudgetRepository struct {
	db redis.UniversalClient
}

func NewRedisBudgetRepository(db redis.UniversalClient) *RedisBudgetRepository {
	return &RedisBudgetRepository{db: db}
}

func (repo *RedisBudgetRepository) GetBudget(tenantId string) (*api.TenantBudget, error) {
	fields, err := repo.db.HGetAll(budgetPrefix + tenantId).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading budget for tenant %s", tenantId)
	}
	if len(fields) == 0 {
		return nil, &fairlaneerrors.ErrNotFound{Type: "tenant budget", Value: tenantId}
	}

	budget := &api.TenantBudget{
		TenantId:  tenantId,
		Tier:      fields[fieldTier],
		Remaining: map[string]float64{},
		Limits:    map[string]float64{},
	}
	budget.Weight, _ = strconv.ParseFloat(fields[fieldWeight], 64)
	budget.RateLimitPerMinute, _ = strconv.ParseFloat(fields[fieldRatePerMinute], 64)
	for field, value := range fields {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		if dim := strings.TrimPrefix(field, remainingFieldPrefix); dim != field {
			budget.Remaining[dim] = v
		} else if dim := strings.TrimPrefix(field, limitFieldPrefix); dim != field {
			budget.Limits[dim] = v
		}
	}
	return budget, nil
}

// UpsertBudget writes tier, weight and rate limit, and replenishes remaining
// budget up to the provided limits. This doubles as the external budget
// rollover event: re-posting a tenant's limits resets what it has left.
// An explicit Remaining map overrides the replenishment.
func (repo *RedisBudgetRepository) UpsertBudget(budget *api.TenantBudget) error {
	fields := map[string]interface{}{
		fieldTier:          budget.Tier,
		fieldWeight:        formatFloat(budget.Weight),
		fieldRatePerMinute: formatFloat(budget.RateLimitPerMinute),
	}
	for dim, limit := range budget.Limits {
		fields[limitFieldPrefix+dim] = formatFloat(limit)
		fields[remainingFieldPrefix+dim] = formatFloat(limit)
	}
	for dim, remaining := range budget.Remaining {
		fields[remainingFieldPrefix+dim] = formatFloat(remaining)
	}
	err := repo.db.HMSet(budgetPrefix+budget.TenantId, fields).Err()
	return errors.Wrapf(err, "upserting budget for tenant %s", budget.TenantId)
}

// Token bucket in a script so the read-refill-take cycle is atomic per
// tenant. Tokens refill continuously at ratePerMinute/60 per second, capped
// at one minute's worth.
const rateCheckScript = `
local rate = tonumber(redis.call('HGET', KEYS[1], 'ratePerMinute'))
if rate == nil or rate <= 0 then
	return 1
end
local now = tonumber(ARGV[1])
local tokens = tonumber(redis.call('HGET', KEYS[1], 'rateTokens'))
local last = tonumber(redis.call('HGET', KEYS[1], 'rateLastRefill'))
if tokens == nil or last == nil then
	tokens = rate
	last = now
end
tokens = math.min(rate, tokens + (now - last) * rate / 60.0)
local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end
redis.call('HSET', KEYS[1], 'rateTokens', tostring(tokens))
redis.call('HSET', KEYS[1], 'rateLastRefill', tostring(now))
return allowed
`

func (repo *RedisBudgetRepository) CheckAndConsumeRate(tenantId string, now time.Time) (bool, error) {
	result, err := repo.db.Eval(
		rateCheckScript,
		[]string{budgetPrefix + tenantId},
		formatFloat(unixFloat(now)),
	).Int()
	if err != nil {
		return false, errors.Wrapf(err, "rate-checking tenant %s", tenantId)
	}
	return result == 1, nil
}

func (repo *RedisBudgetRepository) HasBudget(tenantId string, estimate map[string]float64) (*BudgetShortfall, error) {
	if len(estimate) == 0 {
		return nil, nil
	}
	fields, err := repo.db.HGetAll(budgetPrefix + tenantId).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading budget for tenant %s", tenantId)
	}
	for dim, required := range estimate {
		value, ok := fields[remainingFieldPrefix+dim]
		if !ok {
			continue // unconstrained dimension
		}
		remaining, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt budget value for tenant %s dimension %s", tenantId, dim)
		}
		if remaining < required {
			return &BudgetShortfall{Dimension: dim, Required: required, Remaining: remaining}, nil
		}
	}
	return nil, nil
}

const settleScript = `
local overspent = {}
for i = 1, #ARGV, 2 do
	local field = 'remaining:' .. ARGV[i]
	local rem = tonumber(redis.call('HGET', KEYS[1], field))
	if rem ~= nil then
		local updated = rem - tonumber(ARGV[i+1])
		if updated < 0 then
			updated = 0
			table.insert(overspent, ARGV[i])
		end
		redis.call('HSET', KEYS[1], field, tostring(updated))
	end
end
return overspent
`

func (repo *RedisBudgetRepository) Settle(tenantId string, usage map[string]float64) ([]string, error) {
	if len(usage) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, 2*len(usage))
	for dim, used := range usage {
		args = append(args, dim, formatFloat(used))
	}
	result, err := repo.db.Eval(settleScript, []string{budgetPrefix + tenantId}, args...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "settling usage for tenant %s", tenantId)
	}

	var overspent []string
	if dims, ok := result.([]interface{}); ok {
		for _, d := range dims {
			if s, ok := d.(string); ok {
				overspent = append(overspent, s)
			}
		}
	}
	return overspent, nil
}

func (repo *RedisBudgetRepository) Weight(tenantId string) (float64, bool, error) {
	value, err := repo.db.HGet(budgetPrefix+tenantId, fieldWeight).Result()
	if err == redis.Nil {
		return 0, false, nil
	} else if err != nil {
		return 0, false, errors.Wrapf(err, "reading weight for tenant %s", tenantId)
	}
	weight, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "corrupt weight for tenant %s", tenantId)
	}
	if weight == 0 {
		// Zero is the unset marker written by UpsertBudget when no explicit
		// weight was given; fall back to the tier default.
		return 0, false, nil
	}
	return weight, true, nil
}
