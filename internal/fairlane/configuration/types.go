package configuration

import (
	"time"

	"github.com/fairlane-io/fairlane/internal/fairlane/scheduling"
)

type FairlaneConfig struct {
	HttpPort    uint16
	MetricsPort uint16

	Redis RedisConfig

	Scheduling SchedulingConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	Db       int
}

type SchedulingConfig struct {
	// Fairness weight per subscription tier; tenants may override via their
	// ledger entry. Tiers absent from the map weigh 1.0.
	TierWeights map[string]float64

	DefaultLeaseTTL   time.Duration
	MaxLeaseTTL       time.Duration
	MaxJobsPerLease   int
	CandidateMultiple int

	// How a multi-dimensional cost estimate collapses into a scalar job
	// size: "sum" or "dominant".
	CostAggregator scheduling.CostAggregator

	Lease LeaseConfig
}

type LeaseConfig struct {
	// How often the lease expiry sweep runs.
	ExpiryLoopInterval time.Duration
	// Jobs reclaimed more than this many times are dead-lettered.
	// Zero disables the cap.
	MaxLeaseReturns int
}
