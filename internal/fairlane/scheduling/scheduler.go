package scheduling

import (
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/fairlane-io/fairlane/internal/common/fairlaneerrors"
	"github.com/fairlane-io/fairlane/internal/common/util"
	"github.com/fairlane-io/fairlane/internal/fairlane/metrics"
	"github.com/fairlane-io/fairlane/internal/fairlane/repository"
	"github.com/fairlane-io/fairlane/pkg/api"
)

type SchedulerOptions struct {
	// Fairness weight per tier, applied to tenants without an explicit
	// weight in their ledger entry. Tiers absent from the map weigh 1.0.
	TierWeights map[string]float64
	// Lease duration applied when a lease request does not specify one.
	// Heartbeats extend leases by this duration as well.
	DefaultLeaseTTL time.Duration
	MaxLeaseTTL     time.Duration
	MaxJobsPerLease int
	// How many queued candidates to examine per requested lease slot.
	// Candidates lost to concurrent workers are skipped, so peeking more
	// than requested keeps lease calls productive under contention.
	CandidateMultiple int
	// Collapses a multi-dimensional cost estimate into the scalar job size.
	Aggregate CostAggregator
}

func (opts *SchedulerOptions) applyDefaults() {
	if opts.DefaultLeaseTTL <= 0 {
		opts.DefaultLeaseTTL = time.Minute
	}
	if opts.MaxLeaseTTL <= 0 {
		opts.MaxLeaseTTL = 10 * time.Minute
	}
	if opts.MaxJobsPerLease <= 0 {
		opts.MaxJobsPerLease = 16
	}
	if opts.CandidateMultiple <= 0 {
		opts.CandidateMultiple = 4
	}
	if opts.Aggregate == nil {
		opts.Aggregate = SumCost
	}
}

// Scheduler orchestrates admission, fair ordering and leasing over the job
// store and the tenant budget ledger.
type Scheduler struct {
	jobRepository    repository.JobRepository
	budgetRepository repository.BudgetRepository
	fairness         *FairnessClock
	clock            util.Clock
	opts             SchedulerOptions
}

func NewScheduler(
	jobRepository repository.JobRepository,
	budgetRepository repository.BudgetRepository,
	fairness *FairnessClock,
	clock util.Clock,
	opts SchedulerOptions,
) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		jobRepository:    jobRepository,
		budgetRepository: budgetRepository,
		fairness:         fairness,
		clock:            clock,
		opts:             opts,
	}
}

// Enqueue admits a job: rate limit, weight validation, budget check, fairness
// tag assignment, persistence. The tenant's finish tag advances even if the
// job is later never leased; its fairness share is committed at admission.
func (s *Scheduler) Enqueue(req *api.EnqueueRequest) (*api.Job, error) {
	now := s.clock.Now()

	allowed, err := s.budgetRepository.CheckAndConsumeRate(req.TenantId, now)
	if err != nil {
		return nil, err
	}
	if !allowed {
		metrics.RecordRejected(req.TenantId, "rate_limited")
		return nil, &fairlaneerrors.ErrRateLimited{TenantId: req.TenantId}
	}

	weight, err := s.resolveWeight(req.TenantId, req.Tier)
	if err != nil {
		metrics.RecordRejected(req.TenantId, "invalid_weight")
		return nil, err
	}

	shortfall, err := s.budgetRepository.HasBudget(req.TenantId, req.CostEstimate)
	if err != nil {
		return nil, err
	}
	if shortfall != nil {
		metrics.RecordRejected(req.TenantId, "budget_exceeded")
		return nil, &fairlaneerrors.ErrBudgetExceeded{
			TenantId:  req.TenantId,
			Dimension: shortfall.Dimension,
			Required:  shortfall.Required,
			Remaining: shortfall.Remaining,
		}
	}

	size := s.opts.Aggregate(req.CostEstimate)
	startTag, finishTag := s.fairness.AssignTags(req.TenantId, size, weight)

	jobId := req.JobId
	if jobId == "" {
		jobId = util.NewULID()
	}
	job := &api.Job{
		Id:           jobId,
		TenantId:     req.TenantId,
		Tier:         req.Tier,
		JobType:      req.JobType,
		Payload:      req.Payload,
		CostEstimate: req.CostEstimate,
		Priority:     req.Priority,
		StartTag:     startTag,
		FinishTag:    finishTag,
		Status:       api.JobQueued,
		Created:      now,
		Updated:      now,
	}
	if err := s.jobRepository.Insert(job); err != nil {
		return nil, err
	}

	metrics.RecordEnqueued(req.TenantId)
	log.WithField("jobId", job.Id).WithField("tenant", job.TenantId).
		Debugf("job enqueued with tags (%g, %g)", startTag, finishTag)
	return job, nil
}

// Lease grants up to maxJobs queued jobs to the worker, in ascending
// (startTag, finishTag, created, jobId) order. Candidates lost to concurrent
// lease calls are skipped, never waited for; the result may be smaller than
// requested. Virtual time advances once per job actually granted.
func (s *Scheduler) Lease(workerId string, maxJobs int, leaseTTL time.Duration) ([]*api.Job, error) {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	if maxJobs > s.opts.MaxJobsPerLease {
		maxJobs = s.opts.MaxJobsPerLease
	}
	if leaseTTL <= 0 {
		leaseTTL = s.opts.DefaultLeaseTTL
	}
	if leaseTTL > s.opts.MaxLeaseTTL {
		leaseTTL = s.opts.MaxLeaseTTL
	}

	candidates, err := s.jobRepository.PeekQueue(int64(maxJobs * s.opts.CandidateMultiple))
	if err != nil {
		return nil, err
	}
	sortByFairness(candidates)

	now := s.clock.Now()
	expiresAt := now.Add(leaseTTL).UTC()
	granted := make([]*api.Job, 0, maxJobs)
	var result *multierror.Error
	for _, job := range candidates {
		if len(granted) >= maxJobs {
			break
		}
		leased, err := s.jobRepository.TryLease(job.Id, workerId, now, leaseTTL)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !leased {
			// Lost the race to another worker; try the next candidate.
			continue
		}
		s.fairness.ObserveLease(job.FinishTag)
		job.Status = api.JobLeased
		job.WorkerId = workerId
		job.LeaseExpiresAt = &expiresAt
		job.Updated = now
		granted = append(granted, job)
		metrics.RecordLeased(job.TenantId)
	}
	if len(granted) == 0 && result != nil {
		return nil, result.ErrorOrNil()
	}
	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Warnf("lease call for worker %s granted %d jobs with partial failures", workerId, len(granted))
	}
	return granted, nil
}

// Heartbeat extends the worker's lease by the default lease duration.
func (s *Scheduler) Heartbeat(jobId string, workerId string) error {
	return s.jobRepository.RenewLease(jobId, workerId, s.clock.Now(), s.opts.DefaultLeaseTTL)
}

// Complete transitions the job to a terminal state and, on the first such
// transition only, settles the tenant's budget with the reported usage.
// Repeat calls with the same outcome succeed without settling again.
func (s *Scheduler) Complete(jobId string, workerId string, outcome string, usage map[string]float64) error {
	settled, err := s.jobRepository.Complete(jobId, workerId, outcome)
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}

	job, err := s.jobRepository.GetById(jobId)
	if err != nil {
		return err
	}
	overspent, err := s.budgetRepository.Settle(job.TenantId, usage)
	if err != nil {
		return err
	}
	for _, dim := range overspent {
		log.Warnf("tenant %s reported usage above remaining budget in dimension %s (job %s); floored at zero",
			job.TenantId, dim, jobId)
	}
	metrics.RecordCompleted(job.TenantId, outcome)
	return nil
}

func (s *Scheduler) resolveWeight(tenantId string, tier string) (float64, error) {
	weight, found, err := s.budgetRepository.Weight(tenantId)
	if err != nil {
		return 0, err
	}
	if !found {
		weight, found = s.opts.TierWeights[tier]
		if !found {
			weight = 1.0
		}
	}
	if weight <= 0 {
		return 0, &fairlaneerrors.ErrInvalidWeight{TenantId: tenantId, Tier: tier, Weight: weight}
	}
	return weight, nil
}

// sortByFairness imposes the total service order: start tag, then finish tag,
// then creation time, then job id.
func sortByFairness(jobs []*api.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.StartTag != b.StartTag {
			return a.StartTag < b.StartTag
		}
		if a.FinishTag != b.FinishTag {
			return a.FinishTag < b.FinishTag
		}
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.Id < b.Id
	})
}
