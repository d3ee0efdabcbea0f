package scheduling

import (
	log "github.com/sirupsen/logrus"

	"github.com/fairlane-io/fairlane/internal/common/util"
	"github.com/fairlane-io/fairlane/internal/fairlane/metrics"
	"github.com/fairlane-io/fairlane/internal/fairlane/repository"
)

// MaxReclaimsExceededHandler is invoked for jobs reclaimed more times than
// the configured cap. Whether such jobs should be dead-lettered is a policy
// choice; the default handler fails them.
type MaxReclaimsExceededHandler func(reclaimed *repository.ReclaimedJob)

// LeaseManager periodically returns jobs with expired leases to the queue.
// Reclaimed jobs keep their original fairness tags and carry no fairness
// penalty: losing a worker is not the tenant's fault.
type LeaseManager struct {
	jobRepository   repository.JobRepository
	clock           util.Clock
	maxLeaseReturns int
	onMaxReclaims   MaxReclaimsExceededHandler
}

// NewLeaseManager creates a lease sweep. maxLeaseReturns <= 0 disables the
// cap: jobs are requeued however often their workers die. A nil handler
// dead-letters jobs exceeding the cap.
func NewLeaseManager(
	jobRepository repository.JobRepository,
	clock util.Clock,
	maxLeaseReturns int,
	onMaxReclaims MaxReclaimsExceededHandler,
) *LeaseManager {
	m := &LeaseManager{
		jobRepository:   jobRepository,
		clock:           clock,
		maxLeaseReturns: maxLeaseReturns,
	}
	m.onMaxReclaims = onMaxReclaims
	if m.onMaxReclaims == nil {
		m.onMaxReclaims = m.deadLetter
	}
	return m
}

// ExpireLeases reclaims every job whose lease expired without a heartbeat.
// A reclaim is normal operation, not a failure: the original worker simply
// finds its next heartbeat or complete rejected.
func (l *LeaseManager) ExpireLeases() {
	reclaimed, err := l.jobRepository.ReclaimExpired(l.clock.Now())
	if err != nil {
		log.WithError(err).Error("lease expiry sweep failed")
		return
	}
	for _, r := range reclaimed {
		metrics.RecordReclaimed()
		log.Infof("lease on job %s expired; returned to queue (reclaim %d)", r.JobId, r.Reclaims)
		if l.maxLeaseReturns > 0 && r.Reclaims > int64(l.maxLeaseReturns) {
			l.onMaxReclaims(r)
		}
	}
}

func (l *LeaseManager) deadLetter(r *repository.ReclaimedJob) {
	if err := l.jobRepository.DeadLetter(r.JobId); err != nil {
		log.WithError(err).Errorf("failed to dead-letter job %s", r.JobId)
		return
	}
	metrics.RecordDeadLettered()
	log.Warnf("job %s failed after %d lease reclaims (cap %d)", r.JobId, r.Reclaims, l.maxLeaseReturns)
}
