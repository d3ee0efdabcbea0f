package scheduling

import "sync"

// FairnessClock holds the Start-Time Fair Queuing state: the global virtual
// time and each tenant's running finish tag.
//
// Virtual time advances only when a job is actually granted a lease, not on
// enqueue. A tenant that has been idle therefore starts again at the current
// service frontier rather than at its own stale finish tag, and queuing jobs
// while idle confers no advantage.
type FairnessClock struct {
	mu            sync.Mutex
	virtualTime   float64
	lastFinishTag map[string]float64
}

func NewFairnessClock() *FairnessClock {
	return &FairnessClock{
		lastFinishTag: map[string]float64{},
	}
}

// AssignTags computes and commits the fairness tags for a job of the given
// size enqueued by the tenant. The tenant's finish tag advances immediately:
// the fairness share is committed at enqueue even if the job is never leased.
func (c *FairnessClock) AssignTags(tenantId string, size float64, weight float64) (startTag float64, finishTag float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	startTag = c.lastFinishTag[tenantId]
	if c.virtualTime > startTag {
		startTag = c.virtualTime
	}
	finishTag = startTag + size/weight
	c.lastFinishTag[tenantId] = finishTag
	return startTag, finishTag
}

// ObserveLease advances virtual time to the finish tag of a job selected for
// service, if it is ahead of the current frontier.
func (c *FairnessClock) ObserveLease(finishTag float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if finishTag > c.virtualTime {
		c.virtualTime = finishTag
	}
}

func (c *FairnessClock) VirtualTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtualTime
}
