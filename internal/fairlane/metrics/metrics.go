package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/fairlane-io/fairlane/internal/fairlane/repository"
)

const MetricPrefix = "fairlane_"

var enqueuedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_enqueued_total",
		Help: "Number of jobs admitted to the queue",
	},
	[]string{"tenant"},
)

var rejectedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_rejected_total",
		Help: "Number of enqueue requests rejected at admission",
	},
	[]string{"tenant", "reason"},
)

var leasedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_leased_total",
		Help: "Number of lease grants",
	},
	[]string{"tenant"},
)

var completedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_completed_total",
		Help: "Number of jobs reaching a terminal state",
	},
	[]string{"tenant", "outcome"},
)

var reclaimedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "leases_reclaimed_total",
		Help: "Number of expired leases returned to the queue",
	},
)

var deadLetteredCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "jobs_dead_lettered_total",
		Help: "Number of jobs failed after exceeding the lease return cap",
	},
)

func RecordEnqueued(tenantId string) { enqueuedCounter.WithLabelValues(tenantId).Inc() }
func RecordRejected(tenantId, reason string) {
	rejectedCounter.WithLabelValues(tenantId, reason).Inc()
}
func RecordLeased(tenantId string) { leasedCounter.WithLabelValues(tenantId).Inc() }
func RecordCompleted(tenantId, outcome string) {
	completedCounter.WithLabelValues(tenantId, outcome).Inc()
}
func RecordReclaimed()    { reclaimedCounter.Inc() }
func RecordDeadLettered() { deadLetteredCounter.Inc() }

// ExposeDataMetrics registers a collector reporting queue state gauges read
// from the job repository at scrape time.
func ExposeDataMetrics(jobRepository repository.JobRepository) *QueueInfoCollector {
	collector := &QueueInfoCollector{jobRepository: jobRepository}
	prometheus.MustRegister(collector)
	return collector
}

type QueueInfoCollector struct {
	jobRepository repository.JobRepository
}

var queueSizeDesc = prometheus.NewDesc(
	MetricPrefix+"queue_size",
	"Number of queued jobs",
	nil,
	nil,
)

var leasedSizeDesc = prometheus.NewDesc(
	MetricPrefix+"leased_size",
	"Number of jobs currently under lease",
	nil,
	nil,
)

func (c *QueueInfoCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- queueSizeDesc
	desc <- leasedSizeDesc
}

func (c *QueueInfoCollector) Collect(metrics chan<- prometheus.Metric) {
	queued, err := c.jobRepository.QueueSize()
	if err != nil {
		log.WithError(err).Error("failed to collect queue size")
		return
	}
	leased, err := c.jobRepository.LeasedCount()
	if err != nil {
		log.WithError(err).Error("failed to collect leased count")
		return
	}
	metrics <- prometheus.MustNewConstMetric(queueSizeDesc, prometheus.GaugeValue, float64(queued))
	metrics <- prometheus.MustNewConstMetric(leasedSizeDesc, prometheus.GaugeValue, float64(leased))
}
