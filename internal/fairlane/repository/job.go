package repository

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/fairlane-io/fairlane/internal/common/fairlaneerrors"
	"github.com/fairlane-io/fairlane/pkg/api"
)

const (
	jobObjectPrefix   = "Job:"
	jobQueueKey       = "Job:Queue"
	jobLeasedKey      = "Job:Leased"
	jobWorkerMapKey   = "Job:Worker"
	jobStartTagMapKey = "Job:StartTag"
	jobDoneMapKey     = "Job:Done"
	jobReclaimsMapKey = "Job:Reclaims"
)

// ReclaimedJob identifies a job returned to the queue by the lease sweep,
// together with how many times it has now been reclaimed in total.
type ReclaimedJob struct {
	JobId    string
	Reclaims int64
}

type JobRepository interface {
	// Insert persists a new job in queued state. Fails with ErrDuplicateJob
	// if the id is already taken.
	Insert(job *api.Job) error
	GetById(jobId string) (*api.Job, error)
	// PeekQueue returns up to limit queued jobs in ascending start-tag order.
	// Tiebreak ordering beyond the start tag is up to the caller.
	PeekQueue(limit int64) ([]*api.Job, error)
	// TryLease atomically transitions a queued job to leased, stamping the
	// worker and lease expiry. Returns false without error when the job is no
	// longer queued (lost race), so callers can move on to the next candidate.
	TryLease(jobId string, workerId string, now time.Time, leaseTTL time.Duration) (bool, error)
	// RenewLease extends the lease expiry iff workerId currently holds it.
	RenewLease(jobId string, workerId string, now time.Time, leaseTTL time.Duration) error
	// Complete transitions a leased job to its terminal state. Repeating a
	// complete call with the same outcome is a no-op success; settled reports
	// whether this call performed the transition (budget is settled only then).
	Complete(jobId string, workerId string, outcome string) (settled bool, err error)
	// ReclaimExpired returns all jobs whose lease expired before deadline to
	// the queue, under their original start tags.
	ReclaimExpired(deadline time.Time) ([]*ReclaimedJob, error)
	// DeadLetter moves a queued or leased job to the failed state.
	DeadLetter(jobId string) error
	QueueSize() (int64, error)
	LeasedCount() (int64, error)
}

type RedisJobRepository struct {
	db redis.UniversalClient
}

func NewRedisJobRepository(db redis.UniversalClient) *RedisJobRepository {
	return &RedisJobRepository{db: db}
}

// Inserted atomically so a crash can not leave a job body without a queue
// entry: the body is the duplicate guard, the queue entry makes it leasable.
const insertScript = `
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[3])
redis.call('HSET', KEYS[3], ARGV[3], ARGV[2])
return 1
`

func (repo *RedisJobRepository) Insert(job *api.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.WithStack(err)
	}
	result, err := repo.db.Eval(
		insertScript,
		[]string{jobObjectPrefix + job.Id, jobQueueKey, jobStartTagMapKey},
		string(data), formatFloat(job.StartTag), job.Id,
	).Int()
	if err != nil {
		return errors.Wrapf(err, "inserting job %s", job.Id)
	}
	if result == 0 {
		return &fairlaneerrors.ErrDuplicateJob{JobId: job.Id}
	}
	return nil
}

func (repo *RedisJobRepository) GetById(jobId string) (*api.Job, error) {
	pipe := repo.db.Pipeline()
	bodyCmd := pipe.Get(jobObjectPrefix + jobId)
	doneCmd := pipe.HGet(jobDoneMapKey, jobId)
	workerCmd := pipe.HGet(jobWorkerMapKey, jobId)
	leaseCmd := pipe.ZScore(jobLeasedKey, jobId)
	_, _ = pipe.Exec() // errors surface per command; redis.Nil is expected

	data, err := bodyCmd.Bytes()
	if err == redis.Nil {
		return nil, &fairlaneerrors.ErrNotFound{Type: "job", Value: jobId}
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading job %s", jobId)
	}

	job := &api.Job{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling job %s", jobId)
	}

	if outcome, err := doneCmd.Result(); err == nil {
		job.Status = statusFromOutcome(outcome)
		return job, nil
	}
	if expiry, err := leaseCmd.Result(); err == nil {
		job.Status = api.JobLeased
		t := time.Unix(0, int64(expiry*float64(time.Second))).UTC()
		job.LeaseExpiresAt = &t
		job.WorkerId, _ = workerCmd.Result()
		return job, nil
	}
	job.Status = api.JobQueued
	return job, nil
}

func (repo *RedisJobRepository) PeekQueue(limit int64) ([]*api.Job, error) {
	ids, err := repo.db.ZRange(jobQueueKey, 0, limit-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "peeking queue")
	}
	return repo.getQueuedJobs(ids)
}

const tryLeaseScript = `
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
return 1
`

func (repo *RedisJobRepository) TryLease(jobId string, workerId string, now time.Time, leaseTTL time.Duration) (bool, error) {
	expiresAt := unixFloat(now.Add(leaseTTL))
	result, err := repo.db.Eval(
		tryLeaseScript,
		[]string{jobQueueKey, jobLeasedKey, jobWorkerMapKey},
		jobId, formatFloat(expiresAt), workerId,
	).Int()
	if err != nil {
		return false, errors.Wrapf(err, "leasing job %s", jobId)
	}
	return result == 1, nil
}

const renewLeaseScript = `
local holder = redis.call('HGET', KEYS[2], ARGV[1])
if holder == false or holder ~= ARGV[2] then
	return 0
end
if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
	return 0
end
redis.call('ZADD', KEYS[1], tonumber(ARGV[3]), ARGV[1])
return 1
`

func (repo *RedisJobRepository) RenewLease(jobId string, workerId string, now time.Time, leaseTTL time.Duration) error {
	expiresAt := unixFloat(now.Add(leaseTTL))
	result, err := repo.db.Eval(
		renewLeaseScript,
		[]string{jobLeasedKey, jobWorkerMapKey},
		jobId, workerId, formatFloat(expiresAt),
	).Int()
	if err != nil {
		return errors.Wrapf(err, "renewing lease on job %s", jobId)
	}
	if result == 1 {
		return nil
	}
	return repo.notHeldError(jobId, workerId)
}

// Return codes: 1 transitioned now, 2 already terminal with the same outcome,
// 0 held by a different worker (or not leased at all).
const completeScript = `
local done = redis.call('HGET', KEYS[3], ARGV[1])
if done then
	if done == ARGV[3] then
		return 2
	end
	return 0
end
local holder = redis.call('HGET', KEYS[2], ARGV[1])
if holder == false or holder ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
return 1
`

func (repo *RedisJobRepository) Complete(jobId string, workerId string, outcome string) (bool, error) {
	result, err := repo.db.Eval(
		completeScript,
		[]string{jobLeasedKey, jobWorkerMapKey, jobDoneMapKey, jobStartTagMapKey, jobReclaimsMapKey},
		jobId, workerId, outcome,
	).Int()
	if err != nil {
		return false, errors.Wrapf(err, "completing job %s", jobId)
	}
	switch result {
	case 1:
		return true, nil
	case 2:
		return false, nil
	default:
		return false, repo.notHeldError(jobId, workerId)
	}
}

// Reclaimed jobs re-enter the queue under their original start tag, so a
// worker crash never costs a tenant its place in the fairness ordering.
const reclaimScript = `
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local counts = {}
for i, id in ipairs(expired) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('HDEL', KEYS[2], id)
	local tag = redis.call('HGET', KEYS[4], id)
	redis.call('ZADD', KEYS[3], tonumber(tag), id)
	counts[i] = redis.call('HINCRBY', KEYS[5], id, 1)
end
local result = {}
for i, id in ipairs(expired) do
	result[2*i-1] = id
	result[2*i] = counts[i]
end
return result
`

func (repo *RedisJobRepository) ReclaimExpired(deadline time.Time) ([]*ReclaimedJob, error) {
	result, err := repo.db.Eval(
		reclaimScript,
		[]string{jobLeasedKey, jobWorkerMapKey, jobQueueKey, jobStartTagMapKey, jobReclaimsMapKey},
		formatFloat(unixFloat(deadline)),
	).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reclaiming expired leases")
	}

	flat, ok := result.([]interface{})
	if !ok {
		return nil, errors.Errorf("unexpected reclaim script result of type %T", result)
	}
	reclaimed := make([]*ReclaimedJob, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		id, _ := flat[i].(string)
		count, _ := flat[i+1].(int64)
		reclaimed = append(reclaimed, &ReclaimedJob{JobId: id, Reclaims: count})
	}
	return reclaimed, nil
}

const deadLetterScript = `
if redis.call('HGET', KEYS[4], ARGV[1]) then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('HDEL', KEYS[6], ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
return 1
`

func (repo *RedisJobRepository) DeadLetter(jobId string) error {
	err := repo.db.Eval(
		deadLetterScript,
		[]string{jobQueueKey, jobLeasedKey, jobWorkerMapKey, jobDoneMapKey, jobStartTagMapKey, jobReclaimsMapKey},
		jobId, api.OutcomeFailure,
	).Err()
	return errors.Wrapf(err, "dead-lettering job %s", jobId)
}

func (repo *RedisJobRepository) QueueSize() (int64, error) {
	return repo.db.ZCard(jobQueueKey).Result()
}

func (repo *RedisJobRepository) LeasedCount() (int64, error) {
	return repo.db.ZCard(jobLeasedKey).Result()
}

func (repo *RedisJobRepository) getQueuedJobs(ids []string) ([]*api.Job, error) {
	if len(ids) == 0 {
		return []*api.Job{}, nil
	}
	pipe := repo.db.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(jobObjectPrefix + id)
	}
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "fetching job bodies")
	}

	jobs := make([]*api.Job, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			// Removed between the range read and the fetch; skip.
			continue
		} else if err != nil {
			return nil, errors.Wrap(err, "fetching job body")
		}
		job := &api.Job{}
		if err := json.Unmarshal(data, job); err != nil {
			return nil, errors.Wrap(err, "unmarshalling job body")
		}
		job.Status = api.JobQueued
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// notHeldError distinguishes a missing job from a stale worker.
func (repo *RedisJobRepository) notHeldError(jobId string, workerId string) error {
	exists, err := repo.db.Exists(jobObjectPrefix + jobId).Result()
	if err != nil {
		return errors.Wrapf(err, "checking job %s", jobId)
	}
	if exists == 0 {
		return &fairlaneerrors.ErrNotFound{Type: "job", Value: jobId}
	}
	return &fairlaneerrors.ErrLeaseMismatch{JobId: jobId, WorkerId: workerId}
}

func statusFromOutcome(outcome string) string {
	if outcome == api.OutcomeSuccess {
		return api.JobCompleted
	}
	return api.JobFailed
}
