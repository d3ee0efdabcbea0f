package api

import (
	"encoding/json"
	"time"
)

// Job statuses as stored and reported over the API.
const (
	JobQueued    = "queued"
	JobLeased    = "leased"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Outcomes accepted by the complete endpoint.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Job is a unit of work owned by a tenant. Identity, fairness tags and cost
// estimate are assigned at enqueue time and never change afterwards; only
// lifecycle state (status, worker, lease expiry) moves.
type Job struct {
	Id       string `json:"job_id"`
	TenantId string `json:"tenant_id"`
	Tier     string `json:"tier"`

	JobType string          `json:"job_type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Estimated units per resource dimension, e.g. {"solver_sec": 2.0}.
	// Used for admission and fairness math only.
	CostEstimate map[string]float64 `json:"cost_estimate,omitempty"`
	Priority     int64              `json:"priority,omitempty"`

	StartTag  float64 `json:"start_tag"`
	FinishTag float64 `json:"finish_tag"`

	Status         string     `json:"status"`
	WorkerId       string     `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	Created time.Time `json:"created_at"`
	Updated time.Time `json:"updated_at"`
}

type EnqueueRequest struct {
	// Optional caller-supplied id, used for idempotent submission.
	// A ULID is assigned when empty.
	JobId        string             `json:"job_id,omitempty"`
	TenantId     string             `json:"tenant_id" binding:"required"`
	Tier         string             `json:"tier"`
	JobType      string             `json:"job_type" binding:"required"`
	Payload      json.RawMessage    `json:"payload,omitempty"`
	CostEstimate map[string]float64 `json:"cost_estimate,omitempty"`
	Priority     int64              `json:"priority,omitempty"`
}

type EnqueueResponse struct {
	JobId string `json:"job_id"`
}

type LeaseRequest struct {
	WorkerId string `json:"worker_id" binding:"required"`
	MaxJobs  int    `json:"max_jobs,omitempty"`
	// Seconds; the server default applies when zero.
	LeaseTTLSeconds int `json:"lease_ttl,omitempty"`
}

type LeaseResponse struct {
	Jobs []*Job `json:"jobs"`
}

type HeartbeatRequest struct {
	WorkerId string `json:"worker_id" binding:"required"`
}

type CompleteRequest struct {
	WorkerId string `json:"worker_id" binding:"required"`
	Outcome  string `json:"outcome" binding:"required"`
	// Actual units consumed per resource dimension, settled against the
	// tenant budget. May differ from the enqueue-time estimate.
	Usage map[string]float64 `json:"usage,omitempty"`
}

// TenantBudget is the admin view of a tenant's ledger entry.
type TenantBudget struct {
	TenantId           string             `json:"tenant_id"`
	Tier               string             `json:"tier,omitempty"`
	Weight             float64            `json:"weight,omitempty"`
	Remaining          map[string]float64 `json:"remaining,omitempty"`
	Limits             map[string]float64 `json:"limits,omitempty"`
	RateLimitPerMinute float64            `json:"rate_limit_per_minute,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
