package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairlane-io/fairlane/internal/common/health"
	"github.com/fairlane-io/fairlane/internal/common/util"
	"github.com/fairlane-io/fairlane/internal/fairlane/repository"
	"github.com/fairlane-io/fairlane/internal/fairlane/scheduling"
	"github.com/fairlane-io/fairlane/pkg/api"
)

func TestEnqueueEndpoint(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodPost, "/queue/enqueue", api.EnqueueRequest{
			TenantId:     "acme",
			Tier:         "starter",
			JobType:      "forecast",
			Payload:      []byte(`{"series":"daily"}`),
			CostEstimate: map[string]float64{"solver_sec": 2},
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var resp api.EnqueueResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.JobId)
	})
}

func TestEnqueueEndpoint_MissingFields(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodPost, "/queue/enqueue", map[string]string{"tier": "starter"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEnqueueEndpoint_BudgetExceeded(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodPost, "/tenants/acme/budget", api.TenantBudget{
			Limits: map[string]float64{"solver_sec": 1},
		})
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(router, http.MethodPost, "/queue/enqueue", api.EnqueueRequest{
			TenantId:     "acme",
			Tier:         "starter",
			JobType:      "forecast",
			Payload:      []byte(`{}`),
			CostEstimate: map[string]float64{"solver_sec": 5},
		})
		require.Equal(t, http.StatusTooManyRequests, w.Code)

		var resp api.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "BudgetExceeded", resp.Code)
	})
}

func TestLeaseAndCompleteEndpoints(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodPost, "/queue/enqueue", api.EnqueueRequest{
			TenantId:     "acme",
			Tier:         "starter",
			JobType:      "forecast",
			Payload:      []byte(`{}`),
			CostEstimate: map[string]float64{"solver_sec": 1},
		})
		require.Equal(t, http.StatusCreated, w.Code)

		w = doJSON(router, http.MethodPost, "/queue/lease", api.LeaseRequest{
			WorkerId: "worker-1",
			MaxJobs:  5,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var leased api.LeaseResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &leased))
		require.Len(t, leased.Jobs, 1)
		jobId := leased.Jobs[0].Id

		w = doJSON(router, http.MethodPost, fmt.Sprintf("/queue/%s/heartbeat", jobId), api.HeartbeatRequest{
			WorkerId: "worker-1",
		})
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(router, http.MethodPost, fmt.Sprintf("/queue/%s/complete", jobId), api.CompleteRequest{
			WorkerId: "worker-1",
			Outcome:  api.OutcomeSuccess,
			Usage:    map[string]float64{"solver_sec": 1.2},
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHeartbeatEndpoint_UnknownJob(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodPost, "/queue/no-such-job/heartbeat", api.HeartbeatRequest{
			WorkerId: "worker-1",
		})
		require.Equal(t, http.StatusNotFound, w.Code)

		var resp api.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "NotFound", resp.Code)
	})
}

func TestCompleteEndpoint_InvalidOutcome(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodPost, "/queue/job-1/complete", api.CompleteRequest{
			WorkerId: "worker-1",
			Outcome:  "done",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBudgetEndpoints(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodGet, "/tenants/acme/budget", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(router, http.MethodPost, "/tenants/acme/budget", api.TenantBudget{
			Tier:               "business",
			Weight:             4,
			Limits:             map[string]float64{"solver_sec": 100},
			RateLimitPerMinute: 60,
		})
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(router, http.MethodGet, "/tenants/acme/budget", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var budget api.TenantBudget
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &budget))
		assert.Equal(t, "acme", budget.TenantId)
		assert.Equal(t, 4.0, budget.Weight)
		assert.Equal(t, 100.0, budget.Remaining["solver_sec"])
	})
}

func TestBudgetEndpoint_NegativeWeight(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodPost, "/tenants/acme/budget", api.TenantBudget{Weight: -1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	withRouter(func(router http.Handler) {
		w := doJSON(router, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func withRouter(action func(router http.Handler)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	jobRepository := repository.NewRedisJobRepository(client)
	budgetRepository := repository.NewRedisBudgetRepository(client)
	scheduler := scheduling.NewScheduler(
		jobRepository,
		budgetRepository,
		scheduling.NewFairnessClock(),
		&util.DummyClock{T: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		scheduling.SchedulerOptions{},
	)
	checker := health.NewMultiChecker(repository.NewRedisHealth(client))
	action(NewRouter(NewQueueServer(scheduler), NewBudgetServer(budgetRepository), checker))
}

func doJSON(router http.Handler, method string, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
