package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/fairlane-io/fairlane/internal/common/fairlaneerrors"
	"github.com/fairlane-io/fairlane/internal/fairlane/scheduling"
	"github.com/fairlane-io/fairlane/pkg/api"
)

// QueueServer exposes the scheduler's enqueue/lease/heartbeat/complete
// operations over REST.
type QueueServer struct {
	scheduler *scheduling.Scheduler
}

func NewQueueServer(scheduler *scheduling.Scheduler) *QueueServer {
	return &QueueServer{scheduler: scheduler}
}

func (s *QueueServer) Enqueue(c *gin.Context) {
	var req api.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	job, err := s.scheduler.Enqueue(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.EnqueueResponse{JobId: job.Id})
}

func (s *QueueServer) Lease(c *gin.Context) {
	var req api.LeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	jobs, err := s.scheduler.Lease(req.WorkerId, req.MaxJobs, time.Duration(req.LeaseTTLSeconds)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.LeaseResponse{Jobs: jobs})
}

func (s *QueueServer) Heartbeat(c *gin.Context) {
	var req api.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.scheduler.Heartbeat(c.Param("job_id"), req.WorkerId); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *QueueServer) Complete(c *gin.Context) {
	var req api.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Outcome != api.OutcomeSuccess && req.Outcome != api.OutcomeFailure {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: "outcome must be \"success\" or \"failure\"",
		})
		return
	}
	if err := s.scheduler.Complete(c.Param("job_id"), req.WorkerId, req.Outcome, req.Usage); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func writeError(c *gin.Context, err error) {
	status := fairlaneerrors.CodeFromError(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Errorf("request %s %s failed", c.Request.Method, c.Request.URL.Path)
	}
	c.JSON(status, api.ErrorResponse{
		Error: err.Error(),
		Code:  fairlaneerrors.ShortCodeFromError(err),
	})
}
