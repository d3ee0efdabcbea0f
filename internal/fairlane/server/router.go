package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fairlane-io/fairlane/internal/common/health"
)

func NewRouter(queue *QueueServer, budget *BudgetServer, checker health.Checker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/queue/enqueue", queue.Enqueue)
	router.POST("/queue/lease", queue.Lease)
	router.POST("/queue/:job_id/heartbeat", queue.Heartbeat)
	router.POST("/queue/:job_id/complete", queue.Complete)

	router.GET("/tenants/:id/budget", budget.Get)
	router.POST("/tenants/:id/budget", budget.Upsert)

	router.GET("/health", func(c *gin.Context) {
		if err := checker.Check(); err != nil {
			c.String(http.StatusServiceUnavailable, err.Error())
			return
		}
		c.Status(http.StatusNoContent)
	})

	return router
}
