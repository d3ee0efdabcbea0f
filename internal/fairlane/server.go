package fairlane

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fairlane-io/fairlane/internal/common/health"
	"github.com/fairlane-io/fairlane/internal/common/task"
	"github.com/fairlane-io/fairlane/internal/common/util"
	"github.com/fairlane-io/fairlane/internal/fairlane/configuration"
	"github.com/fairlane-io/fairlane/internal/fairlane/metrics"
	"github.com/fairlane-io/fairlane/internal/fairlane/repository"
	"github.com/fairlane-io/fairlane/internal/fairlane/scheduling"
	"github.com/fairlane-io/fairlane/internal/fairlane/server"
)

// Serve wires up the scheduler and runs it until the context is cancelled or
// a service fails.
func Serve(ctx context.Context, config *configuration.FairlaneConfig, healthChecks *health.MultiChecker) error {
	log.Info("Fairlane scheduler starting")
	defer log.Info("Fairlane scheduler shutting down")

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks.Add(startupCompleteCheck)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	db := createRedisClient(&config.Redis)
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("failed to close Redis client")
		}
	}()
	err := retry.Do(
		func() error { return db.Ping().Err() },
		retry.Attempts(5),
		retry.Delay(time.Second),
	)
	if err != nil {
		return errors.Wrap(err, "connecting to Redis")
	}
	healthChecks.Add(repository.NewRedisHealth(db))

	jobRepository := repository.NewRedisJobRepository(db)
	budgetRepository := repository.NewRedisBudgetRepository(db)

	clock := &util.UTCClock{}
	fairnessClock := scheduling.NewFairnessClock()
	scheduler := scheduling.NewScheduler(jobRepository, budgetRepository, fairnessClock, clock, scheduling.SchedulerOptions{
		TierWeights:       config.Scheduling.TierWeights,
		DefaultLeaseTTL:   config.Scheduling.DefaultLeaseTTL,
		MaxLeaseTTL:       config.Scheduling.MaxLeaseTTL,
		MaxJobsPerLease:   config.Scheduling.MaxJobsPerLease,
		CandidateMultiple: config.Scheduling.CandidateMultiple,
		Aggregate:         config.Scheduling.CostAggregator,
	})
	leaseManager := scheduling.NewLeaseManager(jobRepository, clock, config.Scheduling.Lease.MaxLeaseReturns, nil)

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	defer taskManager.StopAll(2 * time.Second)
	taskManager.Register(leaseManager.ExpireLeases, config.Scheduling.Lease.ExpiryLoopInterval, "lease_expiry")

	metrics.ExposeDataMetrics(jobRepository)

	router := server.NewRouter(
		server.NewQueueServer(scheduler),
		server.NewBudgetServer(budgetRepository),
		healthChecks,
	)
	httpServer := &http.Server{Handler: router}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", config.HttpPort))
	if err != nil {
		return errors.WithStack(err)
	}
	log.Infof("Fairlane REST server listening on %d", config.HttpPort)
	g.Go(func() error {
		if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	startupCompleteCheck.MarkComplete()
	return g.Wait()
}

func createRedisClient(config *configuration.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.Db,
	})
}
