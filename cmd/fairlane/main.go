package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fairlane-io/fairlane/internal/common"
	"github.com/fairlane-io/fairlane/internal/common/health"
	"github.com/fairlane-io/fairlane/internal/fairlane"
	"github.com/fairlane-io/fairlane/internal/fairlane/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.FairlaneConfig
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&config, "./config/fairlane", userSpecifiedConfig, configuration.CustomHooks...)

	healthChecks := health.NewMultiChecker()
	shutdownMetricServer := common.ServeMetrics(config.MetricsPort, healthChecks)
	defer shutdownMetricServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopSignal
		cancel()
	}()

	if err := fairlane.Serve(ctx, &config, healthChecks); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("server failed")
		os.Exit(1)
	}
}
