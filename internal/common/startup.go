package common

import (
	"net/http"
	"os"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fairlane-io/fairlane/internal/common/health"
)

const baseConfigFileName = "config"

// LoadConfig reads the application config from defaultPath, optionally merges
// a user-specified config file over it, and unmarshals into config using the
// provided decode hooks.
func LoadConfig(config interface{}, defaultPath string, userSpecifiedPath string, hooks ...viper.DecoderConfigOption) {
	viper.SetConfigName(baseConfigFileName)
	viper.AddConfigPath(defaultPath)
	if err := viper.ReadInConfig(); err != nil {
		log.WithError(err).Error("failed to read base configuration")
		os.Exit(-1)
	}

	if userSpecifiedPath != "" {
		viper.SetConfigFile(userSpecifiedPath)
		if err := viper.MergeInConfig(); err != nil {
			log.WithError(err).Errorf("failed to merge configuration %s", userSpecifiedPath)
			os.Exit(-1)
		}
	}

	hooks = append(hooks, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err := viper.Unmarshal(config, hooks...); err != nil {
		log.WithError(err).Error("failed to unmarshal configuration")
		os.Exit(-1)
	}
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// ServeMetrics exposes the prometheus registry and a health endpoint on their
// own port. The returned function shuts the server down.
func ServeMetrics(port uint16, checker health.Checker) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", health.NewHealthCheckHttpHandler(checker))
	return serve(port, mux)
}

func serve(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(int(port)),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("http server on port %d failed", port)
			os.Exit(-1)
		}
	}()
	return func() {
		if err := srv.Close(); err != nil {
			log.WithError(err).Errorf("failed to shut down http server on port %d", port)
		}
	}
}
