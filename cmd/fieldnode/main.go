package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/verdanterra/fieldnode/config"
	"github.com/verdanterra/fieldnode/drivers/filestore"
	"github.com/verdanterra/fieldnode/drivers/httpoffload"
	"github.com/verdanterra/fieldnode/drivers/mqtt"
	"github.com/verdanterra/fieldnode/drivers/periphio"
	"github.com/verdanterra/fieldnode/internal/logging"
	"github.com/verdanterra/fieldnode/service"
	"github.com/verdanterra/fieldnode/telemetry"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	healthcheck := flag.Bool("healthcheck", false, "Run a health check and exit")
	flag.Parse()

	if *healthcheck || *configCheck {
		if _, err := config.Load(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		if *configCheck {
			fmt.Println("Configuration check completed successfully.")
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector, err := newTelemetryCollector(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}

	deps, err := buildDependencies(cfg, collector, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bring up hardware and transports")
	}

	svc, err := service.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}
	defer svc.Close()

	logger.Info().
		Str("device_id", cfg.Node.DeviceID).
		Str("zone", cfg.Node.Zone).
		Int("sensors", len(svc.SensorStates())).
		Msg("fieldnode started")

	if err := svc.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
}

// buildDependencies opens every hardware line and external transport the
// board offers. Missing optional hardware degrades to a nil line so that
// only sensors needing it fail, not the whole node.
func buildDependencies(cfg *config.Config, collector telemetry.Collector, logger zerolog.Logger) (service.Dependencies, error) {
	deps := service.Dependencies{Telemetry: collector}

	transport, err := httpoffload.New(cfg.Offload.URL, cfg.Offload.Timeout.Duration)
	if err != nil {
		return deps, err
	}
	deps.Transport = transport

	if cfg.Publish.Broker != "" {
		publisher, err := mqtt.NewPublisher(cfg.Publish, logger)
		if err != nil {
			return deps, err
		}
		deps.Publisher = publisher
	}

	if cfg.Store.Path != "" {
		store, err := filestore.Open(cfg.Store.Path)
		if err != nil {
			return deps, err
		}
		deps.Store = store
	}

	if len(cfg.Pins.Analog) > 0 {
		adc, err := periphio.NewHostADC("", cfg.Pins.Analog)
		if err != nil {
			// Boards with an external converter need a dedicated build that
			// binds periphio.NewADC with the converter's channels.
			logger.Warn().Err(err).Ints("pins", cfg.Pins.Analog).Msg("adc unavailable, analog sensors will report interface errors")
		} else {
			deps.Analog = adc
		}
	}

	digital, err := periphio.NewDigital("")
	if err != nil {
		logger.Warn().Err(err).Msg("digital gpio unavailable")
	} else {
		deps.Digital = digital
	}
	if bus, err := periphio.OpenI2C(""); err != nil {
		logger.Warn().Err(err).Msg("i2c bus unavailable")
	} else {
		deps.Bus = bus
	}
	if onewire, err := periphio.OpenOneWire(""); err != nil {
		logger.Warn().Err(err).Msg("1-wire bus unavailable")
	} else {
		deps.OneWire = onewire
	}
	return deps, nil
}

func newTelemetryCollector(cfg config.TelemetryConfig, logger zerolog.Logger) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	collector, err := telemetry.NewPrometheusCollector(nil)
	if err != nil {
		return nil, err
	}
	listen := cfg.Listen
	if listen == "" {
		listen = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			logger.Error().Err(err).Str("listen", listen).Msg("metrics endpoint stopped")
		}
	}()
	return collector, nil
}
