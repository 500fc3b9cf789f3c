package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/thermobeacon/internal/broadcast"
	"codeberg.org/mutker/thermobeacon/internal/config"
	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/gpio"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/metrics"
	"codeberg.org/mutker/thermobeacon/internal/pid"
	"codeberg.org/mutker/thermobeacon/internal/pipeline"
	"codeberg.org/mutker/thermobeacon/internal/report"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"codeberg.org/mutker/thermobeacon/internal/telemetry"
	"codeberg.org/mutker/thermobeacon/internal/trigger"
)

// app holds everything that needs releasing on exit.
type app struct {
	cfg       *config.Config
	pidFile   string
	activity  gpio.Indicator
	alert     gpio.Indicator
	edge      gpio.EdgeSource
	publisher broadcast.Publisher
	recorder  metrics.Recorder
	pipeline  *pipeline.Pipeline
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		logger.Warn().Err(err).Msg("Invalid log level, using info")
	}
	logger.Debug().Str("file", cfg.ConfigFile).Msg("Config loaded")

	a, err := newApp(cfg)
	if err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.FatalWithCode(appErr).Msg("Failed to initialize")
		}
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := a.pipeline.Run(ctx); err != nil {
		logger.Error().Err(errors.New().Wrap(errors.ErrMainLoop, err)).Msg("Pipeline failed")
	}
	a.cleanup()
}

func newApp(cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg, pidFile: cfg.PIDFile}
	if a.pidFile == "" {
		a.pidFile = pid.DefaultPath()
	}
	if err := pid.Write(a.pidFile); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			a.cleanup()
		}
	}()

	port, err := newPort(cfg)
	if err != nil {
		return a, err
	}

	if a.activity, err = newIndicator("activity", cfg.GPIO.ActivityLED); err != nil {
		return a, err
	}
	if a.alert, err = newIndicator("alert", cfg.GPIO.AlertLED); err != nil {
		return a, err
	}
	if a.edge, err = newEdgeSource(cfg.GPIO.Button); err != nil {
		return a, err
	}
	if a.publisher, err = newPublisher(cfg); err != nil {
		return a, err
	}

	a.recorder, err = metrics.NewService(metrics.Config{
		DBPath:       cfg.Metrics.DBPath,
		Enabled:      cfg.Metrics.Enabled,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: cfg.Metrics.BatchTimeout,
	}, logger.New("metrics"))
	if err != nil {
		return a, err
	}

	collector := telemetry.Nop()
	if cfg.Telemetry.Listen != "" {
		tc := telemetry.DefaultConfig()
		tc.Listen = cfg.Telemetry.Listen
		if collector, err = telemetry.NewService(tc); err != nil {
			return a, err
		}
	}

	rep, err := report.New(report.Config{
		Threshold: cfg.Alert.Threshold,
		CompanyID: cfg.Broadcast.CompanyID,
		GroupID:   cfg.Broadcast.GroupID,
	}, a.publisher, a.alert,
		report.WithRecorder(a.recorder),
		report.WithCollector(collector),
		report.WithLogger(logger.New("report")),
	)
	if err != nil {
		return a, err
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Capacity:     cfg.History.Capacity,
		SamplePeriod: cfg.Sampling.Period,
		SampleDelay:  cfg.Sampling.Delay,
		ReportPeriod: cfg.Reporting.Period,
		ReportDelay:  cfg.Reporting.Delay,
		Trigger: trigger.Config{
			Timeout:          cfg.Acquisition.Timeout,
			PublishOnTrigger: cfg.Broadcast.PublishOnTrigger,
		},
		Listen: cfg.Telemetry.Listen,
	}, pipeline.Deps{
		Acquirer:  port,
		Reporter:  rep,
		Activity:  a.activity,
		Edge:      a.edge,
		Collector: collector,
		Log:       logger.New("pipeline"),
	})
	if err != nil {
		return a, err
	}

	return a, nil
}

func newPort(cfg *config.Config) (*sensor.Port, error) {
	cal := sensor.Calibration{
		ReferenceMV:    cfg.Sensor.ReferenceMV,
		ResolutionBits: cfg.Sensor.ResolutionBits,
		Gain:           cfg.Sensor.Gain,
		MVPerDegree:    cfg.Sensor.MVPerDegree,
		OffsetC:        cfg.Sensor.OffsetC,
	}

	var driver sensor.Driver
	switch cfg.Sensor.Driver {
	case "iio":
		var opts []sensor.IIOOption
		if cfg.Sensor.AuxChannel >= 0 {
			opts = append(opts, sensor.WithAuxChannel(cfg.Sensor.AuxChannel))
		}
		driver = sensor.NewIIO(cfg.Sensor.IIODevice, cfg.Sensor.Channel, opts...)
	default:
		driver = sensor.NewSimulated(cal)
	}

	logger.Info().Str("driver", driver.Name()).Msg("Sensor driver selected")

	return sensor.NewPort(driver, cal, sensor.WithLogger(logger.New("sensor")))
}

func newIndicator(name, pin string) (gpio.Indicator, error) {
	if pin == "" {
		return gpio.NewLogIndicator(name, logger.New("gpio")), nil
	}
	p, err := gpio.NewPin(pin, logger.New("gpio"))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newEdgeSource watches the button pin, or SIGUSR1 when none is wired.
func newEdgeSource(pin string) (gpio.EdgeSource, error) {
	if pin == "" {
		logger.Info().Msg("No trigger button configured, send SIGUSR1 to trigger a reading")
		return gpio.NewSignalButton(syscall.SIGUSR1), nil
	}
	b, err := gpio.NewButton(pin, logger.New("gpio"))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newPublisher(cfg *config.Config) (broadcast.Publisher, error) {
	log := logger.New("broadcast")

	switch cfg.Broadcast.Publisher {
	case "ble":
		pub, err := broadcast.NewBLE(broadcast.BLEConfig{DeviceName: cfg.Broadcast.DeviceName}, log)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case "mqtt":
		pub, err := broadcast.NewMQTT(broadcast.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            byte(cfg.MQTT.QoS),
			Retained:       cfg.MQTT.Retained,
			ConnectRetries: cfg.MQTT.ConnectRetries,
			PublishTimeout: cfg.MQTT.PublishTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return broadcast.NewBreaker("mqtt", pub, cfg.MQTT.BreakerFailures, cfg.MQTT.BreakerTimeout, log), nil
	default:
		return broadcast.NewLog(log), nil
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func (a *app) cleanup() {
	for name, ind := range map[string]gpio.Indicator{"activity": a.activity, "alert": a.alert} {
		if ind == nil {
			continue
		}
		if err := ind.Close(); err != nil {
			logger.Error().Err(err).Str("indicator", name).Msg("Failed to release indicator")
		}
	}
	if a.edge != nil {
		if err := a.edge.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to release trigger source")
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close publisher")
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close report log")
		}
	}
	if err := pid.Remove(a.pidFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
