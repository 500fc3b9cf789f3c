// Package pipeline wires the acquisition, reporting and trigger paths onto
// one executor and runs them with their schedulers.
package pipeline

import (
	"context"
	"time"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/executor"
	"codeberg.org/mutker/thermobeacon/internal/gpio"
	"codeberg.org/mutker/thermobeacon/internal/logger"
	"codeberg.org/mutker/thermobeacon/internal/report"
	"codeberg.org/mutker/thermobeacon/internal/scheduler"
	"codeberg.org/mutker/thermobeacon/internal/sensor"
	"codeberg.org/mutker/thermobeacon/internal/state"
	"codeberg.org/mutker/thermobeacon/internal/telemetry"
	"codeberg.org/mutker/thermobeacon/internal/trigger"
	"codeberg.org/mutker/thermobeacon/internal/wallclock"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Capacity     int
	SamplePeriod time.Duration
	SampleDelay  time.Duration
	ReportPeriod time.Duration
	ReportDelay  time.Duration
	Trigger      trigger.Config
	// Listen is the telemetry HTTP address; empty disables the endpoint.
	Listen string
}

type Deps struct {
	Acquirer sensor.Acquirer
	Reporter trigger.Reporter
	Activity gpio.Indicator
	// Edge is optional; without it the trigger path never runs.
	Edge      gpio.EdgeSource
	Collector telemetry.Collector
	Clock     wallclock.WallClock
	Log       logger.Logger
}

type Pipeline struct {
	cfg       Config
	exec      *executor.Executor
	samples   *scheduler.Scheduler
	reports   *scheduler.Scheduler
	trigger   *trigger.Path
	edge      gpio.EdgeSource
	collector telemetry.Collector
	log       logger.Logger
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	errFactory := errors.New()

	if deps.Acquirer == nil || deps.Reporter == nil || deps.Activity == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "acquirer, reporter and activity indicator are required")
	}
	if cfg.Capacity <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidCapacity, cfg.Capacity)
	}
	if deps.Collector == nil {
		deps.Collector = telemetry.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = wallclock.Real()
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}

	collector := deps.Collector
	exec := executor.New(cfg.Capacity,
		executor.WithLogger(deps.Log),
		executor.WithObserver(func(kind executor.Kind, took time.Duration) {
			collector.HandlerRan(string(kind), took)
		}),
	)

	sampler := NewSampler(deps.Acquirer, deps.Activity, collector, deps.Log)
	sampleSig, err := exec.Register(executor.KindSample, sampler.Handle)
	if err != nil {
		return nil, err
	}

	reportSig, err := exec.Register(executor.KindReport, reportHandler(deps.Reporter, deps.Log))
	if err != nil {
		return nil, err
	}

	path, err := trigger.New(cfg.Trigger, deps.Acquirer, deps.Reporter,
		trigger.WithCollector(collector),
		trigger.WithLogger(deps.Log),
	)
	if err != nil {
		return nil, err
	}
	if err := path.Attach(exec); err != nil {
		return nil, err
	}

	samples, err := scheduler.New("sample", cfg.SamplePeriod, cfg.SampleDelay, sampleSig,
		scheduler.WithClock(deps.Clock), scheduler.WithLogger(deps.Log))
	if err != nil {
		return nil, err
	}
	reports, err := scheduler.New("report", cfg.ReportPeriod, cfg.ReportDelay, reportSig,
		scheduler.WithClock(deps.Clock), scheduler.WithLogger(deps.Log))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		exec:      exec,
		samples:   samples,
		reports:   reports,
		trigger:   path,
		edge:      deps.Edge,
		collector: collector,
		log:       deps.Log,
	}, nil
}

func reportHandler(rep trigger.Reporter, log logger.Logger) executor.Handler {
	return func(ctx context.Context, w *state.Writer) {
		_, err := rep.Report(ctx, w, report.ReasonPeriodic)
		if errors.HasCode(err, report.ErrNoReadings) {
			log.Debug().Msg("No readings yet, report skipped")
		}
	}
}

// Run blocks until ctx is done or a component fails.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.exec.Run(ctx)
	})
	g.Go(func() error {
		p.samples.Run(ctx)
		return nil
	})
	g.Go(func() error {
		p.reports.Run(ctx)
		return nil
	})
	if p.edge != nil {
		g.Go(func() error {
			return p.edge.Watch(ctx, p.trigger.Edge)
		})
	}
	if p.cfg.Listen != "" {
		g.Go(func() error {
			return telemetry.Serve(ctx, p.cfg.Listen, p.collector, p.log)
		})
	}

	p.log.Info().
		Dur("sample_period", p.cfg.SamplePeriod).
		Dur("report_period", p.cfg.ReportPeriod).
		Int("capacity", p.cfg.Capacity).
		Bool("trigger", p.edge != nil).
		Msg("Pipeline started")

	err := g.Wait()

	p.log.Info().
		Uint64("notified", p.exec.Notified()).
		Uint64("coalesced", p.exec.Coalesced()).
		Uint64("processed", p.exec.Processed()).
		Msg("Pipeline stopped")

	return err
}

// State returns a read-only view of the telemetry state.
func (p *Pipeline) State() *state.Reader {
	return p.exec.State()
}

// Trigger returns the event-triggered path.
func (p *Pipeline) Trigger() *trigger.Path {
	return p.trigger
}
