package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/diwise/iot-energy-mgmt/internal/pkg/application/aggregation"
	"github.com/diwise/iot-energy-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-energy-mgmt/pkg/types"
)

const (
	DefaultInterval time.Duration = 5 * time.Minute
	DefaultLookback int           = 24
)

type Config struct {
	Interval    time.Duration     `yaml:"interval"`
	Granularity types.Granularity `yaml:"granularity"`
	// Lookback is the number of completed periods evaluated on each run.
	Lookback int `yaml:"lookback"`
}

type Evaluator interface {
	Evaluate(ctx context.Context, granularity types.Granularity, from, to, since time.Time) ([]types.Alert, error)
}

type Pruner interface {
	Prune(ctx context.Context, now time.Time) int
}

// Watchdog periodically evaluates the latest completed periods and prunes expired samples.
type Watchdog interface {
	Start(ctx context.Context)
	Stop()
}

type watchdogImpl struct {
	cfg       Config
	evaluator Evaluator
	pruner    Pruner
	now       func() time.Time

	watermark time.Time
	done      chan bool
	wg        sync.WaitGroup
	once      sync.Once
}

func New(cfg Config, e Evaluator, p Pruner) Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if !cfg.Granularity.Valid() {
		cfg.Granularity = types.Hour
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}

	return &watchdogImpl{
		cfg:       cfg,
		evaluator: e,
		pruner:    p,
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan bool),
	}
}

func (w *watchdogImpl) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.backgroundWorker(ctx)
}

func (w *watchdogImpl) Stop() {
	w.once.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

func (w *watchdogImpl) backgroundWorker(ctx context.Context) {
	defer w.wg.Done()

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msgf("evaluating %s consumption every %s", w.cfg.Granularity, w.cfg.Interval)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.run(ctx)

		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *watchdogImpl) run(ctx context.Context) {
	log := logging.GetLoggerFromContext(ctx)
	now := w.now()

	if removed := w.pruner.Prune(ctx, now); removed > 0 {
		log.Debug().Msgf("pruned %d expired samples", removed)
	}

	to := aggregation.Align(now, w.cfg.Granularity)
	from := to.Add(-time.Duration(w.cfg.Lookback) * w.cfg.Granularity.Duration())

	alerts, err := w.evaluator.Evaluate(ctx, w.cfg.Granularity, from, to, w.watermark)
	if err != nil {
		log.Error().Err(err).Msg("evaluation failed")
		return
	}

	if len(alerts) > 0 {
		log.Info().Msgf("evaluation raised %d new alerts", len(alerts))
	}

	w.watermark = to
}
