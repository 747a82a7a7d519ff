// Package scheduler throttles calls into an expensive detector: at most one detection cycle
// runs at a time, cycles start no more often than a minimum interval, and results are handed
// to a consumer on a single delivery goroutine in invocation order. Frames that arrive while
// the detector is busy or too early are dropped, never queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/utils"
	"go.viam.com/tinyyolo/vision/objectdetection"
)

// DefaultMinInterval caps detection at roughly 8 Hz.
const DefaultMinInterval = 120 * time.Millisecond

// latencyWindow is how many recent cycles Stats summarizes.
const latencyWindow = 128

// DetectFunc runs one detection cycle on a frame.
type DetectFunc[F any] func(ctx context.Context, frame F) ([]objectdetection.Detection, error)

// Consumer receives the detections of every successful cycle.
type Consumer func([]objectdetection.Detection)

// Config is the static configuration of a Scheduler.
type Config struct {
	MinInterval time.Duration `json:"min_invocation_interval" yaml:"min_invocation_interval" mapstructure:"min_invocation_interval"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.MinInterval < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("min_invocation_interval must not be negative, got %v", cfg.MinInterval))
	}
	return nil
}

// Option customizes a Scheduler.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock replaces the wall clock, usually with a clock.Mock in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Admitted      int64
	DroppedRate   int64
	DroppedBusy   int64
	DroppedClosed int64
	Failed        int64
	Delivered     int64

	MeanLatency time.Duration
	P50Latency  time.Duration
	P95Latency  time.Duration
	// FPS is the rate of completed cycles over the recent window.
	FPS float64
}

// Dropped is the total of all rejected frames.
func (s Stats) Dropped() int64 {
	return s.DroppedRate + s.DroppedBusy + s.DroppedClosed
}

// Scheduler admits frames into a single detection worker.
type Scheduler[F any] struct {
	detect   DetectFunc[F]
	consumer Consumer
	clock    clock.Clock
	limiter  *rate.Limiter
	logger   logging.Logger

	mu       sync.Mutex
	closed   bool
	inFlight atomic.Bool

	frames  chan F
	results chan []objectdetection.Detection
	workers *utils.StoppableWorkers

	admitted      atomic.Int64
	droppedRate   atomic.Int64
	droppedBusy   atomic.Int64
	droppedClosed atomic.Int64
	failed        atomic.Int64
	delivered     atomic.Int64

	statsMu     sync.Mutex
	latencies   []float64
	completions []time.Time
}

// New starts a scheduler that runs detect on admitted frames and hands results to consumer.
func New[F any](
	detect DetectFunc[F],
	consumer Consumer,
	cfg Config,
	logger logging.Logger,
	opts ...Option,
) (*Scheduler[F], error) {
	if detect == nil {
		return nil, errors.New("scheduler requires a detect function")
	}
	if consumer == nil {
		return nil, errors.New("scheduler requires a consumer")
	}
	if err := cfg.Validate("scheduler"); err != nil {
		return nil, err
	}
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	s := &Scheduler[F]{
		detect:   detect,
		consumer: consumer,
		clock:    o.clock,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		frames:   make(chan F, 1),
		results:  make(chan []objectdetection.Detection, 1),
	}
	s.workers = utils.NewStoppableWorkers(s.work, s.deliver)
	return s, nil
}

// Submit offers a frame for detection and reports whether it was admitted. It never waits for
// a detection cycle.
func (s *Scheduler[F]) Submit(frame F) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.droppedClosed.Inc()
		return false
	}
	// busy is checked before the limiter so a busy rejection leaves the rate budget intact
	if !s.inFlight.CompareAndSwap(false, true) {
		s.droppedBusy.Inc()
		return false
	}
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		s.inFlight.Store(false)
		s.droppedRate.Inc()
		return false
	}
	s.admitted.Inc()
	s.frames <- frame
	return true
}

// InFlight reports whether a detection cycle is running.
func (s *Scheduler[F]) InFlight() bool {
	return s.inFlight.Load()
}

func (s *Scheduler[F]) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.frames:
			start := s.clock.Now()
			dets, err := s.runCycle(ctx, frame)
			end := s.clock.Now()
			s.inFlight.Store(false)

			if err != nil {
				s.failed.Inc()
				s.logger.Warnw("detection cycle failed, dropping its result", "error", err)
				continue
			}
			s.recordCycle(end.Sub(start), end)
			select {
			case <-ctx.Done():
				return
			case s.results <- dets:
			}
		}
	}
}

func (s *Scheduler[F]) runCycle(ctx context.Context, frame F) (dets []objectdetection.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			dets = nil
			err = errors.Errorf("detector panicked: %v", r)
		}
	}()
	dets, err = s.detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	if dets == nil {
		dets = []objectdetection.Detection{}
	}
	return dets, nil
}

func (s *Scheduler[F]) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dets := <-s.results:
			s.consume(dets)
		}
	}
}

func (s *Scheduler[F]) consume(dets []objectdetection.Detection) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("detection consumer panicked", "panic", r)
		}
	}()
	s.consumer(dets)
	s.delivered.Inc()
}

func (s *Scheduler[F]) recordCycle(latency time.Duration, at time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.latencies = append(s.latencies, latency.Seconds())
	s.completions = append(s.completions, at)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[1:]
		s.completions = s.completions[1:]
	}
}

// Stats returns counters and a latency summary of the most recent cycles.
func (s *Scheduler[F]) Stats() Stats {
	out := Stats{
		Admitted:      s.admitted.Load(),
		DroppedRate:   s.droppedRate.Load(),
		DroppedBusy:   s.droppedBusy.Load(),
		DroppedClosed: s.droppedClosed.Load(),
		Failed:        s.failed.Load(),
		Delivered:     s.delivered.Load(),
	}

	s.statsMu.Lock()
	latencies := stats.Float64Data(append([]float64(nil), s.latencies...))
	completions := append([]time.Time(nil), s.completions...)
	s.statsMu.Unlock()

	if len(latencies) == 0 {
		return out
	}
	if mean, err := latencies.Mean(); err == nil {
		out.MeanLatency = seconds(mean)
	}
	if p50, err := latencies.Median(); err == nil {
		out.P50Latency = seconds(p50)
	}
	if p95, err := latencies.Percentile(95); err == nil {
		out.P95Latency = seconds(p95)
	}
	if n := len(completions); n > 1 {
		if span := completions[n-1].Sub(completions[0]); span > 0 {
			out.FPS = float64(n-1) / span.Seconds()
		}
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Close stops admitting frames and waits for the worker and delivery goroutines to exit. A
// cycle still running finishes but its result is discarded.
func (s *Scheduler[F]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.workers.Stop()
}
