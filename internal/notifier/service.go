package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autosend/internal/clock"
	"autosend/internal/retry"
	rtsup "autosend/internal/runtime/supervisor"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service is an async notification pipeline: queue, one worker, rate
// limit, retry, dedup. It is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender Sender
	clk    clock.Clock

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan string
	accepting bool
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		sender: sender,
		clk:    clock.Real(),
		dedup:  map[string]time.Time{},
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.mu.Lock()
	s.cfg = cfg
	// burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// Start launches the worker. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q, sup := s.queue, s.sup
	s.mu.Unlock()

	sup.Go0("notifier.worker", func(c context.Context) { s.workerLoop(c, q) })
}

// Stop closes intake and lets the worker drain until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return nil
	}
	s.accepting = false
	close(q)
	s.mu.Unlock()

	err := sup.Wait(ctx)
	if err != nil {
		sup.Cancel()
	}
	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	return err
}

// Notify enqueues text without blocking.
func (s *Service) Notify(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		return ErrStopped
	}
	if s.suppressed(text, s.cfg.DedupWindow) {
		return nil
	}
	select {
	case s.queue <- text:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *Service) suppressed(text string, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	now := s.clk.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[text]; ok && now.Before(until) {
		return true
	}
	s.dedup[text] = now.Add(window)
	if len(s.dedup) > 1024 {
		for k, v := range s.dedup {
			if now.After(v) {
				delete(s.dedup, k)
			}
		}
	}
	return false
}

func (s *Service) workerLoop(ctx context.Context, q <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, text)
		}
	}
}

func (s *Service) deliver(ctx context.Context, text string) {
	s.mu.Lock()
	lim := s.limiter
	pol := retry.Policy{Attempts: s.cfg.RetryMax + 1, Backoff: s.cfg.RetryBase}
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}
	if _, err := retry.Do(ctx, s.clk, pol, s.log, "notify", func(ctx context.Context) error {
		return s.sender.Send(ctx, text)
	}); err != nil {
		s.dropped.Add(1)
		return
	}
	s.sent.Add(1)
}

// Record implements the scheduler history sink. Failures are always
// reported; successes only when NotifySuccess is set.
func (s *Service) Record(_ context.Context, r storage.SendRecord) error {
	s.mu.Lock()
	okToo := s.cfg.NotifySuccess
	s.mu.Unlock()
	if r.OK && !okToo {
		return nil
	}
	err := s.Notify(FormatRecord(r))
	if errors.Is(err, ErrDisabled) || errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// Forward implements logx.Forwarder. Lines below WARN are ignored even if
// the logging sink is configured lower.
func (s *Service) Forward(_ context.Context, level logx.Level, text string) {
	if level < logx.LevelWarn {
		return
	}
	_ = s.Notify(text)
}

// Stats returns delivered and dropped counts.
func (s *Service) Stats() (sent, dropped uint64) {
	return s.sent.Load(), s.dropped.Load()
}

// FormatRecord renders a send record as a short chat message.
func FormatRecord(r storage.SendRecord) string {
	at := r.At.Format("2006-01-02 15:04:05")
	if r.OK {
		return fmt.Sprintf("✅ sent to %s (%s) at %s", r.Target, r.Kind, at)
	}
	return fmt.Sprintf("❌ %s failed for %s (%s) at %s after %d attempt(s): %s", r.Stage, r.Target, r.Kind, at, r.Attempts, r.Error)
}
