// Package schedule runs the chat name bulk refresh on a cron pattern, once at
// startup, and on demand.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/names"
)

// Refresher performs one bulk refresh of the chat name cache.
type Refresher interface {
	RefreshAll(ctx context.Context) (names.RefreshResult, error)
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("schedule already started")

// Service owns the cron scheduler and the optional startup refresh.
type Service struct {
	refresher Refresher
	cron      *cron.Cron
	parser    cron.Parser
	logger    *slog.Logger

	pattern   string
	onStartup bool
	delay     time.Duration

	mu      sync.Mutex
	started bool
	entry   cron.EntryID
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    *Run
}

// Run records the outcome of the most recent refresh.
type Run struct {
	Trigger  string              `json:"trigger"`
	Started  time.Time           `json:"started_at"`
	Duration time.Duration       `json:"duration_ns"`
	Result   names.RefreshResult `json:"result"`
	Error    string              `json:"error,omitempty"`
}

// Refresh triggers.
const (
	TriggerCron    = "cron"
	TriggerStartup = "startup"
	TriggerManual  = "manual"
)

// NewService builds a scheduler from the cache section of the configuration.
func NewService(log *slog.Logger, refresher Refresher, cfg config.CacheConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		refresher: refresher,
		cron:      cron.New(cron.WithParser(parser)),
		parser:    parser,
		logger:    log.With(slog.String("service", "schedule")),
		pattern:   strings.TrimSpace(cfg.RefreshCron),
		onStartup: cfg.RefreshOnStartup,
		delay:     config.Duration(cfg.StartupDelay, 0),
	}
}

// Validate reports whether the configured cron pattern parses.
func (s *Service) Validate() error {
	if s.pattern == "" {
		return nil
	}
	if _, err := s.parser.Parse(s.pattern); err != nil {
		return fmt.Errorf("invalid cron pattern %q: %w", s.pattern, err)
	}
	return nil
}

// Start registers the periodic job and, when enabled, launches the startup
// refresh in the background. It does not block.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.pattern != "" {
		entry, err := s.cron.AddFunc(s.pattern, func() {
			_, _ = s.run(runCtx, TriggerCron)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("register refresh job: %w", err)
		}
		s.entry = entry
		s.logger.Info("refresh job registered", slog.String("pattern", s.pattern))
	}
	s.cron.Start()
	s.started = true

	if s.onStartup {
		s.wg.Add(1)
		go s.startupRefresh(runCtx)
	}
	return nil
}

func (s *Service) startupRefresh(ctx context.Context) {
	defer s.wg.Done()
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.logger.Info("startup refresh cancelled before it ran")
			return
		case <-timer.C:
		}
	}
	_, _ = s.run(ctx, TriggerStartup)
}

// Trigger runs one refresh on the caller's context.
func (s *Service) Trigger(ctx context.Context) (names.RefreshResult, error) {
	return s.run(ctx, TriggerManual)
}

// Last returns the most recent run, if any.
func (s *Service) Last() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// Stop cancels in-flight background refreshes, waits for them, and stops the
// cron scheduler.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-cronDone.Done()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, trigger string) (names.RefreshResult, error) {
	if s.refresher == nil {
		return names.RefreshResult{}, fmt.Errorf("schedule refresher not configured")
	}
	start := time.Now()
	result, err := s.refresher.RefreshAll(ctx)
	record := Run{
		Trigger:  trigger,
		Started:  start,
		Duration: time.Since(start),
		Result:   result,
	}
	log := s.logger.With(
		slog.String("trigger", trigger),
		slog.Int("seen", result.TotalSeen),
		slog.Int("new", result.NewlyCached),
		slog.Int("new_members", result.NewlyCachedMembers),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", record.Duration),
	)
	if err != nil {
		record.Error = err.Error()
		log.Warn("chat name refresh failed", slog.Any("error", err))
	} else {
		log.Info("chat name refresh finished")
	}
	s.mu.Lock()
	s.last = &record
	s.mu.Unlock()
	return result, err
}
