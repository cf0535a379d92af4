package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/names"
)

type fakeRefresher struct {
	calls  atomic.Int32
	err    error
	block  bool
	mu     sync.Mutex
	ctxErr error
	ran    chan struct{}
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{ran: make(chan struct{}, 16)}
}

func (f *fakeRefresher) RefreshAll(ctx context.Context) (names.RefreshResult, error) {
	f.calls.Add(1)
	defer func() { f.ran <- struct{}{} }()
	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
		return names.RefreshResult{}, ctx.Err()
	}
	if f.err != nil {
		return names.RefreshResult{TotalSeen: 3, Failed: 3}, f.err
	}
	return names.RefreshResult{TotalSeen: 150, NewlyCached: 45, AlreadyCached: 105}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func waitRan(t *testing.T, f *fakeRefresher) {
	t.Helper()
	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not run")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{"", false},
		{"@every 1h", false},
		{"0 */6 * * *", false},
		{"30 0 */6 * * *", false},
		{"not a cron", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		svc := NewService(quietLogger(), newFakeRefresher(), config.CacheConfig{RefreshCron: tt.pattern})
		err := svc.Validate()
		if tt.wantErr {
			assert.Error(t, err, tt.pattern)
		} else {
			assert.NoError(t, err, tt.pattern)
		}
	}
}

func TestStartRejectsInvalidPattern(t *testing.T) {
	svc := NewService(quietLogger(), newFakeRefresher(), config.CacheConfig{RefreshCron: "bogus"})
	require.Error(t, svc.Start(context.Background()))
	assert.NoError(t, svc.Stop(context.Background()))
}

func TestStartTwice(t *testing.T) {
	svc := NewService(quietLogger(), newFakeRefresher(), config.CacheConfig{})
	require.NoError(t, svc.Start(context.Background()))
	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, svc.Stop(context.Background()))
}

func TestStartupRefreshRuns(t *testing.T) {
	f := newFakeRefresher()
	svc := NewService(quietLogger(), f, config.CacheConfig{RefreshOnStartup: true, StartupDelay: "10ms"})
	require.NoError(t, svc.Start(context.Background()))
	waitRan(t, f)
	require.NoError(t, svc.Stop(context.Background()))

	assert.EqualValues(t, 1, f.calls.Load())
	run, ok := svc.Last()
	require.True(t, ok)
	assert.Equal(t, TriggerStartup, run.Trigger)
	assert.Equal(t, 45, run.Result.NewlyCached)
	assert.Empty(t, run.Error)
}

func TestStartupRefreshDisabled(t *testing.T) {
	f := newFakeRefresher()
	svc := NewService(quietLogger(), f, config.CacheConfig{})
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	assert.EqualValues(t, 0, f.calls.Load())
	_, ok := svc.Last()
	assert.False(t, ok)
}

func TestStopCancelsPendingStartupRefresh(t *testing.T) {
	f := newFakeRefresher()
	svc := NewService(quietLogger(), f, config.CacheConfig{RefreshOnStartup: true, StartupDelay: "1h"})
	require.NoError(t, svc.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	assert.EqualValues(t, 0, f.calls.Load())
}

func TestStopCancelsRunningStartupRefresh(t *testing.T) {
	f := newFakeRefresher()
	f.block = true
	svc := NewService(quietLogger(), f, config.CacheConfig{RefreshOnStartup: true})
	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.ErrorIs(t, f.ctxErr, context.Canceled)
	run, ok := svc.Last()
	require.True(t, ok)
	assert.NotEmpty(t, run.Error)
}

func TestStartupRefreshSurvivesStartContextCancel(t *testing.T) {
	f := newFakeRefresher()
	svc := NewService(quietLogger(), f, config.CacheConfig{RefreshOnStartup: true, StartupDelay: "20ms"})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	cancel()

	waitRan(t, f)
	require.NoError(t, svc.Stop(context.Background()))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestCronRegistersJob(t *testing.T) {
	f := newFakeRefresher()
	svc := NewService(quietLogger(), f, config.CacheConfig{RefreshCron: "@every 1h"})
	require.NoError(t, svc.Start(context.Background()))
	assert.Len(t, svc.cron.Entries(), 1)
	require.NoError(t, svc.Stop(context.Background()))
	assert.Empty(t, svc.cron.Entries())
}

func TestCronRunsRefresh(t *testing.T) {
	f := newFakeRefresher()
	svc := NewService(quietLogger(), f, config.CacheConfig{RefreshCron: "* * * * * *"})
	require.NoError(t, svc.Start(context.Background()))
	waitRan(t, f)
	require.NoError(t, svc.Stop(context.Background()))

	run, ok := svc.Last()
	require.True(t, ok)
	assert.Equal(t, TriggerCron, run.Trigger)
}

func TestTrigger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := NewService(quietLogger(), newFakeRefresher(), config.CacheConfig{})
		res, err := svc.Trigger(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 150, res.TotalSeen)
		run, ok := svc.Last()
		require.True(t, ok)
		assert.Equal(t, TriggerManual, run.Trigger)
	})
	t.Run("failure", func(t *testing.T) {
		f := newFakeRefresher()
		f.err = names.ErrUpstreamUnavailable
		svc := NewService(quietLogger(), f, config.CacheConfig{})
		res, err := svc.Trigger(context.Background())
		assert.ErrorIs(t, err, names.ErrUpstreamUnavailable)
		assert.Equal(t, 3, res.Failed)
		run, _ := svc.Last()
		assert.Equal(t, names.ErrUpstreamUnavailable.Error(), run.Error)
	})
	t.Run("no refresher", func(t *testing.T) {
		svc := NewService(nil, nil, config.CacheConfig{})
		_, err := svc.Trigger(context.Background())
		assert.Error(t, err)
	})
}

func TestStopWithoutStart(t *testing.T) {
	svc := NewService(quietLogger(), newFakeRefresher(), config.CacheConfig{})
	assert.NoError(t, svc.Stop(context.Background()))
}
