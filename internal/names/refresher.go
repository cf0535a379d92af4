package names

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultRunTimeout = 10 * time.Minute

// RefresherOptions bounds a bulk refresh. StoreTimeout applies to each store
// call, RunTimeout to the whole run.
type RefresherOptions struct {
	StoreTimeout time.Duration
	RunTimeout   time.Duration
}

// Refresher pre-populates the store from the directory's full chat listing.
type Refresher struct {
	store      Store
	dir        Directory
	timeout    time.Duration
	runTimeout time.Duration
	flight     singleflight.Group
	logger     *slog.Logger

	mu      sync.Mutex
	gen     uint64
	waiters int
	runCtx  context.Context
	stopRun context.CancelFunc
}

// NewRefresher creates a Refresher.
func NewRefresher(log *slog.Logger, store Store, dir Directory, opts RefresherOptions) *Refresher {
	if dir == nil {
		dir = DisabledDirectory{}
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	return &Refresher{
		store:      store,
		dir:        dir,
		timeout:    opts.StoreTimeout,
		runTimeout: opts.RunTimeout,
		logger:     log.With(slog.String("service", "names_refresh")),
	}
}

// RefreshAll lists every chat once and stores the names that are not cached yet.
// Existing names are left untouched. Per-item store failures are logged and counted.
//
// Concurrent calls share a single run. The run outlives the caller that started
// it and is only cancelled once every waiting caller has gone.
func (r *Refresher) RefreshAll(ctx context.Context) (RefreshResult, error) {
	if err := ctx.Err(); err != nil {
		return RefreshResult{}, err
	}
	key, runCtx := r.join(ctx)
	defer r.leave()

	ch := r.flight.DoChan(key, func() (any, error) {
		return r.safeRun(runCtx)
	})
	select {
	case <-ctx.Done():
		r.logger.Debug("refresh caller left", slog.Any("error", ctx.Err()))
		return RefreshResult{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("joined running refresh")
		}
		v, _ := res.Val.(RefreshResult)
		return v, res.Err
	}
}

// join registers a waiter and returns the flight key and context of the current run,
// opening a new run when nobody is waiting.
func (r *Refresher) join(ctx context.Context) (string, context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiters == 0 {
		r.gen++
		r.runCtx, r.stopRun = context.WithTimeout(context.WithoutCancel(ctx), r.runTimeout)
	}
	r.waiters++
	return "refresh_all/" + strconv.FormatUint(r.gen, 10), r.runCtx
}

func (r *Refresher) leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters--
	if r.waiters == 0 {
		r.stopRun()
	}
}

func (r *Refresher) safeRun(ctx context.Context) (res RefreshResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("refresh all: panic: %v", p)
		}
	}()
	return r.run(ctx)
}

func (r *Refresher) run(ctx context.Context) (RefreshResult, error) {
	start := time.Now()
	chats, err := r.dir.ListChats(ctx)
	if err != nil {
		err = upstreamError("all chats", err)
		if errors.Is(err, ErrNotFound) {
			err = errors.Join(ErrUpstreamUnavailable, err)
		}
		r.logger.Error("list chats failed", slog.Any("error", err))
		return RefreshResult{}, err
	}

	res := RefreshResult{TotalSeen: len(chats)}
	for _, chat := range chats {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			r.logger.Warn("refresh interrupted", slog.Any("error", err), slog.Int("processed_new", res.NewlyCached))
			return res, err
		}
		id := strings.TrimSpace(chat.ID)
		name := strings.TrimSpace(chat.Name)
		switch {
		case id == "" || name == "" || name == id:
			res.Skipped++
		default:
			created, err := putIfAbsent(ctx, r.store, r.timeout, id, name)
			switch {
			case err != nil:
				res.Failed++
				r.logger.Warn("cache chat name failed", slog.String("chat_id", id), slog.Any("error", err))
			case created:
				res.NewlyCached++
			default:
				res.AlreadyCached++
			}
		}
		seeded := seedMembers(ctx, r.logger, r.store, r.timeout, chat.Members)
		res.NewlyCachedMembers += seeded.created
		res.Failed += seeded.failed
	}
	res.Duration = time.Since(start)

	r.logger.Info("refresh complete",
		slog.Int("total_seen", res.TotalSeen),
		slog.Int("newly_cached", res.NewlyCached),
		slog.Int("already_cached", res.AlreadyCached),
		slog.Int("newly_cached_members", res.NewlyCachedMembers),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}
