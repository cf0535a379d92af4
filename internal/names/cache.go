package names

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultHotSize = 10000
	defaultTimeout = 10 * time.Second
)

// CacheOptions tunes a Cache.
type CacheOptions struct {
	// HotSize bounds the in-process tier. Zero uses the default; negative disables it.
	HotSize int
	// Timeout bounds each store and directory call.
	Timeout time.Duration
}

// Cache resolves chat names cache-aside: store first, directory on a miss.
// The in-process tier only ever holds names that were read from or written to the store.
type Cache struct {
	store   Store
	dir     Directory
	hot     *lru.Cache[string, string]
	flight  singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

// NewCache creates a Cache over store and dir.
func NewCache(log *slog.Logger, store Store, dir Directory, opts CacheOptions) (*Cache, error) {
	if store == nil {
		return nil, errors.New("names store is required")
	}
	if dir == nil {
		dir = DisabledDirectory{}
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		store:   store,
		dir:     dir,
		timeout: opts.Timeout,
		logger:  log.With(slog.String("service", "names")),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	size := opts.HotSize
	if size == 0 {
		size = defaultHotSize
	}
	if size > 0 {
		hot, err := lru.New[string, string](size)
		if err != nil {
			return nil, fmt.Errorf("hot tier: %w", err)
		}
		c.hot = hot
	}
	return c, nil
}

// Resolve returns the name for chatID, fetching it from the directory at most once
// per identifier among concurrent callers. Failures are never cached.
func (c *Cache) Resolve(ctx context.Context, chatID string) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", fmt.Errorf("%w: empty chat id", ErrNotFound)
	}
	if name, ok := c.hotGet(chatID); ok {
		return name, nil
	}

	// The shared call must not die with whichever caller happened to start it.
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(chatID, func() (any, error) {
		return c.load(detached, chatID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Set overwrites the name for chatID, bypassing the directory.
func (c *Cache) Set(ctx context.Context, chatID, name string) (Record, error) {
	chatID = strings.TrimSpace(chatID)
	name = strings.TrimSpace(name)
	if chatID == "" || name == "" {
		return Record{}, errors.New("chat id and name are required")
	}
	rec, err := c.upsert(ctx, chatID, name)
	if err != nil {
		return Record{}, err
	}
	c.hotAdd(chatID, rec.Name)
	c.logger.Info("chat name set", slog.String("chat_id", chatID), slog.String("chat_name", rec.Name))
	return rec, nil
}

func (c *Cache) load(ctx context.Context, chatID string) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolve %s: panic: %v", chatID, r)
		}
	}()

	if name, ok, err := c.lookup(ctx, chatID); err != nil || ok {
		return name, err
	}
	if IsPhoneNumber(chatID) {
		if name, ok, err := c.lookup(ctx, chatID+ContactSuffix); err != nil || ok {
			if ok {
				c.hotAdd(chatID, name)
			}
			return name, err
		}
	}

	chat, err := c.fetch(ctx, chatID)
	if err != nil {
		c.logger.Debug("directory lookup failed", slog.String("chat_id", chatID), slog.Any("error", err))
		return "", err
	}
	rec, err := c.upsert(ctx, chatID, chat.Name)
	if err != nil {
		return "", err
	}
	c.hotAdd(chatID, rec.Name)
	c.logger.Info("chat name cached", slog.String("chat_id", chatID), slog.String("chat_name", rec.Name))

	if seeded := seedMembers(ctx, c.logger, c.store, c.timeout, chat.Members); seeded.created > 0 {
		c.logger.Debug("members seeded", slog.String("chat_id", chatID), slog.Int("count", seeded.created))
	}
	return rec.Name, nil
}

func (c *Cache) lookup(ctx context.Context, chatID string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rec, ok, err := c.store.Get(ctx, chatID)
	if err != nil {
		return "", false, fmt.Errorf("read chat name %s: %w", chatID, err)
	}
	if !ok || rec.Name == "" {
		return "", false, nil
	}
	c.hotAdd(chatID, rec.Name)
	return rec.Name, true, nil
}

func (c *Cache) fetch(ctx context.Context, chatID string) (Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	chat, err := c.dir.ResolveChat(ctx, chatID)
	if err != nil {
		return Chat{}, upstreamError(chatID, err)
	}
	chat.Name = strings.TrimSpace(chat.Name)
	if chat.Name == "" {
		return Chat{}, fmt.Errorf("%w: %s has no name", ErrNotFound, chatID)
	}
	return chat, nil
}

func (c *Cache) upsert(ctx context.Context, chatID, name string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rec, err := c.store.Upsert(ctx, chatID, name)
	if err != nil {
		return Record{}, fmt.Errorf("write chat name %s: %w", chatID, err)
	}
	return rec, nil
}

func (c *Cache) hotGet(chatID string) (string, bool) {
	if c.hot == nil {
		return "", false
	}
	return c.hot.Get(chatID)
}

func (c *Cache) hotAdd(chatID, name string) {
	if c.hot != nil {
		c.hot.Add(chatID, name)
	}
}

type seedCounts struct {
	created  int
	existing int
	failed   int
}

// seedMembers stores member names without overwriting existing records.
func seedMembers(ctx context.Context, log *slog.Logger, store Store, timeout time.Duration, members []Member) seedCounts {
	var counts seedCounts
	for _, m := range members {
		id := strings.TrimSpace(m.ID)
		name := strings.TrimSpace(m.Name)
		if id == "" || name == "" {
			continue
		}
		created, err := putIfAbsent(ctx, store, timeout, id, name)
		switch {
		case err != nil:
			counts.failed++
			log.Warn("seed member name failed", slog.String("chat_id", id), slog.Any("error", err))
		case created:
			counts.created++
		default:
			counts.existing++
		}
	}
	return counts
}

func putIfAbsent(ctx context.Context, store Store, timeout time.Duration, chatID, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return store.PutIfAbsent(ctx, chatID, name)
}
