package names

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	failPut map[string]bool
	getErr  error
	upserts atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{records: map[string]Record{}, failPut: map[string]bool{}}
}

func (s *memStore) seed(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.records[id] = Record{ChatID: id, Name: name, CreatedAt: now, UpdatedAt: now}
}

func (s *memStore) name(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec.Name, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStore) Get(_ context.Context, chatID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return Record{}, false, s.getErr
	}
	rec, ok := s.records[chatID]
	return rec, ok, nil
}

func (s *memStore) Upsert(_ context.Context, chatID, name string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts.Add(1)
	if s.failPut[chatID] {
		return Record{}, errors.New("write refused")
	}
	now := time.Now()
	rec, ok := s.records[chatID]
	if !ok {
		rec = Record{ChatID: chatID, CreatedAt: now}
	}
	rec.Name = name
	rec.UpdatedAt = now
	s.records[chatID] = rec
	return rec, nil
}

func (s *memStore) PutIfAbsent(_ context.Context, chatID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut[chatID] {
		return false, errors.New("write refused")
	}
	if _, ok := s.records[chatID]; ok {
		return false, nil
	}
	now := time.Now()
	s.records[chatID] = Record{ChatID: chatID, Name: name, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (s *memStore) List(_ context.Context, suffix string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Record{}
	for id, rec := range s.records {
		if strings.HasSuffix(id, suffix) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) GetMany(_ context.Context, ids []string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Record{}
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	chats   map[string]Chat
	errs    map[string]error
	listed  []Chat
	listErr error
	calls   map[string]int
	// block, when set, holds ResolveChat until closed or ctx is done.
	block chan struct{}
	// listBlock does the same for ListChats; listAborted counts listings cut short by ctx.
	listBlock   chan struct{}
	listAborted int
	panic       bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{chats: map[string]Chat{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (d *fakeDirectory) ResolveChat(ctx context.Context, chatID string) (Chat, error) {
	d.mu.Lock()
	d.calls[chatID]++
	block := d.block
	shouldPanic := d.panic
	err := d.errs[chatID]
	chat, ok := d.chats[chatID]
	d.mu.Unlock()

	if shouldPanic {
		panic("directory exploded")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Chat{}, ctx.Err()
		}
	}
	if err != nil {
		return Chat{}, err
	}
	if !ok {
		return Chat{}, ErrNotFound
	}
	return chat, nil
}

func (d *fakeDirectory) ListChats(ctx context.Context) ([]Chat, error) {
	d.mu.Lock()
	d.calls["*list*"]++
	block := d.listBlock
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			d.mu.Lock()
			d.listAborted++
			d.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.listed, nil
}

func (d *fakeDirectory) aborted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listAborted
}

func (d *fakeDirectory) callCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

func (d *fakeDirectory) set(f func(d *fakeDirectory)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f(d)
}
