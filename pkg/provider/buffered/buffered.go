// Package buffered stages writes and deletes in memory over another
// provider.Store so a caller can apply them only after an operation has
// succeeded.
package buffered

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/3leaps/cadence/pkg/provider"
)

type pendingPut struct {
	body        []byte
	contentType string
	seq         uint64
}

// Store buffers Put and Delete calls and serves reads from the buffer
// first, falling back to the wrapped store.
type Store struct {
	base provider.Store

	mu      sync.Mutex
	puts    map[string]pendingPut
	deletes map[string]struct{}
	seq     uint64
}

var _ provider.Store = (*Store)(nil)

// New wraps base.
func New(base provider.Store) *Store {
	return &Store{
		base:    base,
		puts:    make(map[string]pendingPut),
		deletes: make(map[string]struct{}),
	}
}

// Put records a pending write. The returned URI is provisional; the final
// location is reported by Commit.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (*provider.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = provider.NormalizeKey(key)
	if key == "" {
		return nil, &provider.ProviderError{Op: "Put", Provider: provider.ProviderBuffered, Err: provider.ErrInvalidKey}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.puts[key] = pendingPut{body: append([]byte(nil), body...), contentType: contentType, seq: s.seq}
	delete(s.deletes, key)

	return &provider.PutResult{Key: key, URI: "buffered://" + key, Size: int64(len(body))}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	key = provider.NormalizeKey(key)

	s.mu.Lock()
	if p, ok := s.puts[key]; ok {
		s.mu.Unlock()
		return append([]byte(nil), p.body...), nil
	}
	_, deleted := s.deletes[key]
	s.mu.Unlock()

	if deleted {
		return nil, &provider.ProviderError{Op: "Get", Provider: provider.ProviderBuffered, Key: key, Err: provider.ErrNotFound}
	}
	return s.base.Get(ctx, key)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key = provider.NormalizeKey(key)

	s.mu.Lock()
	_, put := s.puts[key]
	_, deleted := s.deletes[key]
	s.mu.Unlock()

	switch {
	case put:
		return true, nil
	case deleted:
		return false, nil
	}
	return s.base.Exists(ctx, key)
}

// List merges the wrapped store's keys with pending writes and hides
// pending deletes.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = provider.NormalizeKey(prefix)
	baseKeys, err := s.base.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(baseKeys)+len(s.puts))
	out := make([]string, 0, len(baseKeys)+len(s.puts))
	for _, k := range baseKeys {
		if _, gone := s.deletes[k]; gone {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for k := range s.puts {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Delete records a pending delete and drops any pending write for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = provider.NormalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.puts, key)
	s.deletes[key] = struct{}{}
	return nil
}

// Pending reports the number of buffered operations.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts) + len(s.deletes)
}

// Commit applies buffered deletes, then buffered writes in the order they
// were made, to the wrapped store. It returns the written keys with their
// final locations. The buffer stays locked for the whole flush so no reader
// observes a partial commit through this Store. On error the remaining
// operations stay buffered.
func (s *Store) Commit(ctx context.Context) (map[string]provider.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delKeys := sortedKeys(s.deletes)
	for _, k := range delKeys {
		if err := s.base.Delete(ctx, k); err != nil {
			return nil, err
		}
		delete(s.deletes, k)
	}

	written := make(map[string]provider.PutResult, len(s.puts))
	putKeys := make([]string, 0, len(s.puts))
	for k := range s.puts {
		putKeys = append(putKeys, k)
	}
	sort.Slice(putKeys, func(i, j int) bool { return s.puts[putKeys[i]].seq < s.puts[putKeys[j]].seq })
	for _, k := range putKeys {
		p := s.puts[k]
		res, err := s.base.Put(ctx, k, p.body, p.contentType)
		if err != nil {
			return written, err
		}
		written[k] = *res
		delete(s.puts, k)
	}
	return written, nil
}

// Discard drops every buffered operation.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = make(map[string]pendingPut)
	s.deletes = make(map[string]struct{})
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
