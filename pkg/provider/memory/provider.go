// Package memory implements provider.Store over an in-process map.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/3leaps/cadence/pkg/provider"
)

// Provider is a concurrency-safe in-memory store.
type Provider struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ provider.Store = (*Provider)(nil)

func New() *Provider {
	return &Provider{objects: make(map[string][]byte)}
}

func (p *Provider) Put(ctx context.Context, key string, body []byte, contentType string) (*provider.PutResult, error) {
	_ = contentType
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = provider.NormalizeKey(key)
	if key == "" {
		return nil, &provider.ProviderError{Op: "Put", Provider: provider.ProviderMemory, Err: provider.ErrInvalidKey}
	}
	cp := append([]byte(nil), body...)

	p.mu.Lock()
	p.objects[key] = cp
	p.mu.Unlock()

	return &provider.PutResult{Key: key, URI: "memory://" + key, Size: int64(len(cp))}, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = provider.NormalizeKey(key)

	p.mu.RLock()
	b, ok := p.objects[key]
	p.mu.RUnlock()

	if !ok {
		return nil, &provider.ProviderError{Op: "Get", Provider: provider.ProviderMemory, Key: key, Err: provider.ErrNotFound}
	}
	return append([]byte(nil), b...), nil
}

func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	_, ok := p.objects[provider.NormalizeKey(key)]
	p.mu.RUnlock()
	return ok, nil
}

func (p *Provider) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = provider.NormalizeKey(prefix)

	p.mu.RLock()
	keys := make([]string, 0, len(p.objects))
	for k := range p.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	p.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

func (p *Provider) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.objects, provider.NormalizeKey(key))
	p.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}
