// Package file implements provider.Store over a local directory.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/cadence/pkg/provider"
)

// Provider implements provider.Store for local filesystem paths.
//
// Keys are treated as relative paths under BaseDir.
type Provider struct {
	baseDir string
}

var _ provider.Store = (*Provider)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := filepath.Abs(filepath.Clean(cfg.BaseDir))
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	return &Provider{baseDir: base}, nil
}

// BaseDir returns the absolute root directory.
func (p *Provider) BaseDir() string { return p.baseDir }

func (p *Provider) Put(ctx context.Context, key string, body []byte, contentType string) (*provider.PutResult, error) {
	_ = contentType
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, p.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".cadence-put-*")
	if err != nil {
		return nil, p.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(body); err != nil {
		return nil, p.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, p.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return nil, p.wrapError("Put", key, err)
	}

	normalized := provider.NormalizeKey(key)
	return &provider.PutResult{
		Key:  normalized,
		URI:  "file://" + filepath.ToSlash(full),
		Size: int64(len(body)),
	}, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Get", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Get", key, err)
	}
	if st.IsDir() {
		return nil, &provider.ProviderError{Op: "Get", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, p.wrapError("Get", key, err)
	}
	return b, nil
}

func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := p.fullPath(key)
	if err != nil {
		return false, p.wrapError("Exists", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, p.wrapError("Exists", key, err)
	}
	return !st.IsDir(), nil
}

func (p *Provider) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = provider.NormalizeKey(prefix)

	// Walk from the deepest directory the prefix names, then filter by the
	// full prefix so partial segments ("2024-1") still match.
	dirPrefix := prefix
	if !strings.HasSuffix(dirPrefix, "/") {
		if i := strings.LastIndex(dirPrefix, "/"); i >= 0 {
			dirPrefix = dirPrefix[:i+1]
		} else {
			dirPrefix = ""
		}
	}

	keys, err := p.collectKeys(dirPrefix)
	if err != nil {
		return nil, p.wrapError("List", prefix, err)
	}

	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *Provider) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("Delete", key, err)
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return p.wrapError("Delete", key, err)
	}
	p.pruneEmptyDirs(filepath.Dir(full))
	return nil
}

// pruneEmptyDirs removes now-empty parent directories up to the base dir so
// deleted slots do not leave directory shells behind.
func (p *Provider) pruneEmptyDirs(dir string) {
	for dir != p.baseDir && strings.HasPrefix(dir, p.baseDir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (p *Provider) fullPath(key string) (string, error) {
	key = provider.NormalizeKey(key)
	if key == "" {
		return "", provider.ErrInvalidKey
	}
	// Prevent path traversal.
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "" {
		return "", provider.ErrInvalidKey
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) collectKeys(dirPrefix string) ([]string, error) {
	root := p.baseDir
	if dirPrefix != "" {
		full, err := p.fullPath(dirPrefix)
		if err != nil {
			return nil, err
		}
		root = full
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var keys []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".cadence-put-") {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to provider sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = provider.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
