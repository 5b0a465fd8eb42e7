package cortex

import (
	"context"
	"net/url"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/config"
	"github.com/roach88/cortex/internal/ordered"
	"github.com/roach88/cortex/internal/sqlstore"
	"github.com/roach88/cortex/internal/storage"
)

// OpenBackend opens the backend cfg.URL names.
func OpenBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cortex url %q", cfg.URL)
	}
	// sqlite://rel.db puts the file in Host; sqlite:///abs.db in Path.
	path := u.Host + u.Path

	switch u.Scheme {
	case "mem":
		return ordered.OpenMem(), nil
	case "pebble":
		if path == "" {
			return nil, errors.Newf("pebble url %q has no directory", cfg.URL)
		}
		b, err := ordered.OpenPebble(path, nil)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "sqlite":
		if path == "" {
			return nil, errors.Newf("sqlite url %q has no file", cfg.URL)
		}
		s, err := sqlstore.OpenSQLite(ctx, path, sqlstore.Options{PoolSize: cfg.PoolSize})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := sqlstore.OpenPostgres(ctx, cfg.URL, sqlstore.Options{PoolSize: cfg.PoolSize})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf("unsupported cortex url scheme %q", u.Scheme)
	}
}

// Open opens the backend cfg.URL names and wraps it in a Cortex configured
// from cfg. opts apply after the configuration.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Cortex, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithName(cfg.URL),
		WithAllowVersionUpdates(cfg.AllowVersionUpdates),
	}
	if cfg.XactSize > 0 {
		base = append(base, WithXactSize(cfg.XactSize))
	}
	return New(ctx, backend, append(base, opts...)...)
}

// Registry caches open cortexes by URL. Its owner decides when instances
// close; closing an instance removes it.
type Registry struct {
	opts []Option

	mu   sync.Mutex
	open map[string]*Cortex
}

// NewRegistry returns an empty registry. opts apply to every cortex it
// opens.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{opts: opts, open: make(map[string]*Cortex)}
}

// Open returns the cortex already open for cfg.URL or opens a new one.
func (r *Registry) Open(ctx context.Context, cfg config.Config) (*Cortex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.open[cfg.URL]; ok {
		return c, nil
	}
	c, err := Open(ctx, cfg, r.opts...)
	if err != nil {
		return nil, err
	}
	key := cfg.URL
	c.onClose = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.open[key] == c {
			delete(r.open, key)
		}
	}
	r.open[key] = c
	return c, nil
}

// Get returns the open cortex for rawURL.
func (r *Registry) Get(rawURL string) (*Cortex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.open[rawURL]
	return c, ok
}

// Len reports how many cortexes are open.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// CloseAll closes every open cortex.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	all := make([]*Cortex, 0, len(r.open))
	for _, c := range r.open {
		all = append(all, c)
	}
	r.mu.Unlock()

	var errs error
	for _, c := range all {
		errs = errors.CombineErrors(errs, c.Close())
	}
	return errs
}
