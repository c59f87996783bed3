package compiler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
)

// DefaultTimeout bounds a single section compile.
const DefaultTimeout = 10 * time.Second

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Timeout bounds each compile call. Zero means DefaultTimeout.
	Timeout time.Duration
	// CacheSize is the number of outputs kept in the LRU cache; zero disables
	// caching.
	CacheSize int
	// Options fingerprints compiler settings that change output, so that the
	// cache never serves output produced under other settings.
	Options string
}

// Registry dispatches compile requests by language tag.
type Registry struct {
	mu        sync.RWMutex
	compilers map[string]Compiler

	cache   *Cache
	timeout time.Duration
	options string
	logger  logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, logger logging.Logger) (*Registry, error) {
	cache, err := NewCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating compile cache: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Registry{
		compilers: make(map[string]Compiler),
		cache:     cache,
		timeout:   timeout,
		options:   cfg.Options,
		logger:    logger.WithComponent("compiler"),
	}, nil
}

// Register binds c to tag and any aliases. A later registration for the same
// tag replaces the earlier one. Cache keys do not identify the compiler, so
// registering drops every cached output.
func (r *Registry) Register(tag string, c Compiler, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.compilers[tag] = c
	for _, alias := range aliases {
		r.compilers[alias] = c
	}
	r.cache.Purge()
}

// Lookup returns the compiler registered for tag.
func (r *Registry) Lookup(tag string) (Compiler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.compilers[tag]
	return c, ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.compilers))
	for tag := range r.compilers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// KindOf returns the output kind for tag.
func (r *Registry) KindOf(tag string) (Kind, bool) {
	c, ok := r.Lookup(tag)
	if !ok {
		return "", false
	}
	return c.Kind(), true
}

// Scope returns the declarations body shares with later sections of the
// same tag, or "" when the tag's compiler does not share scope.
func (r *Registry) Scope(tag, body string) string {
	c, ok := r.Lookup(tag)
	if !ok {
		return ""
	}
	s, ok := c.(Scoper)
	if !ok {
		return ""
	}
	return s.Scope(body)
}

// CacheStats returns compile cache statistics.
func (r *Registry) CacheStats() CacheStats {
	return r.cache.Stats()
}

// Compile runs the compiler registered for req.Tag. Unregistered tags yield
// an UnknownLanguage error. Compiler panics, failures and timeouts are
// returned as CompileErrors; they never propagate further.
func (r *Registry) Compile(ctx context.Context, req Request) (Output, error) {
	c, ok := r.Lookup(req.Tag)
	if !ok {
		return Output{}, errors.NewUnknownLanguage(req.Tag)
	}

	if _, scoped := c.(Scoper); !scoped {
		req.Prelude = ""
	}

	key := Key(req, r.options)
	if out, hit := r.cache.Get(key); hit {
		r.logger.Debug(ctx, "compile cache hit", "tag", req.Tag)
		return out, nil
	}

	out, err := r.invoke(ctx, c, req)
	if err != nil {
		return Output{}, err
	}
	out.Kind = c.Kind()

	r.cache.Set(key, out)
	return out, nil
}

type result struct {
	out Output
	err error
}

func (r *Registry) invoke(ctx context.Context, c Compiler, req Request) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	perf := logging.StartOperation(r.logger, "compile")

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(ctx, nil, "compiler panicked",
					"tag", req.Tag, "panic", p, "stack", string(debug.Stack()))
				done <- result{err: errors.NewCompileError(
					fmt.Sprintf("%s compiler panicked: %v", req.Tag, p), nil)}
			}
		}()
		out, err := c.Compile(ctx, req)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			perf.End(ctx, "tag", req.Tag, "failed", true)
			return Output{}, asCompileError(req.Tag, res.err)
		}
		perf.End(ctx, "tag", req.Tag, "bytes", len(res.out.Text))
		return res.out, nil

	case <-ctx.Done():
		msg := fmt.Sprintf("%s compile did not finish within %s", req.Tag, r.timeout)
		if ctx.Err() == context.Canceled {
			msg = req.Tag + " compile canceled"
		}
		err := errors.NewCompileError(msg, ctx.Err())
		perf.EndWithError(ctx, err, "tag", req.Tag)
		return Output{}, err
	}
}

func asCompileError(tag string, err error) error {
	var be *errors.BreachError
	if errors.As(err, &be) {
		return err
	}
	return errors.NewCompileError(tag+" compile failed", err)
}
