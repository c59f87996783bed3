package compiler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
)

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	r, err := NewRegistry(cfg, logging.Nop())
	require.NoError(t, err)
	return r
}

func TestRegistryUnknownLanguage(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})

	_, err := r.Compile(context.Background(), Request{Tag: "cobol", Body: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsUnknownLanguage(err))
}

func TestRegistryPassthroughRoundTrip(t *testing.T) {
	r, err := Default(Options{}, logging.Nop())
	require.NoError(t, err)

	bodies := []string{"", "<p>Hi</p>", "a {}\n\n/* keep */", "let x = 1 // not touched\n"}
	for _, tag := range []string{"html", "css", "js"} {
		for _, body := range bodies {
			out, err := r.Compile(context.Background(), Request{Tag: tag, Body: body})
			require.NoError(t, err)
			assert.Equal(t, body, out.Text, tag)
		}
	}
}

func TestRegistryReplacingCompilerDropsCachedOutput(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{CacheSize: 8})
	constant := func(text string) Func {
		return Func{OutputKind: KindMarkup, Fn: func(context.Context, Request) (Output, error) {
			return Output{Text: text}, nil
		}}
	}

	r.Register("tpl", constant("old"))
	req := Request{Tag: "tpl", Body: "same body"}
	out, err := r.Compile(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "old", out.Text)
	assert.Equal(t, 1, r.CacheStats().Entries)

	r.Register("tpl", constant("new"))
	assert.Zero(t, r.CacheStats().Entries)

	out, err = r.Compile(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "new", out.Text)
}

func TestRegistryKinds(t *testing.T) {
	r, err := Default(Options{}, logging.Nop())
	require.NoError(t, err)

	tests := map[string]Kind{
		"html": KindMarkup,
		"md":   KindMarkup,
		"css":  KindStylesheet,
		"scss": KindStylesheet,
		"js":   KindScript,
		"mjs":  KindScript,
		"ts":   KindScript,
		"tsx":  KindScript,
		"jsx":  KindScript,
	}
	for tag, want := range tests {
		kind, ok := r.KindOf(tag)
		require.True(t, ok, tag)
		assert.Equal(t, want, kind, tag)
	}

	_, ok := r.KindOf("cobol")
	assert.False(t, ok)
	assert.Contains(t, r.Tags(), "scss")
}

func TestRegistryRecoversPanics(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	r.Register("boom", Func{OutputKind: KindScript, Fn: func(context.Context, Request) (Output, error) {
		panic("compiler bug")
	}})

	_, err := r.Compile(context.Background(), Request{Tag: "boom"})
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.Contains(t, err.Error(), "compiler bug")
}

func TestRegistryTimeout(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	r.Register("slow", Func{OutputKind: KindStylesheet, Fn: func(context.Context, Request) (Output, error) {
		<-release
		return Output{}, nil
	}})

	start := time.Now()
	_, err := r.Compile(context.Background(), Request{Tag: "slow"})
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRegistryWrapsPlainErrors(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	r.Register("bad", Func{OutputKind: KindMarkup, Fn: func(context.Context, Request) (Output, error) {
		return Output{}, assert.AnError
	}})

	_, err := r.Compile(context.Background(), Request{Tag: "bad"})
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRegistryCache(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{CacheSize: 2})

	var calls atomic.Int32
	r.Register("count", Func{OutputKind: KindMarkup, Fn: func(_ context.Context, req Request) (Output, error) {
		calls.Add(1)
		return Output{Text: req.Body}, nil
	}})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		out, err := r.Compile(ctx, Request{Tag: "count", Body: "same"})
		require.NoError(t, err)
		assert.Equal(t, "same", out.Text)
		assert.Equal(t, KindMarkup, out.Kind)
	}
	assert.Equal(t, int32(1), calls.Load())

	stats := r.CacheStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 2, stats.Capacity)

	for _, body := range []string{"a", "b", "c"} {
		_, err := r.Compile(ctx, Request{Tag: "count", Body: body})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, r.CacheStats().Entries)
	assert.Positive(t, r.CacheStats().Evictions)
}

func TestRegistryDoesNotCacheFailures(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{CacheSize: 8})

	var calls atomic.Int32
	r.Register("flaky", Func{OutputKind: KindMarkup, Fn: func(context.Context, Request) (Output, error) {
		calls.Add(1)
		return Output{}, assert.AnError
	}})

	for i := 0; i < 2; i++ {
		_, err := r.Compile(context.Background(), Request{Tag: "flaky"})
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestRegistryDropsPreludeForUnscopedCompilers(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})

	var seen string
	r.Register("plain", Func{OutputKind: KindMarkup, Fn: func(_ context.Context, req Request) (Output, error) {
		seen = req.Prelude
		return Output{}, nil
	}})

	_, err := r.Compile(context.Background(), Request{Tag: "plain", Prelude: "$a: 1;"})
	require.NoError(t, err)
	assert.Empty(t, seen)
	assert.Empty(t, r.Scope("plain", "$a: 1;"))
}

func TestCacheKey(t *testing.T) {
	base := Request{Tag: "scss", Body: "a{}", Prelude: "$x: 1;"}

	assert.Equal(t, Key(base, "o"), Key(base, "o"))
	assert.NotEqual(t, Key(base, "o"), Key(base, "p"))
	assert.NotEqual(t, Key(base, "o"), Key(Request{Tag: "scss", Body: "a{}"}, "o"))
	assert.NotEqual(t, Key(Request{Tag: "ab", Body: "c"}, ""), Key(Request{Tag: "a", Body: "bc"}, ""))
}

func TestNilCache(t *testing.T) {
	c, err := NewCache(0)
	require.NoError(t, err)
	assert.Nil(t, c)

	c.Set("k", Output{Text: "x"})
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, CacheStats{}, c.Stats())
}
