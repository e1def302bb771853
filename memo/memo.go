// Package memo caches function results in a ramcache server.
//
// A wrapped call derives its key from the function's qualified name and the
// %#v rendering of its arguments, so 1 and "1" produce different keys.
// Arguments should be values: pointers render as addresses and never hit.
package memo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"
)

// Cache is the backing store. *client.Client implements it.
type Cache interface {
	Load(ctx context.Context, key string, out any) (bool, error)
	Store(ctx context.Context, key string, v any) error
}

type Memoizer struct {
	cache   Cache
	namer   func(fn any) string
	keyFunc func(name string, args ...any) string
	group   singleflight.Group
	local   *gocache.Cache
	logger  *slog.Logger
}

type Option func(*Memoizer)

// WithNamer replaces FuncName as the source of function identities.
func WithNamer(f func(fn any) string) Option {
	return func(m *Memoizer) { m.namer = f }
}

// WithKeyFunc replaces Key.
func WithKeyFunc(f func(name string, args ...any) string) Option {
	return func(m *Memoizer) { m.keyFunc = f }
}

// WithLocalCache keeps results in process memory for ttl in front of the server.
func WithLocalCache(ttl time.Duration) Option {
	return func(m *Memoizer) { m.local = gocache.New(ttl, 2*ttl) }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Memoizer) { m.logger = l }
}

func New(c Cache, opts ...Option) *Memoizer {
	m := &Memoizer{
		cache:   c,
		namer:   FuncName,
		keyFunc: Key,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FuncName returns the fully qualified name of fn, such as
// "github.com/org/pkg.Parse".
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Sprintf("%T", fn)
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return v.Type().String()
}

// Key hashes name and the canonical form of args into a cache key.
func Key(name string, args ...any) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, arg := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%#v", arg)
	}
	b.WriteByte(')')

	h := xxh3.HashString128(b.String())
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// Func wraps fn so that results are looked up in the cache before fn runs.
func Func[A, R any](m *Memoizer, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	name := m.namer(fn)
	return func(ctx context.Context, a A) (R, error) {
		return call(ctx, m, m.keyFunc(name, a), func(ctx context.Context) (R, error) {
			return fn(ctx, a)
		})
	}
}

// Func2 is Func for two-argument functions.
func Func2[A, B, R any](m *Memoizer, fn func(context.Context, A, B) (R, error)) func(context.Context, A, B) (R, error) {
	name := m.namer(fn)
	return func(ctx context.Context, a A, b B) (R, error) {
		return call(ctx, m, m.keyFunc(name, a, b), func(ctx context.Context) (R, error) {
			return fn(ctx, a, b)
		})
	}
}

func call[R any](ctx context.Context, m *Memoizer, key string, compute func(context.Context) (R, error)) (R, error) {
	if m.local != nil {
		if v, ok := m.local.Get(key); ok {
			r, _ := v.(R)
			return r, nil
		}
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		// Shared by every waiter on key, so one caller cancelling must not
		// fail the others.
		ctx := context.WithoutCancel(ctx)

		var cached R
		found, err := m.cache.Load(ctx, key, &cached)
		if err != nil {
			return nil, fmt.Errorf("memo %s: %w", key, err)
		}
		if found {
			return cached, nil
		}

		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.cache.Store(ctx, key, result); err != nil {
			m.logger.Warn("memo: store failed", "key", key, "error", err)
		}
		return result, nil
	})
	if err != nil {
		var zero R
		return zero, err
	}

	r, _ := v.(R)
	if m.local != nil {
		m.local.SetDefault(key, r)
	}
	return r, nil
}
