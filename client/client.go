// Package client talks to a ramcache server.
//
// Get and Set move a single entry. GetSlabs and SetSlabs split values larger
// than SlabSize across several entries, and Load and Store add a Codec on top
// of them. Every call is a blocking round trip; bound it with the context or
// Config.Timeout.
package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/catatsuy/ramcache/codec"
	"github.com/catatsuy/ramcache/slab"
)

const DefaultMaxConns = 4

type Config struct {
	// Addr is the server address, host:port.
	Addr string

	// MaxConns is the maximum number of pooled connections.
	// Zero means DefaultMaxConns.
	MaxConns int32

	// Timeout bounds each call whose context has no deadline.
	// Zero means no timeout: a call waits for the server indefinitely.
	Timeout time.Duration

	// DialTimeout bounds connection establishment. Zero means no limit.
	DialTimeout time.Duration

	// SlabSize is the maximum chunk size for GetSlabs and SetSlabs.
	// Zero means slab.DefaultSize.
	SlabSize int

	// Codec encodes values for Load and Store. Nil means codec.Default().
	Codec codec.Codec

	// Breaker enables a circuit breaker around round trips when non-nil.
	// ServerError replies count as successes unless IsSuccessful is set.
	Breaker *gobreaker.Settings

	Logger *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	pool    *puddle.Pool[*conn]
	chunker *slab.Chunker
	codec   codec.Codec
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

var _ slab.Store = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("ramcache: no server address")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}

	c := &Client{
		cfg:     cfg,
		chunker: slab.New(cfg.SlabSize),
		codec:   cfg.Codec,
		logger:  cfg.Logger,
	}
	if c.codec == nil {
		c.codec = codec.Default()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	pool, err := puddle.NewPool(&puddle.Config[*conn]{
		Constructor: func(ctx context.Context) (*conn, error) {
			return dial(ctx, dialer, cfg.Addr)
		},
		Destructor: func(cn *conn) {
			_ = cn.close()
		},
		MaxSize: cfg.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	c.pool = pool

	if cfg.Breaker != nil {
		settings := *cfg.Breaker
		if settings.Name == "" {
			settings.Name = cfg.Addr
		}
		if settings.IsSuccessful == nil {
			settings.IsSuccessful = reusable
		}
		c.breaker = gobreaker.NewCircuitBreaker[struct{}](settings)
	}
	return c, nil
}

// Close closes all pooled connections. Calls in progress finish first.
func (c *Client) Close() {
	c.pool.Close()
}

// Get fetches a single entry. found is false on a miss, which is not an error.
func (c *Client) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if !legalKey(key) {
		return nil, false, ErrMalformedKey
	}
	err = c.do(ctx, func(cn *conn) error {
		value, found, err = cn.get(key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Set stores a single entry. The value must fit in one server item.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if !legalKey(key) {
		return ErrMalformedKey
	}
	return c.do(ctx, func(cn *conn) error {
		return cn.set(key, value)
	})
}

// SetSlabs stores value under key as a slab group of SlabSize chunks. Every
// key of the group is checked before anything is written.
func (c *Client) SetSlabs(ctx context.Context, key string, value []byte) error {
	if !legalKey(key) {
		return ErrMalformedKey
	}
	if n := c.chunker.Count(len(value)); n > 0 && !legalKey(slab.ChunkKey(key, n-1)) {
		return ErrMalformedKey
	}
	return c.chunker.Set(ctx, c, key, value)
}

// GetSlabs reassembles a value written by SetSlabs. A group with missing
// chunks returns an error matching slab.ErrInconsistent.
func (c *Client) GetSlabs(ctx context.Context, key string) ([]byte, bool, error) {
	return c.chunker.Get(ctx, c, key)
}

// Store encodes v with the configured Codec and writes it with SetSlabs.
func (c *Client) Store(ctx context.Context, key string, v any) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		return err
	}
	return c.SetSlabs(ctx, key, data)
}

// Load reads a value written by Store into out, which must be a pointer.
func (c *Client) Load(ctx context.Context, key string, out any) (bool, error) {
	data, found, err := c.GetSlabs(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := c.codec.Decode(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, fn func(cn *conn) error) error {
	if c.cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
	}

	if c.breaker == nil {
		return c.roundTrip(ctx, fn)
	}
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, fn)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, fn func(cn *conn) error) error {
	res, err := c.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return ErrClosed
		}
		return err
	}

	cn := res.Value()
	err = cn.withContext(ctx, func() error { return fn(cn) })
	if reusable(err) && !cn.stale {
		res.Release()
	} else {
		c.logger.Debug("discarding connection", "addr", c.cfg.Addr, "error", err)
		res.Destroy()
	}
	return err
}
