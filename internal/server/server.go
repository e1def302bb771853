package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/catatsuy/ramcache/internal/cache"
	"github.com/catatsuy/ramcache/internal/metrics"
)

// ErrServerClosed is returned for work submitted after the server stopped.
var ErrServerClosed = errors.New("server closed")

type Config struct {
	ListenAddr   string
	MaxLineBytes int
	MaxItemBytes int
	Verbose      bool
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Server owns a cache and serves it over TCP.
//
// Connection goroutines only read and frame input. Every command is executed
// on a single loop goroutine that has exclusive access to the cache, so
// commands of one connection apply in arrival order and the cache needs no
// lock.
type Server struct {
	cfg     Config
	cache   *cache.Cache
	metrics *metrics.Metrics

	ops      chan operation
	loopOnce sync.Once
	loopDone chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}

	mu        sync.RWMutex
	listener  net.Listener
	conns     map[net.Conn]struct{}
	connWG    sync.WaitGroup
	readyCh   chan struct{}
	readyOnce sync.Once
	closed    bool

	logger *slog.Logger
}

type operation struct {
	fn   func(c *cache.Cache)
	done chan struct{}
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Server{
		cfg:      cfg,
		cache:    cache.NewCache(),
		metrics:  cfg.Metrics,
		ops:      make(chan operation),
		loopDone: make(chan struct{}),
		stopCh:   make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
		readyCh:  make(chan struct{}),
		logger:   logger,
	}
}

func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.startLoop()
	defer s.shutdown()
	s.readyOnce.Do(func() { close(s.readyCh) })

	s.logf("listening on %s", ln.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.stopCh:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logf("temporary accept error: %v", err)
				continue
			}
			s.logf("accept error: %v", err)
			return err
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Len returns the number of stored items.
func (s *Server) Len(ctx context.Context) (int, error) {
	var n int
	err := s.exec(ctx, func(c *cache.Cache) { n = c.Len() })
	return n, err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connWG.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.connWG.Done()
}

// shutdown waits for connection goroutines, then stops the loop.
func (s *Server) shutdown() {
	_ = s.Close()
	s.connWG.Wait()
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.loopDone
}

func (s *Server) startLoop() {
	s.loopOnce.Do(func() { go s.loop() })
}

func (s *Server) loop() {
	defer close(s.loopDone)
	for {
		select {
		case op := <-s.ops:
			op.fn(s.cache)
			close(op.done)
		case <-s.stopCh:
			return
		}
	}
}

// exec runs fn on the loop goroutine and waits for it to finish.
func (s *Server) exec(ctx context.Context, fn func(c *cache.Cache)) error {
	op := operation{fn: fn, done: make(chan struct{})}
	select {
	case s.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrServerClosed
	}
	<-op.done
	return nil
}

// execCommand dispatches cmd on the loop goroutine and returns the reply.
func (s *Server) execCommand(ctx context.Context, cmd command) ([]byte, error) {
	var reply bytes.Buffer
	err := s.exec(ctx, func(c *cache.Cache) { s.dispatch(c, cmd, &reply) })
	if err != nil {
		return nil, err
	}
	return reply.Bytes(), nil
}

func (s *Server) logf(format string, args ...any) {
	if !s.cfg.Verbose {
		return
	}
	s.logger.Info(fmt.Sprintf(format, args...))
}
