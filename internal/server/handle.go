package server

import (
	"context"
	"fmt"
)

// Handle is a server running in the background.
type Handle struct {
	srv    *Server
	cancel context.CancelFunc
	errCh  chan error
	err    error
	done   chan struct{}
}

// Start runs a server in a background goroutine and returns once it is
// accepting connections. The caller must call Stop.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	srv := NewServer(cfg)

	h := &Handle{
		srv:    srv,
		cancel: cancel,
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	go func() {
		h.errCh <- srv.Serve(ctx)
	}()

	select {
	case <-srv.Ready():
	case err := <-h.errCh:
		cancel()
		if err != nil {
			return nil, fmt.Errorf("server failed before ready: %w", err)
		}
		return nil, fmt.Errorf("server exited before ready")
	}

	go func() {
		h.err = <-h.errCh
		close(h.done)
	}()
	return h, nil
}

func (h *Handle) Server() *Server {
	return h.srv
}

func (h *Handle) Addr() string {
	return h.srv.Addr()
}

// Stop closes the listener and every open connection and waits for the
// server to exit.
func (h *Handle) Stop() error {
	h.cancel()
	_ = h.srv.Close()
	return h.Wait()
}

// Wait blocks until the server exits and returns the error from Serve.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}
