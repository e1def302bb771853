package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

var crlf = []byte("\r\n")

// conn is one connection to the server. It is used by one caller at a time.
type conn struct {
	nc net.Conn
	r  *bufio.Reader
	w  *bufio.Writer

	// stale is set when a cancellation callback may still reset the
	// deadline. The connection must not be reused.
	stale bool
}

func dial(ctx context.Context, d *net.Dialer, addr string) (*conn, error) {
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &conn{
		nc: nc,
		r:  bufio.NewReader(nc),
		w:  bufio.NewWriter(nc),
	}, nil
}

func (c *conn) close() error {
	return c.nc.Close()
}

// withContext bounds the I/O of fn by ctx. A context without a deadline
// leaves the connection without one, so the call blocks until the server
// answers or ctx is cancelled.
func (c *conn) withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
	} else {
		_ = c.nc.SetDeadline(time.Time{})
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
	err := fn()
	if !stop() {
		c.stale = true
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func (c *conn) get(key string) ([]byte, bool, error) {
	if _, err := fmt.Fprintf(c.w, "get %s\r\n", key); err != nil {
		return nil, false, err
	}
	if err := c.w.Flush(); err != nil {
		return nil, false, err
	}

	line, err := c.readLine()
	if err != nil {
		return nil, false, err
	}
	if line == "END" {
		return nil, false, nil
	}
	if err := parseServerError(line); err != nil {
		return nil, false, err
	}

	size, err := parseValueLine(line, key)
	if err != nil {
		return nil, false, err
	}
	data := make([]byte, size+len(crlf))
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, false, err
	}
	if !bytes.HasSuffix(data, crlf) {
		return nil, false, fmt.Errorf("%w: bad data chunk", ErrProtocol)
	}

	line, err = c.readLine()
	if err != nil {
		return nil, false, err
	}
	if line != "END" {
		return nil, false, fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	return data[:size], true, nil
}

func (c *conn) set(key string, value []byte) error {
	if _, err := fmt.Fprintf(c.w, "set %s 0 0 %d\r\n", key, len(value)); err != nil {
		return err
	}
	if _, err := c.w.Write(value); err != nil {
		return err
	}
	if _, err := c.w.Write(crlf); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}

	line, err := c.readLine()
	if err != nil {
		return err
	}
	if line == "STORED" {
		return nil
	}
	if err := parseServerError(line); err != nil {
		return err
	}
	return fmt.Errorf("%w: %q", ErrProtocol, line)
}

func (c *conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

// parseValueLine parses "VALUE <key> <flags> <bytes>" and returns bytes.
func parseValueLine(line, key string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "VALUE" || fields[1] != key {
		return 0, fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	size, err := strconv.Atoi(fields[3])
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	return size, nil
}
