package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catatsuy/ramcache/internal/metrics"
)

func newPipeSession(t *testing.T, cfg Config) (*Server, net.Conn) {
	t.Helper()

	srv := NewServer(cfg)
	srv.startLoop()

	serverSide, clientSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handleConn(serverSide)
	}()

	t.Cleanup(func() {
		_ = clientSide.Close()
		<-done
		srv.shutdown()
	})
	return srv, clientSide
}

func sendCommand(t *testing.T, conn net.Conn, cmd string, readUntil string) string {
	t.Helper()
	if _, err := conn.Write([]byte(cmd)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := bufio.NewReader(conn)
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		b.WriteString(line)
		if strings.HasSuffix(b.String(), readUntil) {
			return b.String()
		}
	}
}

func TestSetGet(t *testing.T) {
	_, conn := newPipeSession(t, Config{})

	resp := sendCommand(t, conn, "set foo 12 0 4\r\n1234\r\n", "\r\n")
	assert.Equal(t, "STORED\r\n", resp)

	resp = sendCommand(t, conn, "get foo\r\n", "END\r\n")
	assert.Equal(t, "VALUE foo 12 4\r\n1234\r\nEND\r\n", resp)

	resp = sendCommand(t, conn, "get missing\r\n", "END\r\n")
	assert.Equal(t, "END\r\n", resp)
}

func TestUppercaseVerbs(t *testing.T) {
	_, conn := newPipeSession(t, Config{})

	resp := sendCommand(t, conn, "SET foo 0 0 4\r\n1234\r\n", "\r\n")
	assert.Equal(t, "STORED\r\n", resp)

	resp = sendCommand(t, conn, "GET foo\r\n", "END\r\n")
	assert.Equal(t, "VALUE foo 0 4\r\n1234\r\nEND\r\n", resp)
}

func TestSetOverwrites(t *testing.T) {
	_, conn := newPipeSession(t, Config{})

	sendCommand(t, conn, "set k 0 0 3\r\nold\r\n", "\r\n")
	sendCommand(t, conn, "set k 7 0 5\r\nnewer\r\n", "\r\n")

	resp := sendCommand(t, conn, "get k\r\n", "END\r\n")
	assert.Equal(t, "VALUE k 7 5\r\nnewer\r\nEND\r\n", resp)
}

func TestMultiGetAndGets(t *testing.T) {
	_, conn := newPipeSession(t, Config{})

	for i := 1; i <= 2; i++ {
		resp := sendCommand(t, conn, fmt.Sprintf("set k%d 0 0 2\r\nv%d\r\n", i, i), "\r\n")
		require.Equal(t, "STORED\r\n", resp)
	}

	resp := sendCommand(t, conn, "get k1 k2 missing\r\n", "END\r\n")
	assert.Equal(t, "VALUE k1 0 2\r\nv1\r\nVALUE k2 0 2\r\nv2\r\nEND\r\n", resp)

	resp = sendCommand(t, conn, "gets k2\r\n", "END\r\n")
	assert.Equal(t, "VALUE k2 0 2 2\r\nv2\r\nEND\r\n", resp)
}

func TestNoreply(t *testing.T) {
	_, conn := newPipeSession(t, Config{})

	_, err := conn.Write([]byte("set quiet 0 0 1 noreply\r\nq\r\n"))
	require.NoError(t, err)

	resp := sendCommand(t, conn, "get quiet\r\n", "END\r\n")
	assert.Equal(t, "VALUE quiet 0 1\r\nq\r\nEND\r\n", resp)
}

func TestProtocolErrorsKeepConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	_, conn := newPipeSession(t, Config{Metrics: m})

	resp := sendCommand(t, conn, "delete foo\r\n", "\r\n")
	assert.Equal(t, "ERROR\r\n", resp)

	resp = sendCommand(t, conn, "set foo bar\r\n", "\r\n")
	assert.Equal(t, "CLIENT_ERROR bad command line format\r\n", resp)

	resp = sendCommand(t, conn, "set bad 0 0 3\r\nabcXY", "\r\n")
	assert.Equal(t, "CLIENT_ERROR bad data chunk\r\n", resp)

	resp = sendCommand(t, conn, "set foo 0 0 2\r\nok\r\n", "\r\n")
	assert.Equal(t, "STORED\r\n", resp)

	series, err := testutil.GatherAndCount(reg, "ramcache_protocol_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series)

	const want = `
# HELP ramcache_commands_total Total number of dispatched commands
# TYPE ramcache_commands_total counter
ramcache_commands_total{status="error",verb="set"} 2
ramcache_commands_total{status="error",verb="unknown"} 1
ramcache_commands_total{status="ok",verb="set"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "ramcache_commands_total"))
}

func TestObjectTooLarge(t *testing.T) {
	_, conn := newPipeSession(t, Config{MaxItemBytes: 4})

	resp := sendCommand(t, conn, "set big 0 0 5\r\n12345\r\n", "\r\n")
	assert.Equal(t, "SERVER_ERROR object too large for cache\r\n", resp)

	resp = sendCommand(t, conn, "get big\r\n", "END\r\n")
	assert.Equal(t, "END\r\n", resp)
}

func TestLineTooLongClosesConnection(t *testing.T) {
	_, conn := newPipeSession(t, Config{MaxLineBytes: 16})

	resp := sendCommand(t, conn, strings.Repeat("x", 64), "\r\n")
	assert.Equal(t, "CLIENT_ERROR line too long\r\n", resp)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func startTCP(t *testing.T) *Handle {
	t.Helper()
	h, err := Start(context.Background(), Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(conn net.Conn, r *bufio.Reader, cmd, until string) (string, error) {
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return "", err
	}
	var b strings.Builder
	for !strings.HasSuffix(b.String(), until) {
		line, err := r.ReadString('\n')
		if err != nil {
			return b.String(), err
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

func TestConcurrentClientsIsolation(t *testing.T) {
	h := startTCP(t)

	const clients = 16
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", h.Addr())
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			r := bufio.NewReader(conn)

			key := fmt.Sprintf("key-%d", i)
			value := strings.Repeat(strconv.Itoa(i%10), 100+i)
			resp, err := roundTrip(conn, r, fmt.Sprintf("set %s 0 0 %d\r\n%s\r\n", key, len(value), value), "\r\n")
			if err != nil || resp != "STORED\r\n" {
				errs <- fmt.Errorf("set %s: %q %v", key, resp, err)
				return
			}
			resp, err = roundTrip(conn, r, "get "+key+"\r\n", "END\r\n")
			want := fmt.Sprintf("VALUE %s 0 %d\r\n%s\r\nEND\r\n", key, len(value), value)
			if err != nil || resp != want {
				errs <- fmt.Errorf("get %s: %q %v", key, resp, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	n, err := h.Server().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clients, n)
}

func TestMalformedClientDoesNotAffectOthers(t *testing.T) {
	h := startTCP(t)

	good, goodR := dial(t, h.Addr())
	resp, err := roundTrip(good, goodR, "set shared 0 0 5\r\nhello\r\n", "\r\n")
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", resp)

	bad, badR := dial(t, h.Addr())
	resp, err = roundTrip(bad, badR, "bogus command\r\n", "\r\n")
	require.NoError(t, err)
	assert.Equal(t, "ERROR\r\n", resp)

	_, err = bad.Write([]byte("set partial 0 0 100\r\nonly-some"))
	require.NoError(t, err)
	require.NoError(t, bad.Close())

	resp, err = roundTrip(good, goodR, "get shared partial\r\n", "END\r\n")
	require.NoError(t, err)
	assert.Equal(t, "VALUE shared 0 5\r\nhello\r\nEND\r\n", resp)
}

func TestStopClosesConnections(t *testing.T) {
	h, err := Start(context.Background(), Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	conn, r := dial(t, h.Addr())
	_, err = roundTrip(conn, r, "get x\r\n", "END\r\n")
	require.NoError(t, err)

	require.NoError(t, h.Stop())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = r.ReadByte()
	assert.Error(t, err)

	_, err = h.Server().Len(context.Background())
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestStartBindFailure(t *testing.T) {
	h := startTCP(t)

	_, err := Start(context.Background(), Config{ListenAddr: h.Addr()})
	assert.Error(t, err)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("server failed before ready: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not become ready")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server shutdown timeout")
	}
}
