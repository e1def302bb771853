package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"

	"github.com/segmentio/ksuid"
)

const readBufferSize = 16 * 1024

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	id := ksuid.New().String()
	s.logf("conn %s: accepted from %s", id, conn.RemoteAddr())

	ctx := context.Background()
	f := newFramer(s.cfg.MaxLineBytes, s.cfg.MaxItemBytes)
	w := bufio.NewWriter(conn)
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			cmds, frameErr := f.feed(buf[:n])
			for _, cmd := range cmds {
				reply, err := s.execCommand(ctx, cmd)
				if err != nil {
					s.logf("conn %s: %v", id, err)
					return
				}
				if _, err := w.Write(reply); err != nil {
					return
				}
			}

			if frameErr != nil {
				var pe *protocolError
				if errors.As(frameErr, &pe) {
					s.metrics.ProtocolError(pe.reason)
					_, _ = w.WriteString(pe.reply + "\r\n")
				}
				_ = w.Flush()
				s.logf("conn %s: closing: %v", id, frameErr)
				return
			}
			if err := w.Flush(); err != nil {
				s.logf("conn %s: write error: %v", id, err)
				return
			}
		}

		if readErr != nil {
			switch {
			case errors.Is(readErr, io.EOF) && !f.midFrame():
				s.logf("conn %s: closed by peer", id)
			case errors.Is(readErr, io.EOF):
				s.logf("conn %s: closed mid-frame", id)
			case errors.Is(readErr, net.ErrClosed):
			default:
				s.logf("conn %s: read error: %v", id, readErr)
			}
			return
		}
	}
}
