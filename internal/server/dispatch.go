package server

import (
	"bytes"
	"strconv"

	"github.com/catatsuy/ramcache/internal/cache"
	"github.com/catatsuy/ramcache/internal/metrics"
)

type handler func(c *cache.Cache, cmd command, w *bytes.Buffer) (status string)

var handlers = map[verb]handler{
	verbGet:  func(c *cache.Cache, cmd command, w *bytes.Buffer) string { return handleGetLike(c, cmd, w, false) },
	verbGets: func(c *cache.Cache, cmd command, w *bytes.Buffer) string { return handleGetLike(c, cmd, w, true) },
	verbSet:  handleSet,
}

// dispatch applies cmd to c and appends the reply to w. It runs on the loop
// goroutine.
func (s *Server) dispatch(c *cache.Cache, cmd command, w *bytes.Buffer) {
	if cmd.err != nil {
		s.metrics.ProtocolError(cmd.err.reason)
		s.metrics.Command(cmd.verb.String(), metrics.StatusError)
		writeLine(w, cmd.err.reply)
		return
	}

	h, ok := handlers[cmd.verb]
	if !ok {
		s.metrics.ProtocolError(errUnknownCommand.reason)
		s.metrics.Command(cmd.verb.String(), metrics.StatusError)
		writeLine(w, errUnknownCommand.reply)
		return
	}
	status := h(c, cmd, w)
	s.metrics.Command(cmd.verb.String(), status)
	if cmd.verb == verbSet {
		s.metrics.StoreSize(c.Len(), c.Bytes())
	}
}

func handleGetLike(c *cache.Cache, cmd command, w *bytes.Buffer, withCAS bool) string {
	status := metrics.StatusMiss
	for _, key := range cmd.keys {
		item, ok := c.Get(key)
		if !ok {
			continue
		}
		status = metrics.StatusOK

		w.WriteString("VALUE ")
		w.WriteString(key)
		w.WriteByte(' ')
		w.WriteString(strconv.FormatUint(uint64(item.Flags), 10))
		w.WriteByte(' ')
		w.WriteString(strconv.Itoa(len(item.Value)))
		if withCAS {
			w.WriteByte(' ')
			w.WriteString(strconv.FormatUint(item.CAS, 10))
		}
		w.Write(crlf)
		w.Write(item.Value)
		w.Write(crlf)
	}
	writeLine(w, "END")
	return status
}

func handleSet(c *cache.Cache, cmd command, w *bytes.Buffer) string {
	c.Set(cmd.keys[0], cmd.flags, cmd.exptime, cmd.value)
	if !cmd.noreply {
		writeLine(w, "STORED")
	}
	return metrics.StatusOK
}

func writeLine(w *bytes.Buffer, line string) {
	w.WriteString(line)
	w.Write(crlf)
}
