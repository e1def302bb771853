package server

import (
	"bytes"
)

const (
	defaultMaxLineBytes = 2048
	defaultMaxItemBytes = 1 << 20
)

var crlf = []byte("\r\n")

type framerState uint8

const (
	awaitingLine framerState = iota
	awaitingFixedBytes
)

// framer turns the raw byte stream of one connection into commands.
//
// In awaitingLine it buffers until LF. A set line moves it to
// awaitingFixedBytes for the declared payload plus CRLF; any other line is a
// complete frame. Oversized payloads are dropped as they arrive instead of
// being buffered.
type framer struct {
	buf   bytes.Buffer
	state framerState

	// need is the number of bytes still expected in awaitingFixedBytes.
	need    int
	discard bool
	pending command

	maxLineBytes int
	maxItemBytes int
}

func newFramer(maxLineBytes, maxItemBytes int) *framer {
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	if maxItemBytes <= 0 {
		maxItemBytes = defaultMaxItemBytes
	}
	return &framer{
		maxLineBytes: maxLineBytes,
		maxItemBytes: maxItemBytes,
	}
}

// feed appends p to the input and returns every command completed by it.
// A non-nil error is fatal for the connection; commands completed before it
// are still returned.
func (f *framer) feed(p []byte) ([]command, error) {
	f.buf.Write(p)

	var out []command
	for {
		switch f.state {
		case awaitingLine:
			i := bytes.IndexByte(f.buf.Bytes(), '\n')
			if i < 0 {
				if f.buf.Len() > f.maxLineBytes {
					return out, errLineTooLong
				}
				return out, nil
			}
			if i > f.maxLineBytes {
				return out, errLineTooLong
			}
			line := bytes.TrimSuffix(f.buf.Next(i + 1)[:i], []byte{'\r'})

			cmd := parseLine(string(line))
			if cmd.verb == verbSet && cmd.err == nil {
				f.pending = cmd
				f.need = cmd.size + len(crlf)
				f.discard = cmd.size > f.maxItemBytes
				f.state = awaitingFixedBytes
				continue
			}
			out = append(out, cmd)

		case awaitingFixedBytes:
			if f.discard {
				f.need -= len(f.buf.Next(f.need))
				if f.need > 0 {
					return out, nil
				}
				out = append(out, f.complete(nil, errTooLarge))
				continue
			}

			if f.buf.Len() < f.need {
				return out, nil
			}
			data := f.buf.Next(f.need)
			if !bytes.HasSuffix(data, crlf) {
				out = append(out, f.complete(nil, errBadDataChunk))
				continue
			}
			out = append(out, f.complete(bytes.Clone(data[:len(data)-len(crlf)]), nil))
		}
	}
}

func (f *framer) complete(value []byte, err *protocolError) command {
	cmd := f.pending
	cmd.value = value
	cmd.err = err
	if cmd.value == nil && err == nil {
		cmd.value = []byte{}
	}

	f.pending = command{}
	f.need = 0
	f.discard = false
	f.state = awaitingLine
	return cmd
}

// midFrame reports whether a partial command is buffered.
func (f *framer) midFrame() bool {
	return f.state != awaitingLine || f.buf.Len() > 0
}
