package client

import (
	"errors"
	"strings"
)

var (
	// ErrMalformedKey is returned for keys the server would reject: empty,
	// longer than 250 bytes, or containing spaces or control characters.
	ErrMalformedKey = errors.New("ramcache: key is too long or contains invalid characters")

	// ErrProtocol is returned when the server reply cannot be parsed. The
	// connection is discarded.
	ErrProtocol = errors.New("ramcache: unexpected response")

	ErrClosed = errors.New("ramcache: client closed")
)

const maxKeyLength = 250

// ServerError is an ERROR, CLIENT_ERROR or SERVER_ERROR reply. The
// connection stays usable.
type ServerError struct {
	Line string
}

func (e *ServerError) Error() string {
	return "ramcache: server replied " + e.Line
}

func parseServerError(line string) error {
	if line == "ERROR" || strings.HasPrefix(line, "CLIENT_ERROR ") || strings.HasPrefix(line, "SERVER_ERROR ") {
		return &ServerError{Line: line}
	}
	return nil
}

func legalKey(key string) bool {
	if len(key) == 0 || len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// reusable reports whether a connection can go back to the pool after err.
func reusable(err error) bool {
	if err == nil {
		return true
	}
	var se *ServerError
	return errors.As(err, &se)
}
