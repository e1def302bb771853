package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const maxKeyLength = 250

type verb uint8

const (
	verbUnknown verb = iota
	verbGet
	verbGets
	verbSet
)

var verbs = map[string]verb{
	"get":  verbGet,
	"gets": verbGets,
	"set":  verbSet,
}

func (v verb) String() string {
	switch v {
	case verbGet:
		return "get"
	case verbGets:
		return "gets"
	case verbSet:
		return "set"
	default:
		return "unknown"
	}
}

// protocolError is a rejected frame. The connection stays usable unless the
// framer returns it as fatal.
type protocolError struct {
	reply  string
	reason string
}

func (e *protocolError) Error() string { return e.reply }

var (
	errUnknownCommand = &protocolError{reply: "ERROR", reason: "unknown_command"}
	errBadFormat      = &protocolError{reply: "CLIENT_ERROR bad command line format", reason: "bad_format"}
	errBadDataChunk   = &protocolError{reply: "CLIENT_ERROR bad data chunk", reason: "bad_data_chunk"}
	errLineTooLong    = &protocolError{reply: "CLIENT_ERROR line too long", reason: "line_too_long"}
	errTooLarge       = &protocolError{reply: "SERVER_ERROR object too large for cache", reason: "too_large"}
)

// command is one complete frame. A non-nil err means the frame was rejected
// and err.reply is sent instead of dispatching.
type command struct {
	verb    verb
	keys    []string
	flags   uint32
	exptime int64
	size    int
	noreply bool
	value   []byte
	err     *protocolError
}

func parseLine(line string) command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{err: errUnknownCommand}
	}

	v, ok := verbs[strings.ToLower(fields[0])]
	if !ok {
		return command{err: errUnknownCommand}
	}

	cmd := command{verb: v}
	var err error
	switch v {
	case verbGet, verbGets:
		cmd.keys, err = parseGetArgs(fields[1:])
	case verbSet:
		err = parseSetArgs(fields[1:], &cmd)
	}
	if err != nil {
		cmd.err = errBadFormat
	}
	return cmd
}

func parseGetArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("get requires at least one key")
	}
	for _, key := range args {
		if !validKey(key) {
			return nil, fmt.Errorf("invalid key")
		}
	}
	return args, nil
}

func parseSetArgs(args []string, cmd *command) error {
	if len(args) == 5 && args[4] == "noreply" {
		cmd.noreply = true
		args = args[:4]
	}
	if len(args) != 4 {
		return fmt.Errorf("set requires 4 arguments")
	}
	if !validKey(args[0]) {
		return fmt.Errorf("invalid key")
	}
	cmd.keys = args[:1]

	parsedFlags, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid flags")
	}
	cmd.flags = uint32(parsedFlags)

	cmd.exptime, err = strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid exptime")
	}

	parsedBytes, err := strconv.ParseInt(args[3], 10, 32)
	if err != nil || parsedBytes < 0 {
		return fmt.Errorf("invalid bytes")
	}
	cmd.size = int(parsedBytes)
	return nil
}

func validKey(key string) bool {
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
