// Package codec converts Go values to and from the byte strings stored in the cache.
//
// The default codec encodes values with encoding/gob and compresses the result
// with zstd. Payloads are framed by declared length on the wire, so the encoded
// bytes are sent verbatim and need no escaping.
//
// Values holding interface-typed fields must have their concrete types
// registered with gob.Register before they are encoded or decoded.
package codec

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec encodes and decodes cached values.
type Codec interface {
	Encode(v any) ([]byte, error)
	// Decode stores the value encoded in data into the value pointed to by v.
	Decode(data []byte, v any) error
}

var (
	// ErrSerialization matches every *SerializationError.
	ErrSerialization = errors.New("ramcache: serialization failed")

	magic = []byte("RMC1")
)

const formatGobZstd byte = 'z'

// SerializationError reports a value that could not be encoded or decoded.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("ramcache: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// Gob is the default Codec. It is safe for concurrent use.
type Gob struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ Codec = (*Gob)(nil)

func NewGob() (*Gob, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderCRC(true))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Gob{enc: enc, dec: dec}, nil
}

var defaultGob = func() *Gob {
	g, err := NewGob()
	if err != nil {
		panic(err)
	}
	return g
}()

// Default returns a shared Gob codec.
func Default() *Gob {
	return defaultGob
}

func (g *Gob) Encode(v any) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(v); err != nil {
		return nil, &SerializationError{Op: "encode", Err: err}
	}

	out := make([]byte, 0, len(magic)+1+body.Len()/2)
	out = append(out, magic...)
	out = append(out, formatGobZstd)
	return g.enc.EncodeAll(body.Bytes(), out), nil
}

func (g *Gob) Decode(data []byte, v any) error {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return &SerializationError{Op: "decode", Err: errors.New("missing header")}
	}
	if data[len(magic)] != formatGobZstd {
		return &SerializationError{Op: "decode", Err: fmt.Errorf("unknown format %q", data[len(magic)])}
	}

	body, err := g.dec.DecodeAll(data[len(magic)+1:], nil)
	if err != nil {
		return &SerializationError{Op: "decode", Err: err}
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return &SerializationError{Op: "decode", Err: err}
	}
	return nil
}
