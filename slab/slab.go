// Package slab stores values larger than one cache entry as a group of
// fixed-size chunks.
//
// A value stored under key occupies key (the chunk count as a decimal string)
// plus key-0 .. key-(n-1). The count is written first, so an interrupted write
// leaves a count entry with missing chunks, which Get reports as an
// *InconsistencyError rather than a miss.
package slab

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/catatsuy/ramcache/codec"
)

// DefaultSize is the default maximum chunk size.
const DefaultSize = 512 * 1024

// ErrInconsistent matches every *InconsistencyError.
var ErrInconsistent = errors.New("ramcache: inconsistent slab group")

// InconsistencyError reports a slab group whose count entry exists but a
// chunk entry does not.
type InconsistencyError struct {
	Key   string
	Chunk int
	Count int
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("ramcache: slab group %q: chunk %d of %d missing", e.Key, e.Chunk, e.Count)
}

func (e *InconsistencyError) Is(target error) bool { return target == ErrInconsistent }

// Store is the single-entry key/value interface the chunker writes through.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

type Chunker struct {
	size int
}

// New returns a chunker for chunks of at most size bytes. A size <= 0 uses DefaultSize.
func New(size int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	return &Chunker{size: size}
}

func (c *Chunker) Size() int { return c.size }

// ChunkKey returns the key of chunk i of the group stored under base.
func ChunkKey(base string, i int) string {
	return base + "-" + strconv.Itoa(i)
}

// Count returns the number of chunks a value of n bytes is split into.
func (c *Chunker) Count(n int) int {
	return (n + c.size - 1) / c.size
}

// Split slices value into chunks of at most Size bytes. The chunks share
// value's backing array.
func (c *Chunker) Split(value []byte) [][]byte {
	chunks := make([][]byte, 0, c.Count(len(value)))
	for start := 0; start < len(value); start += c.size {
		end := min(start+c.size, len(value))
		chunks = append(chunks, value[start:end:end])
	}
	return chunks
}

// Set writes value under key as a slab group. Each entry is a separate
// round trip and the group is not written atomically.
func (c *Chunker) Set(ctx context.Context, s Store, key string, value []byte) error {
	chunks := c.Split(value)
	if err := s.Set(ctx, key, []byte(strconv.Itoa(len(chunks)))); err != nil {
		return fmt.Errorf("set slab count %q: %w", key, err)
	}
	for i, chunk := range chunks {
		if err := s.Set(ctx, ChunkKey(key, i), chunk); err != nil {
			return fmt.Errorf("set slab chunk %q: %w", ChunkKey(key, i), err)
		}
	}
	return nil
}

// Get reassembles the value stored under key. found is false when the count
// entry is absent.
func (c *Chunker) Get(ctx context.Context, s Store, key string) (value []byte, found bool, err error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("get slab count %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return nil, false, &codec.SerializationError{Op: "decode slab count", Err: fmt.Errorf("invalid count %q", raw)}
	}

	value = []byte{}
	for i := 0; i < n; i++ {
		chunk, ok, err := s.Get(ctx, ChunkKey(key, i))
		if err != nil {
			return nil, false, fmt.Errorf("get slab chunk %q: %w", ChunkKey(key, i), err)
		}
		if !ok {
			return nil, false, &InconsistencyError{Key: key, Chunk: i, Count: n}
		}
		value = append(value, chunk...)
	}
	return value, true, nil
}
