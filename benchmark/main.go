package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/catatsuy/ramcache/client"
	"github.com/catatsuy/ramcache/internal/server"
	"github.com/catatsuy/ramcache/slab"
)

const defaultAddr = "127.0.0.1:41313"

func main() {
	if err := runDemo(os.Stdout, defaultAddr); err != nil {
		panic(err)
	}
}

func runDemo(w io.Writer, addr string) error {
	ctx := context.Background()

	h, err := server.Start(ctx, server.Config{ListenAddr: addr})
	if err != nil {
		return err
	}
	defer h.Stop()

	addr = h.Addr()
	if addr == "" {
		return fmt.Errorf("server address is empty")
	}

	mc := memcache.New(addr)

	if err := mc.Set(&memcache.Item{Key: "hello", Value: []byte("world"), Flags: 7}); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	item, err := mc.Get("hello")
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	fmt.Fprintf(w, "get hello => %s (flags %d)\n", string(item.Value), item.Flags)

	if _, err := mc.Get("missing"); !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("get missing: want cache miss, got %v", err)
	}
	fmt.Fprintln(w, "get missing => miss")

	cl, err := client.New(client.Config{Addr: addr})
	if err != nil {
		return err
	}
	defer cl.Close()

	big := bytes.Repeat([]byte("ramcache"), 400_000)
	if err := mc.Set(&memcache.Item{Key: "big", Value: big}); err == nil {
		return fmt.Errorf("set of %d bytes should have been rejected", len(big))
	}
	if err := cl.SetSlabs(ctx, "big", big); err != nil {
		return fmt.Errorf("set slabs failed: %w", err)
	}
	got, found, err := cl.GetSlabs(ctx, "big")
	if err != nil || !found {
		return fmt.Errorf("get slabs failed: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, big) {
		return fmt.Errorf("get slabs returned %d bytes, want %d", len(got), len(big))
	}
	fmt.Fprintf(w, "slab group big => %d bytes in %d chunks\n", len(got), slab.New(0).Count(len(big)))

	fmt.Fprintln(w, "gomemcache client works with the ramcache text protocol subset")
	return nil
}
