package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunDemo(t *testing.T) {
	var out bytes.Buffer
	if err := runDemo(&out, "127.0.0.1:0"); err != nil {
		t.Fatalf("runDemo failed: %v", err)
	}

	for _, want := range []string{
		"get hello => world (flags 7)",
		"get missing => miss",
		"slab group big => 3200000 bytes in 7 chunks",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
