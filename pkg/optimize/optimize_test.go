package optimize

import (
	"bytes"
	"strings"
	"testing"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1024)

	buf := pool.Get()
	if len(*buf) != 1024 {
		t.Errorf("expected buffer size 1024, got %d", len(*buf))
	}
	pool.Put(buf)

	buf2 := pool.Get()
	if len(*buf2) != 1024 {
		t.Errorf("expected buffer size 1024, got %d", len(*buf2))
	}

	small := make([]byte, 10)
	pool.Put(&small)
	if got := pool.Get(); len(*got) != 1024 {
		t.Errorf("undersized buffer must not be pooled, got %d", len(*got))
	}
}

func TestBytePool_Copy(t *testing.T) {
	pool := NewBytePool(7)
	src := strings.Repeat("0123456789", 100)

	var dst bytes.Buffer
	n, err := pool.Copy(&dst, strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len(src)) || dst.String() != src {
		t.Errorf("copy mismatch: n=%d", n)
	}
}
