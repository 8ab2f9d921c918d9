package bitops

import "testing"

func TestPoolGetReturnsZeroedBuffer(t *testing.T) {
	var p Pool
	buf := p.Get(16)
	if len(buf) != 16 {
		t.Fatalf("expected length 16, got %d", len(buf))
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, b)
		}
	}
}

func TestPoolReusesPutBuffers(t *testing.T) {
	var p Pool
	buf := p.Get(32)
	buf[0] = 0xFF
	p.Put(buf)

	again := p.Get(32)
	if again[0] != 0 {
		t.Fatalf("expected reused buffer to be zeroed, got %v", again[0])
	}
}

func TestPoolDifferentSizesIndependent(t *testing.T) {
	var p Pool
	a := p.Get(8)
	b := p.Get(64)
	if len(a) != 8 || len(b) != 64 {
		t.Fatalf("unexpected lengths: %d, %d", len(a), len(b))
	}
}
