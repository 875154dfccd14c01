package tileview

import (
	"bytes"
	"image/png"
	"sync"
)

// Buffer pools for render targets and PNG encoding

// byteTier pools byte slices of exactly one capacity
type byteTier struct {
	size int
	pool sync.Pool
}

func newByteTier(size int) *byteTier {
	t := &byteTier{size: size}
	t.pool.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return t
}

// Tiers cover a 256x256 RGBA tile up to a 2048x2048 RGBA viewport
var byteTiers = []*byteTier{
	newByteTier(256 * 1024),
	newByteTier(1024 * 1024),
	newByteTier(4 * 1024 * 1024),
	newByteTier(16 * 1024 * 1024),
}

// GetBuffer returns a byte slice of length size from the pool. The contents
// are not zeroed. Call PutBuffer when done.
func GetBuffer(size int) []byte {
	for _, t := range byteTiers {
		if size <= t.size {
			bufPtr := t.pool.Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	return make([]byte, size)
}

// PutBuffer returns a buffer obtained from GetBuffer. Slices of any other
// capacity are dropped.
func PutBuffer(buf []byte) {
	c := cap(buf)
	for _, t := range byteTiers {
		if c == t.size {
			buf = buf[:c]
			t.pool.Put(&buf)
			return
		}
	}
}

var bytesBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBytesBuffer returns an empty bytes.Buffer from the pool
func GetBytesBuffer() *bytes.Buffer {
	buf := bytesBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBytesBuffer returns a bytes.Buffer to the pool. Oversized buffers are
// left to the GC.
func PutBytesBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > byteTiers[len(byteTiers)-1].size {
		return
	}
	bytesBufferPool.Put(buf)
}

// pngBufferPool lets png.Encoder reuse its compression state
type pngBufferPool struct {
	pool sync.Pool
}

func (p *pngBufferPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *pngBufferPool) Put(b *png.EncoderBuffer) {
	p.pool.Put(b)
}

var pngEncoder = &png.Encoder{
	CompressionLevel: png.BestSpeed,
	BufferPool:       &pngBufferPool{},
}
