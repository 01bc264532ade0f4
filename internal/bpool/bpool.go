// Package bpool pools the buffers used to encode whole messages.
package bpool

import (
	"bytes"
	"sync"
)

// maxPooled is the largest buffer capacity kept for reuse.
const maxPooled = 1 << 20

var pool sync.Pool

// Get returns an empty buffer.
func Get() *bytes.Buffer {
	b, ok := pool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
	}
	return b
}

// Put resets b and returns it to the pool.
// Buffers grown past maxPooled are left to the garbage collector.
func Put(b *bytes.Buffer) {
	if b.Cap() > maxPooled {
		return
	}
	b.Reset()
	pool.Put(b)
}
